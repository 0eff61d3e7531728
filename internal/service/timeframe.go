package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe parses human timeframes like "7d", "24h", "90m". A bare
// number means days. Empty input returns 0 (caller default).
func ParseTimeframe(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("service: negative timeframe %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("service: bad timeframe %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("service: bad timeframe %q", s)
	}
	return d, nil
}

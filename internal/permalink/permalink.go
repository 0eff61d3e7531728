// Package permalink derives stable, URL-safe entity identifiers.
package permalink

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/loam/internal/checksum"
)

// stripMarks decomposes to NFKD and drops combining marks, so "Café" and
// "Cafe" derive the same slug.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug derives a permalink from a title: transliterate diacritics,
// lowercase, keep Unicode letters and digits, collapse everything else
// into single hyphens. Non-Latin letters (CJK and others) survive intact.
// A title with no letters or digits at all falls back to a short checksum
// of the original title so the slug is never empty.
func Slug(title string) string {
	s, _, err := transform.String(stripMarks, title)
	if err != nil {
		s = title
	}
	s = strings.ToLower(s)

	var b strings.Builder
	lastDash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteRune('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return checksum.Short([]byte(title))
	}
	return out
}

// FromPath derives a slug from a file path: each directory segment and the
// filename stem are slugged independently and rejoined, so folder structure
// stays visible in the permalink.
func FromPath(relPath string) string {
	relPath = strings.TrimSuffix(relPath, ".md")
	segs := strings.Split(strings.ReplaceAll(relPath, "\\", "/"), "/")
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		out = append(out, Slug(seg))
	}
	return strings.Join(out, "/")
}

// Valid reports whether s is already a well-formed permalink (what Slug
// would leave untouched). Used to decide whether an explicit frontmatter
// permalink can be taken verbatim.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == "" || Slug(seg) != seg {
			return false
		}
	}
	return true
}

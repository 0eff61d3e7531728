package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Store    StoreConfig       `yaml:"store"`
	Sync     SyncConfig        `yaml:"sync"`
	Projects []ProjectConfig   `yaml:"projects"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("projects: at least one project is required")
	}
	defaults := 0
	for i := range c.Projects {
		if err := c.Projects[i].Validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
		if c.Projects[i].Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("projects: at most one project may be default")
	}
	// No explicit default means the first project is it.
	if defaults == 0 {
		c.Projects[0].Default = true
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the SQLite index database location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig tunes the change detector and workers.
type SyncConfig struct {
	Debounce         time.Duration `yaml:"debounce"`
	ScanCeiling      time.Duration `yaml:"scan_ceiling"`
	RegenerateOnMove bool          `yaml:"regenerate_on_move"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("sync: debounce must not be negative")
	}
	if c.ScanCeiling < 0 {
		return fmt.Errorf("sync: scan_ceiling must not be negative")
	}
	return nil
}

// ProjectConfig declares one project: a named vault directory.
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Default bool   `yaml:"default"`
}

// Validate validates a project declaration.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./loam.db",
		},
		Sync: SyncConfig{
			Debounce:    300 * time.Millisecond,
			ScanCeiling: 5 * time.Minute,
		},
		Projects: []ProjectConfig{
			{Name: "main", Path: "./vault", Default: true},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

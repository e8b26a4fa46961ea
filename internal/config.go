package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	BackendFS     = "fs"
	BackendGitHub = "github"
	BackendMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Store     StoreConfig       `yaml:"store"`
	Auth      AuthConfig        `yaml:"auth"`
	CORS      CORSConfig        `yaml:"cors"`
	Cache     CacheConfig       `yaml:"cache"`
	RateLimit RateLimitConfig   `yaml:"ratelimit"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.CORS.Validate(); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	return c.SQLite.Validate()
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

// StoreConfig selects where posts live.
//
// Backend is one of:
//   - "fs": a local checkout at Root, committed by writing files.
//   - "github": a GitHub repository, committed through the Git data API.
//   - "memory": an in-process Git repository, for demos and tests.
type StoreConfig struct {
	Backend     string       `yaml:"backend"`
	Root        string       `yaml:"root"`
	PostsDir    string       `yaml:"posts_dir"`
	IndexPath   string       `yaml:"index_path"`
	MaxAttempts int          `yaml:"max_attempts"`
	Watch       bool         `yaml:"watch"`
	GitHub      GitHubConfig `yaml:"github"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendFS, BackendGitHub, BackendMemory)),
		validation.Field(&c.Root, validation.When(c.Backend == BackendFS, validation.Required)),
		validation.Field(&c.PostsDir, validation.Required),
		validation.Field(&c.IndexPath, validation.Required),
		validation.Field(&c.MaxAttempts, validation.Min(1), validation.Max(10)),
	); err != nil {
		return err
	}
	if c.Backend == BackendGitHub {
		return c.GitHub.Validate()
	}
	return nil
}

// GitHubConfig addresses the repository behind the github backend.
type GitHubConfig struct {
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Branch, validation.Required),
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.BaseURL, validation.By(absoluteURL)),
	)
}

// absoluteURL accepts empty values and absolute http(s) URLs.
func absoluteURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
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

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// Validate validates the CORS configuration.
func (c *CORSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Origins, validation.Each(validation.Required, validation.By(absoluteURL))),
	)
}

// CacheConfig controls the public read cache. MaxEntries > 0 bounds it with
// an LRU; otherwise entries only expire.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ListTTL    time.Duration `yaml:"list_ttl"`
	PostTTL    time.Duration `yaml:"post_ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListTTL, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.PostTTL, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.MaxEntries, validation.Min(0)),
	)
}

// RateLimitConfig throttles clients. Public reads use a token bucket, admin
// writes a fixed window, and repeated failed logins a temporary ban.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PublicRate    float64       `yaml:"public_rate"`
	PublicBurst   int           `yaml:"public_burst"`
	AdminLimit    int           `yaml:"admin_limit"`
	AdminWindow   time.Duration `yaml:"admin_window"`
	BanThreshold  int           `yaml:"ban_threshold"`
	BanWindow     time.Duration `yaml:"ban_window"`
	BanDuration   time.Duration `yaml:"ban_duration"`
	IdleClientTTL time.Duration `yaml:"idle_client_ttl"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.PublicRate, validation.Required, validation.Min(0.0)),
		validation.Field(&c.PublicBurst, validation.Required, validation.Min(1)),
		validation.Field(&c.AdminLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.AdminWindow, validation.Required),
		validation.Field(&c.BanThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.BanWindow, validation.Required),
		validation.Field(&c.BanDuration, validation.Required),
		validation.Field(&c.IdleClientTTL, validation.Required),
	)
}

// SQLiteConfig holds the search index database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
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
			Backend:     BackendFS,
			Root:        "./blog",
			PostsDir:    "src/posts",
			IndexPath:   "src/posts/index.json",
			MaxAttempts: 2,
			Watch:       true,
			GitHub: GitHubConfig{
				Branch: "main",
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Cache: CacheConfig{
			Enabled: true,
			ListTTL: 60 * time.Second,
			PostTTL: 300 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			PublicRate:    10,
			PublicBurst:   20,
			AdminLimit:    60,
			AdminWindow:   time.Minute,
			BanThreshold:  5,
			BanWindow:     15 * time.Minute,
			BanDuration:   time.Hour,
			IdleClientTTL: 10 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path: "./inkpost.db",
		},
	}
}

package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Delivery modes accepted by DELIVERY_MODE.
const (
	DeliveryAuto     = "auto"
	DeliveryRedirect = "redirect"
	DeliveryPage     = "page"
)

// Config holds all environment-based configuration for pulse-coach.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// PublicBaseURL overrides the callback origin derived from each
	// request. Set it when the relay sits behind a proxy that does not
	// forward X-Forwarded-* headers.
	PublicBaseURL         string `env:"PUBLIC_BASE_URL"`
	TrustForwardedHeaders bool   `env:"TRUST_FORWARDED_HEADERS" envDefault:"true"`

	// Strava application credentials. Missing values are not a load
	// error; the relay reports them per request.
	StravaClientID       string `env:"STRAVA_CLIENT_ID"`
	StravaClientSecret   string `env:"STRAVA_CLIENT_SECRET"`
	StravaScope          string `env:"STRAVA_SCOPE" envDefault:"read,activity:read"`
	StravaApprovalPrompt string `env:"STRAVA_APPROVAL_PROMPT"`

	StravaAuthURL  string `env:"STRAVA_AUTH_URL" envDefault:"https://www.strava.com/oauth/authorize"`
	StravaTokenURL string `env:"STRAVA_TOKEN_URL" envDefault:"https://www.strava.com/oauth/token"`
	StravaAPIURL   string `env:"STRAVA_API_URL" envDefault:"https://www.strava.com/api/v3"`

	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	TokenRefreshSkew time.Duration `env:"TOKEN_REFRESH_SKEW" envDefault:"5m"`

	// Return target handling.
	DefaultReturnTarget  string   `env:"DEFAULT_RETURN_TARGET"`
	AllowedReturnSchemes []string `env:"ALLOWED_RETURN_SCHEMES" envSeparator:","`

	DeliveryMode      string `env:"DELIVERY_MODE" envDefault:"auto"`
	DeliveryRulesFile string `env:"DELIVERY_RULES_FILE"`

	// Account storage.
	StoreBackend   string `env:"STORE_BACKEND" envDefault:"bolt"`
	BoltPath       string `env:"BOLT_PATH"`
	SQLitePath     string `env:"SQLITE_PATH"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"pulse:"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. It usually holds the client secret.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.DeliveryMode = strings.ToLower(strings.TrimSpace(cfg.DeliveryMode))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	for i, s := range cfg.AllowedReturnSchemes {
		cfg.AllowedReturnSchemes[i] = strings.ToLower(strings.TrimSpace(s))
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendBolt, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of bolt, sqlite, redis (got %q)", c.StoreBackend)
	}

	switch c.DeliveryMode {
	case DeliveryAuto, DeliveryRedirect, DeliveryPage:
	default:
		return fmt.Errorf("DELIVERY_MODE must be one of auto, redirect, page (got %q)", c.DeliveryMode)
	}

	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL")
		}
	}

	for _, key := range []struct{ name, value string }{
		{"STRAVA_AUTH_URL", c.StravaAuthURL},
		{"STRAVA_TOKEN_URL", c.StravaTokenURL},
		{"STRAVA_API_URL", c.StravaAPIURL},
	} {
		u, err := url.Parse(key.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", key.name)
		}
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if slices.Contains(c.AllowedReturnSchemes, "") {
		return fmt.Errorf("ALLOWED_RETURN_SCHEMES contains an empty entry")
	}

	return nil
}

// resolvePaths fills in default store paths under ~/.pulse-coach/ and
// makes configured ones absolute.
func (c *Config) resolvePaths() error {
	if c.StoreBackend == BackendBolt && c.BoltPath == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}

		c.BoltPath = filepath.Join(dir, "accounts.db")
	}

	if c.StoreBackend == BackendSQLite && c.SQLitePath == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}

		c.SQLitePath = filepath.Join(dir, "accounts.sqlite")
	}

	for _, p := range []*string{&c.BoltPath, &c.SQLitePath} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving store path to absolute path: %w", err)
		}

		*p = abs
	}

	return nil
}

// DefaultDataDir returns ~/.pulse-coach.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".pulse-coach"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasCredentials reports whether both the client id and secret are set.
func (c *Config) HasCredentials() bool {
	return c.StravaClientID != "" && c.StravaClientSecret != ""
}

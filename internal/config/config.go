// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends accepted by CACHE_BACKEND
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// PublicURL is the origin pages are loaded from; requests for any other
	// origin are treated as cross-origin.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	// OriginURL is the static file server holding the built app shell.
	OriginURL string `env:"ORIGIN_URL" envDefault:"http://localhost:4173"`

	Cache  CacheConfig
	Update UpdateConfig
	Push   PushConfig

	CrossOriginHosts []string      `env:"CROSS_ORIGIN_HOSTS" envSeparator:"," envDefault:"equran.id,api.myquran.com,cdn.alquran.cloud"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	AdminToken  string `env:"ADMIN_TOKEN"`
}

// CacheConfig holds the cache generation and precache settings
type CacheConfig struct {
	Version   string `env:"CACHE_VERSION" envDefault:"buku-doa-v1.0.0-dev"`
	Namespace string `env:"CACHE_NAMESPACE" envDefault:"buku-doa-"`
	Backend   string `env:"CACHE_BACKEND" envDefault:"file"`
	Dir       string `env:"CACHE_DIR"`

	ShellAssets      []string `env:"SHELL_ASSETS" envSeparator:"," envDefault:"/,/index.html,/manifest.json,/favicon/android-chrome-192x192.png,/favicon/android-chrome-512x512.png,/favicon/apple-touch-icon.png,/favicon/favicon.ico"`
	PrecacheManifest string   `env:"PRECACHE_MANIFEST"`
	OfflinePage      string   `env:"OFFLINE_PAGE" envDefault:"/index.html"`
	StrictPrecache   bool     `env:"STRICT_PRECACHE" envDefault:"false"`
	SkipWaiting      bool     `env:"SKIP_WAITING" envDefault:"true"`
}

// UpdateConfig holds the version check settings
type UpdateConfig struct {
	AppVersion  string        `env:"APP_VERSION"`
	VersionPath string        `env:"VERSION_PATH" envDefault:"/version.json"`
	Interval    time.Duration `env:"UPDATE_CHECK_INTERVAL" envDefault:"6h"`
	Timeout     time.Duration `env:"UPDATE_CHECK_TIMEOUT" envDefault:"10s"`
}

// PushConfig holds notification settings
type PushConfig struct {
	Title       string   `env:"NOTIFICATION_TITLE" envDefault:"Buku Doa Kecil"`
	DefaultBody string   `env:"PUSH_DEFAULT_BODY" envDefault:"Waktu sholat telah tiba"`
	Icon        string   `env:"NOTIFICATION_ICON" envDefault:"/favicon/android-chrome-192x192.png"`
	NotifyURLs  []string `env:"NOTIFY_URLS" envSeparator:","`

	// NotificationTTL is how long an unclicked notification stays clickable
	NotificationTTL time.Duration `env:"NOTIFICATION_TTL" envDefault:"24h"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	c.OriginURL = strings.TrimRight(c.OriginURL, "/")
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))

	hosts := c.CrossOriginHosts[:0]
	for _, h := range c.CrossOriginHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	c.CrossOriginHosts = hosts
}

// HasRedis returns true if the asynq scheduler backend is configured
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// HasDatabase returns true if a Postgres connection string is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// HasAdminToken returns true if the admin endpoints are enabled
func (c *Config) HasAdminToken() bool {
	return c.AdminToken != ""
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	var errs []error

	if c.Cache.Version == "" {
		errs = append(errs, errors.New("CACHE_VERSION must not be empty"))
	}
	if c.Cache.Namespace != "" && !strings.HasPrefix(c.Cache.Version, c.Cache.Namespace) {
		errs = append(errs, fmt.Errorf("CACHE_VERSION %q must start with CACHE_NAMESPACE %q", c.Cache.Version, c.Cache.Namespace))
	}
	for name, raw := range map[string]string{"PUBLIC_URL": c.PublicURL, "ORIGIN_URL": c.OriginURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	switch c.Cache.Backend {
	case BackendFile, BackendMemory:
	case BackendPostgres:
		if !c.HasDatabase() {
			errs = append(errs, errors.New("CACHE_BACKEND=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}
	if !strings.HasPrefix(c.Cache.OfflinePage, "/") {
		errs = append(errs, fmt.Errorf("OFFLINE_PAGE must be an absolute path, got %q", c.Cache.OfflinePage))
	}
	if c.Update.Interval <= 0 {
		errs = append(errs, errors.New("UPDATE_CHECK_INTERVAL must be positive"))
	}
	if c.Update.Timeout <= 0 {
		errs = append(errs, errors.New("UPDATE_CHECK_TIMEOUT must be positive"))
	}
	if c.Push.NotificationTTL <= 0 {
		errs = append(errs, errors.New("NOTIFICATION_TTL must be positive"))
	}

	return errors.Join(errs...)
}

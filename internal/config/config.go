// Package config loads application configuration from the environment.  A
// .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; defaults mirror the production deployment.
type Config struct {
	Env       string `env:"APP_ENV,default=dev"`
	Port      string `env:"APP_PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	JWTSecret    string `env:"JWT_SECRET"`
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN,default=60"`

	// DatabaseURL selects the durable backend by scheme.  Empty or
	// loopback means memory only.
	DatabaseURL      string `env:"DATABASE_URL"`
	BackendTimeoutMS int    `env:"BACKEND_TIMEOUT_MS,default=1500"`
	RabbitURL        string `env:"RABBITMQ_URL"`
	AuditLogPath     string `env:"AUDIT_LOG_PATH,default=audit.log"`

	FreeDailyTaskLimit    int `env:"FREE_DAILY_TASK_LIMIT,default=30"`
	PremiumDailyTaskLimit int `env:"PREMIUM_DAILY_TASK_LIMIT,default=0"`
	FreeDailySizeMB       int `env:"FREE_DAILY_SIZE_MB,default=4096"`
	PremiumDailySizeMB    int `env:"PREMIUM_DAILY_SIZE_MB,default=0"`
	FreeMinWaitSec        int `env:"FREE_MIN_WAIT_SEC,default=300"`
	PremiumMinWaitSec     int `env:"PREMIUM_MIN_WAIT_SEC,default=10"`
	MaxArchiveFreeMB      int `env:"MAX_ARCHIVE_SIZE_FREE_MB,default=2048"`
	MaxArchivePremiumMB   int `env:"MAX_ARCHIVE_SIZE_PREMIUM_MB,default=10240"`
	AutoDeleteDefaultMin  int `env:"AUTO_DELETE_DEFAULT_MIN,default=30"`

	// QuotaTimezone is the zone whose calendar day bounds daily quotas.
	QuotaTimezone string `env:"QUOTA_TIMEZONE,default=UTC"`

	TempDir            string `env:"TEMP_DIR,default=downloads"`
	CleanupIntervalSec int    `env:"CLEANUP_INTERVAL_SEC,default=60"`
	MaxWorkers         int    `env:"MAX_WORKERS,default=4"`
	ExtractTimeoutSec  int    `env:"EXTRACT_TIMEOUT_SEC,default=900"`
	DownloadTimeoutSec int    `env:"DOWNLOAD_TIMEOUT_SEC,default=600"`
}

// Load reads .env (if any) and the process environment into a Config and
// validates it.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the service cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.AutoDeleteDefaultMin <= 0 {
		errs = append(errs, errors.New("AUTO_DELETE_DEFAULT_MIN must be > 0"))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, errors.New("MAX_WORKERS must be > 0"))
	}
	if c.CleanupIntervalSec <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL_SEC must be > 0"))
	}
	if _, err := time.LoadLocation(c.QuotaTimezone); err != nil {
		errs = append(errs, fmt.Errorf("QUOTA_TIMEZONE: %w", err))
	}
	if c.DatabaseURL != "" {
		if _, err := url.Parse(c.DatabaseURL); err != nil {
			errs = append(errs, fmt.Errorf("DATABASE_URL: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RequireJWTSecret is checked by commands that serve or mint tokens.
func (c Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("missing required env var: JWT_SECRET")
	}
	return nil
}

// DurableMode reports whether a durable backend should be dialled.  An
// absent URL or one pointing at a loopback host runs memory only.
func (c Config) DurableMode() bool {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return false
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return false
	}
	return !isLoopback(u.Hostname())
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") || host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Location returns the quota day zone.  Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSec) * time.Second
}

func (c Config) ExtractTimeout() time.Duration {
	return time.Duration(c.ExtractTimeoutSec) * time.Second
}

func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMin) * time.Minute
}

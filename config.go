package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds every tunable of the Engine. Build it with DefaultConfig or
// LoadConfig, adjust it during initialization, and treat it as immutable
// once passed to the Builder.
type Config struct {
	JWT           JWTConfig           `envPrefix:"JWT_"`
	Session       SessionConfig       `envPrefix:"SESSION_"`
	Password      PasswordConfig      `envPrefix:"PASSWORD_"`
	PasswordReset PasswordResetConfig `envPrefix:"RESET_"`
	RateLimit     RateLimitConfig     `envPrefix:"RATE_"`
	Lockout       LockoutConfig       `envPrefix:"LOCKOUT_"`
	CSRF          CSRFConfig          `envPrefix:"CSRF_"`
	Audit         AuditConfig         `envPrefix:"AUDIT_"`
	Metrics       MetricsConfig       `envPrefix:"METRICS_"`
	Database      DatabaseConfig      `envPrefix:"DB_"`
	Redis         RedisConfig         `envPrefix:"REDIS_"`
	Logging       LoggingConfig       `envPrefix:"LOG_"`
	Cleanup       CleanupConfig       `envPrefix:"CLEANUP_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens and signed envelopes (reset, csrf).
type JWTConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL" validate:"duration_gt0"`
	SigningMethod string        `env:"SIGNING_METHOD" validate:"oneof=ed25519 hs256"`
	// Secret is a convenience source for the hs256 key when PrivateKey is empty.
	Secret     string        `env:"SECRET"`
	PrivateKey []byte        `json:"-"`
	PublicKey  []byte        `json:"-"`
	Issuer     string        `env:"ISSUER"`
	Audience   string        `env:"AUDIENCE"`
	Leeway     time.Duration `env:"LEEWAY" validate:"gte=0,lte=2m"`
	KeyID      string        `env:"KEY_ID"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh sessions and their cookies.
type SessionConfig struct {
	RefreshTTL time.Duration `env:"REFRESH_TTL" validate:"duration_gt0"`
	// Pepper keys the HMAC that turns refresh and reset secrets into
	// stored verification hashes.
	Pepper string `env:"PEPPER" validate:"required,min=32"`
	// BreachRevokesAllDevices widens the reuse cascade from the affected
	// device to every session of the user.
	BreachRevokesAllDevices bool   `env:"BREACH_REVOKES_ALL_DEVICES"`
	AccessCookieName        string `env:"ACCESS_COOKIE" validate:"required"`
	RefreshCookieName       string `env:"REFRESH_COOKIE" validate:"required"`
	CookieDomain            string `env:"COOKIE_DOMAIN"`
	CookiePath              string `env:"COOKIE_PATH" validate:"required"`
	CookieSecure            bool   `env:"COOKIE_SECURE"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory           uint32 `env:"MEMORY_KB" validate:"gte=8192"`
	Time             uint32 `env:"TIME" validate:"gte=1"`
	Parallelism      uint8  `env:"PARALLELISM" validate:"gte=1"`
	SaltLength       uint32 `env:"SALT_LENGTH" validate:"gte=16"`
	KeyLength        uint32 `env:"KEY_LENGTH" validate:"gte=16"`
	MaxPasswordBytes int    `env:"MAX_BYTES" validate:"gte=0"`
	UpgradeOnLogin   bool   `env:"UPGRADE_ON_LOGIN"`
}

// PasswordResetConfig controls the forgotten-password flow.
type PasswordResetConfig struct {
	Enabled bool          `env:"ENABLED"`
	TTL     time.Duration `env:"TTL" validate:"duration_gt0"`
}

/*
====================================
ABUSE CONFIG
====================================
*/

// RatePolicy is one action's counter policy, applied to both tracks.
type RatePolicy struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" validate:"gt=0"`
	Window      time.Duration `env:"WINDOW" validate:"duration_gt0"`
	// CaptchaAfter flags attempts beyond this count. Zero disables CAPTCHA.
	CaptchaAfter int `env:"CAPTCHA_AFTER" validate:"gte=0"`
}

// RateLimitConfig configures the per-action policies.
type RateLimitConfig struct {
	EnableIPTrack      bool          `env:"ENABLE_IP"`
	EnableAccountTrack bool          `env:"ENABLE_ACCOUNT"`
	MaxBackoff         time.Duration `env:"MAX_BACKOFF" validate:"duration_gt0"`
	Login              RatePolicy    `envPrefix:"LOGIN_"`
	Refresh            RatePolicy    `envPrefix:"REFRESH_"`
	ResetRequest       RatePolicy    `envPrefix:"RESET_REQUEST_"`
	ResetConfirm       RatePolicy    `envPrefix:"RESET_CONFIRM_"`
}

// LockoutConfig configures account lockout. After counts account-track
// login attempts inside the current window.
type LockoutConfig struct {
	Enabled  bool          `env:"ENABLED"`
	After    int           `env:"AFTER" validate:"gt=0"`
	Duration time.Duration `env:"DURATION" validate:"duration_gt0"`
}

// CSRFConfig configures the double-submit guard.
type CSRFConfig struct {
	TTL        time.Duration `env:"TTL" validate:"duration_gt0"`
	HeaderName string        `env:"HEADER" validate:"required"`
	CookieName string        `env:"COOKIE" validate:"required"`
}

/*
====================================
OPERATIONS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE" validate:"gt=0"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// DatabaseConfig is consumed by binaries that open the store themselves.
type DatabaseConfig struct {
	Driver          string        `env:"DRIVER" validate:"oneof=postgres sqlite"`
	DSN             string        `env:"DSN"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" validate:"gte=0"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" validate:"gte=0"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" validate:"gte=0"`
}

// RedisConfig is consumed by binaries that dial Redis themselves.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" validate:"gte=0"`
}

// LoggingConfig selects level and an optional rotating file.
type LoggingConfig struct {
	Level      string `env:"LEVEL" validate:"oneof=debug info warn error"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" validate:"gte=0"`
	MaxBackups int    `env:"MAX_BACKUPS" validate:"gte=0"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" validate:"gte=0"`
}

// CleanupConfig controls the background purge of dead rows.
type CleanupConfig struct {
	Enabled   bool          `env:"ENABLED"`
	Interval  time.Duration `env:"INTERVAL" validate:"duration_gt0"`
	Retention time.Duration `env:"RETENTION" validate:"gte=0"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production-leaning defaults. Signing keys and the
// pepper are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RefreshTTL:        7 * 24 * time.Hour,
			AccessCookieName:  "access_token",
			RefreshCookieName: "refresh_token",
			CookiePath:        "/",
			CookieSecure:      true,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled: true,
			TTL:     15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			EnableIPTrack:      true,
			EnableAccountTrack: true,
			MaxBackoff:         120 * time.Minute,
			Login:              RatePolicy{MaxAttempts: 5, Window: 5 * time.Minute, CaptchaAfter: 3},
			Refresh:            RatePolicy{MaxAttempts: 30, Window: time.Minute},
			ResetRequest:       RatePolicy{MaxAttempts: 3, Window: time.Hour},
			ResetConfirm:       RatePolicy{MaxAttempts: 5, Window: 15 * time.Minute},
		},
		Lockout: LockoutConfig{
			Enabled:  true,
			After:    10,
			Duration: 30 * time.Minute,
		},
		CSRF: CSRFConfig{
			TTL:        time.Hour,
			HeaderName: "X-CSRF-Token",
			CookieName: "csrf_token",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Cleanup: CleanupConfig{
			Enabled:   true,
			Interval:  10 * time.Minute,
			Retention: 24 * time.Hour,
		},
	}
}

// LoadConfig starts from DefaultConfig, overrides fields from AUTH_*
// environment variables and validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "AUTH_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if len(cfg.JWT.PrivateKey) == 0 && cfg.JWT.Secret != "" {
		cfg.JWT.PrivateKey = []byte(cfg.JWT.Secret)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration_gt0", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(time.Duration)
		return ok && d > 0
	})
	return v
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey or PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	if c.JWT.AccessTTL >= c.Session.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than Session RefreshTTL")
	}

	if c.RateLimit.MaxBackoff < c.RateLimit.Login.Window {
		return errors.New("RateLimit MaxBackoff must be >= Login Window")
	}
	if c.Lockout.Enabled && !c.RateLimit.EnableAccountTrack {
		return errors.New("Lockout requires the account rate limit track")
	}
	return nil
}

package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver             string `env:"APP_DB_DRIVER" envDefault:"sqlite"`
	DBPath               string `env:"APP_DB_PATH" envDefault:"./data/vigil.db"`
	DBDSN                string `env:"APP_DB_DSN"`
	DBMaxOpenConns       int    `env:"APP_DB_MAX_OPEN_CONNS" envDefault:"4"`
	DBMaxIdleConns       int    `env:"APP_DB_MAX_IDLE_CONNS" envDefault:"2"`
	DBConnMaxLifetimeMin int    `env:"APP_DB_CONN_MAX_LIFETIME_MIN" envDefault:"30"`

	SessionCookieName  string   `env:"SESSION_COOKIE_NAME" envDefault:"vigil_session"`
	SessionIdleMinutes int      `env:"SESSION_IDLE_MINUTES" envDefault:"30"`
	CSRFCookieName     string   `env:"CSRF_COOKIE_NAME" envDefault:"vigil_csrf"`
	CookieSecure       bool     `env:"COOKIE_SECURE" envDefault:"false"`
	TrustProxy         bool     `env:"TRUST_PROXY" envDefault:"false"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Argon2id hash produced by `vigil hash-passphrase`. Empty keeps the
	// plain role-selection gate.
	LoginPassphraseHash string `env:"LOGIN_PASSPHRASE_HASH"`
	LoginRatePerMinute  int    `env:"LOGIN_RATE_PER_MINUTE" envDefault:"20"`

	BookingEndpoint      string `env:"BOOKING_ENDPOINT"`
	BookingTimeoutSec    int    `env:"BOOKING_TIMEOUT_SEC" envDefault:"15"`
	BookingRatePerMinute int    `env:"BOOKING_RATE_PER_MINUTE" envDefault:"10"`

	CaptchaEnabled   bool   `env:"CAPTCHA_ENABLED" envDefault:"false"`
	CaptchaProvider  string `env:"CAPTCHA_PROVIDER" envDefault:"turnstile"`
	CaptchaVerifyURL string `env:"CAPTCHA_VERIFY_URL"`
	CaptchaSecret    string `env:"CAPTCHA_SECRET"`
	CaptchaSiteKey   string `env:"CAPTCHA_SITE_KEY"`

	NotifySender string `env:"NOTIFY_SENDER" envDefault:"log"`
	NotifyFrom   string `env:"NOTIFY_FROM" envDefault:"vigil@example.com"`
	NotifyTo     string `env:"NOTIFY_TO" envDefault:"sales@example.com"`

	SMTPHost               string `env:"SMTP_HOST" envDefault:"127.0.0.1"`
	SMTPPort               int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPTLS                bool   `env:"SMTP_TLS" envDefault:"false"`
	SMTPStartTLS           bool   `env:"SMTP_STARTTLS" envDefault:"true"`
	SMTPInsecureSkipVerify bool   `env:"SMTP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	SMTPUsername           string `env:"SMTP_USERNAME"`
	SMTPPassword           string `env:"SMTP_PASSWORD"`

	IMAPArchiveMailbox     string `env:"IMAP_ARCHIVE_MAILBOX"`
	IMAPHost               string `env:"IMAP_HOST" envDefault:"127.0.0.1"`
	IMAPPort               int    `env:"IMAP_PORT" envDefault:"993"`
	IMAPTLS                bool   `env:"IMAP_TLS" envDefault:"true"`
	IMAPInsecureSkipVerify bool   `env:"IMAP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	IMAPUsername           string `env:"IMAP_USERNAME"`
	IMAPPassword           string `env:"IMAP_PASSWORD"`

	DigestSchedule string `env:"DIGEST_SCHEDULE"`

	HTTPReadTimeoutSec       int `env:"HTTP_READ_TIMEOUT_SEC" envDefault:"10"`
	HTTPReadHeaderTimeoutSec int `env:"HTTP_READ_HEADER_TIMEOUT_SEC" envDefault:"5"`
	HTTPWriteTimeoutSec      int `env:"HTTP_WRITE_TIMEOUT_SEC" envDefault:"30"`
	HTTPIdleTimeoutSec       int `env:"HTTP_IDLE_TIMEOUT_SEC" envDefault:"60"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.NotifySender = strings.ToLower(strings.TrimSpace(cfg.NotifySender))
	cfg.CaptchaProvider = strings.ToLower(strings.TrimSpace(cfg.CaptchaProvider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SessionIdleMinutes <= 0 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must be positive")
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		return fmt.Errorf("invalid DB pool config")
	}
	switch c.DBDriver {
	case "sqlite":
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("APP_DB_PATH is required for the sqlite driver")
		}
	case "mysql", "pgx":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("APP_DB_DSN is required for the %s driver", c.DBDriver)
		}
	default:
		return fmt.Errorf("APP_DB_DRIVER must be one of: sqlite, mysql, pgx")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	if c.BookingTimeoutSec <= 0 {
		return fmt.Errorf("BOOKING_TIMEOUT_SEC must be positive")
	}
	if c.BookingRatePerMinute <= 0 || c.LoginRatePerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.LoginPassphraseHash != "" && !strings.HasPrefix(c.LoginPassphraseHash, "$argon2id$") {
		return fmt.Errorf("LOGIN_PASSPHRASE_HASH must be an argon2id hash (see `vigil hash-passphrase`)")
	}
	if !c.CookieSecure && !isLocalListen(c.ListenAddr) {
		return fmt.Errorf("COOKIE_SECURE=false is allowed only for local listen addresses")
	}
	switch c.NotifySender {
	case "log":
	case "smtp":
		if strings.TrimSpace(c.NotifyTo) == "" || strings.TrimSpace(c.NotifyFrom) == "" {
			return fmt.Errorf("NOTIFY_TO and NOTIFY_FROM are required when NOTIFY_SENDER=smtp")
		}
		if c.SMTPPort <= 0 {
			return fmt.Errorf("invalid SMTP port")
		}
		if c.IMAPArchiveMailbox != "" && c.IMAPPort <= 0 {
			return fmt.Errorf("invalid IMAP port")
		}
	default:
		return fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	if c.CaptchaEnabled {
		if strings.TrimSpace(c.CaptchaSecret) == "" {
			return fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
		}
		var defaultURL string
		switch c.CaptchaProvider {
		case "turnstile", "":
			defaultURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
		case "hcaptcha":
			defaultURL = "https://hcaptcha.com/siteverify"
		case "cap":
		default:
			return fmt.Errorf("unsupported CAPTCHA_PROVIDER: %s", c.CaptchaProvider)
		}
		if strings.TrimSpace(c.CaptchaVerifyURL) == "" {
			if defaultURL == "" {
				return fmt.Errorf("CAPTCHA_VERIFY_URL is required for the %s provider", c.CaptchaProvider)
			}
			c.CaptchaVerifyURL = defaultURL
		}
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "development")
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeMin) * time.Minute
}

func (c Config) BookingTimeout() time.Duration {
	return time.Duration(c.BookingTimeoutSec) * time.Second
}

// ResolveCookieSecure reports whether cookies set on r should carry the
// Secure attribute.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	if c.CookieSecure {
		return true
	}
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}

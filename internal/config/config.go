package config

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	ListenAddr string
	AppEnv     string
	BaseURL    string
	WebDir     string

	DBDriver          string
	DBDSN             string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JWTSecret          string
	SessionCookieName  string
	SessionTTLHours    int
	TrustProxy         bool
	CORSAllowedOrigins []string

	AuditLogPath       string
	AuditPruneSchedule string
	AuditRetentionDays int

	GoogleClientID        string
	GoogleClientSecret    string
	GoogleWorkspaceDomain string

	LoginRateLimit     int
	LoginRateWindowSec int
	LoginRateMaxKeys   int

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapAdminReset    bool

	InviteSender string
	InviteFrom   string
	SMTPHost     string
	SMTPPort     int
	AWSRegion    string

	LogLevel  string
	LogFormat string
}

// fileOverlay mirrors the keys accepted in CONFIG_FILE. Values found there are
// exported into the process environment unless the variable is already set.
type fileOverlay map[string]any

func Load() (Config, error) {
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFileOverlay(path); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":3000"),
		AppEnv:                   strings.ToLower(env("APP_ENV", EnvDevelopment)),
		BaseURL:                  strings.TrimRight(env("APP_BASE_URL", "http://localhost:3000"), "/"),
		WebDir:                   env("WEB_DIR", "web"),
		DBDriver:                 strings.ToLower(env("DB_DRIVER", "sqlite")),
		DBDSN:                    env("DB_DSN", ""),
		DBPath:                   env("APP_DB_PATH", "./data/portal.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		JWTSecret:                os.Getenv("JWT_SECRET"),
		SessionCookieName:        env("SESSION_COOKIE_NAME", "cnm_token"),
		SessionTTLHours:          envInt("SESSION_TTL_HOURS", 8),
		TrustProxy:               envBool("TRUST_PROXY", true),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		AuditLogPath:             env("AUDIT_LOG_PATH", "/var/log/cnm/audit.log"),
		AuditPruneSchedule:       env("AUDIT_PRUNE_SCHEDULE", "@daily"),
		AuditRetentionDays:       envInt("AUDIT_RETENTION_DAYS", 30),
		GoogleClientID:           os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:       os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleWorkspaceDomain:    strings.ToLower(strings.TrimSpace(os.Getenv("GOOGLE_WORKSPACE_DOMAIN"))),
		LoginRateLimit:           envInt("LOGIN_RATE_LIMIT", 5),
		LoginRateWindowSec:       envInt("LOGIN_RATE_WINDOW_SEC", 60),
		LoginRateMaxKeys:         envInt("LOGIN_RATE_MAX_KEYS", 50),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		BootstrapAdminEmail:      strings.ToLower(strings.TrimSpace(env("BOOTSTRAP_ADMIN_EMAIL", "admin@cnm.local"))),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		BootstrapAdminReset:      envBool("BOOTSTRAP_ADMIN_RESET", false),
		InviteSender:             strings.ToLower(env("INVITE_SENDER", "log")),
		InviteFrom:               env("INVITE_FROM", "no-reply@cnm.local"),
		SMTPHost:                 env("SMTP_HOST", ""),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		AWSRegion:                env("AWS_REGION", ""),
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(env("LOG_FORMAT", "text")),
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	switch cfg.AppEnv {
	case EnvDevelopment, EnvProduction:
	default:
		return Config{}, fmt.Errorf("APP_ENV must be one of: development, production")
	}
	switch cfg.DBDriver {
	case "sqlite":
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.SessionTTLHours <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	if cfg.LoginRateLimit <= 0 || cfg.LoginRateWindowSec <= 0 || cfg.LoginRateMaxKeys <= 0 {
		return Config{}, fmt.Errorf("login rate limit settings must be positive")
	}
	if cfg.AuditRetentionDays <= 0 {
		return Config{}, fmt.Errorf("AUDIT_RETENTION_DAYS must be positive")
	}
	switch cfg.InviteSender {
	case "log", "smtp", "ses":
	default:
		return Config{}, fmt.Errorf("INVITE_SENDER must be one of: log, smtp, ses")
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return c.AppEnv == EnvProduction
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c Config) LoginRateWindow() time.Duration {
	return time.Duration(c.LoginRateWindowSec) * time.Second
}

func (c Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// SSOConfigured reports whether all three Google settings are present.
func (c Config) SSOConfigured() bool {
	return strings.TrimSpace(c.GoogleClientID) != "" &&
		strings.TrimSpace(c.GoogleClientSecret) != "" &&
		strings.TrimSpace(c.GoogleWorkspaceDomain) != ""
}

func (c Config) SSORedirectURL() string {
	return c.BaseURL + "/api/auth/google/callback"
}

// ResolveCookieSecure sets Secure only in production, over https, and off localhost.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	if !c.Production() {
		return false
	}
	https := r.TLS != nil
	if c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		https = true
	}
	if !https {
		return false
	}
	return !isLocalHost(r.Host)
}

func applyFileOverlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	for k, v := range overlay {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		var val string
		switch t := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			val = strings.Join(parts, ",")
		default:
			val = fmt.Sprint(t)
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("apply config key %s: %w", key, err)
		}
	}
	return nil
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalHost(hostport string) bool {
	h := strings.ToLower(strings.TrimSpace(hostport))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.Trim(h, "[]")
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-auth-tokens/internal/model"
)

const (
	minSecretLength        = 16
	minAdminPasswordLength = 12
)

// Store backends.
const (
	StoreSingle   = "single"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	AppEnv   string
	LogLevel string

	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	JWTSecret           string
	JWTIssuer           string
	JWTAccessTTL        time.Duration
	JWTRefreshTTL       time.Duration
	JWTLegacyNameClaims bool

	PasswordHasher   string
	RegisterPolicy   string
	DefaultRole      string
	HideUnknownUsers bool
	AdminUsername    string
	AdminPassword    string

	StoreBackend   string
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	CookieName   string
	CookiePath   string
	CookieSecure bool

	CORSOrigins      []string
	TrustedProxies   []string
	RateLimitRPM     int
	AuthRateLimitRPM int
	AuditLogFile     string
	MetricsEnabled   bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   strings.ToLower(getEnv("APP_ENV", "local")),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTIssuer:           getEnv("JWT_ISSUER", ""),
		JWTAccessTTL:        getDuration("JWT_ACCESS_TTL", 24*time.Hour),
		JWTRefreshTTL:       getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		JWTLegacyNameClaims: getBool("JWT_LEGACY_NAME_CLAIMS", false),

		PasswordHasher:   strings.ToLower(getEnv("PASSWORD_HASHER", "hmac-sha512")),
		RegisterPolicy:   strings.ToLower(getEnv("AUTH_REGISTER_POLICY", "reject")),
		DefaultRole:      getEnv("AUTH_DEFAULT_ROLE", "user"),
		HideUnknownUsers: getBool("AUTH_HIDE_UNKNOWN_USERS", false),
		AdminUsername:    getEnv("AUTH_ADMIN_USERNAME", ""),
		AdminPassword:    os.Getenv("AUTH_ADMIN_PASSWORD"),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", StoreSingle)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxConns:     int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:     int32(getInt("DB_MIN_CONNS", 2)),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "auth:"),

		CookieName:   getEnv("COOKIE_NAME", "refreshToken"),
		CookiePath:   getEnv("COOKIE_PATH", "/api/v1/auth"),
		CookieSecure: getBool("COOKIE_SECURE", true),

		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "")),
		TrustedProxies:   splitCSV(getEnv("TRUSTED_PROXIES", "")),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 10),
		AuditLogFile:     getEnv("AUDIT_LOG_FILE", "./state/audit.log"),
		MetricsEnabled:   getBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fails on anything the server cannot start with. Every failure
// wraps model.ErrConfiguration.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", model.ErrConfiguration)
	}
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", model.ErrConfiguration, minSecretLength)
	}

	if c.ServerPort == "" {
		return fmt.Errorf("%w: SERVER_PORT cannot be empty", model.ErrConfiguration)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: REQUEST_TIMEOUT must be positive", model.ErrConfiguration)
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return fmt.Errorf("%w: JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive", model.ErrConfiguration)
	}

	switch c.RegisterPolicy {
	case "reject", "overwrite":
	default:
		return fmt.Errorf("%w: AUTH_REGISTER_POLICY must be reject or overwrite, got %q", model.ErrConfiguration, c.RegisterPolicy)
	}

	if c.AdminUsername != "" && len(c.AdminPassword) < minAdminPasswordLength {
		return fmt.Errorf("%w: AUTH_ADMIN_PASSWORD must be at least %d bytes when AUTH_ADMIN_USERNAME is set", model.ErrConfiguration, minAdminPasswordLength)
	}

	switch c.StoreBackend {
	case StoreSingle, StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", model.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", model.ErrConfiguration, c.StoreBackend)
	}

	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("%w: COOKIE_NAME cannot be empty", model.ErrConfiguration)
	}

	for _, entry := range c.TrustedProxies {
		if !validProxyEntry(entry) {
			return fmt.Errorf("%w: TRUSTED_PROXIES entry %q is not an IP address or CIDR range", model.ErrConfiguration, entry)
		}
	}

	if strings.TrimSpace(c.AuditLogFile) == "" {
		return fmt.Errorf("%w: AUDIT_LOG_FILE cannot be empty", model.ErrConfiguration)
	}

	return nil
}

// IsLocal reports whether logs should be human readable.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "local"
}

func validProxyEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	// SnapshotTTL bounds how stale a cached effective state may get after a
	// change that bypassed the update engine (e.g. a data migration).
	SnapshotTTL time.Duration

	// EnforcementEnabled is read once at startup. When false the gate guard
	// is not installed at all; the decision function is never consulted.
	EnforcementEnabled bool

	// PlatformSuperusers bypass entitlement gating. PlatformRoots may
	// additionally run destructive cross-org operations. The two tiers are
	// deliberately separate capabilities.
	PlatformSuperusers []string
	PlatformRoots      []string

	// GatesPath optionally points at a gates.yml overriding the built-in
	// gate table.
	GatesPath string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "featuregate"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "postgres"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		SnapshotTTL:        getenvDuration("SNAPSHOT_TTL", 5*time.Minute),
		EnforcementEnabled: getenvBool("ENFORCEMENT_ENABLED", true),
		PlatformSuperusers: parseSubjects(getenv("PLATFORM_SUPERUSERS", "")),
		PlatformRoots:      parseSubjects(getenv("PLATFORM_ROOTS", "")),
		GatesPath:          strings.TrimSpace(getenv("GATES_PATH", "")),
	}

	return cfg
}

// IsSuperuser reports whether the subject carries the platform-superuser
// capability. Resolved once per request at the boundary, never re-derived
// at individual call sites.
func (c Config) IsSuperuser(subject string) bool {
	return containsSubject(c.PlatformSuperusers, subject)
}

// IsRoot reports whether the subject carries the platform-root capability.
func (c Config) IsRoot(subject string) bool {
	return containsSubject(c.PlatformRoots, subject)
}

func containsSubject(list []string, subject string) bool {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return false
	}
	for _, candidate := range list {
		if candidate == subject {
			return true
		}
	}
	return false
}

func parseSubjects(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewGatesHolder,
	),
)

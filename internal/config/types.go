package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every process-level option.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	Database  DatabaseConfig  `koanf:"database"`
	Reporting ReportingConfig `koanf:"reporting"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig collects the HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// CacheConfig selects the keystore backend and the per-view TTL policy.
type CacheConfig struct {
	Backend         string `koanf:"backend"`
	OpTimeoutMillis int    `koanf:"opTimeoutMillis"`
	// PopulateTimeoutMillis bounds one shared read-model query. It runs
	// detached from the request that started it.
	PopulateTimeoutMillis int `koanf:"populateTimeoutMillis"`
	// FallbackToMemory serves from a process-local store when redis is
	// unreachable at startup. That store never sees invalidations issued by
	// other replicas, so it is off unless a single replica runs.
	FallbackToMemory bool             `koanf:"fallbackToMemory"`
	TTL              CacheTTLConfig   `koanf:"ttl"`
	Redis            CacheRedisConfig `koanf:"redis"`
}

// CacheTTLConfig holds the expiry, in seconds, of each cached read view.
type CacheTTLConfig struct {
	CatalogSeconds     int `koanf:"catalogSeconds"`
	CourseSeconds      int `koanf:"courseSeconds"`
	InstructorSeconds  int `koanf:"instructorSeconds"`
	UserProfileSeconds int `koanf:"userProfileSeconds"`
}

type CacheRedisConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      CacheRedisTLSConfig `koanf:"tls"`
}

type CacheRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	Schema       string `koanf:"schema"`
	MaxOpenConns int    `koanf:"maxOpenConns"`
	Migrate      bool   `koanf:"migrate"`
}

type ReportingConfig struct {
	SentryDSN        string  `koanf:"sentryDsn"`
	Environment      string  `koanf:"environment"`
	TracesSampleRate float64 `koanf:"tracesSampleRate"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"serviceName"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
}

// OpTimeout returns the per-call keystore timeout.
func (c CacheConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMillis) * time.Millisecond
}

func (c CacheConfig) PopulateTimeout() time.Duration {
	return time.Duration(c.PopulateTimeoutMillis) * time.Millisecond
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Cache.OpTimeoutMillis <= 0 {
		return fmt.Errorf("config: cache.opTimeoutMillis invalid: %d", c.Cache.OpTimeoutMillis)
	}
	if c.Cache.PopulateTimeoutMillis <= 0 {
		return fmt.Errorf("config: cache.populateTimeoutMillis invalid: %d", c.Cache.PopulateTimeoutMillis)
	}
	ttls := map[string]int{
		"catalogSeconds":     c.Cache.TTL.CatalogSeconds,
		"courseSeconds":      c.Cache.TTL.CourseSeconds,
		"instructorSeconds":  c.Cache.TTL.InstructorSeconds,
		"userProfileSeconds": c.Cache.TTL.UserProfileSeconds,
	}
	for name, seconds := range ttls {
		if seconds <= 0 {
			return fmt.Errorf("config: cache.ttl.%s invalid: %d", name, seconds)
		}
	}
	backend := strings.TrimSpace(strings.ToLower(c.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("config: database.maxOpenConns invalid: %d", c.Database.MaxOpenConns)
	}
	if c.Reporting.TracesSampleRate < 0 || c.Reporting.TracesSampleRate > 1 {
		return fmt.Errorf("config: reporting.tracesSampleRate must be within [0,1]: %v", c.Reporting.TracesSampleRate)
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return errors.New("config: telemetry.serviceName required when telemetry is enabled")
	}
	return nil
}

// DefaultConfig returns the baseline values. The TTLs follow the staleness
// budget of each view: the catalog changes most often, instructor aggregates
// least.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Cache: CacheConfig{
			Backend:         "memory",
			OpTimeoutMillis:       250,
			PopulateTimeoutMillis: 10000,
			TTL: CacheTTLConfig{
				CatalogSeconds:     300,
				CourseSeconds:      600,
				InstructorSeconds:  900,
				UserProfileSeconds: 600,
			},
		},
		Database: DatabaseConfig{
			DSN:          "user=postgres password=postgres dbname=coursemart sslmode=disable",
			Schema:       "coursemart",
			MaxOpenConns: 10,
			Migrate:      true,
		},
		Reporting: ReportingConfig{
			Environment: "development",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "coursemart",
			Insecure:    true,
		},
	}
}

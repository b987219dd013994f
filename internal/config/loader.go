package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator for the given env prefix and files.
// Empty file paths are ignored.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the non-empty config file paths the loader reads.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.logging.correlationheader": "server.logging.correlationHeader",
			"cache.optimeoutmillis":            "cache.opTimeoutMillis",
			"cache.populatetimeoutmillis":      "cache.populateTimeoutMillis",
			"cache.fallbacktomemory":           "cache.fallbackToMemory",
			"cache.ttl.catalogseconds":         "cache.ttl.catalogSeconds",
			"cache.ttl.courseseconds":          "cache.ttl.courseSeconds",
			"cache.ttl.instructorseconds":      "cache.ttl.instructorSeconds",
			"cache.ttl.userprofileseconds":     "cache.ttl.userProfileSeconds",
			"cache.redis.tls.cafile":           "cache.redis.tls.caFile",
			"database.maxopenconns":            "database.maxOpenConns",
			"reporting.sentrydsn":              "reporting.sentryDsn",
			"reporting.tracessamplerate":       "reporting.tracesSampleRate",
			"telemetry.servicename":            "telemetry.serviceName",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CACHE__TTL__COURSESECONDS -> cache.ttl.courseSeconds).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %s", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"cache": map[string]any{
			"backend":               cfg.Cache.Backend,
			"opTimeoutMillis":       cfg.Cache.OpTimeoutMillis,
			"populateTimeoutMillis": cfg.Cache.PopulateTimeoutMillis,
			"fallbackToMemory":      cfg.Cache.FallbackToMemory,
			"ttl": map[string]any{
				"catalogSeconds":     cfg.Cache.TTL.CatalogSeconds,
				"courseSeconds":      cfg.Cache.TTL.CourseSeconds,
				"instructorSeconds":  cfg.Cache.TTL.InstructorSeconds,
				"userProfileSeconds": cfg.Cache.TTL.UserProfileSeconds,
			},
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"database": map[string]any{
			"dsn":          cfg.Database.DSN,
			"schema":       cfg.Database.Schema,
			"maxOpenConns": cfg.Database.MaxOpenConns,
			"migrate":      cfg.Database.Migrate,
		},
		"reporting": map[string]any{
			"sentryDsn":        cfg.Reporting.SentryDSN,
			"environment":      cfg.Reporting.Environment,
			"tracesSampleRate": cfg.Reporting.TracesSampleRate,
		},
		"telemetry": map[string]any{
			"enabled":     cfg.Telemetry.Enabled,
			"serviceName": cfg.Telemetry.ServiceName,
			"endpoint":    cfg.Telemetry.Endpoint,
			"insecure":    cfg.Telemetry.Insecure,
		},
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when no overrides",
			setup: func(t *testing.T) []string {
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "memory", cfg.Cache.Backend)
				require.Equal(t, 300, cfg.Cache.TTL.CatalogSeconds)
				require.Equal(t, 600, cfg.Cache.TTL.CourseSeconds)
				require.Equal(t, 900, cfg.Cache.TTL.InstructorSeconds)
				require.Equal(t, 600, cfg.Cache.TTL.UserProfileSeconds)
				require.Equal(t, 250, cfg.Cache.OpTimeoutMillis)
				require.Equal(t, 10*time.Second, cfg.Cache.PopulateTimeout())
				require.False(t, cfg.Cache.FallbackToMemory)
			},
		},
		{
			name: "merges yaml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				contents := "server:\n  listen:\n    port: 9090\ncache:\n  ttl:\n    courseSeconds: 120\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 120, cfg.Cache.TTL.CourseSeconds)
				require.Equal(t, 300, cfg.Cache.TTL.CatalogSeconds)
			},
		},
		{
			name: "merges json file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.json")
				contents := `{"cache":{"backend":"redis","redis":{"address":"localhost:6379"}}}`
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "redis", cfg.Cache.Backend)
				require.Equal(t, "localhost:6379", cfg.Cache.Redis.Address)
			},
		},
		{
			name: "merges toml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.toml")
				contents := "[database]\nschema = \"coursemart_test\"\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "coursemart_test", cfg.Database.Schema)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("COURSEMART_SERVER__LISTEN__PORT", "9091")
				t.Setenv("COURSEMART_CACHE__TTL__INSTRUCTORSECONDS", "1800")
				t.Setenv("COURSEMART_CACHE__REDIS__TLS__CAFILE", "/etc/ca.pem")
				t.Setenv("COURSEMART_CACHE__FALLBACKTOMEMORY", "true")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.Equal(t, 1800, cfg.Cache.TTL.InstructorSeconds)
				require.Equal(t, "/etc/ca.pem", cfg.Cache.Redis.TLS.CAFile)
				require.True(t, cfg.Cache.FallbackToMemory)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.ini")
				require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "fails validation for redis without address",
			setup: func(t *testing.T) []string {
				t.Setenv("COURSEMART_CACHE__BACKEND", "redis")
				return nil
			},
			wantErr: true,
		},
		{
			name: "fails validation for zero ttl",
			setup: func(t *testing.T) []string {
				t.Setenv("COURSEMART_CACHE__TTL__CATALOGSECONDS", "0")
				return nil
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			args := tc.setup(t)
			loader := NewLoader("COURSEMART", args...)

			cfg, err := loader.Load(ctx)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "port out of range", mutate: func(cfg *Config) { cfg.Server.Listen.Port = 70000 }},
		{name: "unknown backend", mutate: func(cfg *Config) { cfg.Cache.Backend = "memcached" }},
		{name: "zero op timeout", mutate: func(cfg *Config) { cfg.Cache.OpTimeoutMillis = 0 }},
		{name: "zero populate timeout", mutate: func(cfg *Config) { cfg.Cache.PopulateTimeoutMillis = 0 }},
		{name: "negative user profile ttl", mutate: func(cfg *Config) { cfg.Cache.TTL.UserProfileSeconds = -1 }},
		{name: "negative pool size", mutate: func(cfg *Config) { cfg.Database.MaxOpenConns = -1 }},
		{name: "sample rate above one", mutate: func(cfg *Config) { cfg.Reporting.TracesSampleRate = 1.5 }},
		{name: "telemetry without service name", mutate: func(cfg *Config) {
			cfg.Telemetry.Enabled = true
			cfg.Telemetry.ServiceName = ""
		}},
	}

	defaults := DefaultConfig()
	require.NoError(t, defaults.Validate())

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

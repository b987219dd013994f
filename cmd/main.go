package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/l0p7/coursemart/internal/cacheaside"
	"github.com/l0p7/coursemart/internal/catalog"
	"github.com/l0p7/coursemart/internal/config"
	"github.com/l0p7/coursemart/internal/database"
	"github.com/l0p7/coursemart/internal/keystore"
	"github.com/l0p7/coursemart/internal/logging"
	"github.com/l0p7/coursemart/internal/metrics"
	"github.com/l0p7/coursemart/internal/readmodel"
	"github.com/l0p7/coursemart/internal/reporting"
	"github.com/l0p7/coursemart/internal/server"
	"github.com/l0p7/coursemart/internal/telemetry"
	"github.com/l0p7/coursemart/internal/writes"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "COURSEMART", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	if err := run(ctx, loader, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func run(ctx context.Context, loader *config.Loader, cfg config.Config, root *logging.Logger) error {
	logger := root.Logger
	reporter, flushReports := buildReporter(logger, cfg.Reporting)
	defer flushReports()

	shutdownTelemetry, err := telemetry.SetupOTelSDK(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := database.NewPostgresDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("database close failed", slog.Any("error", err))
		}
	}()
	if cfg.Database.Migrate {
		if err := database.NewDatabaseMigrator(db, logger).Migrate(ctx, cfg.Database.Schema); err != nil {
			return err
		}
	}

	store, err := buildKeyStore(logger.With(slog.String("agent", "keystore_factory")), cfg.Cache)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("keystore shutdown failed", slog.Any("error", err))
		}
	}()

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	cache, err := cacheaside.New(cacheaside.Options{
		Store:           store,
		Logger:          logger,
		Metrics:         recorder,
		Reporter:        reporter,
		Policy:          policyFromConfig(cfg.Cache),
		PopulateTimeout: cfg.Cache.PopulateTimeout(),
	})
	if err != nil {
		return err
	}

	if len(loader.Files()) > 0 {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			if err := root.SetLevel(next.Server.Logging.Level); err != nil {
				logger.Warn("log level reload rejected", slog.Any("error", err))
			}
			policy := policyFromConfig(next.Cache)
			cache.SetPolicy(policy)
			logger.Info("cache ttl policy reloaded",
				slog.Duration("catalog", policy.Catalog),
				slog.Duration("course", policy.Course),
				slog.Duration("instructor", policy.Instructor),
				slog.Duration("user_profile", policy.UserProfile),
			)
		}, func(err error) {
			logger.Error("config watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler, err := buildHandler(cfg, logger, db, store, cache, recorder, reporter)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, logger, handler)
	if err != nil {
		return fmt.Errorf("unable to construct server: %w", err)
	}
	return srv.Run(ctx)
}

func buildHandler(
	cfg config.Config,
	logger *slog.Logger,
	db *sqlx.DB,
	store keystore.KeyStore,
	cache *cacheaside.Service,
	recorder *metrics.Recorder,
	reporter reporting.Reporter,
) (http.Handler, error) {
	schema := cfg.Database.Schema
	invalidator := writes.NewInvalidator(cache, logger)
	writeStore := writes.NewPostgres(db, schema)

	return server.NewHandler(server.Dependencies{
		Reader:   catalog.NewReader(cache, readmodel.NewPostgres(db, schema)),
		Courses:  writes.NewCourseService(writeStore, invalidator),
		Users:    writes.NewUserService(writeStore, invalidator),
		Payments: writes.NewPaymentService(writeStore, invalidator),
		Cache:    cache,
		Health: []server.HealthCheck{
			{Name: "database", Critical: true, Check: db.PingContext},
			{Name: "keystore", Check: store.Ping},
		},
		Metrics:           recorder,
		Reporter:          reporter,
		Logger:            logger,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})
}

func policyFromConfig(cfg config.CacheConfig) cacheaside.TTLPolicy {
	return cacheaside.PolicyFromSeconds(
		cfg.TTL.CatalogSeconds,
		cfg.TTL.CourseSeconds,
		cfg.TTL.InstructorSeconds,
		cfg.TTL.UserProfileSeconds,
	)
}

const (
	sentryRefillPerSecond = 0.2
	sentryBurst           = 10
)

// buildReporter always logs reports and additionally ships them to Sentry
// when a DSN is configured. Sentry sees at most a burst per kind of failure.
func buildReporter(logger *slog.Logger, cfg config.ReportingConfig) (reporting.Reporter, func()) {
	logReporter := reporting.NewLogReporter(logger)
	if strings.TrimSpace(cfg.SentryDSN) == "" {
		return logReporter, func() {}
	}
	sentryReporter, flush, err := reporting.InitSentry(reporting.SentryOptions{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
	})
	if err != nil {
		logger.Error("sentry initialization failed, reporting to logs only", slog.Any("error", err))
		return logReporter, func() {}
	}
	limited, stopLimiter := reporting.NewRateLimited(sentryReporter, sentryRefillPerSecond, sentryBurst)
	return reporting.Multi{logReporter, limited}, func() {
		stopLimiter()
		flush()
	}
}

// buildKeyStore refuses to start without redis unless the memory fallback is
// enabled. A fallback store is process-local, so writes handled by other
// replicas never invalidate it.
func buildKeyStore(logger *slog.Logger, cfg config.CacheConfig) (keystore.KeyStore, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory keystore")
		return keystore.NewMemory(), nil
	case "redis":
		store, err := keystore.NewValkey(keystore.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: keystore.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
			OpTimeout: cfg.OpTimeout(),
		})
		if err != nil {
			if !cfg.FallbackToMemory {
				return nil, fmt.Errorf("redis keystore initialization: %w", err)
			}
			logger.Error("redis keystore initialization failed", slog.Any("error", err))
			logger.Warn("falling back to memory keystore; invalidations from other replicas will not reach this process",
				slog.String("address", cfg.Redis.Address))
			return keystore.NewMemory(), nil
		}
		logger.Info("using redis keystore", slog.String("address", cfg.Redis.Address))
		return store, nil
	default:
		logger.Warn("unsupported keystore backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return keystore.NewMemory(), nil
	}
}

// Command sabtd is the process entrypoint for the Sabt allocation & export
// service: it loads Config, wires the clock, stores, signer, exporter,
// job runner and probes together, and serves the HTTP surface. Exit
// codes: 0 ok, 2 configuration error, 3 runtime error.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/config"
	"github.com/sabt-export/core/pkg/export"
	"github.com/sabt-export/core/pkg/exportjob"
	"github.com/sabt-export/core/pkg/httpmw"
	"github.com/sabt-export/core/pkg/httpserver"
	"github.com/sabt-export/core/pkg/kv"
	"github.com/sabt-export/core/pkg/metrics"
	"github.com/sabt-export/core/pkg/observability"
	"github.com/sabt-export/core/pkg/probes"
	"github.com/sabt-export/core/pkg/roster"
	"github.com/sabt-export/core/pkg/signing"
)

const (
	exitOK      = 0
	exitConfig  = 2
	exitRuntime = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := observability.NewJSONLogger("sabtd")
	slog.SetDefault(logger)

	if cfg.MetricsToken == "" {
		logger.Error("missing required metrics token", "env_var", cfg.MetricsTokenVar)
		return exitConfig
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Timezone, "error", err.Error())
		return exitConfig
	}
	clk := clock.NewWithLocation(loc)

	reg := metrics.New(cfg.Namespace)

	store, err := buildStore(cfg, clk)
	if err != nil {
		logger.Error("failed to build key-value store", "error", err.Error())
		return exitConfig
	}

	keys, err := loadOrCreateKeySet(cfg.SigningKeySetPath)
	if err != nil {
		logger.Error("failed to load signing key set", "path", cfg.SigningKeySetPath, "error", err.Error())
		return exitConfig
	}
	signer := signing.NewSigner(keys, clk, reg)

	tokens := httpmw.NewTokenRegistry()
	tokens.RegisterMetricsToken(cfg.MetricsToken)

	if err := os.MkdirAll(cfg.ExportOutputDir, 0o755); err != nil {
		logger.Error("failed to create export output directory", "dir", cfg.ExportOutputDir, "error", err.Error())
		return exitConfig
	}

	rosterTable := roster.NewShared(nil)
	dataSource, db, err := buildDataSource(cfg)
	if err != nil {
		logger.Error("failed to build export data source", "error", err.Error())
		return exitConfig
	}
	pipeline := export.NewPipeline(dataSource, rosterTable, clk, reg, cfg.ExportOutputDir)
	if cfg.ExportS3Bucket != "" {
		publisher, err := buildS3Publisher(context.Background(), cfg)
		if err != nil {
			logger.Error("failed to build S3 publisher", "error", err.Error())
			return exitConfig
		}
		pipeline.Publisher = publisher
	}

	runner := exportjob.NewRunner(store, clk, reg, pipeline)

	probeList := []probes.Probe{probes.KVStoreProbe{Name: "kv_store", Store: store}}
	if db != nil {
		probeList = append(probeList, probes.DBProbe{Name: "database", DB: db})
	}
	agg := probes.NewAggregator(reg, probeList...)

	srv := httpserver.NewServer(runner, signer, agg, reg, clk, store, tokens, cfg.ExportOutputDir)
	srv.Logger = logger
	srv.RateLimitConfig = httpmw.RateLimitConfig{
		Requests:       cfg.RateLimitRequests,
		Window:         cfg.RateLimitWindow,
		PenaltySeconds: cfg.RateLimitPenalty,
	}
	srv.DefaultNamespace = cfg.Namespace
	srv.HealthTimeout = cfg.HealthTimeout
	srv.ReadinessTimeout = cfg.ReadinessTimeout

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port, "namespace", cfg.Namespace)
		serveErr <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", "error", err.Error())
			return exitRuntime
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err.Error())
			return exitRuntime
		}
		logger.Info("shutdown complete")
	}

	return exitOK
}

// buildStore selects the Redis-backed kv.Store when cfg.RedisURL is set,
// falling back to the in-memory reference implementation otherwise.
func buildStore(cfg *config.Config, clk clock.Clock) (kv.Store, error) {
	if cfg.RedisURL == "" {
		return kv.NewMemory(cfg.Namespace, clk), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return kv.NewRedis(cfg.Namespace, client), nil
}

// loadOrCreateKeySet loads the SigningKeySet file, generating a fresh
// single-key set on first boot if the file does not yet exist.
func loadOrCreateKeySet(path string) (*signing.KeySet, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		keys := signing.NewKeySet(signing.Key{Kid: "boot", Secret: secret})
		if err := keys.Save(path); err != nil {
			return nil, fmt.Errorf("persist generated signing key set: %w", err)
		}
		return keys, nil
	}
	return signing.LoadKeySetFile(path)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// buildDataSource selects the Postgres-backed export.DataSource when
// cfg.DatabaseURL is set, otherwise an empty in-memory reference (dev mode,
// or a deployment that populates rows through test fixtures only). The
// returned *sql.DB is nil in the in-memory case; callers use it to wire
// the database readiness probe.
func buildDataSource(cfg *config.Config) (export.DataSource, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return &export.MemoryDataSource{}, nil, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return export.NewPostgresDataSource(db), db, nil
}

// buildS3Publisher constructs the optional S3 mirror publisher from the
// ambient AWS credential chain (env vars, shared config, instance role).
func buildS3Publisher(ctx context.Context, cfg *config.Config) (export.Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return export.NewS3Publisher(client, cfg.ExportS3Bucket, cfg.ExportS3Prefix), nil
}

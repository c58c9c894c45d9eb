// Command gateway runs the media delivery gateway: token-gated streaming,
// manifest rewriting and quality selection in front of an S3-compatible
// storage backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/auralis/streamgate/internal/blob"
	"github.com/auralis/streamgate/internal/config"
	"github.com/auralis/streamgate/internal/edgesign"
	"github.com/auralis/streamgate/internal/gateway"
	sglog "github.com/auralis/streamgate/internal/log"
	"github.com/auralis/streamgate/internal/quality"
	"github.com/auralis/streamgate/internal/token"
)

var (
	version   = "v1.2.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	sglog.Configure(sglog.Config{
		Level:   "info",
		Service: "streamgate",
		Version: version,
	})
	logger := sglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	// Re-configure with the loaded settings.
	sglog.Configure(sglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	store, err := blob.NewS3Store(ctx, blob.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "blob.init_failed").
			Msg("failed to initialize storage backend")
	}

	consumption, err := newConsumptionStore(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "token.store_init_failed").
			Msg("failed to initialize consumption store")
	}
	defer func() { _ = consumption.Close() }()

	auth, err := token.NewAuthority([]byte(cfg.TokenSecret), consumption,
		token.WithConsumptionMargin(cfg.ConsumptionTTL))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "token.init_failed").
			Msg("failed to initialize token authority")
	}

	signer, err := newEdgeSigner(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "edgesign.init_failed").
			Msg("failed to initialize edge signer")
	}

	srv := gateway.NewServer(cfg, store, auth, quality.NewCatalog(store), signer)

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting streamgate")
	logger.Info().Msgf("→ Storage: s3://%s (%s)", cfg.S3Bucket, storageEndpoint(cfg))
	logger.Info().Msgf("→ Consumption store: %s", consumptionBackend(cfg))
	logger.Info().Msgf("→ Delivery: %s", deliveryMode(cfg, signer))
	if cfg.ServiceToken == "" {
		logger.Warn().
			Str("security", "weak").
			Msg("→ Service token: NOT configured. Internal callers cannot authenticate.")
	}

	app := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return app.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "server.failed").
			Msg("server failed")
	}
	logger.Info().Msg("server exiting")
}

// newConsumptionStore picks the single-use token backend: redis when
// configured, else badger, else in-process memory.
func newConsumptionStore(cfg config.Config) (token.ConsumptionStore, error) {
	switch {
	case cfg.RedisAddr != "":
		return token.NewRedisStore(token.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case cfg.BadgerDir != "":
		return token.NewBadgerStore(cfg.BadgerDir)
	default:
		return token.NewMemoryStore(), nil
	}
}

func newEdgeSigner(cfg config.Config) (edgesign.Signer, error) {
	if cfg.EdgeKeyPath == "" {
		return edgesign.Disabled, nil
	}
	pemKey, err := os.ReadFile(cfg.EdgeKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read edge key: %w", err)
	}
	return edgesign.New(pemKey, cfg.EdgeKeyPairID)
}

func storageEndpoint(cfg config.Config) string {
	if cfg.S3Endpoint != "" {
		return cfg.S3Endpoint
	}
	return "region " + cfg.S3Region
}

func consumptionBackend(cfg config.Config) string {
	switch {
	case cfg.RedisAddr != "":
		return "redis @ " + cfg.RedisAddr
	case cfg.BadgerDir != "":
		return "badger @ " + cfg.BadgerDir
	default:
		return "memory (single instance only)"
	}
}

func deliveryMode(cfg config.Config, signer edgesign.Signer) string {
	switch {
	case cfg.CDNDomain != "":
		return "cdn (" + cfg.CDNDomain + ")"
	case signer.Enabled():
		return "edge cookies (" + cfg.EdgeDomain + ")"
	default:
		return "signed backend URLs"
	}
}

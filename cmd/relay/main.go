// Command relay runs the Stripe billing relay: it verifies and enriches
// Stripe webhook events into subscription snapshots, persists them, optionally
// forwards them to the application backend, and serves the checkout, portal
// and subscription lifecycle endpoints.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jusway/billing-relay/internal/config"
	"github.com/jusway/billing-relay/pkg/api"
	"github.com/jusway/billing-relay/pkg/billing"
	"github.com/jusway/billing-relay/pkg/billing/forward"
	zerologadapter "github.com/jusway/billing-relay/pkg/billing/logger/zerolog"
	prommetrics "github.com/jusway/billing-relay/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/jusway/billing-relay/pkg/billing/stripe"
	"github.com/jusway/billing-relay/storage/memory"
	"github.com/jusway/billing-relay/storage/postgres"
	"github.com/jusway/billing-relay/storage/redis"
)

const (
	metricsNamespace = "billingrelay"

	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	zl := zerolog.New(os.Stderr).With().Timestamp().Str("service", "billing-relay").Logger()

	cfg, err := config.Load()
	if err != nil {
		zl.Fatal().Err(err).Msg("configuration error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		zl.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zl = zl.Level(level)
	logger := zerologadapter.NewLogger(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, metricsNamespace)

	store, closeStore, err := buildStore(ctx, cfg, zl)
	if err != nil {
		zl.Fatal().Err(err).Msg("snapshot store setup failed")
	}
	defer closeStore()

	var forwarder billing.Forwarder
	if cfg.ForwardingEnabled() {
		forwarder, err = forward.New(forward.Config{
			BaseURL: cfg.ForwardBaseURL,
			Secret:  cfg.ForwardSecret,
			Logger:  logger,
		})
		if err != nil {
			zl.Fatal().Err(err).Msg("forwarder setup failed")
		}
		zl.Info().Str("base_url", cfg.ForwardBaseURL).Msg("snapshot forwarding enabled")
	} else {
		zl.Info().Msg("snapshot forwarding disabled")
	}

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Store:     store,
			Forwarder: forwarder,
			Logger:    logger,
			Metrics:   metrics,
		},
		StripeAPIKey:        cfg.StripeSecretKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		AppBaseURL:          cfg.AppBaseURL,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("stripe provider setup failed")
	}

	handler, err := api.NewHandler(api.Config{
		Service:        provider,
		WebhookHandler: provider.WebhookHandler(),
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("api handler setup failed")
	}

	router := handler.Routes()
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		<-ctx.Done()
		zl.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zl.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	zl.Info().Str("addr", cfg.Addr()).Msg("billing relay listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal().Err(err).Msg("server failed")
	}
	zl.Info().Msg("stopped")
}

// buildStore selects the snapshot store: postgres when DATABASE_URL is set,
// otherwise redis when REDIS_URL is set, otherwise in-memory.
func buildStore(ctx context.Context, cfg *config.Config, zl zerolog.Logger) (billing.SnapshotStore, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		store, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		zl.Info().Msg("using postgres snapshot store")
		return store, store.Close, nil

	case cfg.RedisURL != "":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, err := redis.New(client, redis.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		zl.Info().Msg("using redis snapshot store")
		return store, func() { _ = client.Close() }, nil

	default:
		zl.Warn().Msg("using in-memory snapshot store, snapshots are lost on restart")
		return memory.New(), func() {}, nil
	}
}

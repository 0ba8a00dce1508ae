package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

var cli struct {
	Serve   serveCmd   `cmd:"" default:"1" help:"Run the dispatch API and websocket server."`
	Migrate migrateCmd `cmd:"" help:"Apply database migrations to PG_DSN and exit."`
	Token   tokenCmd   `cmd:"" help:"Print a signed bearer token for local testing."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("dispatch"),
		kong.Description("Ride matching and ride lifecycle server."),
	)
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	if err := kctx.Run(cfg, logger); err != nil {
		logger.Error("exiting", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}

type migrateCmd struct{}

func (migrateCmd) Run(cfg config.ServerConfig, logger *slog.Logger) error {
	if cfg.PGDSN == "" {
		return errors.New("PG_DSN is required")
	}
	ctx := context.Background()
	st, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	applied, err := storage.Migrate(ctx, st.DB())
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "files", applied)
	return nil
}

type tokenCmd struct {
	Subject string        `arg:"" help:"Actor id the token identifies."`
	Role    string        `arg:"" enum:"user,captain,rider,driver" help:"Actor type."`
	TTL     time.Duration `default:"24h" help:"Token lifetime."`
}

func (c tokenCmd) Run(cfg config.ServerConfig, logger *slog.Logger) error {
	typ, _ := models.ParseActorType(c.Role)
	tok, err := auth.NewVerifier(cfg.JWTSecret).Issue(auth.Identity{ActorID: c.Subject, ActorType: typ}, c.TTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

type serveCmd struct{}

func (serveCmd) Run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		finder   geo.Finder = &geo.Scanner{Drivers: store}
		locator  geo.Locator
		registry presence.Registry = presence.NewStore(store)
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rc.Close()
		rg := geo.NewRedisGeo(rc, cfg.RedisGeoKey, store)
		finder, locator = rg, rg
		registry = presence.NewRedis(rc, "presence")
		logger.Info("using redis for geo and presence", "addr", cfg.RedisAddr)
	}

	var (
		publisher dispatch.LocationPublisher
		events    matcher.EventPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventsTopic)
		defer producer.Close()
		publisher, events = producer, producer
		logger.Info("publishing to kafka", "brokers", cfg.KafkaBrokers, "locations", cfg.KafkaTopic, "events", cfg.KafkaEventsTopic)
	}

	mapsSvc := maps.NewService(
		maps.NewNominatimClient(cfg.NominatimURL, cfg.MapsUserAgent),
		maps.NewORSClient(cfg.ORSURL, cfg.ORSAPIKey),
		cfg.MapsCacheTTL,
	)
	rides := ride.NewService(store, mapsSvc, logger)

	hub := dispatch.NewHub(dispatch.Config{
		Presence:   registry,
		Rides:      rides,
		Drivers:    store,
		Geo:        locator,
		Publisher:  publisher,
		Logger:     logger,
		SendBuffer: cfg.WSSendBuffer,
	})
	defer hub.Close()

	m := &matcher.Service{
		Rides:    rides,
		Geo:      finder,
		Maps:     mapsSvc,
		Notifier: hub,
		Events:   events,
		RadiusKm: cfg.MatchRadiusKm,
		Logger:   logger,
	}

	var pay payments.Gateway
	if cfg.StripeAPIKey != "" {
		pay = payments.NewStripeClient(cfg.StripeAPIKey, cfg.PaymentCurrency, cfg.StripeSuccessURL, cfg.StripeCancelURL)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Matcher:  m,
		Rides:    rides,
		Maps:     mapsSvc,
		Geo:      finder,
		Actors:   store,
		Payments: pay,
		Hub:      hub,
		Auth:     auth.NewVerifier(cfg.JWTSecret),
		Ready:    store.Ping,
		RadiusKm: cfg.MatchRadiusKm,
		Logger:   logger,
	})

	if cfg.PendingRideTTL > 0 {
		go sweepPending(ctx, m, cfg.PendingRideTTL, cfg.RideSweepInterval, logger)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// openStore uses Postgres when PG_DSN is set and an in-memory store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set; rides and actors are kept in memory")
		return storage.NewMemoryStore(), nil
	}
	st, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		applied, err := storage.Migrate(ctx, st.DB())
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "files", applied)
	}
	return st, nil
}

func sweepPending(ctx context.Context, m *matcher.Service, ttl, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.Expire(ctx, ttl)
			if err != nil {
				logger.Error("pending ride sweep failed", "error", err)
			}
			if n > 0 {
				logger.Info("expired pending rides", "count", n, "ttl", ttl)
			}
		}
	}
}

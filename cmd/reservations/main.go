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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"motelbooking/internal/billing"
	billingapi "motelbooking/internal/billing/api"
	"motelbooking/internal/billing/gateway"
	billingstore "motelbooking/internal/billing/store"
	"motelbooking/internal/catalog"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/events"
	"motelbooking/internal/common/middleware"
	natsclient "motelbooking/internal/common/nats"
	"motelbooking/internal/invoicing"
	"motelbooking/internal/reservation"
	reservationapi "motelbooking/internal/reservation/api"
	reservationstore "motelbooking/internal/reservation/store"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"HTTP_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Storage is "memory" or "postgres"
	Storage     string   `envconfig:"STORAGE_DRIVER" default:"memory"`
	CatalogSeed string   `envconfig:"CATALOG_SEED_FILE"`
	TaxRateBps  int64    `envconfig:"TAX_RATE_BASIS_POINTS" default:"0"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RateLimit   float64  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateBurst   int      `envconfig:"RATE_LIMIT_BURST" default:"100"`

	Database database.Config
	Cache    catalog.CacheConfig
	NATS     natsclient.Config
	Gateway  gateway.Config
}

func main() {
	// .env is optional outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var health []func(context.Context) error

	// Storage
	var (
		cat          catalog.Catalog
		guests       catalog.GuestDirectory
		bookingStore reservationstore.Store
		invoiceStore billingstore.Store
	)
	switch cfg.Storage {
	case "postgres":
		if cfg.Database.Migrate {
			if err := database.Migrate(cfg.Database, logger); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
		}
		db, err := database.New(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()
		health = append(health, db.HealthCheck)

		pg := catalog.NewPostgres(db)
		cat, guests = pg, pg
		bookingStore = reservationstore.NewPostgres(db, cfg.Database.MaxAttempts, logger)
		invoiceStore = billingstore.NewPostgres(db, cfg.Database.MaxAttempts, logger)
	case "memory":
		var seed *catalog.Seed
		if cfg.CatalogSeed != "" {
			s, err := catalog.LoadSeedFile(cfg.CatalogSeed)
			if err != nil {
				return err
			}
			seed = s
		}
		mem := catalog.NewMemory(seed)
		cat, guests = mem, mem
		bookingStore = reservationstore.NewMemory()
		invoiceStore = billingstore.NewMemory()
	default:
		return fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	// Catalog cache
	if cfg.Cache.Enabled {
		rdb, err := catalog.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer rdb.Close()
		health = append(health, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		cat = catalog.NewCached(cat, catalog.NewRedisCache(rdb), cfg.Cache.TTL, logger)
		logger.Info("catalog cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
	}

	// Messaging
	var nc *natsclient.Client
	if cfg.NATS.Enabled {
		client, err := natsclient.New(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		health = append(health, func(context.Context) error { return client.HealthCheck() })
		nc = client
	}

	gw, err := newGateway(cfg.Gateway, nc, logger)
	if err != nil {
		return err
	}

	// Services. Without NATS, booking events reach invoicing in process.
	var publisher events.EventPublisher
	dispatcher := events.NewDispatcher(logger)
	if nc != nil {
		if err := nc.EnsureReservationStream(ctx); err != nil {
			return err
		}
		publisher = natsclient.NewPublisher(nc, logger)
	} else {
		publisher = dispatcher
	}

	billingService := billing.NewService(invoiceStore, gw, publisher, logger)
	reservationService := reservation.NewService(bookingStore, cat, guests, publisher, logger,
		reservation.WithTaxRate(cfg.TaxRateBps))
	invoicer := invoicing.NewHandler(billingService, cfg.TaxRateBps, logger)

	if nc != nil {
		subscriber, err := nc.Subscribe(ctx, natsclient.ConsumerInvoicing, natsclient.HandlerFor(invoicer), invoicer.EventTypes()...)
		if err != nil {
			return err
		}
		go func() {
			if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("invoicing subscriber stopped", "error", err)
				cancel()
			}
		}()
	} else {
		dispatcher.Register(invoicer)
	}

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(cfg.RateLimit, cfg.RateBurst), middleware.ClientIP, logger))
	r.Use(middleware.ActorExtractor)
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range health {
			if err := check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		reservationapi.NewHandler(reservationService, logger).Register(r)
		billingapi.NewHandler(billingService, logger).Register(r)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting reservations service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"storage", cfg.Storage,
			"gateway", gw.Name(),
			"nats", nc != nil,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newGateway(cfg gateway.Config, nc *natsclient.Client, logger *slog.Logger) (gateway.Gateway, error) {
	switch cfg.Provider {
	case "simulated":
		return gateway.NewSimulated(), nil
	case "stripe":
		return gateway.NewStripe(cfg.StripeSecretKey, logger)
	case "acquiring":
		if nc == nil {
			return nil, errors.New("the acquiring gateway requires NATS_ENABLED=true")
		}
		return gateway.NewAcquiring(nc.Conn(), cfg.AcquiringPrefix, cfg.MerchantID, logger), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/competition"
	"github.com/papertrade/ledger-engine/internal/config"
	"github.com/papertrade/ledger-engine/internal/events"
	"github.com/papertrade/ledger-engine/internal/httpapi"
	"github.com/papertrade/ledger-engine/internal/logger"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/money"
	"github.com/papertrade/ledger-engine/internal/pricefeed"
	"github.com/papertrade/ledger-engine/internal/store"
	"github.com/papertrade/ledger-engine/internal/trade"
)

const (
	quoteCacheSize      = 10_000
	metricsCountTimeout = 2 * time.Second
)

// demoPrices seed the static feed when no quote endpoint is configured.
var demoPrices = map[string]money.Money{
	"AAPL":    money.MustParse("189.84"),
	"MSFT":    money.MustParse("415.50"),
	"GOOGL":   money.MustParse("171.20"),
	"AMZN":    money.MustParse("183.15"),
	"BRK_B":   money.MustParse("410.25"),
	"SPY":     money.MustParse("520.10"),
	"BTC-USD": money.MustParse("64000.00"),
	"ETH-USD": money.MustParse("3100.00"),
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("ledger-engine failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Price feed ---
	feed, closeFeed, err := openFeed(cfg, log)
	if err != nil {
		return err
	}
	defer closeFeed()

	// --- Trade events ---
	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info("publishing trade events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	defer pub.Close()

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := trade.NewWSHub(st, cfg.CORSOrigins, log.Named("ws"))
	go hub.Run(hubCtx)

	// --- Services ---
	exec := trade.NewExecutor(trade.Deps{
		Competitions: st,
		Portfolios:   st,
		Feed:         feed,
		Publisher:    pub,
		Hub:          hub,
		Logger:       log.Named("trade"),
	}, trade.Config{
		QuoteTimeout:  cfg.QuoteTimeout,
		CommitTimeout: cfg.CommitTimeout,
		MaxAttempts:   cfg.MaxCommitAttempts,
	})
	tradeSvc := trade.NewService(exec, st, feed, log.Named("trade"))
	compSvc := competition.NewService(st, feed, log.Named("competition"))
	compHandler := competition.NewHandler(compSvc, log.Named("competition"))
	err = metrics.RegisterActiveCompetitions(prometheus.DefaultRegisterer, func() (int, error) {
		cctx, cancel := context.WithTimeout(context.Background(), metricsCountTimeout)
		defer cancel()
		return compSvc.ActiveCount(cctx)
	})
	if err != nil {
		return fmt.Errorf("register competition gauge: %w", err)
	}
	verifier := auth.NewVerifier(cfg.JWTSecret)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "ledger-engine",
			"currency": cfg.DefaultCurrency,
		})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(verifier.Middleware(httpapi.Unauthorized))

		// WebSocket upgrades must not run under the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			compHandler.Routes(r)
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ledger-engine listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("shutting down ledger-engine")
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// openStore picks Postgres when DATABASE_URL is set, else Pebble when
// PEBBLE_PATH is set, else memory. Redis caches competitions on top of any
// durable store.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	var st store.Store
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		st = pg
		log.Info("connected to PostgreSQL")

	case cfg.PebblePath != "":
		pb, err := store.NewPebbleStore(cfg.PebblePath)
		if err != nil {
			return nil, err
		}
		st = pb
		log.Info("opened Pebble store", zap.String("path", cfg.PebblePath))

	default:
		log.Warn("DATABASE_URL and PEBBLE_PATH not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		st = store.NewCachedStore(st, redis.NewClient(opt), cfg.RedisTTL, log.Named("cache"))
		log.Info("Redis competition cache enabled", zap.Duration("ttl", cfg.RedisTTL))
	}
	return st, nil
}

// openFeed returns the HTTP quote feed behind a ristretto cache, or the
// static demo table when QUOTE_URL is unset.
func openFeed(cfg config.Config, log *zap.Logger) (pricefeed.Feed, func(), error) {
	if cfg.QuoteURL == "" {
		log.Warn("QUOTE_URL not set, serving static demo prices")
		return pricefeed.NewStaticFeed(demoPrices), func() {}, nil
	}
	httpFeed := pricefeed.NewHTTPFeed(pricefeed.HTTPConfig{
		BaseURL:    cfg.QuoteURL,
		PricePath:  cfg.QuotePricePath,
		RatePerSec: cfg.QuoteRatePerSec,
		Timeout:    cfg.QuoteTimeout,
	}, &http.Client{Timeout: cfg.QuoteTimeout}, log.Named("pricefeed"))

	cached, err := pricefeed.NewCachedFeed(httpFeed, quoteCacheSize, cfg.QuoteCacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("quote cache: %w", err)
	}
	log.Info("quote feed enabled", zap.String("url", cfg.QuoteURL), zap.Duration("cache_ttl", cfg.QuoteCacheTTL))
	return cached, cached.Close, nil
}

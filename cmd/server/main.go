package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/api"
	"github.com/algotrendy/execution-engine/internal/broker"
	"github.com/algotrendy/execution-engine/internal/config"
	"github.com/algotrendy/execution-engine/internal/engine"
	"github.com/algotrendy/execution-engine/internal/events"
	"github.com/algotrendy/execution-engine/internal/idempotency"
	"github.com/algotrendy/execution-engine/internal/marketdata"
	"github.com/algotrendy/execution-engine/internal/position"
	"github.com/algotrendy/execution-engine/internal/repo"
	"github.com/algotrendy/execution-engine/internal/risk"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Order store ---
	var orders repo.OrderRepository
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		orders = repo.NewPostgresRepository(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		orders = repo.NewMemoryRepository()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price source, optionally backed by Redis ---
	local := marketdata.NewCache()
	var prices marketdata.Source = local
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		prices = marketdata.NewCachedSource(local, rdb, 30*time.Second)
		slog.Info("Redis price cache enabled")
	}

	// --- Venues ---
	paper, err := broker.NewPaperGateway(broker.PaperConfig{
		Name: "paper",
		InitialBalances: map[string]decimal.Decimal{
			cfg.AccountAsset: decimal.NewFromFloat(cfg.PaperInitialBalance),
		},
		Depth:             decimal.NewFromFloat(cfg.PaperDepth),
		ImpactRate:        decimal.NewFromFloat(cfg.PaperImpactRate),
		Latency:           time.Duration(cfg.PaperLatencyMs) * time.Millisecond,
		RequestsPerSecond: cfg.PaperRateLimit,
	})
	if err != nil {
		slog.Error("paper venue setup failed", "err", err)
		os.Exit(1)
	}
	registry := broker.NewRegistry()
	registry.Register(paper)

	// --- Event bus and WebSocket hub ---
	bus := events.NewBus()
	wsHub := api.NewWSHub(bus)
	go wsHub.Run(ctx)

	// --- Risk, idempotency, positions ---
	validator := risk.NewValidator(cfg.Risk)
	if !cfg.Risk.Enabled {
		slog.Warn("risk validation disabled, all orders pass size and exposure checks")
	}

	coordinator := idempotency.New(cfg.IdempotencyTTL)
	if cfg.IdempotencyTTL > 0 {
		go coordinator.Run(ctx, cfg.IdempotencyTTL/4)
	}

	tracker := position.NewTracker(bus)

	// --- Engine and reconciler ---
	eng := engine.New(
		engine.Config{
			AccountAsset:         cfg.AccountAsset,
			CancelTimeout:        cfg.CancelTimeout,
			ReconcileInterval:    cfg.ReconcileInterval,
			ReconcileTimeout:     cfg.ReconcileTimeout,
			ReconcileConcurrency: cfg.ReconcileConcurrency,
		},
		orders, registry, validator, coordinator, tracker, prices, bus,
	)
	go eng.Run(ctx)

	// --- HTTP server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewServer(eng, wsHub).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("execution-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down execution-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("execution-engine stopped")
}

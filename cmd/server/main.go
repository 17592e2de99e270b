package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stakewell/pool-engine/internal/authz"
	"github.com/stakewell/pool-engine/internal/config"
	"github.com/stakewell/pool-engine/internal/custody"
	"github.com/stakewell/pool-engine/internal/logger"
	"github.com/stakewell/pool-engine/internal/metrics"
	"github.com/stakewell/pool-engine/internal/pool"
	"github.com/stakewell/pool-engine/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		cleanup = append(cleanup, dbPool.Close)
		st = store.NewPostgresStore(dbPool)
		log.Info().Msg("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid REDIS_URL")
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			log.Info().Msg("Redis cache enabled")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Custody vault ---
	// In-memory vault; the reward treasury is seeded so liquidations can
	// fund reward injections. Production wires a real custodian here.
	vault := custody.NewMemoryVault()
	treasury, err := uint256.FromDecimal(cfg.RewardTreasuryBalance)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.RewardTreasuryBalance).Msg("invalid REWARD_TREASURY_BALANCE")
	}
	vault.Credit(custody.AssetReward, cfg.RewardSourceAccount, treasury)

	// --- Recover ledger state ---
	ctx := context.Background()
	rec, err := st.LoadAccumulator(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("accumulator recovery failed")
	}
	snaps, err := st.ListSnapshots(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("snapshot recovery failed")
	}
	ledger, err := pool.RestoreLedger(rec, snaps, vault, cfg.LossSinkAccount, cfg.RewardSourceAccount)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger restore failed")
	}
	if rec != nil {
		log.Info().
			Int("depositors", len(snaps)).
			Str("total_pooled", ledger.TotalPooled().Dec()).
			Msg("ledger state recovered")
	}

	// --- Liquidator allowlist ---
	registry := authz.NewRegistry(cfg.Liquidators)

	// --- WebSocket hub ---
	wsHub := pool.NewWSHub()
	go wsHub.Run()

	// --- Pool service ---
	poolSvc := pool.NewService(ledger, st, registry, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		poolSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("pool-engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info().Msg("shutting down pool-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	fmt.Println("pool-engine stopped")
}

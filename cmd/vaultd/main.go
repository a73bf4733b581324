package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/vault-engine/internal/config"
	"github.com/atmx/vault-engine/internal/engine"
	"github.com/atmx/vault-engine/internal/metrics"
	"github.com/atmx/vault-engine/internal/settlement"
	"github.com/atmx/vault-engine/internal/store"
	"github.com/atmx/vault-engine/internal/token"
)

func main() {
	configPath := flag.String("config", os.Getenv("VAULTD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	programID, _ := cfg.Vault.Program()
	ctx := context.Background()

	// --- Initialize store, custody and token programs ---
	// Vault records, custody positions and LP mints share one backend so
	// they survive restarts together. Delegated signers are only trusted
	// when derived under the configured program id.
	var (
		st        store.Store
		custodian settlement.Custodian
		tokens    token.Program
		cleanup   []func()
	)

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool, programID)
		pgCustody := settlement.NewPostgresCustodian(pool, programID)
		pgTokens := token.NewPostgresProgram(pool, programID)
		if cfg.Storage.Migrate {
			for _, m := range []interface{ EnsureSchema(context.Context) error }{pg, pgCustody, pgTokens} {
				if err := m.EnsureSchema(ctx); err != nil {
					slog.Error("schema migration failed", "err", err)
					os.Exit(1)
				}
			}
		}
		st, custodian, tokens = pg, pgCustody, pgTokens
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := cfg.Storage.RedisURL; redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL, programID)
			slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL.String())
		}
	} else {
		slog.Warn("no postgres_dsn configured, using in-memory state (data will not persist)")
		st = store.NewMemoryStore()
		custodian = settlement.NewMemoryCustodian(programID)
		tokens = token.NewMemoryProgram(programID)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if vaults, err := st.ListVaults(ctx); err == nil {
		metrics.ActiveVaults.Set(float64(len(vaults)))
	}

	// --- WebSocket hub ---
	wsHub := engine.NewWSHub()
	go wsHub.Run()

	// --- Vault service ---
	svc := engine.NewService(programID, st, custodian, tokens, wsHub)
	svc.SetDefaultCapacity(cfg.Vault.DefaultCapacity)
	svc.SetFaucetLimit(cfg.Settlement.FaucetLimit)
	if cfg.Settlement.FaucetLimit > 0 {
		slog.Warn("development faucet enabled", "limit", cfg.Settlement.FaucetLimit)
	}

	// Refuse to serve vaults whose funds or LP mints cannot be found.
	if err := svc.Reconcile(ctx); err != nil {
		slog.Error("vault records do not match custody state", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+engine.HeaderSigner+", "+engine.HeaderSignature)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vaultd","program_id":"` + programID.String() + `"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for committed vault events. Mounted outside the
		// timeout middleware so connections are not cut.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("vaultd listening", "port", cfg.Server.Port, "program_id", programID.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down vaultd...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	wsHub.Stop()
	fmt.Println("vaultd stopped")
}

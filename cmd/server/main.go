package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Simplici0/platecost/internal/config"
	"github.com/Simplici0/platecost/internal/db"
	"github.com/Simplici0/platecost/internal/logger"
	"github.com/Simplici0/platecost/internal/migrations"
	"github.com/Simplici0/platecost/internal/seed"
	"github.com/Simplici0/platecost/internal/service"
	"github.com/Simplici0/platecost/internal/snapshots"
	"github.com/Simplici0/platecost/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(database); err != nil {
			return fmt.Errorf("run database migrations: %w", err)
		}
		version, err := migrations.Version(database)
		if err != nil {
			return err
		}
		log.Info().Int64("version", version).Msg("Database schema up to date")
	}

	if cfg.IsDev() && cfg.SeedDemo {
		stats, err := seed.Run(database, seed.Config{Demo: true})
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		log.Info().Int("inserts", stats.Inserts).Msg("Seeded demo data")
	}

	history, closeHistory, err := newHistory(cfg, database, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	records := store.New(database)
	svc := service.New(records, history, service.Config{
		MaxDepth:    cfg.MaxRecipeDepth,
		Concurrency: cfg.BatchConcurrency,
	}, log)

	sched := newScheduler(log)
	if cfg.SnapshotCron != "" {
		if err := sched.addJob(cfg.SnapshotCron, "snapshot_all", func(ctx context.Context) error {
			_, err := svc.SnapshotAll(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule snapshot job: %w", err)
		}
	}
	sched.start()
	defer sched.stop()

	srv := newServer(svc, records, log)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(srv, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down HTTP server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// newHistory builds the cost history on the configured backend.
func newHistory(cfg config.Config, database *sql.DB, log zerolog.Logger) (*snapshots.Log, func(), error) {
	switch cfg.SnapshotBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Cost history on redis")
		l := snapshots.New(snapshots.NewRedisStore(rdb), log, snapshots.WithLocker(snapshots.NewRedisLocker(rdb)))
		return l, func() { rdb.Close() }, nil
	case config.BackendMemory:
		log.Warn().Msg("Cost history kept in memory; it is lost on restart")
		return snapshots.New(snapshots.NewMemoryStore(), log), func() {}, nil
	default:
		return snapshots.New(snapshots.NewSQLiteStore(database), log), func() {}, nil
	}
}

func newRouter(srv *server, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(srv.loggingMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", srv.handleHealth)

	r.Route("/recipes", func(r chi.Router) {
		r.Get("/costs", srv.handleRecipeCosts)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", srv.handleUpsertRecipe)
			r.Get("/cost", srv.handleRecipeCost)
			r.Put("/lines/{lineID}/yield", srv.handleLineYield)
			r.Put("/lines/{lineID}/gross", srv.handleLineGross)
			r.Get("/history", srv.handleHistory)
			r.Post("/history", srv.handleRecordSnapshot)
			r.Delete("/history", srv.handleClearHistory)
			r.Delete("/history/{pointID}", srv.handleRemovePoint)
		})
	})

	r.Route("/ingredients", func(r chi.Router) {
		r.Post("/recalculate", srv.handleRecalculateIngredients)
		r.Put("/{id}", srv.handleUpsertIngredient)
	})

	return r
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

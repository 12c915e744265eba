package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/aasha-care/aasha-relay/internal/api"
	"github.com/aasha-care/aasha-relay/internal/cache"
	"github.com/aasha-care/aasha-relay/internal/client"
	"github.com/aasha-care/aasha-relay/internal/config"
	"github.com/aasha-care/aasha-relay/internal/repo"
	"github.com/aasha-care/aasha-relay/internal/scheduler"
	"github.com/aasha-care/aasha-relay/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(newLogHandler(os.Stderr, cfg.LogLevel)))

	if err := run(cfg); err != nil {
		slog.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server gracefully stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	sendClient := client.NewWebhookClient(cfg.Webhook.SendURL)
	relay := service.NewRelay(store, store, store, sendClient)
	processor := service.NewProcessor(service.NewPoller(store, cfg.Scheduler.BatchSize), relay)

	if cfg.Redis.Enabled {
		rdb, err := cache.NewClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer closeRedis(rdb)

		relay.WithCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
		processor.WithLocker(cache.NewRedisLocker(rdb, cfg.Redis.LockTTL))
	}

	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := processor.Run(ctx)
		if errors.Is(err, service.ErrRunInProgress) {
			slog.Debug("skipping tick, queue run held elsewhere")
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	h := api.NewHandler(sched, api.Services{
		Queue:  processor,
		Sender: relay,
		Onboarding: service.NewRegistrar(
			client.NewWebhookClient(cfg.Webhook.InitiateCallURL),
			client.NewWebhookClient(cfg.Webhook.WelcomeURL),
		),
		Inbound: service.NewInbound(store, store, sendClient),
		Cleaner: service.NewCallCleaner(store),
		SentLog: store,
	})

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("aasha relay starting",
			"addr", cfg.Server.Address,
			"db_driver", cfg.Database.Driver,
			"interval", cfg.Scheduler.Interval.String(),
			"batch", cfg.Scheduler.BatchSize,
			"scheduler", cfg.Scheduler.Enabled,
			"redis", cfg.Redis.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	sched.Stop()
	return nil
}

func newLogHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

func openStore(ctx context.Context, db config.DatabaseConfig) (repo.Store, func(), error) {
	if db.Driver == config.DriverMemory {
		slog.Warn("using in-memory store, queue state is lost on restart")
		return repo.NewMemoryStore(), func() {}, nil
	}

	pool, err := repo.NewPool(ctx, db.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo.NewPostgresStore(pool), pool.Close, nil
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

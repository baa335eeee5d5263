package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/splax/timelogger/internal/app/migrate"
	httpx "github.com/splax/timelogger/internal/http"
	"github.com/splax/timelogger/internal/repository/postgres"
	"github.com/splax/timelogger/internal/scheduler"
	"github.com/splax/timelogger/internal/service/recorder"
	"github.com/splax/timelogger/internal/ws"
	"github.com/splax/timelogger/pkg/config"
	"github.com/splax/timelogger/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("timelogger", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	repo := postgres.New(pool)
	statusHub := ws.NewHub()

	recorderSvc := recorder.New(repo, statusHub, recorder.NewMetrics(registry), log, recorder.Config{
		MaxBufferSize:      cfg.MaxBufferSize,
		BatchSize:          cfg.BatchSize,
		SlowWriteThreshold: cfg.SlowWriteThreshold,
	})
	recorder.InstrumentService(registry, recorderSvc)

	sched := scheduler.New(recorderSvc, log, cfg.CaptureInterval, cfg.FlushInterval, cfg.ReconnectInterval)
	go sched.Run(ctx)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to in-memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, recorderSvc, limiter, registry, cfg.APISecret, cfg.JWTSecret, cfg.TokenTTL, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		// Drain whatever is still buffered before giving up the process.
		recorderSvc.Shutdown(shutdownCtx)
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

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

	"bencidata/internal/config"
	"bencidata/internal/infra"
	"bencidata/internal/metrics"
	"bencidata/internal/router"
	"bencidata/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if err := infra.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	rdb, err := infra.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	m := metrics.New()
	queueCB := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	dispatcher := worker.NewDispatcher(rdb, queueCB)
	svcs := router.NewServices(cfg, db, m, dispatcher)

	// Audit jobs enqueued by committed closes, consumed here (composition root).
	pool := worker.NewPool(rdb, m)
	pool.Handle(worker.JobSessionClosed, worker.NewAuditWorker(svcs.Audit).Process)

	// The sweep stops itself when ctx is cancelled.
	_, err = worker.StartAuditCron(ctx, worker.AuditCronConfig{
		Spec:   cfg.AuditCron,
		Audit:  svcs.Audit,
		RDB:    rdb,
		Window: cfg.MaxSessionAge(),
	})
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.AuditCron).Msg("invalid audit schedule")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(cfg, db, rdb, m, svcs, queueCB),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx, cfg.WorkerPoolSize)
	})
	g.Go(func() error {
		log.Info().Msgf("bencidata listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server exited")
}

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

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"expert-eval/internal/config"
	"expert-eval/internal/db"
	"expert-eval/internal/evaluation"
	httpSrv "expert-eval/internal/http"
	"expert-eval/internal/logging"
	"expert-eval/internal/metrics"
	"expert-eval/internal/migrations"
	"expert-eval/internal/store"
	"expert-eval/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Run embedded migrations (idempotent)
	if err := migrations.Run(cfg.DatabaseURL); err != nil {
		return err
	}
	dbase, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbase.Close()
	st := store.NewPostgres(dbase)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := evaluation.NewService(st, log, metrics.New(reg))
	svc.PoolSize = cfg.PoolSize

	if cfg.ArchiveEnabled() {
		asq := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer asq.Close()
		svc.Archiver = &worker.Enqueuer{Client: asq}
	} else {
		log.Info("classification archiving disabled")
	}

	srv := httpSrv.NewServer(cfg.HTTPAddr, svc, st, log, reg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

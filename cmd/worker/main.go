package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"expert-eval/internal/config"
	"expert-eval/internal/db"
	"expert-eval/internal/evaluation"
	"expert-eval/internal/logging"
	"expert-eval/internal/storage"
	"expert-eval/internal/store"
	"expert-eval/internal/worker"
)

const concurrency = 5

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
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if !cfg.ArchiveEnabled() {
		return errors.New("worker needs REDIS_ADDR and MINIO_BUCKET")
	}
	dbase, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbase.Close()

	s3c, err := storage.New(context.Background(), storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		Bucket:    cfg.MinioBucket,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
	}, log)
	if err != nil {
		return err
	}

	svc := evaluation.NewService(store.NewPostgres(dbase), log, nil)
	a := worker.NewArchiver(svc, s3c, cfg.ArchivePrefix, log)
	log.Info("worker starting", zap.String("redis", cfg.RedisAddr), zap.Int("concurrency", concurrency))
	return worker.Run(cfg.RedisAddr, a, concurrency)
}

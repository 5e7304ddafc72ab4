// Command loadpool upserts question pool items from a JSON file or an S3
// object.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"expert-eval/internal/config"
	"expert-eval/internal/db"
	"expert-eval/internal/logging"
	"expert-eval/internal/migrations"
	"expert-eval/internal/schemas"
	"expert-eval/internal/storage"
	"expert-eval/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		file  string
		ref   string
		batch int
	)
	cmd := &cobra.Command{
		Use:          "loadpool",
		Short:        "Load question pool items into the database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == (ref == "") {
				return errors.New("exactly one of --file or --s3 is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			items, err := fetch(ctx, cfg, log, file, ref)
			if err != nil {
				return err
			}
			if err := migrations.Run(cfg.DatabaseURL); err != nil {
				return err
			}
			dbase, err := db.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer dbase.Close()

			n, err := load(ctx, store.NewPostgres(dbase), items, batch)
			if err != nil {
				return err
			}
			log.Info("pool loaded", zap.Int("items", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON array of pool items")
	cmd.Flags().StringVar(&ref, "s3", "", "s3://bucket/key of a JSON array of pool items")
	cmd.Flags().IntVar(&batch, "batch", 100, "items per upsert transaction")
	return cmd
}

func fetch(ctx context.Context, cfg *config.Config, log *zap.Logger, file, ref string) ([]schemas.PoolItemIn, error) {
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return decodeItems(f)
	}
	s3c, err := storage.New(ctx, storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		Bucket:    cfg.MinioBucket,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
	}, log)
	if err != nil {
		return nil, err
	}
	var items []schemas.PoolItemIn
	if err := s3c.GetJSON(ctx, ref, &items); err != nil {
		return nil, err
	}
	return items, validate(items)
}

func decodeItems(r io.Reader) ([]schemas.PoolItemIn, error) {
	var items []schemas.PoolItemIn
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode pool items: %w", err)
	}
	return items, validate(items)
}

func validate(items []schemas.PoolItemIn) error {
	for i, it := range items {
		if it.QuestionID == "" {
			return fmt.Errorf("item %d: question_id is required", i)
		}
		if it.TargetEvaluations < 1 {
			return fmt.Errorf("item %d (%s): target_evaluations must be >= 1", i, it.QuestionID)
		}
	}
	return nil
}

func load(ctx context.Context, pool store.QuestionPool, items []schemas.PoolItemIn, batch int) (int, error) {
	if batch < 1 {
		batch = 1
	}
	n := 0
	for start := 0; start < len(items); start += batch {
		end := min(start+batch, len(items))
		chunk := make([]db.PoolItem, 0, end-start)
		for _, it := range items[start:end] {
			chunk = append(chunk, it.Item())
		}
		if err := pool.PutQuestions(ctx, chunk); err != nil {
			return n, fmt.Errorf("upsert items %d-%d: %w", start, end-1, err)
		}
		n += len(chunk)
	}
	return n, nil
}

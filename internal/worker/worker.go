// Package worker archives classification snapshots to object storage off the
// request path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"expert-eval/internal/db"
	"expert-eval/internal/evaluation"
)

const TypeArchiveClassification = "archive:classification"

type ArchivePayload struct {
	UserID string `json:"user_id"`
}

func NewArchiveTask(userID string) (*asynq.Task, error) {
	b, err := json.Marshal(ArchivePayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeArchiveClassification, b), nil
}

// Enqueuer schedules archive tasks on Redis.
type Enqueuer struct {
	Client *asynq.Client
}

func (e *Enqueuer) EnqueueArchive(ctx context.Context, userID string) error {
	task, err := NewArchiveTask(userID)
	if err != nil {
		return err
	}
	_, err = e.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.Timeout(time.Minute))
	return err
}

// Records is the slice of the evaluation service the archiver needs.
type Records interface {
	GetEvaluator(ctx context.Context, userID string) (*db.EvaluatorRecord, error)
	RecordArchive(ctx context.Context, userID, ref string) error
}

type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

type Snapshot struct {
	UserID             string                 `json:"user_id"`
	ArchivedAt         time.Time              `json:"archived_at"`
	ClassificationData *db.ClassificationData `json:"classification_data"`
}

type Archiver struct {
	Records Records
	Objects ObjectWriter
	Prefix  string
	Log     *zap.Logger
	Now     func() time.Time
}

func NewArchiver(rec Records, obj ObjectWriter, prefix string, log *zap.Logger) *Archiver {
	return &Archiver{
		Records: rec,
		Objects: obj,
		Prefix:  prefix,
		Log:     log.With(zap.String("component", "worker")),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveKey is <prefix>/<userId>/<timestamp>.json.
func ArchiveKey(prefix, userID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", prefix, userID, at.UTC().Format("20060102T150405.000Z"))
}

func (a *Archiver) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeArchiveClassification, a.handleArchive)
	return mux
}

func (a *Archiver) handleArchive(ctx context.Context, t *asynq.Task) error {
	var p ArchivePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.UserID == "" {
		return fmt.Errorf("bad archive payload %q: %w", t.Payload(), asynq.SkipRetry)
	}
	log := a.Log.With(zap.String("user_id", p.UserID))

	rec, err := a.Records.GetEvaluator(ctx, p.UserID)
	if errors.Is(err, evaluation.ErrNotFound) {
		log.Warn("evaluator gone, dropping archive task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if rec.ClassificationData == nil {
		log.Info("no classification data to archive")
		return nil
	}

	now := a.Now()
	ref, err := a.Objects.PutJSON(ctx, ArchiveKey(a.Prefix, p.UserID, now), Snapshot{
		UserID:             p.UserID,
		ArchivedAt:         now,
		ClassificationData: rec.ClassificationData,
	})
	if err != nil {
		return err
	}
	if err := a.Records.RecordArchive(ctx, p.UserID, ref); err != nil {
		return err
	}
	log.Info("classification archived", zap.String("ref", ref))
	return nil
}

func Run(redisAddr string, a *Archiver, concurrency int) error {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{Concurrency: concurrency})
	return srv.Run(a.Mux())
}

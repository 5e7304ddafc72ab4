// Package evaluation implements question allocation, the per-question status
// lifecycle and progress reporting for evaluator records.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"expert-eval/internal/db"
	"expert-eval/internal/metrics"
	"expert-eval/internal/store"
)

const DefaultPoolSize = 20

// Archiver schedules an asynchronous copy of an evaluator's classification
// snapshot.
type Archiver interface {
	EnqueueArchive(ctx context.Context, userID string) error
}

type Service struct {
	Store    store.Store
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Archiver Archiver
	PoolSize int
	Now      func() time.Time
	NewID    func() string
}

func NewService(st store.Store, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		Store:    st,
		Log:      log.With(zap.String("component", "evaluation")),
		Metrics:  m,
		PoolSize: DefaultPoolSize,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

func (s *Service) GetEvaluator(ctx context.Context, userID string) (*db.EvaluatorRecord, error) {
	if userID == "" {
		return nil, validationf("userId is required")
	}
	rec, err := s.Store.GetEvaluator(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundf("evaluator %s", userID)
	}
	if err != nil {
		return nil, s.storeErr("get_evaluator", store.TableEvaluators, userID, err)
	}
	return rec, nil
}

// loadAssigned fetches the record and checks questionID belongs to it.
func (s *Service) loadAssigned(ctx context.Context, userID, questionID string) (*db.EvaluatorRecord, error) {
	if questionID == "" {
		return nil, validationf("questionId is required")
	}
	rec, err := s.GetEvaluator(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := rec.Questions[questionID]; !ok {
		return nil, notFoundf("question %s is not assigned to evaluator %s", questionID, userID)
	}
	return rec, nil
}

// update stamps updated_at and applies u. store.ErrConditionFailed is
// returned unwrapped so callers can branch on it.
func (s *Service) update(ctx context.Context, op, userID string, u store.Update) error {
	u.Put(store.Field("updated_at"), s.Now())
	err := s.Store.UpdateEvaluator(ctx, userID, u)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConditionFailed):
		return store.ErrConditionFailed
	case errors.Is(err, store.ErrNotFound):
		return notFoundf("evaluator %s", userID)
	default:
		return s.storeErr(op, store.TableEvaluators, userID, err)
	}
}

func (s *Service) storeErr(op, table, key string, err error) error {
	s.Log.Error("store call failed",
		zap.String("op", op), zap.String("table", table), zap.String("key", key), zap.Error(err))
	s.Metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s %s/%s: %v", ErrStoreUnavailable, op, table, key, err)
}

// putStatus writes the authoritative status entry and mirrors it into the
// assignment snapshot.
func putStatus(u *store.Update, questionID string, st Status) {
	u.Put(store.Field("status", questionID), string(st))
	u.Put(store.Field("questions", questionID, "status"), string(st))
}

func (s *Service) countTransition(ev Event, st Status) {
	s.Metrics.Transitions.WithLabelValues(string(ev), string(st)).Inc()
}

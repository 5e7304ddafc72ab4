package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"expert-eval/internal/db"
	"expert-eval/internal/store"
)

type Profile struct {
	Name               string
	Profession         string
	Email              string
	Phone              string
	ClinicalExperience string
	AIExposure         string
}

func (p Profile) validate() error {
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(p.Profession) == "" {
		missing = append(missing, "profession")
	}
	if strings.TrimSpace(p.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return validationf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Allocation is the outcome of assigning a batch. Dropped lists selected
// questions whose usage counter could not be incremented.
type Allocation struct {
	UserID   string
	Assigned []string
	Dropped  []string
}

// Allocate assigns up to PoolSize under-evaluated questions to a new
// evaluator.
//
// Usage counters are incremented before the record is written and are not
// rolled back if the write fails, so counters can drift above the number of
// records. Selection is not re-checked after incrementing: two concurrent
// allocations may both take the last slot of a question and push
// times_answered past target_evaluations. target_evaluations is a quota, not
// a hard cap.
func (s *Service) Allocate(ctx context.Context, p Profile) (*Allocation, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	items, err := s.Store.ScanEligible(ctx)
	if err != nil {
		s.Metrics.Allocations.WithLabelValues("store_error").Inc()
		return nil, s.storeErr("scan_eligible", store.TablePool, "", err)
	}
	size := s.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	candidates := selectCandidates(items, size)
	if len(candidates) == 0 {
		s.Metrics.Allocations.WithLabelValues("empty_pool").Inc()
		return nil, notFoundf("no questions available")
	}

	assigned := make([]db.PoolItem, 0, len(candidates))
	var dropped []string
	for _, it := range candidates {
		if err := s.Store.IncrementUsage(ctx, it.QuestionID, 1); err != nil {
			s.Log.Warn("usage increment failed, dropping question",
				zap.String("question_id", it.QuestionID), zap.Error(err))
			s.Metrics.DroppedQuestions.Inc()
			dropped = append(dropped, it.QuestionID)
			continue
		}
		assigned = append(assigned, it)
	}
	if len(assigned) == 0 {
		s.Metrics.Allocations.WithLabelValues("none_assigned").Inc()
		return nil, fmt.Errorf("%w: no questions could be assigned", ErrInternal)
	}
	if len(dropped) > 0 {
		s.Log.Warn("partial allocation",
			zap.Int("requested", len(candidates)), zap.Int("assigned", len(assigned)))
	}

	rec := newRecord(s.NewID(), p, assigned, s.Now())
	if err := s.Store.PutEvaluator(ctx, rec); err != nil {
		s.Metrics.Allocations.WithLabelValues("store_error").Inc()
		return nil, s.storeErr("put_evaluator", store.TableEvaluators, rec.UserID, err)
	}

	ids := make([]string, len(assigned))
	for i, it := range assigned {
		ids[i] = it.QuestionID
	}
	s.Metrics.Allocations.WithLabelValues("ok").Inc()
	s.Metrics.AssignedQuestions.Add(float64(len(ids)))
	s.Log.Info("evaluator allocated",
		zap.String("user_id", rec.UserID), zap.Int("assigned", len(ids)), zap.Int("dropped", len(dropped)))
	return &Allocation{UserID: rec.UserID, Assigned: ids, Dropped: dropped}, nil
}

// selectCandidates keeps eligible items, de-duplicates by question id with
// the first occurrence winning, and truncates to n.
func selectCandidates(items []db.PoolItem, n int) []db.PoolItem {
	seen := make(map[string]bool, len(items))
	out := make([]db.PoolItem, 0, min(n, len(items)))
	for _, it := range items {
		if len(out) == n {
			break
		}
		if !it.Eligible() || seen[it.QuestionID] {
			continue
		}
		seen[it.QuestionID] = true
		out = append(out, it)
	}
	return out
}

// newRecord builds the initial document. Only questions, answers and ratings
// are populated; the other per-question maps appear on first write.
func newRecord(userID string, p Profile, items []db.PoolItem, now time.Time) *db.EvaluatorRecord {
	questions := make(map[string]db.AssignedQuestion, len(items))
	for i, it := range items {
		questions[it.QuestionID] = db.AssignedQuestion{
			QuestionText: it.QuestionText,
			LLMResponse:  it.LLMResponse,
			Status:       string(StatusAssigned),
			AssignedAt:   now,
			Position:     i,
		}
	}
	return &db.EvaluatorRecord{
		UserID:             userID,
		Name:               strings.TrimSpace(p.Name),
		Profession:         strings.TrimSpace(p.Profession),
		Email:              strings.TrimSpace(p.Email),
		Phone:              p.Phone,
		ClinicalExperience: p.ClinicalExperience,
		AIExposure:         p.AIExposure,
		Questions:          questions,
		Answers:            map[string]map[string]any{},
		Ratings:            map[string]float64{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

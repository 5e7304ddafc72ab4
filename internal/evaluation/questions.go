package evaluation

import (
	"context"

	"expert-eval/internal/db"
	"expert-eval/internal/rubric"
	"expert-eval/internal/store"
)

// QuestionView is an assigned question merged with its current pool
// metadata and the evaluator's work on it.
type QuestionView struct {
	QuestionID      string              `json:"question_id"`
	Position        int                 `json:"position"`
	QuestionText    string              `json:"question_text"`
	LLMResponse     string              `json:"llm_response"`
	Rubrics         []string            `json:"rubrics"`
	AxisRubricMap   map[string][]string `json:"axis_rubric_map"`
	Status          Status              `json:"status"`
	Answer          string              `json:"answer"`
	UnbiasedAnswer  *string             `json:"unbiased_answer,omitempty"`
	EditedAnswer    *string             `json:"edited_answer,omitempty"`
	SelectedRubrics []string            `json:"selected_rubrics"`
	Rating          *float64            `json:"rating,omitempty"`
	Feedback        string              `json:"feedback,omitempty"`
	Progress        QuestionProgress    `json:"progress"`
}

// AssignedQuestions returns the evaluator's questions in assignment order.
// A question missing from the pool falls back to its assignment snapshot.
func (s *Service) AssignedQuestions(ctx context.Context, userID string) ([]QuestionView, error) {
	rec, err := s.GetEvaluator(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := QuestionIDs(rec)
	pool, err := s.Store.GetQuestions(ctx, ids)
	if err != nil {
		return nil, s.storeErr("get_questions", store.TablePool, userID, err)
	}
	out := make([]QuestionView, 0, len(ids))
	for _, id := range ids {
		out = append(out, buildView(rec, id, pool[id]))
	}
	return out, nil
}

func buildView(rec *db.EvaluatorRecord, id string, item db.PoolItem) QuestionView {
	snap := rec.Questions[id]
	v := QuestionView{
		QuestionID:      id,
		Position:        snap.Position,
		QuestionText:    snap.QuestionText,
		LLMResponse:     snap.LLMResponse,
		Rubrics:         rubric.NormalizeRaw(item.Rubrics),
		AxisRubricMap:   rubric.NormalizeAxisMapRaw(item.AxisRubricMap),
		Status:          EffectiveStatus(rec, id),
		Answer:          EffectiveAnswer(rec, id),
		SelectedRubrics: EffectiveRubrics(rec, id),
		Feedback:        rec.AdditionalFeedback[id],
		Progress:        ProgressOf(rec, id),
	}
	if item.QuestionID != "" {
		v.QuestionText = item.QuestionText
		v.LLMResponse = item.LLMResponse
	}
	if a, ok := rec.UnbiasedAnswer[id]; ok {
		v.UnbiasedAnswer = &a
	}
	if a, ok := rec.EditedAnswer[id]; ok {
		v.EditedAnswer = &a
	}
	if r, ok := rec.Ratings[id]; ok {
		v.Rating = &r
	}
	return v
}

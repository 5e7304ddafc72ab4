package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"expert-eval/internal/db"
)

// EffectiveAnswer resolves the free-text answer for a question by priority
// edited_answer, unbiased_answer, legacy answers[qid].user_answer. Presence
// decides, so an explicitly empty edit wins over an earlier answer.
func EffectiveAnswer(rec *db.EvaluatorRecord, questionID string) string {
	if v, ok := rec.EditedAnswer[questionID]; ok {
		return v
	}
	if v, ok := rec.UnbiasedAnswer[questionID]; ok {
		return v
	}
	if legacy, ok := rec.Answers[questionID]; ok {
		if v, ok := legacy["user_answer"].(string); ok {
			return v
		}
	}
	return ""
}

// EffectiveRubrics resolves edited_rubrics then list_of_rubrics_picked. nil
// means the evaluator has not picked rubrics for the question.
func EffectiveRubrics(rec *db.EvaluatorRecord, questionID string) []string {
	if sel, ok := rec.EditedRubrics[questionID]; ok {
		return sel.Rubrics
	}
	if sel, ok := rec.ListOfRubricsPicked[questionID]; ok {
		return sel.Rubrics
	}
	return nil
}

// QuestionIDs returns the assigned question ids in assignment order.
func QuestionIDs(rec *db.EvaluatorRecord) []string {
	ids := make([]string, 0, len(rec.Questions))
	for id := range rec.Questions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := rec.Questions[ids[i]].Position, rec.Questions[ids[j]].Position
		if pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})
	return ids
}

type QuestionProgress struct {
	QuestionID         string `json:"question_id"`
	Status             Status `json:"status"`
	IsAssigned         bool   `json:"is_assigned"`
	IsAnswered         bool   `json:"is_answered"`
	HasUnbiasedAnswer  bool   `json:"has_unbiased_answer"`
	HasEditedAnswer    bool   `json:"has_edited_answer"`
	HasFeedback        bool   `json:"has_feedback"`
	HasSelectedRubrics bool   `json:"has_selected_rubrics"`
	HasEditedRubrics   bool   `json:"has_edited_rubrics"`
	CompletionPercent  int    `json:"completion_percentage"`
}

// ProgressOf derives the flags for one question. Text flags require a
// non-blank value; rubric flags require at least one label.
func ProgressOf(rec *db.EvaluatorRecord, questionID string) QuestionProgress {
	st := EffectiveStatus(rec, questionID)
	_, assigned := rec.Questions[questionID]
	p := QuestionProgress{
		QuestionID:         questionID,
		Status:             st,
		IsAssigned:         assigned,
		IsAnswered:         st.Answered(),
		HasUnbiasedAnswer:  nonBlank(rec.UnbiasedAnswer[questionID]),
		HasEditedAnswer:    nonBlank(rec.EditedAnswer[questionID]),
		HasFeedback:        nonBlank(rec.AdditionalFeedback[questionID]),
		HasSelectedRubrics: len(rec.ListOfRubricsPicked[questionID].Rubrics) > 0,
		HasEditedRubrics:   len(rec.EditedRubrics[questionID].Rubrics) > 0,
	}
	done := 0
	for _, f := range []bool{p.HasUnbiasedAnswer, p.HasSelectedRubrics, p.HasEditedAnswer, p.HasEditedRubrics, p.HasFeedback} {
		if f {
			done++
		}
	}
	p.CompletionPercent = int(math.Round(float64(done) / 5 * 100))
	return p
}

type Progress struct {
	UserID                  string             `json:"user_id"`
	TotalAssigned           int                `json:"total_assigned"`
	TotalAnswered           int                `json:"total_answered"`
	UnbiasedAnswers         int                `json:"unbiased_answers"`
	EditedAnswers           int                `json:"edited_answers"`
	Feedback                int                `json:"feedback"`
	SelectedRubrics         int                `json:"selected_rubrics"`
	EditedRubrics           int                `json:"edited_rubrics"`
	ClassificationCompleted int                `json:"classification_completed"`
	CompletionRate          string             `json:"completion_rate"`
	Questions               []QuestionProgress `json:"questions"`
}

// Summarize folds ProgressOf over every assigned question. CompletionRate is
// answered/assigned as a percentage with one decimal.
func Summarize(rec *db.EvaluatorRecord) Progress {
	out := Progress{UserID: rec.UserID, Questions: []QuestionProgress{}}
	for _, id := range QuestionIDs(rec) {
		p := ProgressOf(rec, id)
		out.Questions = append(out.Questions, p)
		out.TotalAssigned++
		if p.IsAnswered {
			out.TotalAnswered++
		}
		if p.HasUnbiasedAnswer {
			out.UnbiasedAnswers++
		}
		if p.HasEditedAnswer {
			out.EditedAnswers++
		}
		if p.HasFeedback {
			out.Feedback++
		}
		if p.HasSelectedRubrics {
			out.SelectedRubrics++
		}
		if p.HasEditedRubrics {
			out.EditedRubrics++
		}
		if p.Status == StatusClassificationCompleted {
			out.ClassificationCompleted++
		}
	}
	rate := 0.0
	if out.TotalAssigned > 0 {
		rate = float64(out.TotalAnswered) / float64(out.TotalAssigned) * 100
	}
	out.CompletionRate = fmt.Sprintf("%.1f", rate)
	return out
}

func (s *Service) Progress(ctx context.Context, userID string) (*Progress, error) {
	rec, err := s.GetEvaluator(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := Summarize(rec)
	return &p, nil
}

func nonBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}

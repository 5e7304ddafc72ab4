package evaluation

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"expert-eval/internal/db"
	"expert-eval/internal/rubric"
	"expert-eval/internal/store"
)

const (
	MinRating = 0
	MaxRating = 10
)

type AnswerInput struct {
	UserID     string
	QuestionID string
	Text       string
	IsEdit     bool
}

type AnswerResult struct {
	Status Status
	// Counted is true when this call incremented questions_answered.
	Counted bool
}

// SaveAnswer records the first-pass answer (IsEdit false) or a revision.
//
// The first-pass answer is write-once: the write is conditional on
// unbiased_answer[qid] being absent and increments questions_answered in the
// same statement, so repeated or concurrent saves count once. Edits
// overwrite edited_answer and never touch the counter or the status.
func (s *Service) SaveAnswer(ctx context.Context, in AnswerInput) (*AnswerResult, error) {
	rec, err := s.loadAssigned(ctx, in.UserID, in.QuestionID)
	if err != nil {
		return nil, err
	}
	cur := EffectiveStatus(rec, in.QuestionID)
	_, hasUnbiased := rec.UnbiasedAnswer[in.QuestionID]

	if in.IsEdit {
		if !hasUnbiased {
			if _, err := Next(cur, EventAnswerEdited); err != nil {
				return nil, err
			}
		}
		var u store.Update
		u.Put(store.Field("edited_answer", in.QuestionID), in.Text)
		if err := s.update(ctx, "save_edited_answer", in.UserID, u); err != nil {
			return nil, err
		}
		s.countTransition(EventAnswerEdited, cur)
		return &AnswerResult{Status: cur}, nil
	}

	next, _ := Next(cur, EventAnswerSaved)
	if hasUnbiased {
		if next == cur {
			return &AnswerResult{Status: cur}, nil
		}
		var u store.Update
		putStatus(&u, in.QuestionID, next)
		if err := s.update(ctx, "save_answer_status", in.UserID, u); err != nil {
			return nil, err
		}
		s.countTransition(EventAnswerSaved, next)
		return &AnswerResult{Status: next}, nil
	}

	u := store.Update{
		SetIfAbsent: []store.Assignment{{Path: store.Field("unbiased_answer", in.QuestionID), Value: in.Text}},
		Add:         []store.Increment{{Path: store.Field("questions_answered"), By: 1}},
		Conditions:  []store.Condition{{Path: store.Field("unbiased_answer", in.QuestionID), Absent: true}},
	}
	putStatus(&u, in.QuestionID, next)
	err = s.update(ctx, "save_answer", in.UserID, u)
	if errors.Is(err, store.ErrConditionFailed) {
		// Another save for this question landed first and was counted.
		s.Log.Info("unbiased answer already recorded",
			zap.String("user_id", in.UserID), zap.String("question_id", in.QuestionID))
		return &AnswerResult{Status: next}, nil
	}
	if err != nil {
		return nil, err
	}
	s.countTransition(EventAnswerSaved, next)
	return &AnswerResult{Status: next, Counted: true}, nil
}

func validRating(r float64) bool {
	return !math.IsNaN(r) && r >= MinRating && r <= MaxRating
}

// SaveRating stores the 0-10 rating for a question and moves it to
// submitted.
func (s *Service) SaveRating(ctx context.Context, userID, questionID string, rating *float64) (Status, error) {
	if userID == "" {
		return "", validationf("userId is required")
	}
	if rating == nil {
		return "", validationf("rating is required")
	}
	if !validRating(*rating) {
		return "", validationf("rating must be between %d and %d, got %v", MinRating, MaxRating, *rating)
	}
	rec, err := s.loadAssigned(ctx, userID, questionID)
	if err != nil {
		return "", err
	}
	next, _ := Next(EffectiveStatus(rec, questionID), EventRatingSaved)

	var u store.Update
	u.Put(store.Field("ratings", questionID), *rating)
	putStatus(&u, questionID, next)
	if err := s.update(ctx, "save_rating", userID, u); err != nil {
		return "", err
	}
	s.countTransition(EventRatingSaved, next)
	return next, nil
}

// SetStatus overwrites the status of a question. The value must be one of
// the status enum; no ordering is enforced.
func (s *Service) SetStatus(ctx context.Context, userID, questionID, status string) (Status, error) {
	if userID == "" {
		return "", validationf("userId is required")
	}
	st, err := ParseStatus(status)
	if err != nil {
		return "", err
	}
	if _, err := s.loadAssigned(ctx, userID, questionID); err != nil {
		return "", err
	}
	var u store.Update
	putStatus(&u, questionID, st)
	if err := s.update(ctx, "save_status", userID, u); err != nil {
		return "", err
	}
	s.countTransition(EventStatusSet, st)
	return st, nil
}

func (s *Service) SaveFeedback(ctx context.Context, userID, questionID, feedback string) error {
	if _, err := s.loadAssigned(ctx, userID, questionID); err != nil {
		return err
	}
	var u store.Update
	u.Put(store.Field("additional_feedback", questionID), feedback)
	return s.update(ctx, "save_feedback", userID, u)
}

type RubricInput struct {
	UserID      string
	QuestionID  string
	Rubrics     []string
	Categories  map[string][]string
	AxisResults map[string]string
	IsEdit      bool
}

// SaveRubrics records the rubric labels an evaluator marked for a question,
// into list_of_rubrics_picked or, for an edit, edited_rubrics.
func (s *Service) SaveRubrics(ctx context.Context, in RubricInput) (*db.RubricSelection, error) {
	for axis, result := range in.AxisResults {
		if result != "pass" && result != "fail" {
			return nil, validationf("axis %q: result must be pass or fail, got %q", axis, result)
		}
	}
	if _, err := s.loadAssigned(ctx, in.UserID, in.QuestionID); err != nil {
		return nil, err
	}
	sel := db.RubricSelection{
		Rubrics:     rubric.Normalize(in.Rubrics),
		Categories:  cleanCategories(in.Categories),
		AxisResults: in.AxisResults,
		CompletedAt: s.Now(),
	}
	field, op := "list_of_rubrics_picked", "save_rubrics"
	if in.IsEdit {
		field, op = "edited_rubrics", "save_edited_rubrics"
	}
	var u store.Update
	u.Put(store.Field(field, in.QuestionID), sel)
	if err := s.update(ctx, op, in.UserID, u); err != nil {
		return nil, err
	}
	return &sel, nil
}

type ClassificationInput struct {
	UserID            string
	SelectedQualities map[string][]string
	QualityCategories map[string]map[string][]string
	EditedQualities   map[string][]string
	Feedback          map[string]string
	AnswerEditHistory map[string][]db.AnswerEdit
	Answers           map[string]map[string]any
	Ratings           map[string]float64
}

type ClassificationResult struct {
	Questions   []string
	CompletedAt time.Time
}

// SaveClassification stores a rubric classification submission and marks
// every classified question classification_completed.
//
// classification_data is replaced as a whole, unlike every other write
// path, which merges per question. Two concurrent submissions for the same
// evaluator race and the last one wins. Per-question rubric selections only
// get their labels and timestamp rewritten.
func (s *Service) SaveClassification(ctx context.Context, in ClassificationInput) (*ClassificationResult, error) {
	if in.UserID == "" {
		return nil, validationf("userId is required")
	}
	if len(in.SelectedQualities) == 0 {
		return nil, validationf("selectedQualities is required")
	}
	for qid, r := range in.Ratings {
		if !validRating(r) {
			return nil, validationf("rating for %s must be between %d and %d, got %v", qid, MinRating, MaxRating, r)
		}
	}
	rec, err := s.GetEvaluator(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	for _, ids := range [][]string{
		keys(in.SelectedQualities), keys(in.QualityCategories), keys(in.EditedQualities),
		keys(in.Feedback), keys(in.AnswerEditHistory), keys(in.Answers), keys(in.Ratings),
	} {
		for _, qid := range ids {
			if _, ok := rec.Questions[qid]; !ok {
				return nil, notFoundf("question %s is not assigned to evaluator %s", qid, in.UserID)
			}
		}
	}

	now := s.Now()
	data := db.ClassificationData{
		SelectedQualities: make(map[string][]string, len(in.SelectedQualities)),
		QualityCategories: in.QualityCategories,
		EditedQualities:   in.EditedQualities,
		Feedback:          in.Feedback,
		AnswerEditHistory: in.AnswerEditHistory,
		CompletedAt:       now,
	}
	for qid, labels := range in.SelectedQualities {
		data.SelectedQualities[qid] = rubric.Normalize(labels)
	}

	var u store.Update
	u.Put(store.Field("classification_data"), data)
	questions := keys(in.SelectedQualities)
	for _, qid := range questions {
		putStatus(&u, qid, StatusClassificationCompleted)
		putSelection(&u, "list_of_rubrics_picked", qid, data.SelectedQualities[qid], in.QualityCategories[qid], now)
	}
	for qid, labels := range in.EditedQualities {
		putSelection(&u, "edited_rubrics", qid, rubric.Normalize(labels), nil, now)
	}
	for qid, text := range in.Feedback {
		u.Put(store.Field("additional_feedback", qid), text)
	}
	for qid, blob := range in.Answers {
		u.Put(store.Field("answers", qid), blob)
	}
	for qid, r := range in.Ratings {
		u.Put(store.Field("ratings", qid), r)
	}
	if err := s.update(ctx, "save_classification", in.UserID, u); err != nil {
		return nil, err
	}
	for range questions {
		s.countTransition(EventClassified, StatusClassificationCompleted)
	}

	if s.Archiver != nil {
		if err := s.Archiver.EnqueueArchive(ctx, in.UserID); err != nil {
			s.Log.Warn("classification archive enqueue failed", zap.String("user_id", in.UserID), zap.Error(err))
		}
	}
	return &ClassificationResult{Questions: questions, CompletedAt: now}, nil
}

// RecordArchive stores the object ref of an archived classification
// snapshot.
func (s *Service) RecordArchive(ctx context.Context, userID, ref string) error {
	if userID == "" || ref == "" {
		return validationf("userId and ref are required")
	}
	var u store.Update
	u.Put(store.Field("classification_archive_ref"), ref)
	return s.update(ctx, "record_archive", userID, u)
}

// putSelection writes the label leaves of a rubric selection so axis results
// and categories saved earlier survive. Categories are only written when
// given.
func putSelection(u *store.Update, field, questionID string, labels []string, categories map[string][]string, at time.Time) {
	u.Put(store.Field(field, questionID, "rubrics"), labels)
	u.Put(store.Field(field, questionID, "completed_at"), at)
	if len(categories) > 0 {
		u.Put(store.Field(field, questionID, "categories"), cleanCategories(categories))
	}
}

func cleanCategories(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for cat, labels := range in {
		out[cat] = rubric.Normalize(labels)
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

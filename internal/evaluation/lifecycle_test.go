package evaluation

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expert-eval/internal/db"
	"expert-eval/internal/store"
)

type fakeArchiver struct {
	users []string
	err   error
}

func (f *fakeArchiver) EnqueueArchive(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.err
}

// allocated returns a service with one evaluator holding q1..qn.
func allocated(t *testing.T, n int) (*Service, *store.Memory, string) {
	t.Helper()
	mem := store.NewMemory(poolItems(n, 5)...)
	svc := newTestService(t, mem)
	alloc, err := svc.Allocate(context.Background(), validProfile)
	require.NoError(t, err)
	return svc, mem, alloc.UserID
}

func record(t *testing.T, mem *store.Memory, userID string) *db.EvaluatorRecord {
	t.Helper()
	rec, err := mem.GetEvaluator(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func ptr(f float64) *float64 { return &f }

func TestSaveAnswerCountsOnce(t *testing.T) {
	svc, mem, uid := allocated(t, 3)
	ctx := context.Background()

	res, err := svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "first"})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, res.Status)
	assert.True(t, res.Counted)

	res, err = svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "second"})
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, res.Status)
	assert.False(t, res.Counted)

	rec := record(t, mem, uid)
	assert.Equal(t, 1, rec.QuestionsAnswered)
	assert.Equal(t, "first", rec.UnbiasedAnswer["q1"])
	assert.Equal(t, "answered", rec.Status["q1"])
	assert.Equal(t, "answered", rec.Questions["q1"].Status)
}

func TestSaveAnswerConcurrentConditionLoses(t *testing.T) {
	svc, mem, uid := allocated(t, 1)
	ctx := context.Background()

	// Simulate a save that landed between our read and our write.
	u := store.Update{
		SetIfAbsent: []store.Assignment{{Path: store.Field("unbiased_answer", "q1"), Value: "other"}},
		Add:         []store.Increment{{Path: store.Field("questions_answered"), By: 1}},
	}
	race := &racingStore{Memory: mem, before: func() { require.NoError(t, mem.UpdateEvaluator(ctx, uid, u)) }}
	svc.Store = race

	res, err := svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "mine"})
	require.NoError(t, err)
	assert.False(t, res.Counted)

	rec := record(t, mem, uid)
	assert.Equal(t, 1, rec.QuestionsAnswered)
	assert.Equal(t, "other", rec.UnbiasedAnswer["q1"])
}

// racingStore runs before once, ahead of the first update.
type racingStore struct {
	*store.Memory
	before func()
}

func (r *racingStore) UpdateEvaluator(ctx context.Context, userID string, u store.Update) error {
	if r.before != nil {
		r.before()
		r.before = nil
	}
	return r.Memory.UpdateEvaluator(ctx, userID, u)
}

func TestSaveAnswerEdit(t *testing.T) {
	svc, mem, uid := allocated(t, 2)
	ctx := context.Background()

	_, err := svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "draft", IsEdit: true})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "draft"})
	require.NoError(t, err)
	for _, text := range []string{"v2", "v3"} {
		res, err := svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: text, IsEdit: true})
		require.NoError(t, err)
		assert.Equal(t, StatusAnswered, res.Status)
		assert.False(t, res.Counted)
	}

	rec := record(t, mem, uid)
	assert.Equal(t, "draft", rec.UnbiasedAnswer["q1"])
	assert.Equal(t, "v3", rec.EditedAnswer["q1"])
	assert.Equal(t, 1, rec.QuestionsAnswered)
	assert.Equal(t, "v3", EffectiveAnswer(rec, "q1"))
}

func TestSaveAnswerDoesNotRegress(t *testing.T) {
	svc, mem, uid := allocated(t, 1)
	ctx := context.Background()

	_, err := svc.SaveRating(ctx, uid, "q1", ptr(4))
	require.NoError(t, err)
	res, err := svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "late"})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, res.Status)
	assert.True(t, res.Counted)
	assert.Equal(t, "submitted", record(t, mem, uid).Status["q1"])
}

func TestSaveAnswerUnknownTargets(t *testing.T) {
	svc, _, uid := allocated(t, 1)
	ctx := context.Background()

	_, err := svc.SaveAnswer(ctx, AnswerInput{UserID: "", QuestionID: "q1"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: ""})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SaveAnswer(ctx, AnswerInput{UserID: "ghost", QuestionID: "q1"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q99"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRating(t *testing.T) {
	svc, mem, uid := allocated(t, 2)
	ctx := context.Background()

	for _, bad := range []*float64{nil, ptr(-1), ptr(11), ptr(10.5), ptr(math.NaN())} {
		_, err := svc.SaveRating(ctx, uid, "q1", bad)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Empty(t, record(t, mem, uid).Ratings)

	_, err := svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "a"})
	require.NoError(t, err)
	st, err := svc.SaveRating(ctx, uid, "q1", ptr(5))
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, st)

	for _, edge := range []float64{0, 10} {
		_, err := svc.SaveRating(ctx, uid, "q2", ptr(edge))
		require.NoError(t, err)
	}

	rec := record(t, mem, uid)
	assert.Equal(t, 5.0, rec.Ratings["q1"])
	assert.Equal(t, 10.0, rec.Ratings["q2"])
	assert.Equal(t, "submitted", rec.Status["q1"])
	assert.Equal(t, testNow, rec.UpdatedAt)
}

func TestSetStatus(t *testing.T) {
	svc, mem, uid := allocated(t, 1)
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, uid, "q1", "finished")
	assert.ErrorIs(t, err, ErrValidation)

	st, err := svc.SetStatus(ctx, uid, "q1", "edited")
	require.NoError(t, err)
	assert.Equal(t, StatusEdited, st)
	assert.Equal(t, "edited", record(t, mem, uid).Status["q1"])

	_, err = svc.SetStatus(ctx, uid, "q1", "assigned")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, EffectiveStatus(record(t, mem, uid), "q1"))
}

func TestSaveFeedbackAndRubrics(t *testing.T) {
	svc, mem, uid := allocated(t, 1)
	ctx := context.Background()

	require.NoError(t, svc.SaveFeedback(ctx, uid, "q1", "the response missed dosing"))

	_, err := svc.SaveRubrics(ctx, RubricInput{UserID: uid, QuestionID: "q1", Rubrics: []string{"a"}, AxisResults: map[string]string{"Accuracy": "maybe"}})
	assert.ErrorIs(t, err, ErrValidation)

	sel, err := svc.SaveRubrics(ctx, RubricInput{
		UserID:      uid,
		QuestionID:  "q1",
		Rubrics:     []string{" cites guideline ", "", "no hallucination"},
		Categories:  map[string][]string{"Accuracy": {"no hallucination"}},
		AxisResults: map[string]string{"Accuracy": "pass", "Completeness": "fail"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cites guideline", "no hallucination"}, sel.Rubrics)

	_, err = svc.SaveRubrics(ctx, RubricInput{UserID: uid, QuestionID: "q1", Rubrics: []string{"cites guideline"}, IsEdit: true})
	require.NoError(t, err)

	rec := record(t, mem, uid)
	assert.Equal(t, "the response missed dosing", rec.AdditionalFeedback["q1"])
	assert.Equal(t, "pass", rec.ListOfRubricsPicked["q1"].AxisResults["Accuracy"])
	assert.Equal(t, testNow, rec.ListOfRubricsPicked["q1"].CompletedAt)
	assert.Equal(t, []string{"cites guideline"}, EffectiveRubrics(rec, "q1"))
	assert.Equal(t, StatusAssigned, EffectiveStatus(rec, "q1"))
}

func TestSaveClassification(t *testing.T) {
	svc, mem, uid := allocated(t, 3)
	arch := &fakeArchiver{}
	svc.Archiver = arch
	ctx := context.Background()

	res, err := svc.SaveClassification(ctx, ClassificationInput{
		UserID:            uid,
		SelectedQualities: map[string][]string{"q1": {"a", " b "}, "q2": {"c"}},
		QualityCategories: map[string]map[string][]string{"q1": {"Accuracy": {"a"}}},
		EditedQualities:   map[string][]string{"q2": {"c", "d"}},
		Feedback:          map[string]string{"q1": "good"},
		Answers:           map[string]map[string]any{"q3": {"user_answer": "legacy"}},
		Ratings:           map[string]float64{"q2": 8},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, res.Questions)
	assert.Equal(t, testNow, res.CompletedAt)
	assert.Equal(t, []string{uid}, arch.users)

	rec := record(t, mem, uid)
	require.NotNil(t, rec.ClassificationData)
	assert.Equal(t, testNow, rec.ClassificationData.CompletedAt)
	assert.Equal(t, []string{"a", "b"}, rec.ClassificationData.SelectedQualities["q1"])
	assert.Equal(t, "classification_completed", rec.Status["q1"])
	assert.Equal(t, "classification_completed", rec.Status["q2"])
	assert.Equal(t, StatusAssigned, EffectiveStatus(rec, "q3"))
	assert.Equal(t, []string{"a"}, rec.ListOfRubricsPicked["q1"].Categories["Accuracy"])
	assert.Equal(t, []string{"c", "d"}, EffectiveRubrics(rec, "q2"))
	assert.Equal(t, "good", rec.AdditionalFeedback["q1"])
	assert.Equal(t, 8.0, rec.Ratings["q2"])
	assert.Equal(t, "legacy", EffectiveAnswer(rec, "q3"))

	// A second submission replaces classification_data as a whole.
	_, err = svc.SaveClassification(ctx, ClassificationInput{
		UserID:            uid,
		SelectedQualities: map[string][]string{"q3": {"z"}},
	})
	require.NoError(t, err)
	rec = record(t, mem, uid)
	assert.Equal(t, map[string][]string{"q3": {"z"}}, rec.ClassificationData.SelectedQualities)
	assert.Nil(t, rec.ClassificationData.Feedback)
	assert.Equal(t, "classification_completed", rec.Status["q1"])
}

func TestSaveClassificationValidation(t *testing.T) {
	svc, mem, uid := allocated(t, 1)
	ctx := context.Background()

	cases := map[string]ClassificationInput{
		"no user":        {SelectedQualities: map[string][]string{"q1": {"a"}}},
		"no selection":   {UserID: uid},
		"bad rating":     {UserID: uid, SelectedQualities: map[string][]string{"q1": {"a"}}, Ratings: map[string]float64{"q1": 11}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SaveClassification(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	missing := map[string]ClassificationInput{
		"unknown evaluator": {UserID: "ghost", SelectedQualities: map[string][]string{"q1": {"a"}}},
		"foreign qid":       {UserID: uid, SelectedQualities: map[string][]string{"q9": {"a"}}},
		"foreign rating":    {UserID: uid, SelectedQualities: map[string][]string{"q1": {"a"}}, Ratings: map[string]float64{"q9": 1}},
		"foreign feedback":  {UserID: uid, SelectedQualities: map[string][]string{"q1": {"a"}}, Feedback: map[string]string{"q9": "x"}},
	}
	for name, in := range missing {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SaveClassification(ctx, in)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NotErrorIs(t, err, ErrValidation)
		})
	}
	assert.Nil(t, record(t, mem, uid).ClassificationData)
}

func TestSaveClassificationKeepsRubricDetail(t *testing.T) {
	svc, mem, uid := allocated(t, 2)
	ctx := context.Background()

	_, err := svc.SaveRubrics(ctx, RubricInput{
		UserID:      uid,
		QuestionID:  "q1",
		Rubrics:     []string{"a", "b"},
		Categories:  map[string][]string{"Accuracy": {"a"}},
		AxisResults: map[string]string{"Accuracy": "pass"},
	})
	require.NoError(t, err)
	_, err = svc.SaveRubrics(ctx, RubricInput{
		UserID:      uid,
		QuestionID:  "q1",
		Rubrics:     []string{"a"},
		AxisResults: map[string]string{"Completeness": "fail"},
		IsEdit:      true,
	})
	require.NoError(t, err)

	_, err = svc.SaveClassification(ctx, ClassificationInput{
		UserID:            uid,
		SelectedQualities: map[string][]string{"q1": {"a", "b", "c"}, "q2": {"d"}},
		EditedQualities:   map[string][]string{"q1": {"a", "c"}},
	})
	require.NoError(t, err)

	rec := record(t, mem, uid)
	picked := rec.ListOfRubricsPicked["q1"]
	assert.Equal(t, []string{"a", "b", "c"}, picked.Rubrics)
	assert.Equal(t, map[string]string{"Accuracy": "pass"}, picked.AxisResults)
	assert.Equal(t, map[string][]string{"Accuracy": {"a"}}, picked.Categories)
	assert.Equal(t, testNow, picked.CompletedAt)

	edited := rec.EditedRubrics["q1"]
	assert.Equal(t, []string{"a", "c"}, edited.Rubrics)
	assert.Equal(t, map[string]string{"Completeness": "fail"}, edited.AxisResults)

	assert.Equal(t, []string{"d"}, rec.ListOfRubricsPicked["q2"].Rubrics)
	assert.Empty(t, rec.ListOfRubricsPicked["q2"].AxisResults)
}

func TestSaveClassificationArchiveFailureIsNotFatal(t *testing.T) {
	svc, _, uid := allocated(t, 1)
	svc.Archiver = &fakeArchiver{err: assert.AnError}
	_, err := svc.SaveClassification(context.Background(), ClassificationInput{
		UserID:            uid,
		SelectedQualities: map[string][]string{"q1": {"a"}},
	})
	assert.NoError(t, err)
}

func TestRecordArchive(t *testing.T) {
	svc, mem, uid := allocated(t, 1)
	require.NoError(t, svc.RecordArchive(context.Background(), uid, "s3://bucket/classifications/x.json"))
	assert.Equal(t, "s3://bucket/classifications/x.json", record(t, mem, uid).ClassificationArchiveRef)
	assert.ErrorIs(t, svc.RecordArchive(context.Background(), uid, ""), ErrValidation)
	assert.ErrorIs(t, svc.RecordArchive(context.Background(), "ghost", "ref"), ErrNotFound)
}

func TestEndToEnd(t *testing.T) {
	mem := store.NewMemory(poolItems(5, 3)...)
	svc := newTestService(t, mem)
	ctx := context.Background()

	alloc, err := svc.Allocate(ctx, validProfile)
	require.NoError(t, err)
	require.Len(t, alloc.Assigned, 5)
	uid := alloc.UserID

	_, err = svc.SaveAnswer(ctx, AnswerInput{UserID: uid, QuestionID: "q1", Text: "expert answer"})
	require.NoError(t, err)
	rec := record(t, mem, uid)
	assert.Equal(t, StatusAnswered, EffectiveStatus(rec, "q1"))
	assert.Equal(t, 1, rec.QuestionsAnswered)

	st, err := svc.SaveRating(ctx, uid, "q1", ptr(7))
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, st)

	labels := []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8"}
	_, err = svc.SaveClassification(ctx, ClassificationInput{
		UserID:            uid,
		SelectedQualities: map[string][]string{"q1": labels},
	})
	require.NoError(t, err)

	rec = record(t, mem, uid)
	assert.Equal(t, StatusClassificationCompleted, EffectiveStatus(rec, "q1"))
	require.NotNil(t, rec.ClassificationData)
	assert.False(t, rec.ClassificationData.CompletedAt.IsZero())

	p, err := svc.Progress(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 5, p.TotalAssigned)
	assert.Equal(t, 1, p.TotalAnswered)
	assert.Equal(t, "20.0", p.CompletionRate)
	assert.Equal(t, 40, p.Questions[0].CompletionPercent)
}

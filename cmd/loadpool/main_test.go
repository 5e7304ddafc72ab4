package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expert-eval/internal/rubric"
	"expert-eval/internal/store"
)

const poolFile = `[
  {"question_id": "q1", "question_text": "Dose?", "llm_response": "5mg", "target_evaluations": 3,
   "rubrics": "[\"cites guideline\"]", "axis_rubric_map": {"Accuracy": ["cites guideline"]}},
  {"question_id": "q2", "question_text": "Risk?", "llm_response": "low", "target_evaluations": 2,
   "rubrics": [{"S": "mentions contraindications"}]},
  {"question_id": "q3", "question_text": "Plan?", "llm_response": "rest", "target_evaluations": 1}
]`

func TestDecodeAndLoad(t *testing.T) {
	items, err := decodeItems(strings.NewReader(poolFile))
	require.NoError(t, err)
	require.Len(t, items, 3)

	mem := store.NewMemory()
	n, err := load(context.Background(), mem, items, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pool := mem.Pool()
	require.Len(t, pool, 3)
	assert.Equal(t, []string{"cites guideline"}, rubric.NormalizeRaw(pool[0].Rubrics))
	assert.Equal(t, []string{"cites guideline"}, rubric.NormalizeAxisMapRaw(pool[0].AxisRubricMap)["Accuracy"])
	assert.Equal(t, []string{"mentions contraindications"}, rubric.NormalizeRaw(pool[1].Rubrics))
	assert.Empty(t, pool[2].Rubrics)
}

func TestReloadKeepsUsage(t *testing.T) {
	items, err := decodeItems(strings.NewReader(poolFile))
	require.NoError(t, err)
	mem := store.NewMemory()
	ctx := context.Background()
	_, err = load(ctx, mem, items, 100)
	require.NoError(t, err)
	require.NoError(t, mem.IncrementUsage(ctx, "q1", 2))

	_, err = load(ctx, mem, items, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Pool()[0].TimesAnswered)
}

func TestDecodeRejectsBadItems(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `{`,
		"no id":      `[{"target_evaluations": 1}]`,
		"no target":  `[{"question_id": "q1"}]`,
		"not a list": `{"question_id": "q1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeItems(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestRootRequiresOneSource(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	assert.ErrorContains(t, cmd.Execute(), "exactly one of")

	cmd = newRootCmd()
	cmd.SetArgs([]string{"--file", "a.json", "--s3", "s3://b/k"})
	assert.ErrorContains(t, cmd.Execute(), "exactly one of")
}

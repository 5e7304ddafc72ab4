package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"expert-eval/internal/db"
	"expert-eval/internal/evaluation"
	httpSrv "expert-eval/internal/http"
	"expert-eval/internal/store"
)

func TestSmokeAgainstMemoryServer(t *testing.T) {
	mem := store.NewMemory(
		db.PoolItem{QuestionID: "q1", QuestionText: "one", TargetEvaluations: 2},
		db.PoolItem{QuestionID: "q2", QuestionText: "two", TargetEvaluations: 2},
	)
	log := zaptest.NewLogger(t)
	s := &httpSrv.Server{Svc: evaluation.NewService(mem, log, nil), Health: mem, Log: log}
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	var out bytes.Buffer
	c := &client{http: ts.Client(), base: ts.URL, out: &out}
	require.NoError(t, c.run(context.Background()))
	assert.Contains(t, out.String(), "Smoke run OK")
	assert.Contains(t, out.String(), "rate=50.0")
}

func TestSmokeReportsAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := &client{http: ts.Client(), base: ts.URL, out: &bytes.Buffer{}}
	err := c.run(context.Background())
	assert.ErrorContains(t, err, "allocate")
	assert.ErrorContains(t, err, "500")
}

// Command smoke drives one evaluator through the full flow against a running
// API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"expert-eval/internal/schemas"
)

type questionsResp struct {
	Questions []struct {
		QuestionID string `json:"question_id"`
		Status     string `json:"status"`
	} `json:"questions"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		base    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:          "smoke",
		Short:        "Allocate, answer, rate and classify one question end to end",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := &client{http: &http.Client{Timeout: timeout}, base: base, out: cmd.OutOrStdout()}
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&base, "base", envOr("API_BASE_URL", "http://localhost:8000"), "API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 12*time.Second, "per-request timeout")
	return cmd
}

type client struct {
	http *http.Client
	base string
	out  io.Writer
}

func (c *client) run(ctx context.Context) error {
	// 1) Allocate
	var alloc schemas.AllocateResponse
	if err := c.post(ctx, "/evaluators", schemas.AllocateRequest{
		Name:       "Smoke Tester",
		Profession: "Physician",
		Email:      "smoke@example.com",
	}, &alloc); err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	fmt.Fprintf(c.out, "✅ Allocated evaluator %s with %d questions\n", alloc.UserID, alloc.AssignedQuestionCount)

	var qs questionsResp
	if err := c.get(ctx, "/evaluators/"+alloc.UserID+"/questions", &qs); err != nil {
		return fmt.Errorf("questions: %w", err)
	}
	if len(qs.Questions) == 0 {
		return fmt.Errorf("no questions assigned")
	}
	qid := qs.Questions[0].QuestionID

	// 2) Answer
	var ans schemas.AnswerResponse
	if err := c.post(ctx, "/answers", schemas.AnswerRequest{UserID: alloc.UserID, QuestionID: qid, AnswerText: "smoke answer"}, &ans); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	fmt.Fprintf(c.out, "✅ Answered %s -> %s\n", qid, ans.Status)

	// 3) Rate
	rating := 7.0
	var st schemas.StatusResponse
	if err := c.post(ctx, "/ratings", schemas.RatingRequest{UserID: alloc.UserID, QuestionID: qid, Rating: &rating}, &st); err != nil {
		return fmt.Errorf("rating: %w", err)
	}
	fmt.Fprintf(c.out, "✅ Rated %s -> %s\n", qid, st.Status)

	// 4) Classify
	var cls schemas.ClassificationResponse
	if err := c.post(ctx, "/classifications", schemas.ClassificationRequest{
		UserID:            alloc.UserID,
		SelectedQualities: map[string][]string{qid: {"accurate", "complete", "safe"}},
		Feedback:          map[string]string{qid: "smoke feedback"},
	}, &cls); err != nil {
		return fmt.Errorf("classification: %w", err)
	}
	fmt.Fprintf(c.out, "✅ Classified %v at %s\n", cls.Questions, cls.CompletedAt.Format(time.RFC3339))

	// 5) Progress
	var p map[string]any
	if err := c.get(ctx, "/evaluators/"+alloc.UserID+"/progress", &p); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	fmt.Fprintf(c.out, "✅ Progress: answered=%v/%v rate=%v\n", p["total_answered"], p["total_assigned"], p["completion_rate"])
	fmt.Fprintf(c.out, "🎉 Smoke run OK. userId=%s\n", alloc.UserID)
	return nil
}

// --- helpers ---

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s %s -> %d: %s", req.Method, req.URL.Path, res.StatusCode, string(b))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

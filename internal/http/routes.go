package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"expert-eval/internal/evaluation"
	"expert-eval/internal/schemas"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Svc      *evaluation.Service
	Health   Pinger
	Log      *zap.Logger
	Gatherer prometheus.Gatherer
}

// NewServer builds the API server. A nil gatherer leaves /metrics unmounted.
func NewServer(addr string, svc *evaluation.Service, health Pinger, log *zap.Logger, g prometheus.Gatherer) *http.Server {
	s := &Server{Svc: svc, Health: health, Log: log.With(zap.String("component", "http")), Gatherer: g}
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, RequestLogger(s.Log, s.Svc.Metrics), m.Recoverer)

	r.Post("/evaluators", s.allocate)
	r.Get("/evaluators/{userId}", s.getEvaluator)
	r.Get("/evaluators/{userId}/questions", s.assignedQuestions)
	r.Get("/evaluators/{userId}/progress", s.progress)
	r.Post("/answers", s.saveAnswer)
	r.Post("/ratings", s.saveRating)
	r.Post("/status", s.setStatus)
	r.Post("/rubrics", s.saveRubrics)
	r.Post("/feedback", s.saveFeedback)
	r.Post("/classifications", s.saveClassification)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Health.Ping(r.Context()); err != nil {
			s.Log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "db error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, evaluation.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, evaluation.ErrNotFound):
		code = http.StatusNotFound
	default:
		s.Log.Error("request failed",
			zap.String("path", r.URL.Path), zap.String("request_id", m.GetReqID(r.Context())), zap.Error(err))
	}
	writeJSON(w, code, errResp{err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{"invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) allocate(w http.ResponseWriter, r *http.Request) {
	var req schemas.AllocateRequest
	if !decode(w, r, &req) {
		return
	}
	alloc, err := s.Svc.Allocate(r.Context(), evaluation.Profile{
		Name:               req.Name,
		Profession:         req.Profession,
		Email:              req.Email,
		Phone:              req.Phone,
		ClinicalExperience: req.ClinicalExperience,
		AIExposure:         req.AIExposure,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.AllocateResponse{
		UserID:                alloc.UserID,
		AssignedQuestionCount: len(alloc.Assigned),
		Dropped:               alloc.Dropped,
	})
}

func (s *Server) getEvaluator(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Svc.GetEvaluator(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) assignedQuestions(w http.ResponseWriter, r *http.Request) {
	views, err := s.Svc.AssignedQuestions(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": views})
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	p, err := s.Svc.Progress(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) saveAnswer(w http.ResponseWriter, r *http.Request) {
	var req schemas.AnswerRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Svc.SaveAnswer(r.Context(), evaluation.AnswerInput{
		UserID:     req.UserID,
		QuestionID: req.QuestionID,
		Text:       req.AnswerText,
		IsEdit:     req.IsEdit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.AnswerResponse{Status: string(res.Status), Counted: res.Counted})
}

func (s *Server) saveRating(w http.ResponseWriter, r *http.Request) {
	var req schemas.RatingRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := s.Svc.SaveRating(r.Context(), req.UserID, req.QuestionID, req.Value())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.StatusResponse{Status: string(st)})
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req schemas.StatusRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := s.Svc.SetStatus(r.Context(), req.UserID, req.QuestionID, req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.StatusResponse{Status: string(st)})
}

func (s *Server) saveRubrics(w http.ResponseWriter, r *http.Request) {
	var req schemas.RubricsRequest
	if !decode(w, r, &req) {
		return
	}
	sel, err := s.Svc.SaveRubrics(r.Context(), evaluation.RubricInput{
		UserID:      req.UserID,
		QuestionID:  req.QuestionID,
		Rubrics:     req.Rubrics,
		Categories:  req.Categories,
		AxisResults: req.AxisResults,
		IsEdit:      req.IsEdit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) saveFeedback(w http.ResponseWriter, r *http.Request) {
	var req schemas.FeedbackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Svc.SaveFeedback(r.Context(), req.UserID, req.QuestionID, req.Feedback); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) saveClassification(w http.ResponseWriter, r *http.Request) {
	var req schemas.ClassificationRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Svc.SaveClassification(r.Context(), evaluation.ClassificationInput{
		UserID:            req.UserID,
		SelectedQualities: req.SelectedQualities,
		QualityCategories: req.QualityCategories,
		EditedQualities:   req.EditedQualities,
		Feedback:          req.Feedback,
		AnswerEditHistory: req.AnswerEditHistory,
		Answers:           req.Answers,
		Ratings:           req.Ratings,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.ClassificationResponse{Questions: res.Questions, CompletedAt: res.CompletedAt})
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. Use New with a registry per process
// (or per test) to avoid duplicate registration.
type Metrics struct {
	Allocations       *prometheus.CounterVec
	AssignedQuestions prometheus.Counter
	DroppedQuestions  prometheus.Counter
	Transitions       *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
	Requests          *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluator_allocations_total",
			Help: "Evaluator allocations by outcome.",
		}, []string{"outcome"}),
		AssignedQuestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocated_questions_total",
			Help: "Questions assigned to evaluators.",
		}),
		DroppedQuestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocation_dropped_questions_total",
			Help: "Selected questions dropped because their usage counter could not be incremented.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "question_status_transitions_total",
			Help: "Question status writes by event and resulting status.",
		}, []string{"event", "status"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Failed store calls by operation.",
		}, []string{"op"}),
		Requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route, method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Allocations, m.AssignedQuestions, m.DroppedQuestions, m.Transitions, m.StoreErrors, m.Requests)
	}
	return m
}

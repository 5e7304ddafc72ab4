// Package store persists the question pool and evaluator records.
//
// Evaluator records are documents. Mutations are expressed as an Update: a
// set of field-path writes applied atomically in one statement, so writers
// touching different question ids of the same record never clobber each
// other.
package store

import (
	"context"
	"errors"

	"expert-eval/internal/db"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrConditionFailed = errors.New("store: condition failed")
	ErrEmptyUpdate     = errors.New("store: update writes nothing")
)

const (
	TablePool       = "question_pool"
	TableEvaluators = "evaluators"
)

type QuestionPool interface {
	// ScanEligible returns items with times_answered < target_evaluations in
	// load order.
	ScanEligible(ctx context.Context) ([]db.PoolItem, error)
	// IncrementUsage adds n to times_answered, treating an absent counter as 0.
	IncrementUsage(ctx context.Context, questionID string, n int) error
	GetQuestions(ctx context.Context, ids []string) (map[string]db.PoolItem, error)
	// PutQuestions upserts items without touching existing usage counters.
	PutQuestions(ctx context.Context, items []db.PoolItem) error
}

type Evaluators interface {
	PutEvaluator(ctx context.Context, rec *db.EvaluatorRecord) error
	GetEvaluator(ctx context.Context, userID string) (*db.EvaluatorRecord, error)
	UpdateEvaluator(ctx context.Context, userID string, u Update) error
}

type Store interface {
	QuestionPool
	Evaluators
	Ping(ctx context.Context) error
}

// Path addresses a field inside a document, e.g. Path{"status", "q1"}.
type Path []string

func Field(name string, keys ...string) Path {
	return append(Path{name}, keys...)
}

type Assignment struct {
	Path  Path
	Value any
}

type Increment struct {
	Path Path
	By   int
}

// Condition must hold for an Update to apply. With Absent set, the path
// must not exist; otherwise the string value at the path must equal one of
// Equals.
type Condition struct {
	Path   Path
	Absent bool
	Equals []string
}

// Update is applied as one atomic operation. Set overwrites, SetIfAbsent
// writes only when the path does not exist yet, Add increments a number
// (absent counts as 0). Missing intermediate maps are created. If any
// condition fails nothing is written and ErrConditionFailed is returned. An
// Update with no writes is rejected with ErrEmptyUpdate.
type Update struct {
	Set         []Assignment
	SetIfAbsent []Assignment
	Add         []Increment
	Conditions  []Condition
}

// Put appends an overwrite of p.
func (u *Update) Put(p Path, value any) {
	u.Set = append(u.Set, Assignment{Path: p, Value: value})
}

// Empty reports whether u writes nothing. Conditions alone do not count.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.SetIfAbsent) == 0 && len(u.Add) == 0
}

package evaluation

import (
	"expert-eval/internal/db"
)

// Status is the lifecycle state of one (evaluator, question) pair.
type Status string

const (
	StatusAssigned                Status = "assigned"
	StatusAnswered                Status = "answered"
	StatusEdited                  Status = "edited"
	StatusSubmitted               Status = "submitted"
	StatusClassificationCompleted Status = "classification_completed"
)

// Event is something an evaluator did to a question.
type Event string

const (
	EventAnswerSaved  Event = "answer_saved"
	EventAnswerEdited Event = "answer_edited"
	EventRatingSaved  Event = "rating_saved"
	EventClassified   Event = "classified"
	EventStatusSet    Event = "status_set"
)

// ParseStatus accepts only the fixed status enum.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusAssigned, StatusAnswered, StatusEdited, StatusSubmitted, StatusClassificationCompleted:
		return st, nil
	}
	return "", validationf("invalid status %q", s)
}

// rank orders states for forward-only progress. edited sits at the answered
// stage.
func (s Status) rank() int {
	switch s {
	case StatusAnswered, StatusEdited:
		return 1
	case StatusSubmitted:
		return 2
	case StatusClassificationCompleted:
		return 3
	default:
		return 0
	}
}

// Answered reports whether the status counts as answered for progress.
func (s Status) Answered() bool {
	switch s {
	case StatusAnswered, StatusSubmitted, StatusClassificationCompleted:
		return true
	}
	return false
}

// EffectiveStatus reads the status map with the default applied: a question
// present in questions but absent from status is assigned. Unknown stored
// values also read as assigned.
func EffectiveStatus(rec *db.EvaluatorRecord, questionID string) Status {
	if s, ok := rec.Status[questionID]; ok {
		if st, err := ParseStatus(s); err == nil {
			return st
		}
	}
	return StatusAssigned
}

// Next returns the status after ev. States only move forward; an event that
// would move backwards leaves the current state in place. EventStatusSet is
// handled by the caller as a direct overwrite.
func Next(cur Status, ev Event) (Status, error) {
	switch ev {
	case EventAnswerSaved:
		return forward(cur, StatusAnswered), nil
	case EventAnswerEdited:
		if cur.rank() < StatusAnswered.rank() {
			return "", validationf("question has no saved answer to edit")
		}
		return cur, nil
	case EventRatingSaved:
		return forward(cur, StatusSubmitted), nil
	case EventClassified:
		return StatusClassificationCompleted, nil
	}
	return "", validationf("unknown event %q", ev)
}

func forward(cur, target Status) Status {
	if cur.rank() >= target.rank() {
		return cur
	}
	return target
}

package db

import "time"

// PoolItem is one question/response pair in the question pool. Rubrics and
// AxisRubricMap hold raw stored JSON in whatever historical shape it was
// loaded with; read them through the rubric package.
type PoolItem struct {
	QuestionID        string `db:"question_id"`
	QuestionText      string `db:"question_text"`
	LLMResponse       string `db:"llm_response"`
	TimesAnswered     int    `db:"times_answered"`
	TargetEvaluations int    `db:"target_evaluations"`
	Rubrics           []byte `db:"rubrics"`
	AxisRubricMap     []byte `db:"axis_rubric_map"`
}

// Eligible reports whether the item can still be handed out.
func (p PoolItem) Eligible() bool {
	return p.TimesAnswered < p.TargetEvaluations
}

// EvaluatorRecord is the per-evaluator document. It is stored as a single
// JSON document so per-question map entries can be updated in place.
type EvaluatorRecord struct {
	UserID             string `json:"user_id"`
	Name               string `json:"name"`
	Profession         string `json:"profession"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	ClinicalExperience string `json:"clinical_experience,omitempty"`
	AIExposure         string `json:"ai_exposure,omitempty"`

	Questions           map[string]AssignedQuestion `json:"questions"`
	Status              map[string]string           `json:"status"`
	UnbiasedAnswer      map[string]string           `json:"unbiased_answer"`
	EditedAnswer        map[string]string           `json:"edited_answer"`
	QuestionsAnswered   int                         `json:"questions_answered"`
	ListOfRubricsPicked map[string]RubricSelection  `json:"list_of_rubrics_picked"`
	EditedRubrics       map[string]RubricSelection  `json:"edited_rubrics"`
	AdditionalFeedback  map[string]string           `json:"additional_feedback"`

	// Answers and Ratings are the older client-mirrored blobs. Answers entries
	// may carry a "user_answer" string.
	Answers map[string]map[string]any `json:"answers"`
	Ratings map[string]float64        `json:"ratings"`

	ClassificationData       *ClassificationData `json:"classification_data,omitempty"`
	ClassificationArchiveRef string              `json:"classification_archive_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssignedQuestion is the snapshot taken at assignment time.
type AssignedQuestion struct {
	QuestionText string    `json:"question_text"`
	LLMResponse  string    `json:"llm_response"`
	Status       string    `json:"status"`
	AssignedAt   time.Time `json:"assigned_at"`
	Position     int       `json:"position"`
}

type RubricSelection struct {
	Rubrics     []string            `json:"rubrics"`
	Categories  map[string][]string `json:"categories,omitempty"`
	AxisResults map[string]string   `json:"axis_results,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

type AnswerEdit struct {
	Text     string    `json:"text"`
	EditedAt time.Time `json:"edited_at"`
}

// ClassificationData is replaced as a whole on every classification submit.
type ClassificationData struct {
	SelectedQualities map[string][]string            `json:"selected_qualities"`
	QualityCategories map[string]map[string][]string `json:"quality_categories,omitempty"`
	EditedQualities   map[string][]string            `json:"edited_qualities,omitempty"`
	Feedback          map[string]string              `json:"feedback,omitempty"`
	AnswerEditHistory map[string][]AnswerEdit        `json:"answer_edit_history,omitempty"`
	CompletedAt       time.Time                      `json:"completed_at"`
}

package schemas

import (
	"encoding/json"
	"time"

	"expert-eval/internal/db"
)

type AllocateRequest struct {
	Name               string `json:"name"`
	Profession         string `json:"profession"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	ClinicalExperience string `json:"clinicalExperience,omitempty"`
	AIExposure         string `json:"aiExposure,omitempty"`
}

type AllocateResponse struct {
	UserID                string   `json:"userId"`
	AssignedQuestionCount int      `json:"assignedQuestionCount"`
	Dropped               []string `json:"dropped,omitempty"`
}

type AnswerRequest struct {
	UserID     string `json:"userId"`
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
	IsEdit     bool   `json:"isEdit"`
}

type AnswerResponse struct {
	Status  string `json:"status"`
	Counted bool   `json:"counted"`
}

// RatingRequest accepts the rating under either name; Rating wins when both
// are sent.
type RatingRequest struct {
	UserID     string   `json:"userId"`
	QuestionID string   `json:"questionId"`
	Rating     *float64 `json:"rating,omitempty"`
	LLMRating  *float64 `json:"llmRating,omitempty"`
}

func (r RatingRequest) Value() *float64 {
	if r.Rating != nil {
		return r.Rating
	}
	return r.LLMRating
}

type StatusRequest struct {
	UserID     string `json:"userId"`
	QuestionID string `json:"questionId"`
	Status     string `json:"status"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type FeedbackRequest struct {
	UserID     string `json:"userId"`
	QuestionID string `json:"questionId"`
	Feedback   string `json:"feedback"`
}

type RubricsRequest struct {
	UserID      string              `json:"userId"`
	QuestionID  string              `json:"questionId"`
	Rubrics     []string            `json:"rubrics"`
	Categories  map[string][]string `json:"categories,omitempty"`
	AxisResults map[string]string   `json:"axisResults,omitempty"`
	IsEdit      bool                `json:"isEdit"`
}

type ClassificationRequest struct {
	UserID            string                         `json:"userId"`
	SelectedQualities map[string][]string            `json:"selectedQualities"`
	QualityCategories map[string]map[string][]string `json:"qualityCategories,omitempty"`
	EditedQualities   map[string][]string            `json:"editedQualities,omitempty"`
	Feedback          map[string]string              `json:"feedback,omitempty"`
	AnswerEditHistory map[string][]db.AnswerEdit     `json:"answerEditHistory,omitempty"`
	Answers           map[string]map[string]any      `json:"answers,omitempty"`
	Ratings           map[string]float64             `json:"ratings,omitempty"`
}

type ClassificationResponse struct {
	Questions   []string  `json:"questions"`
	CompletedAt time.Time `json:"completedAt"`
}

// PoolItemIn is one question in a pool data file. Rubrics keep whatever
// historical shape they were exported in.
type PoolItemIn struct {
	QuestionID        string          `json:"question_id"`
	QuestionText      string          `json:"question_text"`
	LLMResponse       string          `json:"llm_response"`
	TimesAnswered     int             `json:"times_answered,omitempty"`
	TargetEvaluations int             `json:"target_evaluations"`
	Rubrics           json.RawMessage `json:"rubrics,omitempty"`
	AxisRubricMap     json.RawMessage `json:"axis_rubric_map,omitempty"`
}

func (p PoolItemIn) Item() db.PoolItem {
	return db.PoolItem{
		QuestionID:        p.QuestionID,
		QuestionText:      p.QuestionText,
		LLMResponse:       p.LLMResponse,
		TimesAnswered:     p.TimesAnswered,
		TargetEvaluations: p.TargetEvaluations,
		Rubrics:           p.Rubrics,
		AxisRubricMap:     p.AxisRubricMap,
	}
}

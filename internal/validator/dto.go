package validator

import (
	"time"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// ===== EXAMS =====

type CreateExamRequest struct {
	Title          string            `json:"title" validate:"required,min=1,max=200"`
	Kind           models.ExamKind   `json:"kind" validate:"required,exam_kind"`
	Source         models.ExamSource `json:"source" validate:"required,exam_source"`
	ScoringSet     models.ScoringSet `json:"scoring_set" validate:"omitempty,scoring_set"`
	NumericEpsilon float64           `json:"numeric_epsilon" validate:"gte=0,lte=1000"`
}

type OptionRequest struct {
	Key  string `json:"key" validate:"required,max=20"`
	Text string `json:"text" validate:"max=2000"`
}

type QuestionRequest struct {
	Number         int                   `json:"number" validate:"omitempty,min=1"`
	Type           models.QuestionType   `json:"type" validate:"required,question_type"`
	Prompt         string                `json:"prompt" validate:"max=4000"`
	Options        []OptionRequest       `json:"options" validate:"omitempty,max=10,dive"`
	CorrectAnswer  string                `json:"correct_answer" validate:"max=500"`
	RuleType       models.AnswerRuleType `json:"rule_type" validate:"omitempty,answer_rule"`
	Points         float64               `json:"points" validate:"required,gt=0,lte=100"`
	BankQuestionID *uint                 `json:"bank_question_id"`
	SituationIndex *int                  `json:"situation_index" validate:"omitempty,min=1"`
}

type AddQuestionsRequest struct {
	Questions []QuestionRequest `json:"questions" validate:"required,min=1,max=100"`
}

// ===== RUNS =====

type CreateRunRequest struct {
	ExamID          uint       `json:"exam_id" validate:"required"`
	GroupID         *string    `json:"group_id" validate:"omitempty,min=1,max=255"`
	StudentID       *string    `json:"student_id" validate:"omitempty,min=1,max=255"`
	DurationMinutes int        `json:"duration_minutes" validate:"required,run_duration"`
	StartNow        bool       `json:"start_now"`
	StartAt         *time.Time `json:"start_at"`
}

// ===== ATTEMPTS =====

// SaveAnswerRequest carries either an option key, a displayed option
// position (0-based), or free text.
type SaveAnswerRequest struct {
	SlotKey        string  `json:"slot_key" validate:"required,slot_key"`
	SelectedOption *string `json:"selected_option" validate:"omitempty,max=20"`
	OptionPosition *int    `json:"option_position" validate:"omitempty,min=0,max=25"`
	TextAnswer     *string `json:"text_answer" validate:"omitempty,max=10000"`
}

type SubmitRequest struct {
	Answers []SaveAnswerRequest `json:"answers" validate:"omitempty,max=200,dive"`
}

type RestartRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"omitempty,run_duration"`
}

// ===== GRADING =====

type SituationScoreRequest struct {
	Index    int    `json:"index" validate:"required,min=1"`
	Fraction string `json:"fraction" validate:"required,situation_fraction"`
}

type GradeRequest struct {
	ManualScores    map[uint]float64        `json:"manual_scores" validate:"omitempty,dive,gte=0"`
	SituationScores []SituationScoreRequest `json:"situation_scores" validate:"omitempty,dive"`
	Publish         bool                    `json:"publish"`
}

type PublishRequest struct {
	Publish bool `json:"publish"`
}

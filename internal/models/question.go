package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	MultipleChoice  QuestionType = "MULTIPLE_CHOICE"
	OpenSingleValue QuestionType = "OPEN_SINGLE_VALUE"
	OpenOrdered     QuestionType = "OPEN_ORDERED"
	OpenUnordered   QuestionType = "OPEN_UNORDERED"
	Situation       QuestionType = "SITUATION"
)

type QuestionCategory string

const (
	CategoryClosed    QuestionCategory = "closed"
	CategoryOpen      QuestionCategory = "open"
	CategorySituation QuestionCategory = "situation"
)

func (t QuestionType) Category() QuestionCategory {
	switch t {
	case MultipleChoice:
		return CategoryClosed
	case OpenSingleValue, OpenOrdered, OpenUnordered:
		return CategoryOpen
	case Situation:
		return CategorySituation
	}
	return ""
}

func (t QuestionType) IsValid() bool {
	return t.Category() != ""
}

type AnswerRuleType string

const (
	RuleExactMatch      AnswerRuleType = "EXACT_MATCH"
	RuleNumericEqual    AnswerRuleType = "NUMERIC_EQUAL"
	RuleOrderedDigits   AnswerRuleType = "ORDERED_DIGITS"
	RuleUnorderedDigits AnswerRuleType = "UNORDERED_DIGITS"
	RuleOrderedMatch    AnswerRuleType = "ORDERED_MATCH"
	RuleUnorderedMatch  AnswerRuleType = "UNORDERED_MATCH"
)

func (r AnswerRuleType) IsValid() bool {
	switch r {
	case RuleExactMatch, RuleNumericEqual, RuleOrderedDigits, RuleUnorderedDigits, RuleOrderedMatch, RuleUnorderedMatch:
		return true
	}
	return false
}

// QuestionOption is one choice of a multiple choice question. Key is the
// stable identifier ("A", "B", ...) the answer key refers to.
type QuestionOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// ExamQuestion is a realized question or answer-key row of an exam. For PDF
// and JSON sources the prompt usually lives in the document and only the key
// is stored here.
type ExamQuestion struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	ExamID         uint           `json:"exam_id" gorm:"not null;uniqueIndex:idx_exam_question_number"`
	Number         int            `json:"number" gorm:"not null;uniqueIndex:idx_exam_question_number"`
	Type           QuestionType   `json:"type" gorm:"not null;size:30"`
	Prompt         string         `json:"prompt" gorm:"type:text"`
	Options        datatypes.JSON `json:"options,omitempty" gorm:"type:jsonb"`
	CorrectAnswer  string         `json:"correct_answer,omitempty" gorm:"type:text"`
	RuleType       AnswerRuleType `json:"rule_type,omitempty" gorm:"size:30"`
	Points         float64        `json:"points" gorm:"not null;default:1"`
	BankQuestionID *uint          `json:"bank_question_id,omitempty" gorm:"index"`
	SituationIndex *int           `json:"situation_index,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExamQuestion) TableName() string {
	return "exam_questions"
}

// ParsedOptions decodes the options column.
func (q *ExamQuestion) ParsedOptions() ([]QuestionOption, error) {
	if len(q.Options) == 0 {
		return nil, nil
	}
	var opts []QuestionOption
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid options for question %d: %w", q.ID, err)
	}
	return opts, nil
}

// SetOptions encodes opts into the options column.
func (q *ExamQuestion) SetOptions(opts []QuestionOption) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	q.Options = datatypes.JSON(data)
	return nil
}

// SlotKey identifies the answer slot of the question inside an attempt.
func (q *ExamQuestion) SlotKey() string {
	if q.Type == Situation && q.SituationIndex != nil {
		return SituationSlotKey(*q.SituationIndex)
	}
	return QuestionSlotKey(q.ID)
}

// HasAnswerKey reports whether the question can be auto-scored or, for
// situations, carries a usable weight.
func (q *ExamQuestion) HasAnswerKey() bool {
	switch q.Type.Category() {
	case CategoryClosed:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return false
		}
		opts, err := q.ParsedOptions()
		if err != nil || len(opts) < 2 {
			return false
		}
		for _, o := range opts {
			if o.Key == q.CorrectAnswer {
				return true
			}
		}
		return false
	case CategoryOpen:
		return strings.TrimSpace(q.CorrectAnswer) != "" && q.RuleType.IsValid()
	case CategorySituation:
		return q.SituationIndex != nil && q.Points > 0
	}
	return false
}

func QuestionSlotKey(questionID uint) string {
	return fmt.Sprintf("q:%d", questionID)
}

func SituationSlotKey(index int) string {
	return fmt.Sprintf("s:%d", index)
}

package models

import (
	"time"
)

type ExamKind string

const (
	ExamKindQuiz ExamKind = "quiz"
	ExamKindExam ExamKind = "exam"
)

type ExamSource string

const (
	ExamSourceBank ExamSource = "BANK"
	ExamSourceJSON ExamSource = "JSON"
	ExamSourcePDF  ExamSource = "PDF"
)

type ExamStatus string

const (
	ExamDraft    ExamStatus = "draft"
	ExamActive   ExamStatus = "active"
	ExamFinished ExamStatus = "finished"
)

// ScoringSet selects the manual grading regime. SET2 grades situation
// questions with a weight multiplier, SET1 with a plain manual score.
type ScoringSet string

const (
	ScoringSet1 ScoringSet = "SET1"
	ScoringSet2 ScoringSet = "SET2"
)

type Exam struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	Title      string     `json:"title" gorm:"not null;size:200"`
	Kind       ExamKind   `json:"kind" gorm:"not null;size:20"`
	Source     ExamSource `json:"source" gorm:"not null;size:10"`
	ScoringSet ScoringSet `json:"scoring_set" gorm:"not null;size:10;default:SET2"`
	Status     ExamStatus `json:"status" gorm:"not null;size:20;default:draft;index"`
	Archived   bool       `json:"archived" gorm:"not null;default:false;index"`

	// Tolerance applied by NUMERIC_EQUAL rules
	NumericEpsilon float64 `json:"numeric_epsilon" gorm:"not null;default:0"`
	MaxScore       float64 `json:"max_score" gorm:"not null;default:0"`

	PDFFileRef *string `json:"pdf_file_ref" gorm:"size:500"`
	PDFFileURL *string `json:"pdf_file_url" gorm:"size:1000"`

	CreatedBy string    `json:"created_by" gorm:"not null;size:255;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []ExamQuestion `json:"questions,omitempty" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

// CompositionRequirement is the exact number of questions per category an
// exam kind needs before it can be activated.
type CompositionRequirement struct {
	Closed    int `json:"closed"`
	Open      int `json:"open"`
	Situation int `json:"situation"`
}

// Composition is the realized question count per category.
type Composition = CompositionRequirement

var compositionRequirements = map[ExamKind]CompositionRequirement{
	ExamKindQuiz: {Closed: 12, Open: 3, Situation: 0},
	ExamKindExam: {Closed: 22, Open: 5, Situation: 3},
}

// RequirementFor returns the composition required for kind.
func RequirementFor(kind ExamKind) (CompositionRequirement, bool) {
	req, ok := compositionRequirements[kind]
	return req, ok
}

// CompositionOf counts questions per category.
func CompositionOf(questions []ExamQuestion) Composition {
	var c Composition
	for _, q := range questions {
		switch q.Type.Category() {
		case CategoryClosed:
			c.Closed++
		case CategoryOpen:
			c.Open++
		case CategorySituation:
			c.Situation++
		}
	}
	return c
}

// MaxScoreOf sums question points, situation weights included.
func MaxScoreOf(questions []ExamQuestion) float64 {
	var total float64
	for _, q := range questions {
		total += q.Points
	}
	return total
}

func (e *Exam) IsValidKind() bool {
	_, ok := compositionRequirements[e.Kind]
	return ok
}

func (e *Exam) HasPDF() bool {
	return e.PDFFileRef != nil && *e.PDFFileRef != ""
}

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NOT_STARTED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted  AttemptStatus = "SUBMITTED"
	AttemptExpired    AttemptStatus = "EXPIRED"
)

// IsTerminal reports whether the student can no longer change the attempt.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

const (
	ArchiveReasonRestart   = "restart"
	ArchiveReasonDuplicate = "duplicate"
	ArchiveReasonStale     = "stale"
)

// Attempt is one student's session inside a run. The pair (run, student) is
// unique among non-archived rows.
type Attempt struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	RunID     uint          `json:"run_id" gorm:"not null;index;uniqueIndex:idx_attempt_run_student_active,where:archived = false"`
	ExamID    uint          `json:"exam_id" gorm:"not null;index"`
	StudentID string        `json:"student_id" gorm:"not null;size:255;index;uniqueIndex:idx_attempt_run_student_active,where:archived = false"`
	Status    AttemptStatus `json:"status" gorm:"not null;size:20;index"`

	StartedAt  *time.Time `json:"started_at"`
	ExpiresAt  *time.Time `json:"expires_at" gorm:"index"`
	FinishedAt *time.Time `json:"finished_at"`

	AutoScore   float64    `json:"auto_score" gorm:"not null;default:0"`
	ManualScore *float64   `json:"manual_score"`
	FinalScore  *float64   `json:"final_score"`
	MaxScore    float64    `json:"max_score" gorm:"not null;default:0"`
	IsPublished bool       `json:"is_published" gorm:"not null;default:false"`
	GradedBy    *string    `json:"graded_by,omitempty" gorm:"size:255"`
	GradedAt    *time.Time `json:"graded_at,omitempty"`

	ScoringSet ScoringSet     `json:"scoring_set" gorm:"not null;size:10"`
	Seed       int64          `json:"-"`
	Blueprint  datatypes.JSON `json:"blueprint,omitempty" gorm:"type:jsonb"`

	Archived      bool       `json:"archived" gorm:"not null;default:false;index"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	ArchiveReason *string    `json:"archive_reason,omitempty" gorm:"size:50"`
	RestartedFrom *uint      `json:"restarted_from,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Answers []Answer `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// IsOverdue reports whether an in-progress attempt has passed its deadline.
func (a *Attempt) IsOverdue(now time.Time) bool {
	return a.Status == AttemptInProgress && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

func (a *Attempt) IsGraded() bool {
	return a.ManualScore != nil && a.FinalScore != nil
}

// AcceptsWrites reports whether the student may still save answers.
func (a *Attempt) AcceptsWrites(now time.Time) bool {
	return a.Status == AttemptInProgress && !a.Archived && !a.IsOverdue(now)
}

// ParsedBlueprint decodes the frozen blueprint.
func (a *Attempt) ParsedBlueprint() (*Blueprint, error) {
	if len(a.Blueprint) == 0 {
		return nil, fmt.Errorf("attempt %d has no blueprint", a.ID)
	}
	var bp Blueprint
	if err := json.Unmarshal(a.Blueprint, &bp); err != nil {
		return nil, fmt.Errorf("invalid blueprint for attempt %d: %w", a.ID, err)
	}
	return &bp, nil
}

// Answer is the latest accepted response for one slot of an attempt.
type Answer struct {
	ID             uint    `json:"id" gorm:"primaryKey"`
	AttemptID      uint    `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answer_attempt_slot"`
	SlotKey        string  `json:"slot_key" gorm:"not null;size:32;uniqueIndex:idx_answer_attempt_slot"`
	QuestionID     *uint   `json:"question_id,omitempty" gorm:"index"`
	SituationIndex *int    `json:"situation_index,omitempty"`
	SelectedOption *string `json:"selected_option,omitempty" gorm:"size:20"`
	TextAnswer     *string `json:"text_answer,omitempty" gorm:"type:text"`
	CanvasID       *uint   `json:"canvas_id,omitempty"`

	AutoPoints         float64  `json:"auto_points" gorm:"not null;default:0"`
	ManualPoints       *float64 `json:"manual_points,omitempty"`
	SituationFraction  *string  `json:"situation_fraction,omitempty" gorm:"size:8"`
	NeedsManualGrading bool     `json:"needs_manual_grading" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Answer) TableName() string {
	return "attempt_answers"
}

// Canvas is the single drawing stored for a slot. Saves replace the blob.
type Canvas struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	AttemptID   uint      `json:"attempt_id" gorm:"not null;uniqueIndex:idx_canvas_attempt_slot"`
	SlotKey     string    `json:"slot_key" gorm:"not null;size:32;uniqueIndex:idx_canvas_attempt_slot"`
	BlobKey     string    `json:"blob_key" gorm:"not null;size:500"`
	URL         string    `json:"url" gorm:"size:1000"`
	ContentType string    `json:"content_type" gorm:"size:50"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Canvas) TableName() string {
	return "attempt_canvases"
}

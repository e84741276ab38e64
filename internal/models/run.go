package models

import (
	"errors"
	"time"
)

type RunStatus string

const (
	RunScheduled RunStatus = "scheduled"
	RunActive    RunStatus = "active"
	RunFinished  RunStatus = "finished"
	RunStopped   RunStatus = "stopped"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunFinished || s == RunStopped
}

// RunTarget addresses either a whole group or a single student, never both.
type RunTarget struct {
	GroupID   *string `json:"group_id,omitempty"`
	StudentID *string `json:"student_id,omitempty"`
}

func (t RunTarget) Valid() bool {
	hasGroup := t.GroupID != nil && *t.GroupID != ""
	hasStudent := t.StudentID != nil && *t.StudentID != ""
	return hasGroup != hasStudent
}

var (
	ErrRunTargetRequired   = errors.New("run target must be exactly one of group or student")
	ErrRunDurationRequired = errors.New("run duration must be positive")
)

type Run struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ExamID          uint      `json:"exam_id" gorm:"not null;index"`
	GroupID         *string   `json:"group_id,omitempty" gorm:"size:255;index"`
	StudentID       *string   `json:"student_id,omitempty" gorm:"size:255;index"`
	StartAt         time.Time `json:"start_at" gorm:"not null;index"`
	EndAt           time.Time `json:"end_at" gorm:"not null;index"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null"`
	Status          RunStatus `json:"status" gorm:"not null;size:20;index"`
	AttemptCount    int64     `json:"attempt_count" gorm:"not null;default:0"`

	CreatedBy string     `json:"created_by" gorm:"not null;size:255"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Exam *Exam `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
}

func (Run) TableName() string {
	return "runs"
}

// NewRun builds a run with a mandatory target and duration. The window is
// [start, start+duration).
func NewRun(examID uint, target RunTarget, durationMinutes int, start time.Time, startNow bool, createdBy string) (*Run, error) {
	if !target.Valid() {
		return nil, ErrRunTargetRequired
	}
	if durationMinutes <= 0 {
		return nil, ErrRunDurationRequired
	}

	status := RunScheduled
	if startNow {
		status = RunActive
	}

	return &Run{
		ExamID:          examID,
		GroupID:         target.GroupID,
		StudentID:       target.StudentID,
		StartAt:         start,
		EndAt:           start.Add(time.Duration(durationMinutes) * time.Minute),
		DurationMinutes: durationMinutes,
		Status:          status,
		CreatedBy:       createdBy,
	}, nil
}

func (r *Run) Target() RunTarget {
	return RunTarget{GroupID: r.GroupID, StudentID: r.StudentID}
}

func (r *Run) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// EffectiveStatus derives the window status at now. Stopped and finished
// runs never move again.
func (r *Run) EffectiveStatus(now time.Time) RunStatus {
	if r.Status.IsTerminal() {
		return r.Status
	}
	if !now.Before(r.EndAt) {
		return RunFinished
	}
	if !now.Before(r.StartAt) {
		return RunActive
	}
	return r.Status
}

// AcceptsStarts reports whether a fresh attempt may begin at now.
func (r *Run) AcceptsStarts(now time.Time) bool {
	return r.EffectiveStatus(now) == RunActive && !now.Before(r.StartAt) && now.Before(r.EndAt)
}

// Overlaps reports whether the two windows intersect.
func (r *Run) Overlaps(start, end time.Time) bool {
	return r.StartAt.Before(end) && start.Before(r.EndAt)
}

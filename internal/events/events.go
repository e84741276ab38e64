// Package events publishes engine lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	Source  = "exam-attempt-service"
	Version = "1.0"
)

type EventType string

const (
	ExamActivated    EventType = "exam.activated"
	RunCreated       EventType = "run.created"
	RunStopped       EventType = "run.stopped"
	AttemptStarted   EventType = "attempt.started"
	AttemptSubmitted EventType = "attempt.submitted"
	AttemptExpired   EventType = "attempt.expired"
	AttemptRestarted EventType = "attempt.restarted"
	AttemptGraded    EventType = "attempt.graded"
	AttemptPublished EventType = "attempt.published"
	AttemptArchived  EventType = "attempt.archived"
)

// Event is the envelope written to the bus.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func NewEvent(eventType EventType, data interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    Source,
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventPublisher is implemented by the watermill publisher and the mock.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// ===== PAYLOADS =====

type ExamEvent struct {
	ExamID   uint    `json:"exam_id"`
	Kind     string  `json:"kind"`
	MaxScore float64 `json:"max_score"`
}

type RunEvent struct {
	RunID     uint      `json:"run_id"`
	ExamID    uint      `json:"exam_id"`
	GroupID   *string   `json:"group_id,omitempty"`
	StudentID *string   `json:"student_id,omitempty"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Status    string    `json:"status"`
}

type AttemptEvent struct {
	AttemptID   uint       `json:"attempt_id"`
	RunID       uint       `json:"run_id"`
	ExamID      uint       `json:"exam_id"`
	StudentID   string     `json:"student_id"`
	Status      string     `json:"status"`
	AutoScore   float64    `json:"auto_score"`
	MaxScore    float64    `json:"max_score"`
	FinalScore  *float64   `json:"final_score,omitempty"`
	IsPublished bool       `json:"is_published"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	PreviousID  *uint      `json:"previous_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

package services

import (
	"context"
	"io"
	"time"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateExamRequest = validator.CreateExamRequest
type AddQuestionsRequest = validator.AddQuestionsRequest
type QuestionRequest = validator.QuestionRequest
type OptionRequest = validator.OptionRequest
type CreateRunRequest = validator.CreateRunRequest
type SaveAnswerRequest = validator.SaveAnswerRequest
type SubmitRequest = validator.SubmitRequest
type RestartRequest = validator.RestartRequest
type GradeRequest = validator.GradeRequest
type PublishRequest = validator.PublishRequest
type SituationScoreRequest = validator.SituationScoreRequest

// ===== EXAM DTOs =====

type ExamResponse struct {
	*models.Exam
	Composition models.Composition            `json:"composition"`
	Required    models.CompositionRequirement `json:"required"`
	CanActivate bool                          `json:"can_activate"`
	Problems    []string                      `json:"problems,omitempty"`
}

type ExamListResponse struct {
	Exams  []*models.Exam `json:"exams"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ===== RUN DTOs =====

type RunResponse struct {
	*models.Run
	AcceptsStarts bool `json:"accepts_starts"`
}

type RunListResponse struct {
	Runs   []*RunResponse `json:"runs"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ===== ATTEMPT DTOs =====

// AttemptResponse is the full attempt view used by staff and by the engine
// itself. Students get it through the publication filter.
type AttemptResponse struct {
	*models.Attempt
	Items            []models.BlueprintItem `json:"items,omitempty"`
	Answers          []models.Answer        `json:"answers,omitempty"`
	Canvases         []models.Canvas        `json:"canvases,omitempty"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Resumed          bool                   `json:"resumed,omitempty"`
	AlreadySubmitted bool                   `json:"already_submitted,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*models.Attempt `json:"attempts"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// StudentAnswer is an answer without any scoring fields.
type StudentAnswer struct {
	SlotKey        string    `json:"slot_key"`
	SelectedOption *string   `json:"selected_option,omitempty"`
	TextAnswer     *string   `json:"text_answer,omitempty"`
	CanvasID       *uint     `json:"canvas_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StudentResult is what a student may see of a finished attempt. Scores are
// nil while the result is unpublished.
type StudentResult struct {
	AttemptID   uint                 `json:"attempt_id"`
	RunID       uint                 `json:"run_id"`
	ExamID      uint                 `json:"exam_id"`
	Status      models.AttemptStatus `json:"status"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Pending     bool                 `json:"pending"`
	Score       *float64             `json:"score"`
	AutoScore   *float64             `json:"auto_score,omitempty"`
	ManualScore *float64             `json:"manual_score,omitempty"`
	MaxScore    *float64             `json:"max_score,omitempty"`
	SlotPoints  map[string]float64   `json:"slot_points,omitempty"`
}

// StudentAttemptResponse is the gated attempt view returned to students.
type StudentAttemptResponse struct {
	ID               uint                   `json:"id"`
	RunID            uint                   `json:"run_id"`
	ExamID           uint                   `json:"exam_id"`
	Status           models.AttemptStatus   `json:"status"`
	StartedAt        *time.Time             `json:"started_at"`
	ExpiresAt        *time.Time             `json:"expires_at"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Items            []models.BlueprintItem `json:"items,omitempty"`
	Answers          []StudentAnswer        `json:"answers,omitempty"`
	Resumed          bool                   `json:"resumed,omitempty"`
	AlreadySubmitted bool                   `json:"already_submitted,omitempty"`
	AutoScore        *float64               `json:"auto_score,omitempty"`
	MaxScore         *float64               `json:"max_score,omitempty"`
	IsPublished      bool                   `json:"is_published"`
	Result           *StudentResult         `json:"result,omitempty"`
}

type CanvasResponse struct {
	CanvasID  uint      `json:"canvas_id"`
	SlotKey   string    `json:"slot_key"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ===== MAINTENANCE DTOs =====

type SweepReport struct {
	ExpiredAttempts int `json:"expired_attempts"`
	RunTransitions  int `json:"run_transitions"`
}

type ArchiveReport struct {
	Stale      int `json:"stale"`
	Duplicates int `json:"duplicates"`
}

// ===== SERVICE INTERFACES =====

// ExamService defines exams, their question sets and answer keys
type ExamService interface {
	Create(ctx context.Context, req *CreateExamRequest, userID string) (*models.Exam, error)
	GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error)

	AddQuestions(ctx context.Context, examID uint, req *AddQuestionsRequest, userID string) ([]models.ExamQuestion, error)
	ImportAnswerKey(ctx context.Context, examID uint, data []byte, userID string) ([]models.ExamQuestion, error)
	AttachPDF(ctx context.Context, examID uint, r io.Reader, userID string) (*models.Exam, error)

	Activate(ctx context.Context, examID uint, userID string) (*models.Exam, error)
	Finish(ctx context.Context, examID uint, userID string) (*models.Exam, error)
	Archive(ctx context.Context, examID uint, userID string) (*models.Exam, error)
	Delete(ctx context.Context, examID uint, force bool, userID string) error
}

// RunService schedules exam runs for a group or a student
type RunService interface {
	Create(ctx context.Context, req *CreateRunRequest, userID string) (*RunResponse, error)
	Stop(ctx context.Context, runID uint, userID string) (*RunResponse, error)
	GetByID(ctx context.Context, runID uint, userID string) (*RunResponse, error)
	List(ctx context.Context, filters repositories.RunFilters, userID string) (*RunListResponse, error)
	ListAttempts(ctx context.Context, runID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)
	Delete(ctx context.Context, runID uint, force bool, userID string) error

	// RefreshStatuses persists window transitions the clock has passed.
	RefreshStatuses(ctx context.Context, limit int) (int, error)
}

// AttemptService drives one student's session through its states
type AttemptService interface {
	Start(ctx context.Context, runID uint, studentID string) (*AttemptResponse, error)
	Submit(ctx context.Context, attemptID uint, req *SubmitRequest, studentID string) (*AttemptResponse, error)
	GetByID(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error)
	Restart(ctx context.Context, attemptID uint, req *RestartRequest, teacherID string) (*AttemptResponse, error)

	// ExpireOverdue expires in-progress attempts past their deadline.
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// AnswerService stores answers and canvases of in-progress attempts
type AnswerService interface {
	SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, studentID string) (*models.Answer, error)
	SaveCanvas(ctx context.Context, attemptID uint, slotKey string, image io.Reader, studentID string) (*CanvasResponse, error)
}

// GradingService applies manual scores and controls publication
type GradingService interface {
	Grade(ctx context.Context, attemptID uint, req *GradeRequest, teacherID string) (*AttemptResponse, error)
	Publish(ctx context.Context, attemptID uint, publish bool, teacherID string) (*AttemptResponse, error)
	Reopen(ctx context.Context, attemptID uint, teacherID string) (*AttemptResponse, error)
	StudentResult(ctx context.Context, attemptID uint, studentID string) (*StudentResult, error)
}

// ArchivalService flags stale and duplicate attempts archived
type ArchivalService interface {
	ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error)
	ArchiveDuplicates(ctx context.Context) (int, error)
	Run(ctx context.Context, olderThan time.Duration) (*ArchiveReport, error)
}

// ExportService renders run results
type ExportService interface {
	RunResults(ctx context.Context, runID uint, userID string, w io.Writer) error
}

// ServiceManager manages all services
type ServiceManager interface {
	Exam() ExamService
	Run() RunService
	Attempt() AttemptService
	Answer() AnswerService
	Grading() GradingService
	Archival() ArchivalService
	Export() ExportService
	Sweeper() *ExpirySweeper

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

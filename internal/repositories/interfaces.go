package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	Kind      *models.ExamKind   `json:"kind"`
	CreatedBy *string            `json:"created_by"`
	Archived  *bool              `json:"archived"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`
	SortOrder string             `json:"sort_order"`
}

type RunFilters struct {
	ExamID    *uint             `json:"exam_id"`
	GroupID   *string           `json:"group_id"`
	StudentID *string           `json:"student_id"`
	Status    *models.RunStatus `json:"status"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	SortBy    string            `json:"sort_by"`
	SortOrder string            `json:"sort_order"`
}

type AttemptFilters struct {
	RunID           *uint                 `json:"run_id"`
	ExamID          *uint                 `json:"exam_id"`
	StudentID       *string               `json:"student_id"`
	Status          *models.AttemptStatus `json:"status"`
	IncludeArchived bool                  `json:"include_archived"`
	Limit           int                   `json:"limit"`
	Offset          int                   `json:"offset"`
	SortBy          string                `json:"sort_by"`
	SortOrder       string                `json:"sort_order"`
}

// DuplicateAttemptKey is a (run, student) pair with more than one
// non-archived attempt.
type DuplicateAttemptKey struct {
	RunID     uint
	StudentID string
	Count     int64
}

// ===== REPOSITORIES =====

type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)

	// Question set (realized questions or imported answer key)
	GetQuestions(ctx context.Context, tx *gorm.DB, examID uint) ([]models.ExamQuestion, error)
	AddQuestions(ctx context.Context, tx *gorm.DB, examID uint, questions []*models.ExamQuestion) error
	ReplaceQuestions(ctx context.Context, tx *gorm.DB, examID uint, questions []*models.ExamQuestion) error
	NextQuestionNumber(ctx context.Context, tx *gorm.DB, examID uint) (int, error)

	// InvalidateCache drops cached reads of the exam. Call it after the
	// transaction that changed the exam has committed.
	InvalidateCache(ctx context.Context, examID uint)
}

type RunRepository interface {
	Create(ctx context.Context, tx *gorm.DB, run *models.Run) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error)
	Update(ctx context.Context, tx *gorm.DB, run *models.Run) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters RunFilters) ([]*models.Run, int64, error)
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Run, error)

	// FindOverlapping returns non-terminal runs of the exam for the same
	// target whose window intersects [start, end).
	FindOverlapping(ctx context.Context, tx *gorm.DB, examID uint, target models.RunTarget, start, end time.Time) ([]*models.Run, error)

	// IncrementAttemptCount performs attempt_count = attempt_count + 1.
	IncrementAttemptCount(ctx context.Context, tx *gorm.DB, id uint) error

	// TransitionStatus moves the run to "to" only if its current status is in
	// "from". Reports whether a row changed.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uint, from []models.RunStatus, to models.RunStatus, fields map[string]interface{}) (bool, error)

	// ListDueTransitions returns runs whose stored status lags the clock.
	ListDueTransitions(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.Run, error)
}

type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	// GetForUpdate loads the attempt holding a row lock until tx ends.
	GetForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	GetCurrent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) (*models.Attempt, error)
	Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.Attempt, int64, error)

	// TransitionStatus is a compare-and-set on status. Reports whether the
	// row changed.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.AttemptStatus, fields map[string]interface{}) (bool, error)
	Archive(ctx context.Context, tx *gorm.DB, id uint, reason string, at time.Time) error

	CountByRun(ctx context.Context, tx *gorm.DB, runID uint) (int64, error)
	CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error)
	ListOverdue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.Attempt, error)
	ListStale(ctx context.Context, tx *gorm.DB, status models.AttemptStatus, before time.Time, limit int) ([]*models.Attempt, error)
	FindDuplicates(ctx context.Context, tx *gorm.DB) ([]DuplicateAttemptKey, error)
	ListByRunAndStudent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) ([]*models.Attempt, error)

	// DeleteByRuns removes attempts of the runs along with answers and canvases.
	DeleteByRuns(ctx context.Context, tx *gorm.DB, runIDs []uint) error
}

type AnswerRepository interface {
	// Upsert writes the answer for (attempt, slot), replacing any previous one.
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error
	ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.Answer, error)
	UpdateScoring(ctx context.Context, tx *gorm.DB, answer *models.Answer) error
}

type CanvasRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, canvas *models.Canvas) error
	GetBySlot(ctx context.Context, tx *gorm.DB, attemptID uint, slotKey string) (*models.Canvas, error)
	ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.Canvas, error)
}

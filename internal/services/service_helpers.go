package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

// Clock returns the server time every deadline is measured against.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

func (c Clock) orSystem() Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// ===== LOADERS =====

func loadExam(ctx context.Context, repo repositories.Repository, tx *gorm.DB, id uint) (*models.Exam, error) {
	exam, err := repo.Exam().GetByID(ctx, tx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	return exam, nil
}

func loadRun(ctx context.Context, repo repositories.Repository, tx *gorm.DB, id uint) (*models.Run, error) {
	run, err := repo.Run().GetByID(ctx, tx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func loadAttempt(ctx context.Context, repo repositories.Repository, tx *gorm.DB, id uint) (*models.Attempt, error) {
	attempt, err := repo.Attempt().GetByID(ctx, tx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return attempt, nil
}

// lockAttempt loads the attempt with a row lock held until tx ends.
func lockAttempt(ctx context.Context, repo repositories.Repository, tx *gorm.DB, id uint) (*models.Attempt, error) {
	attempt, err := repo.Attempt().GetForUpdate(ctx, tx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to lock attempt: %w", err)
	}
	return attempt, nil
}

// ===== PERMISSIONS =====

func userRole(ctx context.Context, repo repositories.Repository, userID string) models.UserRole {
	user, err := repo.User().GetByID(ctx, userID)
	if err != nil || user == nil {
		return ""
	}
	return user.Role
}

func isStaff(ctx context.Context, repo repositories.Repository, userID string) bool {
	role := userRole(ctx, repo, userID)
	return role == models.RoleTeacher || role == models.RoleAdmin
}

// authorizeExam lets the exam owner and admins act on an exam and
// everything hanging off it.
func authorizeExam(ctx context.Context, repo repositories.Repository, exam *models.Exam, userID, action string) error {
	if exam.CreatedBy == userID {
		return nil
	}
	if userRole(ctx, repo, userID) == models.RoleAdmin {
		return nil
	}
	return NewPermissionError(userID, exam.ID, "exam", action, "not the exam owner")
}

// ===== RESPONSES =====

func remainingSeconds(a *models.Attempt, now time.Time) int64 {
	if a.Status != models.AttemptInProgress || a.ExpiresAt == nil {
		return 0
	}
	left := a.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// newAttemptResponse decodes the frozen blueprint into items. The raw
// column is dropped from the copy.
func newAttemptResponse(a *models.Attempt, answers []models.Answer, canvases []models.Canvas, now time.Time) (*AttemptResponse, error) {
	resp := &AttemptResponse{
		Answers:          answers,
		Canvases:         canvases,
		RemainingSeconds: remainingSeconds(a, now),
	}
	if len(a.Blueprint) > 0 {
		bp, err := a.ParsedBlueprint()
		if err != nil {
			return nil, err
		}
		resp.Items = bp.Items
	}

	copied := *a
	copied.Blueprint = nil
	copied.Answers = nil
	resp.Attempt = &copied
	return resp, nil
}

func floatPtr(v float64) *float64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

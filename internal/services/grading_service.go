package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/observability"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

type gradingService struct {
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	attempts  AttemptService
	now       Clock
}

func NewGradingService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, attempts AttemptService, clock Clock) GradingService {
	return &gradingService{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		attempts:  attempts,
		now:       clock.orSystem(),
	}
}

// Grade replaces the manual part of a finished attempt's score.
func (s *gradingService) Grade(ctx context.Context, attemptID uint, req *GradeRequest, teacherID string) (resp *AttemptResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "attempt.grade",
		attribute.Int64("attempt_id", int64(attemptID)),
		attribute.String("teacher_id", teacherID))
	defer func() { observability.EndSpan(span, err) }()

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	var attempt *models.Attempt
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		attempt, err = s.lockForGrading(ctx, tx, attemptID, teacherID, "grade")
		if err != nil {
			return err
		}
		if !attempt.Status.IsTerminal() {
			return ErrAttemptNotTerminal
		}
		if attempt.IsPublished {
			return ErrAttemptPublished
		}

		questions, err := s.repo.Exam().GetQuestions(ctx, tx, attempt.ExamID)
		if err != nil {
			return fmt.Errorf("failed to get exam questions: %w", err)
		}
		answers, err := s.repo.Answer().ListByAttempt(ctx, tx, attempt.ID)
		if err != nil {
			return fmt.Errorf("failed to load answers: %w", err)
		}

		plan, err := planGrading(attempt.ScoringSet, questions, answers, req)
		if err != nil {
			return err
		}
		if err := s.applyPlan(ctx, tx, attempt.ID, answers, plan); err != nil {
			return err
		}

		now := s.now()
		manual := plan.total()
		final := roundScore(attempt.AutoScore + manual)
		attempt.ManualScore = &manual
		attempt.FinalScore = &final
		attempt.GradedBy = &teacherID
		attempt.GradedAt = &now
		if req.Publish {
			attempt.IsPublished = true
		}
		return s.repo.Attempt().Update(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}

	observability.Gradings().WithLabelValues("grade").Inc()
	s.logger.Info("Attempt graded",
		"attempt_id", attempt.ID,
		"manual_score", *attempt.ManualScore,
		"final_score", *attempt.FinalScore,
		"published", attempt.IsPublished,
		"teacher_id", teacherID)

	events.SafePublish(ctx, s.publisher, s.logger, events.AttemptGraded, attemptEvent(attempt))
	if attempt.IsPublished {
		events.SafePublish(ctx, s.publisher, s.logger, events.AttemptPublished, attemptEvent(attempt))
	}
	return s.detail(ctx, attempt)
}

// Publish toggles result visibility without touching scores.
func (s *gradingService) Publish(ctx context.Context, attemptID uint, publish bool, teacherID string) (*AttemptResponse, error) {
	action := "publish"
	if !publish {
		action = "unpublish"
	}

	var attempt *models.Attempt
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		attempt, err = s.lockForGrading(ctx, tx, attemptID, teacherID, action)
		if err != nil {
			return err
		}
		if publish && !attempt.IsGraded() {
			return ErrAttemptNotGraded
		}
		attempt.IsPublished = publish
		return s.repo.Attempt().Update(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}

	observability.Gradings().WithLabelValues(action).Inc()
	s.logger.Info("Attempt publication changed", "attempt_id", attempt.ID, "published", publish, "teacher_id", teacherID)
	if publish {
		events.SafePublish(ctx, s.publisher, s.logger, events.AttemptPublished, attemptEvent(attempt))
	}
	return s.detail(ctx, attempt)
}

// Reopen hides the result again so it can be re-graded. The status never
// goes back to in progress.
func (s *gradingService) Reopen(ctx context.Context, attemptID uint, teacherID string) (*AttemptResponse, error) {
	var attempt *models.Attempt
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		attempt, err = s.lockForGrading(ctx, tx, attemptID, teacherID, "reopen")
		if err != nil {
			return err
		}
		if !attempt.Status.IsTerminal() {
			return ErrAttemptNotTerminal
		}
		attempt.IsPublished = false
		return s.repo.Attempt().Update(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}

	observability.Gradings().WithLabelValues("reopen").Inc()
	s.logger.Info("Attempt reopened for grading", "attempt_id", attempt.ID, "teacher_id", teacherID)
	return s.detail(ctx, attempt)
}

// StudentResult is the publication-gated result of an attempt.
func (s *gradingService) StudentResult(ctx context.Context, attemptID uint, studentID string) (*StudentResult, error) {
	resp, err := s.attempts.GetByID(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	return GateResult(resp.Attempt, resp.Answers), nil
}

func (s *gradingService) lockForGrading(ctx context.Context, tx *gorm.DB, attemptID uint, teacherID, action string) (*models.Attempt, error) {
	attempt, err := lockAttempt(ctx, s.repo, tx, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := loadExam(ctx, s.repo, tx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	if err := authorizeExam(ctx, s.repo, exam, teacherID, action); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *gradingService) detail(ctx context.Context, attempt *models.Attempt) (*AttemptResponse, error) {
	answers, err := s.repo.Answer().ListByAttempt(ctx, nil, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	canvases, err := s.repo.Canvas().ListByAttempt(ctx, nil, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load canvases: %w", err)
	}
	return newAttemptResponse(attempt, answers, canvases, s.now())
}

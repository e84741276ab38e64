package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/observability"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	answers   *answerService
	now       Clock
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, clock Clock) AttemptService {
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		answers:   newAnswerService(repo, db, logger, validator, nil, clock),
		now:       clock.orSystem(),
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

// Start opens the student's attempt on a run. An attempt already in
// progress is resumed with its frozen blueprint.
func (s *attemptService) Start(ctx context.Context, runID uint, studentID string) (resp *AttemptResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "attempt.start",
		attribute.Int64("run_id", int64(runID)),
		attribute.String("student_id", studentID))
	defer func() { observability.EndSpan(span, err) }()

	s.logger.Info("Starting attempt", "run_id", runID, "student_id", studentID)

	run, err := loadRun(ctx, s.repo, nil, runID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, run, studentID); err != nil {
		return nil, err
	}

	current, err := s.repo.Attempt().GetCurrent(ctx, nil, run.ID, studentID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to get current attempt: %w", err)
	}
	if current != nil {
		return s.resume(ctx, current)
	}

	now := s.now()
	if !run.AcceptsStarts(now) {
		return nil, ErrRunNotActive
	}

	var attempt *models.Attempt
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		attempt, err = s.createAttempt(ctx, tx, run, studentID, run.Duration(), now, nil)
		return err
	})
	if err != nil {
		if repositories.IsDuplicateError(err) {
			// A concurrent start won the unique index; continue with its attempt.
			current, getErr := s.repo.Attempt().GetCurrent(ctx, nil, run.ID, studentID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load concurrent attempt: %w", getErr)
			}
			return s.resume(ctx, current)
		}
		return nil, fmt.Errorf("failed to start attempt: %w", err)
	}

	observability.AttemptsStarted().WithLabelValues("fresh").Inc()
	s.logger.Info("Attempt started",
		"attempt_id", attempt.ID,
		"run_id", run.ID,
		"student_id", studentID,
		"expires_at", attempt.ExpiresAt)
	events.SafePublish(ctx, s.publisher, s.logger, events.AttemptStarted, attemptEvent(attempt))

	return s.detail(ctx, attempt)
}

// resume returns an in-progress attempt unchanged. Terminal attempts, and
// ones whose deadline passed meanwhile, fail with ErrAlreadySubmitted.
func (s *attemptService) resume(ctx context.Context, attempt *models.Attempt) (*AttemptResponse, error) {
	if attempt.IsOverdue(s.now()) {
		if _, err := s.expire(ctx, attempt.ID); err != nil {
			return nil, err
		}
		return nil, ErrAlreadySubmitted
	}

	switch attempt.Status {
	case models.AttemptInProgress:
	case models.AttemptSubmitted, models.AttemptExpired:
		return nil, ErrAlreadySubmitted
	default:
		return nil, fmt.Errorf("%w: attempt %d is %s", ErrInvalidStateTransition, attempt.ID, attempt.Status)
	}

	observability.AttemptsStarted().WithLabelValues("resumed").Inc()
	s.logger.Info("Resuming existing attempt", "attempt_id", attempt.ID)

	resp, err := s.detail(ctx, attempt)
	if err != nil {
		return nil, err
	}
	resp.Resumed = true
	return resp, nil
}

// Submit merges the final payload and scores the attempt once. Past the
// deadline the payload is ignored and the attempt expires with whatever
// was stored. A repeat submit returns the recorded result.
func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitRequest, studentID string) (resp *AttemptResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "attempt.submit",
		attribute.Int64("attempt_id", int64(attemptID)),
		attribute.String("student_id", studentID))
	defer func() { observability.EndSpan(span, err) }()

	if req == nil {
		req = &SubmitRequest{}
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	var attempt *models.Attempt
	alreadyFinished := false

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		attempt, err = lockAttempt(ctx, s.repo, tx, attemptID)
		if err != nil {
			return err
		}
		if attempt.StudentID != studentID {
			return NewPermissionError(studentID, attempt.ID, "attempt", "submit", "not owned by student")
		}
		if attempt.Status.IsTerminal() {
			alreadyFinished = true
			return nil
		}
		if attempt.Archived || attempt.Status != models.AttemptInProgress {
			return ErrAttemptClosed
		}

		now := s.now()
		if attempt.IsOverdue(now) {
			return s.finalize(ctx, tx, attempt, models.AttemptExpired, *attempt.ExpiresAt)
		}

		bp, err := attempt.ParsedBlueprint()
		if err != nil {
			return err
		}
		for i := range req.Answers {
			if _, err := s.answers.upsertLocked(ctx, tx, attempt, bp, &req.Answers[i]); err != nil {
				if errors.Is(err, ErrInvalidAnswer) || errors.Is(err, ErrQuestionNotFound) {
					s.logger.Warn("Skipping invalid answer on submit",
						"attempt_id", attempt.ID,
						"slot", req.Answers[i].SlotKey,
						"error", err)
					continue
				}
				return err
			}
		}
		return s.finalize(ctx, tx, attempt, models.AttemptSubmitted, now)
	})
	if err != nil {
		return nil, err
	}

	if !alreadyFinished {
		s.afterFinish(ctx, attempt)
	}

	resp, err = s.detail(ctx, attempt)
	if err != nil {
		return nil, err
	}
	resp.AlreadySubmitted = alreadyFinished
	return resp, nil
}

// GetByID returns the attempt, expiring it first when its deadline passed.
func (s *attemptService) GetByID(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error) {
	attempt, err := loadAttempt(ctx, s.repo, nil, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != userID && !isStaff(ctx, s.repo, userID) {
		return nil, NewPermissionError(userID, attempt.ID, "attempt", "view", "not owned by user")
	}

	if attempt.IsOverdue(s.now()) {
		if _, err := s.expire(ctx, attempt.ID); err != nil {
			return nil, err
		}
		if attempt, err = loadAttempt(ctx, s.repo, nil, attemptID); err != nil {
			return nil, err
		}
	}
	return s.detail(ctx, attempt)
}

// Restart archives the attempt and opens a fresh one on the same run with a
// new blueprint and deadline. Answers are not carried over.
func (s *attemptService) Restart(ctx context.Context, attemptID uint, req *RestartRequest, teacherID string) (resp *AttemptResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "attempt.restart",
		attribute.Int64("attempt_id", int64(attemptID)))
	defer func() { observability.EndSpan(span, err) }()

	if req == nil {
		req = &RestartRequest{}
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	var old, fresh *models.Attempt
	expiredOld := false

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		old, err = lockAttempt(ctx, s.repo, tx, attemptID)
		if err != nil {
			return err
		}
		if old.Archived {
			return fmt.Errorf("%w: attempt %d is archived", ErrInvalidStateTransition, old.ID)
		}
		if old.Status != models.AttemptExpired && old.Status != models.AttemptInProgress {
			return fmt.Errorf("%w: cannot restart a %s attempt", ErrInvalidStateTransition, old.Status)
		}

		run, err := loadRun(ctx, s.repo, tx, old.RunID)
		if err != nil {
			return err
		}
		exam, err := loadExam(ctx, s.repo, tx, run.ExamID)
		if err != nil {
			return err
		}
		if err := authorizeExam(ctx, s.repo, exam, teacherID, "restart"); err != nil {
			return err
		}

		// an overdue attempt is scored before it is archived
		if old.IsOverdue(now) {
			if err := s.finalize(ctx, tx, old, models.AttemptExpired, *old.ExpiresAt); err != nil {
				return err
			}
			expiredOld = true
		}

		if err := s.repo.Attempt().Archive(ctx, tx, old.ID, models.ArchiveReasonRestart, now); err != nil {
			return fmt.Errorf("failed to archive attempt: %w", err)
		}
		old.Archived = true
		old.ArchiveReason = stringPtr(models.ArchiveReasonRestart)

		duration := run.Duration()
		if req.DurationMinutes > 0 {
			duration = time.Duration(req.DurationMinutes) * time.Minute
		}
		fresh, err = s.createAttempt(ctx, tx, run, old.StudentID, duration, now, &old.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if expiredOld {
		s.afterFinish(ctx, old)
	}
	observability.AttemptsStarted().WithLabelValues("restarted").Inc()
	s.logger.Info("Attempt restarted",
		"previous_attempt_id", old.ID,
		"attempt_id", fresh.ID,
		"teacher_id", teacherID,
		"expires_at", fresh.ExpiresAt)
	events.SafePublish(ctx, s.publisher, s.logger, events.AttemptArchived, attemptEvent(old))
	events.SafePublish(ctx, s.publisher, s.logger, events.AttemptRestarted, attemptEvent(fresh))

	return s.detail(ctx, fresh)
}

// ExpireOverdue finalizes attempts whose deadline passed. Reads expire
// lazily anyway; this keeps dashboards current.
func (s *attemptService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	overdue, err := s.repo.Attempt().ListOverdue(ctx, nil, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue attempts: %w", err)
	}

	expired := 0
	for _, a := range overdue {
		ok, err := s.expire(ctx, a.ID)
		if err != nil {
			s.logger.Error("Failed to expire attempt", "attempt_id", a.ID, "error", err)
			continue
		}
		if ok {
			expired++
			observability.Swept().WithLabelValues("attempt_expired").Inc()
		}
	}
	return expired, nil
}

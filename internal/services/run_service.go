package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/observability"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

type runService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	now       Clock
}

func NewRunService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, clock Clock) RunService {
	return &runService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		publisher: publisher,
		now:       clock.orSystem(),
	}
}

// Create schedules a run. A draft exam whose composition is complete is
// activated in the same transaction.
func (s *runService) Create(ctx context.Context, req *CreateRunRequest, userID string) (*RunResponse, error) {
	if errs := s.validator.ValidateRunTarget(req); len(errs) > 0 {
		return nil, ErrInvalidTarget
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	start := now
	if !req.StartNow && req.StartAt != nil {
		start = req.StartAt.UTC()
	}
	target := models.RunTarget{GroupID: req.GroupID, StudentID: req.StudentID}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	if !start.Add(duration).After(now) {
		return nil, NewBusinessRuleError("run_window_past", ErrValidationFailed, "run would end before it can start")
	}

	var run *models.Run
	var exam *models.Exam
	var activated bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		exam, err = loadExam(ctx, s.repo, tx, req.ExamID)
		if err != nil {
			return err
		}
		if err := authorizeExam(ctx, s.repo, exam, userID, "create_run"); err != nil {
			return err
		}

		activated, err = activateExam(ctx, s.repo, tx, exam)
		if err != nil {
			return err
		}

		overlapping, err := s.repo.Run().FindOverlapping(ctx, tx, exam.ID, target, start, start.Add(duration))
		if err != nil {
			return fmt.Errorf("failed to check overlapping runs: %w", err)
		}
		if len(overlapping) > 0 {
			return fmt.Errorf("%w: run %d", ErrAlreadyActive, overlapping[0].ID)
		}

		run, err = models.NewRun(exam.ID, target, req.DurationMinutes, start, !start.After(now), userID)
		if err != nil {
			return ErrInvalidTarget
		}
		if err := s.repo.Run().Create(ctx, tx, run); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Run created",
		"run_id", run.ID,
		"exam_id", run.ExamID,
		"status", run.Status,
		"start_at", run.StartAt,
		"end_at", run.EndAt)

	if activated {
		s.repo.Exam().InvalidateCache(ctx, exam.ID)
		events.SafePublish(ctx, s.publisher, s.logger, events.ExamActivated, events.ExamEvent{
			ExamID:   exam.ID,
			Kind:     string(exam.Kind),
			MaxScore: exam.MaxScore,
		})
	}
	events.SafePublish(ctx, s.publisher, s.logger, events.RunCreated, runEvent(run))

	return s.toResponse(run, now), nil
}

// Stop closes the run for fresh starts. Attempts already in progress keep
// their own deadline.
func (s *runService) Stop(ctx context.Context, runID uint, userID string) (*RunResponse, error) {
	now := s.now()
	var run *models.Run
	var stopped bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		run, err = loadRun(ctx, s.repo, tx, runID)
		if err != nil {
			return err
		}
		if err := s.authorizeRun(ctx, tx, run, userID, "stop"); err != nil {
			return err
		}

		switch run.EffectiveStatus(now) {
		case models.RunStopped:
			return nil
		case models.RunFinished:
			return fmt.Errorf("%w: run %d already finished", ErrInvalidStateTransition, run.ID)
		}

		stopped, err = s.repo.Run().TransitionStatus(ctx, tx, run.ID,
			[]models.RunStatus{models.RunScheduled, models.RunActive},
			models.RunStopped,
			map[string]interface{}{"stopped_at": now})
		if err != nil {
			return fmt.Errorf("failed to stop run: %w", err)
		}
		if !stopped {
			return fmt.Errorf("%w: run %d changed concurrently", ErrInvalidStateTransition, run.ID)
		}
		run.Status = models.RunStopped
		run.StoppedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stopped {
		s.logger.Info("Run stopped", "run_id", run.ID, "user_id", userID)
		events.SafePublish(ctx, s.publisher, s.logger, events.RunStopped, runEvent(run))
	}
	return s.toResponse(run, now), nil
}

func (s *runService) GetByID(ctx context.Context, runID uint, userID string) (*RunResponse, error) {
	run, err := loadRun(ctx, s.repo, nil, runID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRun(ctx, nil, run, userID, "view"); err != nil {
		return nil, err
	}

	now := s.now()
	s.refresh(ctx, run, now)
	return s.toResponse(run, now), nil
}

func (s *runService) List(ctx context.Context, filters repositories.RunFilters, userID string) (*RunListResponse, error) {
	if !isStaff(ctx, s.repo, userID) {
		return nil, NewPermissionError(userID, 0, "run", "list", "staff only")
	}

	runs, total, err := s.repo.Run().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	now := s.now()
	resp := &RunListResponse{
		Runs:   make([]*RunResponse, 0, len(runs)),
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}
	for _, run := range runs {
		s.refresh(ctx, run, now)
		resp.Runs = append(resp.Runs, s.toResponse(run, now))
	}
	return resp, nil
}

func (s *runService) ListAttempts(ctx context.Context, runID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	run, err := loadRun(ctx, s.repo, nil, runID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRun(ctx, nil, run, userID, "list_attempts"); err != nil {
		return nil, err
	}

	filters.RunID = &run.ID
	attempts, total, err := s.repo.Attempt().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	for _, a := range attempts {
		a.Blueprint = nil
	}

	return &AttemptListResponse{
		Attempts: attempts,
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}, nil
}

// Delete removes the run. Runs with attempts need force.
func (s *runService) Delete(ctx context.Context, runID uint, force bool, userID string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		run, err := loadRun(ctx, s.repo, tx, runID)
		if err != nil {
			return err
		}
		if err := s.authorizeRun(ctx, tx, run, userID, "delete"); err != nil {
			return err
		}

		count, err := s.repo.Attempt().CountByRun(ctx, tx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}
		if count > 0 && !force {
			return ErrHasAttemptsConflict
		}

		if err := s.repo.Attempt().DeleteByRuns(ctx, tx, []uint{run.ID}); err != nil {
			return fmt.Errorf("failed to delete attempts: %w", err)
		}
		return s.repo.Run().Delete(ctx, tx, run.ID)
	})
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrRunNotFound
		}
		return err
	}

	s.logger.Warn("Run deleted", "run_id", runID, "force", force, "user_id", userID)
	return nil
}

// RefreshStatuses persists the window transitions of runs whose stored
// status lags the clock.
func (s *runService) RefreshStatuses(ctx context.Context, limit int) (int, error) {
	now := s.now()
	runs, err := s.repo.Run().ListDueTransitions(ctx, nil, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due runs: %w", err)
	}

	changed := 0
	for _, run := range runs {
		if s.refresh(ctx, run, now) {
			changed++
		}
	}
	return changed, nil
}

// refresh stores the derived window status. Failures only cost a retry on
// the next read.
func (s *runService) refresh(ctx context.Context, run *models.Run, now time.Time) bool {
	next := run.EffectiveStatus(now)
	if next == run.Status {
		return false
	}

	ok, err := s.repo.Run().TransitionStatus(ctx, nil, run.ID, []models.RunStatus{run.Status}, next, nil)
	if err != nil {
		s.logger.Warn("Failed to refresh run status", "run_id", run.ID, "error", err)
		return false
	}
	run.Status = next
	if ok {
		observability.Swept().WithLabelValues("run_" + string(next)).Inc()
	}
	return ok
}

// authorizeRun allows staff of the exam, the targeted student and members
// of the targeted group to read. Changes need the exam owner.
func (s *runService) authorizeRun(ctx context.Context, tx *gorm.DB, run *models.Run, userID, action string) error {
	if action == "view" {
		if run.StudentID != nil && *run.StudentID == userID {
			return nil
		}
		if run.GroupID != nil {
			if ok, err := s.repo.User().IsGroupMember(ctx, *run.GroupID, userID); err == nil && ok {
				return nil
			}
		}
		if isStaff(ctx, s.repo, userID) {
			return nil
		}
		return NewPermissionError(userID, run.ID, "run", action, "not targeted by the run")
	}

	exam, err := loadExam(ctx, s.repo, tx, run.ExamID)
	if err != nil {
		return err
	}
	return authorizeExam(ctx, s.repo, exam, userID, action)
}

func (s *runService) toResponse(run *models.Run, now time.Time) *RunResponse {
	return &RunResponse{
		Run:           run,
		AcceptsStarts: run.AcceptsStarts(now),
	}
}

func runEvent(run *models.Run) events.RunEvent {
	return events.RunEvent{
		RunID:     run.ID,
		ExamID:    run.ExamID,
		GroupID:   run.GroupID,
		StudentID: run.StudentID,
		StartAt:   run.StartAt,
		EndAt:     run.EndAt,
		Status:    string(run.Status),
	}
}

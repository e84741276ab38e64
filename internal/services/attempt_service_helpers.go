package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/blueprint"
	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/observability"
	"github.com/SAP-F-2025/exam-attempt-service/internal/scoring"
)

// createAttempt inserts a fresh in-progress attempt, freezes its blueprint
// and bumps the run counter. The caller owns tx.
func (s *attemptService) createAttempt(ctx context.Context, tx *gorm.DB, run *models.Run, studentID string, duration time.Duration, now time.Time, restartedFrom *uint) (*models.Attempt, error) {
	exam, err := loadExam(ctx, s.repo, tx, run.ExamID)
	if err != nil {
		return nil, err
	}
	questions, err := s.repo.Exam().GetQuestions(ctx, tx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam questions: %w", err)
	}

	maxScore := exam.MaxScore
	if maxScore == 0 {
		maxScore = models.MaxScoreOf(questions)
	}

	expiresAt := now.Add(duration)
	attempt := &models.Attempt{
		RunID:         run.ID,
		ExamID:        exam.ID,
		StudentID:     studentID,
		Status:        models.AttemptInProgress,
		StartedAt:     timePtr(now),
		ExpiresAt:     &expiresAt,
		MaxScore:      maxScore,
		ScoringSet:    exam.ScoringSet,
		RestartedFrom: restartedFrom,
	}
	if err := s.repo.Attempt().Create(ctx, tx, attempt); err != nil {
		return nil, err
	}

	attempt.Seed = blueprint.SeedFor(attempt.ID)
	bp, err := blueprint.Build(questions, attempt.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build blueprint: %w", err)
	}
	data, err := blueprint.Encode(bp)
	if err != nil {
		return nil, err
	}
	attempt.Blueprint = data
	if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("failed to freeze blueprint: %w", err)
	}

	if err := s.repo.Run().IncrementAttemptCount(ctx, tx, run.ID); err != nil {
		return nil, fmt.Errorf("failed to count attempt: %w", err)
	}
	return attempt, nil
}

// finalize snapshots the stored answers, scores them once and moves the
// attempt to a terminal status. The caller holds the attempt row lock.
func (s *attemptService) finalize(ctx context.Context, tx *gorm.DB, attempt *models.Attempt, status models.AttemptStatus, finishedAt time.Time) error {
	exam, err := loadExam(ctx, s.repo, tx, attempt.ExamID)
	if err != nil {
		return err
	}
	questions, err := s.repo.Exam().GetQuestions(ctx, tx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("failed to get exam questions: %w", err)
	}
	answers, err := s.repo.Answer().ListByAttempt(ctx, tx, attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to snapshot answers: %w", err)
	}

	responses := make(map[string]scoring.Response, len(answers))
	for _, a := range answers {
		var r scoring.Response
		if a.SelectedOption != nil {
			r.SelectedOption = *a.SelectedOption
		}
		if a.TextAnswer != nil {
			r.Text = *a.TextAnswer
		}
		responses[a.SlotKey] = r
	}

	scorer := scoring.New(scoring.WithNumericEpsilon(exam.NumericEpsilon), scoring.WithLogger(s.logger))
	summary, err := scorer.ScoreAll(ctx, questions, responses)
	if err != nil {
		return err
	}

	for i := range answers {
		res := summary.Slots[answers[i].SlotKey]
		answers[i].AutoPoints = res.Points
		answers[i].NeedsManualGrading = res.NeedsManual
		if err := s.repo.Answer().UpdateScoring(ctx, tx, &answers[i]); err != nil {
			return fmt.Errorf("failed to store answer score: %w", err)
		}
	}

	maxScore := attempt.MaxScore
	if maxScore == 0 {
		maxScore = summary.MaxScore
	}

	ok, err := s.repo.Attempt().TransitionStatus(ctx, tx, attempt.ID, models.AttemptInProgress, status, map[string]interface{}{
		"finished_at": finishedAt,
		"auto_score":  summary.AutoScore,
		"max_score":   maxScore,
	})
	if err != nil {
		return fmt.Errorf("failed to finish attempt: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: attempt %d is no longer in progress", ErrInvalidStateTransition, attempt.ID)
	}

	attempt.Status = status
	attempt.FinishedAt = timePtr(finishedAt)
	attempt.AutoScore = summary.AutoScore
	attempt.MaxScore = maxScore
	return nil
}

// expire finalizes an overdue attempt at its deadline. It reports false
// when another caller got there first.
func (s *attemptService) expire(ctx context.Context, attemptID uint) (bool, error) {
	var attempt *models.Attempt
	expired := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		attempt, err = lockAttempt(ctx, s.repo, tx, attemptID)
		if err != nil {
			return err
		}
		if !attempt.IsOverdue(s.now()) {
			return nil
		}
		if err := s.finalize(ctx, tx, attempt, models.AttemptExpired, *attempt.ExpiresAt); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	s.afterFinish(ctx, attempt)
	return true, nil
}

// afterFinish records the terminal transition outside the transaction.
func (s *attemptService) afterFinish(ctx context.Context, attempt *models.Attempt) {
	outcome := "submitted"
	eventType := events.AttemptSubmitted
	if attempt.Status == models.AttemptExpired {
		outcome = "expired"
		eventType = events.AttemptExpired
	}

	observability.AttemptsFinished().WithLabelValues(outcome).Inc()
	observability.ObserveAutoScore(attempt.AutoScore, attempt.MaxScore)

	s.logger.Info("Attempt finished",
		"attempt_id", attempt.ID,
		"status", attempt.Status,
		"auto_score", attempt.AutoScore,
		"max_score", attempt.MaxScore)

	events.SafePublish(ctx, s.publisher, s.logger, eventType, attemptEvent(attempt))
}

func (s *attemptService) detail(ctx context.Context, attempt *models.Attempt) (*AttemptResponse, error) {
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

// checkTarget verifies the student is the run's student or in its group.
func (s *attemptService) checkTarget(ctx context.Context, run *models.Run, studentID string) error {
	if run.StudentID != nil {
		if *run.StudentID == studentID {
			return nil
		}
		return NewPermissionError(studentID, run.ID, "run", "start", "run targets another student")
	}

	if run.GroupID == nil {
		return ErrInvalidTarget
	}
	member, err := s.repo.User().IsGroupMember(ctx, *run.GroupID, studentID)
	if err != nil {
		return fmt.Errorf("failed to check group membership: %w", err)
	}
	if !member {
		return NewPermissionError(studentID, run.ID, "run", "start", "not a member of the run's group")
	}
	return nil
}

func attemptEvent(a *models.Attempt) events.AttemptEvent {
	ev := events.AttemptEvent{
		AttemptID:   a.ID,
		RunID:       a.RunID,
		ExamID:      a.ExamID,
		StudentID:   a.StudentID,
		Status:      string(a.Status),
		AutoScore:   a.AutoScore,
		MaxScore:    a.MaxScore,
		FinalScore:  a.FinalScore,
		IsPublished: a.IsPublished,
		ExpiresAt:   a.ExpiresAt,
		PreviousID:  a.RestartedFrom,
	}
	if a.ArchiveReason != nil {
		ev.Reason = *a.ArchiveReason
	}
	return ev
}

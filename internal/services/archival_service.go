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
)

const archiveBatchSize = 500

type archivalService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	publisher events.EventPublisher
	now       Clock
}

func NewArchivalService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, publisher events.EventPublisher, clock Clock) ArchivalService {
	return &archivalService{
		repo:      repo,
		db:        db,
		logger:    logger,
		publisher: publisher,
		now:       clock.orSystem(),
	}
}

// ArchiveStale archives attempts that never started and are older than
// the cutoff.
func (s *archivalService) ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	stale, err := s.repo.Attempt().ListStale(ctx, nil, models.AttemptNotStarted, now.Add(-olderThan), archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale attempts: %w", err)
	}

	archived := 0
	for _, a := range stale {
		if err := s.archive(ctx, a, models.ArchiveReasonStale, now); err != nil {
			s.logger.Error("Failed to archive stale attempt", "attempt_id", a.ID, "error", err)
			continue
		}
		archived++
	}
	return archived, nil
}

// ArchiveDuplicates keeps one attempt per (run, student) and archives the
// rest. Grading data on archived rows is kept.
func (s *archivalService) ArchiveDuplicates(ctx context.Context) (int, error) {
	keys, err := s.repo.Attempt().FindDuplicates(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to find duplicate attempts: %w", err)
	}

	now := s.now()
	archived := 0
	for _, key := range keys {
		attempts, err := s.repo.Attempt().ListByRunAndStudent(ctx, nil, key.RunID, key.StudentID)
		if err != nil {
			return archived, fmt.Errorf("failed to list attempts of run %d: %w", key.RunID, err)
		}
		keep := bestAttempt(attempts)
		for _, a := range attempts {
			if a.ID == keep.ID || a.Archived {
				continue
			}
			if err := s.archive(ctx, a, models.ArchiveReasonDuplicate, now); err != nil {
				s.logger.Error("Failed to archive duplicate attempt", "attempt_id", a.ID, "error", err)
				continue
			}
			archived++
		}
		s.logger.Info("Resolved duplicate attempts", "run_id", key.RunID, "student_id", key.StudentID, "kept_attempt_id", keep.ID)
	}
	return archived, nil
}

func (s *archivalService) Run(ctx context.Context, olderThan time.Duration) (*ArchiveReport, error) {
	dups, err := s.ArchiveDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	stale, err := s.ArchiveStale(ctx, olderThan)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Archival finished", "stale", stale, "duplicates", dups)
	return &ArchiveReport{Stale: stale, Duplicates: dups}, nil
}

func (s *archivalService) archive(ctx context.Context, a *models.Attempt, reason string, now time.Time) error {
	if err := s.repo.Attempt().Archive(ctx, nil, a.ID, reason, now); err != nil {
		return err
	}
	a.Archived = true
	a.ArchivedAt = timePtr(now)
	a.ArchiveReason = stringPtr(reason)

	observability.Swept().WithLabelValues("attempt_" + reason).Inc()
	events.SafePublish(ctx, s.publisher, s.logger, events.AttemptArchived, attemptEvent(a))
	return nil
}

// bestAttempt prefers graded, then finished, then in-progress attempts and
// breaks ties by the latest id.
func bestAttempt(attempts []*models.Attempt) *models.Attempt {
	var best *models.Attempt
	for _, a := range attempts {
		if a.Archived {
			continue
		}
		if best == nil || attemptRank(a) > attemptRank(best) ||
			(attemptRank(a) == attemptRank(best) && a.ID > best.ID) {
			best = a
		}
	}
	return best
}

func attemptRank(a *models.Attempt) int {
	switch {
	case a.IsGraded():
		return 3
	case a.Status.IsTerminal():
		return 2
	case a.Status == models.AttemptInProgress:
		return 1
	}
	return 0
}

// ExpirySweeper periodically expires overdue attempts and moves runs to the
// status their window implies.
type ExpirySweeper struct {
	attempts AttemptService
	runs     RunService
	interval time.Duration
	logger   *slog.Logger
}

func NewExpirySweeper(attempts AttemptService, runs RunService, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		attempts: attempts,
		runs:     runs,
		interval: interval,
		logger:   logger,
	}
}

func (w *ExpirySweeper) SweepOnce(ctx context.Context) (*SweepReport, error) {
	expired, err := w.attempts.ExpireOverdue(ctx, archiveBatchSize)
	if err != nil {
		return nil, err
	}
	transitions, err := w.runs.RefreshStatuses(ctx, archiveBatchSize)
	if err != nil {
		return nil, err
	}
	return &SweepReport{ExpiredAttempts: expired, RunTransitions: transitions}, nil
}

// Start blocks until ctx is cancelled.
func (w *ExpirySweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Expiry sweeper started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			report, err := w.SweepOnce(ctx)
			if err != nil {
				w.logger.Error("Sweep failed", "error", err)
				continue
			}
			if report.ExpiredAttempts > 0 || report.RunTransitions > 0 {
				w.logger.Info("Sweep finished", "expired_attempts", report.ExpiredAttempts, "run_transitions", report.RunTransitions)
			}
		}
	}
}

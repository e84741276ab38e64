package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

func TestArchivalService_ArchiveStale(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	old := &models.Attempt{
		RunID:      run.ID,
		ExamID:     exam.ID,
		StudentID:  "s1",
		Status:     models.AttemptNotStarted,
		ScoringSet: exam.ScoringSet,
		CreatedAt:  f.clock.Now().Add(-48 * time.Hour),
	}
	recent := &models.Attempt{
		RunID:      run.ID,
		ExamID:     exam.ID,
		StudentID:  "s2",
		Status:     models.AttemptNotStarted,
		ScoringSet: exam.ScoringSet,
		CreatedAt:  f.clock.Now().Add(-time.Hour),
	}
	require.NoError(t, f.repo.Attempt().Create(f.ctx, nil, old))
	require.NoError(t, f.repo.Attempt().Create(f.ctx, nil, recent))

	report, err := f.archival.Run(f.ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stale)
	assert.Zero(t, report.Duplicates)

	stored, err := f.repo.Attempt().GetByID(f.ctx, nil, old.ID)
	require.NoError(t, err)
	assert.True(t, stored.Archived)
	assert.Equal(t, models.ArchiveReasonStale, *stored.ArchiveReason)

	stored, err = f.repo.Attempt().GetByID(f.ctx, nil, recent.ID)
	require.NoError(t, err)
	assert.False(t, stored.Archived)

	assert.Len(t, f.publisher.EventsOfType(events.AttemptArchived), 1)
}

func TestBestAttempt(t *testing.T) {
	final := 5.0
	manual := 1.0

	tests := []struct {
		name     string
		attempts []*models.Attempt
		want     uint
	}{
		{
			name: "graded beats newer",
			attempts: []*models.Attempt{
				{ID: 1, Status: models.AttemptSubmitted, ManualScore: &manual, FinalScore: &final},
				{ID: 2, Status: models.AttemptSubmitted},
				{ID: 3, Status: models.AttemptInProgress},
			},
			want: 1,
		},
		{
			name: "finished beats in progress",
			attempts: []*models.Attempt{
				{ID: 4, Status: models.AttemptInProgress},
				{ID: 5, Status: models.AttemptExpired},
			},
			want: 5,
		},
		{
			name: "latest id breaks ties",
			attempts: []*models.Attempt{
				{ID: 6, Status: models.AttemptInProgress},
				{ID: 7, Status: models.AttemptInProgress},
			},
			want: 7,
		},
		{
			name: "archived rows never win",
			attempts: []*models.Attempt{
				{ID: 8, Status: models.AttemptSubmitted, Archived: true, ManualScore: &manual, FinalScore: &final},
				{ID: 9, Status: models.AttemptNotStarted},
			},
			want: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bestAttempt(tt.attempts).ID)
		})
	}
}

func TestExpirySweeper_SweepOnce(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 5)

	_, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)

	sweeper := NewExpirySweeper(f.attempts, f.runs, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := sweeper.SweepOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ExpiredAttempts)
	assert.Zero(t, report.RunTransitions)

	f.clock.Advance(6 * time.Minute)
	report, err = sweeper.SweepOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiredAttempts)
	assert.Equal(t, 1, report.RunTransitions)
}

func TestExpirySweeper_StartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	sweeper := NewExpirySweeper(f.attempts, f.runs, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestExportService_RunResults(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	for _, s := range []string{"s1", "s2"} {
		started, err := f.attempts.Start(f.ctx, run.ID, s)
		require.NoError(t, err)
		_, err = f.attempts.Submit(f.ctx, started.ID, nil, s)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.ErrorIs(t, f.export.RunResults(f.ctx, run.ID, otherTeac, &buf), ErrForbidden)
	require.NoError(t, f.export.RunResults(f.ctx, run.ID, teacherID, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Student ID", rows[0][1])
	assert.Equal(t, "s1", rows[1][1])
	assert.Equal(t, "Student One", rows[1][2])
	assert.Equal(t, string(models.AttemptSubmitted), rows[1][3])
}

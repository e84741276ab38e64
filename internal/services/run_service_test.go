package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

func TestRunService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	group := group10A
	student := "s3"
	past := f.clock.Now().Add(-2 * time.Hour)

	tests := []struct {
		name    string
		req     CreateRunRequest
		userID  string
		wantErr error
	}{
		{
			name:    "both targets",
			req:     CreateRunRequest{ExamID: exam.ID, GroupID: &group, StudentID: &student, DurationMinutes: 30, StartNow: true},
			userID:  teacherID,
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "no target",
			req:     CreateRunRequest{ExamID: exam.ID, DurationMinutes: 30, StartNow: true},
			userID:  teacherID,
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "window already over",
			req:     CreateRunRequest{ExamID: exam.ID, StudentID: &student, DurationMinutes: 30, StartAt: &past},
			userID:  teacherID,
			wantErr: ErrValidationFailed,
		},
		{
			name:    "not the exam owner",
			req:     CreateRunRequest{ExamID: exam.ID, StudentID: &student, DurationMinutes: 30, StartNow: true},
			userID:  otherTeac,
			wantErr: ErrForbidden,
		},
		{
			name:    "missing exam",
			req:     CreateRunRequest{ExamID: 777, StudentID: &student, DurationMinutes: 30, StartNow: true},
			userID:  teacherID,
			wantErr: ErrExamNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.runs.Create(f.ctx, &tt.req, tt.userID)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRunService_CreateActivatesExamAndRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)

	run := f.openRun(t, exam.ID, 30)
	assert.Equal(t, models.RunActive, run.Status)
	assert.True(t, run.AcceptsStarts)
	assert.True(t, run.EndAt.Equal(run.StartAt.Add(30*time.Minute)))

	reloaded, err := f.repo.Exam().GetByID(f.ctx, nil, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExamActive, reloaded.Status)

	group := group10A
	_, err = f.runs.Create(f.ctx, &CreateRunRequest{ExamID: exam.ID, GroupID: &group, DurationMinutes: 10, StartNow: true}, teacherID)
	require.ErrorIs(t, err, ErrAlreadyActive)

	other := "10B"
	_, err = f.runs.Create(f.ctx, &CreateRunRequest{ExamID: exam.ID, GroupID: &other, DurationMinutes: 10, StartNow: true}, teacherID)
	require.NoError(t, err)

	assert.Len(t, f.publisher.EventsOfType(events.RunCreated), 2)
	assert.Len(t, f.publisher.EventsOfType(events.ExamActivated), 1)
}

func TestRunService_ScheduledRunOpensLazily(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)

	student := "s1"
	start := f.clock.Now().Add(time.Hour)
	run, err := f.runs.Create(f.ctx, &CreateRunRequest{ExamID: exam.ID, StudentID: &student, DurationMinutes: 45, StartAt: &start}, teacherID)
	require.NoError(t, err)
	assert.Equal(t, models.RunScheduled, run.Status)

	_, err = f.attempts.Start(f.ctx, run.ID, "s1")
	require.ErrorIs(t, err, ErrRunNotActive)

	f.clock.Advance(time.Hour)
	got, err := f.runs.GetByID(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.RunActive, got.Status)
	assert.True(t, got.AcceptsStarts)

	_, err = f.runs.GetByID(f.ctx, run.ID, "s2")
	require.ErrorIs(t, err, ErrForbidden)

	f.clock.Advance(46 * time.Minute)
	changed, err := f.runs.RefreshStatuses(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	stored, err := f.repo.Run().GetByID(f.ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFinished, stored.Status)
}

func TestRunService_Stop(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)

	stopped, err := f.runs.Stop(f.ctx, run.ID, teacherID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStopped, stopped.Status)
	assert.False(t, stopped.AcceptsStarts)

	again, err := f.runs.Stop(f.ctx, run.ID, teacherID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStopped, again.Status)
	assert.Len(t, f.publisher.EventsOfType(events.RunStopped), 1)

	_, err = f.attempts.Start(f.ctx, run.ID, "s2")
	require.ErrorIs(t, err, ErrRunNotActive)

	resumed, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, started.ID, resumed.ID)
}

func TestRunService_ListAttemptsAndDelete(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	for _, s := range []string{"s1", "s2"} {
		_, err := f.attempts.Start(f.ctx, run.ID, s)
		require.NoError(t, err)
	}

	list, err := f.runs.ListAttempts(f.ctx, run.ID, repositories.AttemptFilters{Limit: 10}, teacherID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, list.Total)
	for _, a := range list.Attempts {
		assert.Nil(t, a.Blueprint)
	}

	_, err = f.runs.ListAttempts(f.ctx, run.ID, repositories.AttemptFilters{}, "s1")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.runs.List(f.ctx, repositories.RunFilters{}, "s1")
	require.ErrorIs(t, err, ErrForbidden)

	require.ErrorIs(t, f.runs.Delete(f.ctx, run.ID, false, teacherID), ErrHasAttemptsConflict)
	require.NoError(t, f.runs.Delete(f.ctx, run.ID, true, teacherID))

	_, err = f.runs.GetByID(f.ctx, run.ID, teacherID)
	require.ErrorIs(t, err, ErrRunNotFound)
}

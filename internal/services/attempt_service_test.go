package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

func TestAttemptService_StartSaveSubmit(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	require.Equal(t, models.AttemptInProgress, started.Status)
	require.False(t, started.Resumed)
	require.Len(t, started.Items, 15)
	require.EqualValues(t, 30*60, started.RemainingSeconds)
	require.Nil(t, started.Blueprint, "raw blueprint stays server side")

	mc := slotOfType(t, started.Items, models.CategoryClosed)
	open := slotOfType(t, started.Items, models.CategoryOpen)

	_, err = f.answers.SaveAnswer(f.ctx, started.ID, &SaveAnswerRequest{
		SlotKey:        mc.SlotKey,
		OptionPosition: ptr(positionOf(mc, "B")),
	}, "s1")
	require.NoError(t, err)

	submitted, err := f.attempts.Submit(f.ctx, started.ID, &SubmitRequest{
		Answers: []SaveAnswerRequest{{SlotKey: open.SlotKey, TextAnswer: ptr(" 42 ")}},
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSubmitted, submitted.Status)
	assert.False(t, submitted.AlreadySubmitted)
	assert.InDelta(t, 3.0, submitted.AutoScore, 1e-9)
	assert.InDelta(t, 18.0, submitted.MaxScore, 1e-9)
	assert.Nil(t, submitted.FinalScore)
	require.NotNil(t, submitted.FinishedAt)
	assert.True(t, submitted.FinishedAt.Equal(f.clock.Now()))

	again, err := f.attempts.Submit(f.ctx, started.ID, &SubmitRequest{
		Answers: []SaveAnswerRequest{{SlotKey: mc.SlotKey, SelectedOption: ptr("C")}},
	}, "s1")
	require.NoError(t, err)
	assert.True(t, again.AlreadySubmitted)
	assert.Equal(t, submitted.AutoScore, again.AutoScore)
	assert.Equal(t, submitted.ID, again.ID)

	count, err := f.repo.Attempt().CountByRun(f.ctx, nil, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	assert.Len(t, f.publisher.EventsOfType(events.AttemptStarted), 1)
	assert.Len(t, f.publisher.EventsOfType(events.AttemptSubmitted), 1)
}

func TestAttemptService_StartResumesCurrentAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	first, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	second, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Items, second.Items, "blueprint is frozen")
	assert.EqualValues(t, 25*60, second.RemainingSeconds)

	reloaded, err := f.repo.Run().GetByID(f.ctx, nil, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reloaded.AttemptCount)
}

func TestAttemptService_StartChecksTargetAndWindow(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	_, err := f.attempts.Start(f.ctx, run.ID, "s3")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.attempts.Start(f.ctx, 9999, "s1")
	require.ErrorIs(t, err, ErrRunNotFound)

	f.clock.Advance(31 * time.Minute)
	_, err = f.attempts.Start(f.ctx, run.ID, "s2")
	require.ErrorIs(t, err, ErrRunNotActive)
}

func TestAttemptService_ConcurrentStartsShareOneAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	const workers = 6
	ids := make(chan uint, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.attempts.Start(f.ctx, run.ID, "s1")
			if err != nil {
				errs <- err
				return
			}
			ids <- resp.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var first uint
	for id := range ids {
		if first == 0 {
			first = id
		}
		require.Equal(t, first, id)
	}

	count, err := f.repo.Attempt().CountByRun(f.ctx, nil, run.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestAttemptService_LateSubmitExpiresWithSavedAnswers(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 1)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	mc := slotOfType(t, started.Items, models.CategoryClosed)

	_, err = f.answers.SaveAnswer(f.ctx, started.ID, &SaveAnswerRequest{SlotKey: mc.SlotKey, SelectedOption: ptr("B")}, "s1")
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)

	resp, err := f.attempts.Submit(f.ctx, started.ID, &SubmitRequest{
		Answers: []SaveAnswerRequest{{SlotKey: mc.SlotKey, SelectedOption: ptr("C")}},
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptExpired, resp.Status)
	assert.InDelta(t, 1.0, resp.AutoScore, 1e-9, "late payload is ignored")
	require.NotNil(t, resp.FinishedAt)
	assert.True(t, resp.FinishedAt.Equal(*resp.ExpiresAt))
	assert.EqualValues(t, 0, resp.RemainingSeconds)

	_, err = f.answers.SaveAnswer(f.ctx, started.ID, &SaveAnswerRequest{SlotKey: mc.SlotKey, SelectedOption: ptr("A")}, "s1")
	require.ErrorIs(t, err, ErrAttemptClosed)

	_, err = f.attempts.Start(f.ctx, run.ID, "s1")
	require.ErrorIs(t, err, ErrAlreadySubmitted)

	assert.Len(t, f.publisher.EventsOfType(events.AttemptExpired), 1)
}

func TestAttemptService_ExpiryIsMonotonic(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 1)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	for i := 0; i < 3; i++ {
		got, err := f.attempts.GetByID(f.ctx, started.ID, "s1")
		require.NoError(t, err)
		require.Equal(t, models.AttemptExpired, got.Status)
	}

	resp, err := f.attempts.Submit(f.ctx, started.ID, nil, "s1")
	require.NoError(t, err)
	assert.True(t, resp.AlreadySubmitted)
	assert.Equal(t, models.AttemptExpired, resp.Status)

	expired, err := f.attempts.ExpireOverdue(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestAttemptService_ExpireOverdue(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 10)

	for _, student := range []string{"s1", "s2"} {
		_, err := f.attempts.Start(f.ctx, run.ID, student)
		require.NoError(t, err)
	}

	expired, err := f.attempts.ExpireOverdue(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	f.clock.Advance(11 * time.Minute)
	expired, err = f.attempts.ExpireOverdue(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	status := models.AttemptExpired
	list, total, err := f.repo.Attempt().List(f.ctx, nil, repositories.AttemptFilters{RunID: &run.ID, Status: &status})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, a := range list {
		assert.True(t, a.FinishedAt.Equal(*a.ExpiresAt))
	}
}

func TestAttemptService_GetByIDPermissions(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)

	_, err = f.attempts.GetByID(f.ctx, started.ID, "s2")
	require.ErrorIs(t, err, ErrForbidden)

	staff, err := f.attempts.GetByID(f.ctx, started.ID, teacherID)
	require.NoError(t, err)
	assert.Equal(t, started.ID, staff.ID)

	_, err = f.attempts.GetByID(f.ctx, 4242, "s1")
	require.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestAttemptService_Restart(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 5)

	old, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	_, err = f.attempts.Restart(f.ctx, old.ID, &RestartRequest{DurationMinutes: 10}, otherTeac)
	require.ErrorIs(t, err, ErrForbidden)

	fresh, err := f.attempts.Restart(f.ctx, old.ID, &RestartRequest{DurationMinutes: 10}, teacherID)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, models.AttemptInProgress, fresh.Status)
	require.NotNil(t, fresh.RestartedFrom)
	assert.Equal(t, old.ID, *fresh.RestartedFrom)
	assert.True(t, fresh.ExpiresAt.Equal(f.clock.Now().Add(10*time.Minute)))
	assert.Empty(t, fresh.Answers)

	archived, err := f.repo.Attempt().GetByID(f.ctx, nil, old.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	require.NotNil(t, archived.ArchiveReason)
	assert.Equal(t, models.ArchiveReasonRestart, *archived.ArchiveReason)
	assert.Equal(t, models.AttemptExpired, archived.Status, "overdue attempt is scored before archiving")
	require.NotNil(t, archived.FinishedAt)
	assert.True(t, archived.FinishedAt.Equal(*old.ExpiresAt))
	assert.Len(t, f.publisher.EventsOfType(events.AttemptExpired), 1)

	// The student resumes the restarted attempt even though the run window closed.
	resumed, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, resumed.ID)
	assert.True(t, resumed.Resumed)

	_, err = f.attempts.Submit(f.ctx, fresh.ID, nil, "s1")
	require.NoError(t, err)
	_, err = f.attempts.Restart(f.ctx, fresh.ID, nil, teacherID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestAttemptService_BrokenAnswerKeyStillFinishes(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	// a key that slipped in before keys were checked
	require.NoError(t, f.db.Model(&models.ExamQuestion{}).
		Where("exam_id = ? AND type = ?", exam.ID, models.OpenSingleValue).
		Updates(map[string]interface{}{"rule_type": models.RuleNumericEqual, "correct_answer": "abc"}).Error)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	open := slotOfType(t, started.Items, models.CategoryOpen)

	submitted, err := f.attempts.Submit(f.ctx, started.ID, &SubmitRequest{
		Answers: []SaveAnswerRequest{{SlotKey: open.SlotKey, TextAnswer: ptr("5")}},
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSubmitted, submitted.Status)
	assert.InDelta(t, 0.0, submitted.AutoScore, 1e-9)

	answers, err := f.repo.Answer().ListByAttempt(f.ctx, nil, started.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].NeedsManualGrading)

	second, err := f.attempts.Start(f.ctx, run.ID, "s2")
	require.NoError(t, err)
	_, err = f.answers.SaveAnswer(f.ctx, second.ID, &SaveAnswerRequest{SlotKey: open.SlotKey, TextAnswer: ptr("5")}, "s2")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	expired, err := f.attempts.GetByID(f.ctx, second.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptExpired, expired.Status)
}

func TestAttemptService_ConcurrentSubmitsAgree(t *testing.T) {
	f := newFixture(t)
	exam := f.seedQuiz(t)
	run := f.openRun(t, exam.ID, 30)

	started, err := f.attempts.Start(f.ctx, run.ID, "s1")
	require.NoError(t, err)
	mc := slotOfType(t, started.Items, models.CategoryClosed)
	_, err = f.answers.SaveAnswer(f.ctx, started.ID, &SaveAnswerRequest{SlotKey: mc.SlotKey, SelectedOption: ptr("B")}, "s1")
	require.NoError(t, err)

	results := make([]*AttemptResponse, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.attempts.Submit(f.ctx, started.ID, nil, "s1")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].AutoScore, results[1].AutoScore)
	assert.InDelta(t, 1.0, results[0].AutoScore, 1e-9)
	assert.NotEqual(t, results[0].AlreadySubmitted, results[1].AlreadySubmitted, "exactly one call performs the submit")

	count, err := f.repo.Attempt().CountByRun(f.ctx, nil, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

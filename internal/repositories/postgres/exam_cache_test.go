package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/testutil"
)

func newCachedExams(t *testing.T) (*ExamPostgreSQL, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := testutil.NewTestDB(t)
	return NewExamPostgreSQL(db, client).(*ExamPostgreSQL), db, mr
}

func TestExamRepository_TxWritesLeaveCacheUntilCommit(t *testing.T) {
	exams, db, mr := newCachedExams(t)
	ctx := context.Background()

	exam := &models.Exam{
		Title:      "Algebra",
		Kind:       models.ExamKindQuiz,
		Source:     models.ExamSourceBank,
		ScoringSet: models.ScoringSet2,
		Status:     models.ExamDraft,
		CreatedBy:  "t1",
	}
	require.NoError(t, exams.Create(ctx, nil, exam))
	examKey := fmt.Sprintf("exam:id:%d", exam.ID)
	questionsKey := fmt.Sprintf("questions:exam:%d", exam.ID)

	_, err := exams.GetByID(ctx, nil, exam.ID)
	require.NoError(t, err)
	_, err = exams.GetQuestions(ctx, nil, exam.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(examKey))
	require.True(t, mr.Exists(questionsKey))

	err = db.Transaction(func(tx *gorm.DB) error {
		exam.Title = "Geometry"
		if err := exams.Update(ctx, tx, exam); err != nil {
			return err
		}
		if err := exams.AddQuestions(ctx, tx, exam.ID, testutil.QuestionSet(1, 0, 0)); err != nil {
			return err
		}
		assert.True(t, mr.Exists(examKey), "uncommitted update must not touch the cache")
		assert.True(t, mr.Exists(questionsKey), "uncommitted questions must not touch the cache")
		return nil
	})
	require.NoError(t, err)

	exams.InvalidateCache(ctx, exam.ID)
	assert.False(t, mr.Exists(examKey))
	assert.False(t, mr.Exists(questionsKey))

	got, err := exams.GetByID(ctx, nil, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Geometry", got.Title)
	questions, err := exams.GetQuestions(ctx, nil, exam.ID)
	require.NoError(t, err)
	assert.Len(t, questions, 1)
}

func TestExamRepository_RolledBackWriteKeepsCache(t *testing.T) {
	exams, db, mr := newCachedExams(t)
	ctx := context.Background()

	exam := &models.Exam{
		Title:      "Algebra",
		Kind:       models.ExamKindQuiz,
		Source:     models.ExamSourceBank,
		ScoringSet: models.ScoringSet2,
		Status:     models.ExamDraft,
		CreatedBy:  "t1",
	}
	require.NoError(t, exams.Create(ctx, nil, exam))
	_, err := exams.GetByID(ctx, nil, exam.ID)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		changed := *exam
		changed.Title = "Geometry"
		require.NoError(t, exams.Update(ctx, tx, &changed))
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	require.True(t, mr.Exists(fmt.Sprintf("exam:id:%d", exam.ID)))
	got, err := exams.GetByID(ctx, nil, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Algebra", got.Title)
}

func TestExamRepository_DirectWriteInvalidates(t *testing.T) {
	exams, _, mr := newCachedExams(t)
	ctx := context.Background()

	exam := &models.Exam{
		Title:      "Algebra",
		Kind:       models.ExamKindQuiz,
		Source:     models.ExamSourceBank,
		ScoringSet: models.ScoringSet2,
		Status:     models.ExamDraft,
		CreatedBy:  "t1",
	}
	require.NoError(t, exams.Create(ctx, nil, exam))
	_, err := exams.GetByID(ctx, nil, exam.ID)
	require.NoError(t, err)

	exam.Title = "Geometry"
	require.NoError(t, exams.Update(ctx, nil, exam))
	assert.False(t, mr.Exists(fmt.Sprintf("exam:id:%d", exam.ID)))
}

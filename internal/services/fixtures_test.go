package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-attempt-service/internal/storage"
	"github.com/SAP-F-2025/exam-attempt-service/internal/testutil"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

const (
	teacherID = "teacher-1"
	otherTeac = "teacher-2"
	adminID   = "admin-1"
	group10A  = "10A"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx       context.Context
	db        *gorm.DB
	repo      repositories.Repository
	clock     *testClock
	publisher *events.MockEventPublisher
	blobs     *storage.FSStore

	exams    ExamService
	runs     RunService
	attempts AttemptService
	answers  AnswerService
	grading  GradingService
	archival ArchivalService
	export   ExportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.NewTestDB(t)
	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db, Users: testutil.SchoolRoster()})
	v := validator.New()
	clock := &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	publisher := events.NewMockEventPublisher(logger)
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	exams, err := NewExamService(repo, db, logger, v, blobs, publisher)
	require.NoError(t, err)
	attempts := NewAttemptService(repo, db, logger, v, publisher, clock.Now)

	return &fixture{
		ctx:       context.Background(),
		db:        db,
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		blobs:     blobs,
		exams:     exams,
		runs:      NewRunService(repo, db, logger, v, publisher, clock.Now),
		attempts:  attempts,
		answers:   NewAnswerService(repo, db, logger, v, blobs, clock.Now),
		grading:   NewGradingService(db, repo, logger, v, publisher, attempts, clock.Now),
		archival:  NewArchivalService(repo, db, logger, publisher, clock.Now),
		export:    NewExportService(repo, logger),
	}
}

// seedExam stores a draft exam with the given question counts.
func (f *fixture) seedExam(t *testing.T, kind models.ExamKind, set models.ScoringSet, closed, open, situation int) *models.Exam {
	t.Helper()

	exam := &models.Exam{
		Title:      "Seeded " + string(kind),
		Kind:       kind,
		Source:     models.ExamSourceBank,
		ScoringSet: set,
		Status:     models.ExamDraft,
		CreatedBy:  teacherID,
	}
	require.NoError(t, f.repo.Exam().Create(f.ctx, nil, exam))
	require.NoError(t, f.repo.Exam().AddQuestions(f.ctx, nil, exam.ID, testutil.QuestionSet(closed, open, situation)))
	return exam
}

func (f *fixture) seedQuiz(t *testing.T) *models.Exam {
	return f.seedExam(t, models.ExamKindQuiz, models.ScoringSet2, 12, 3, 0)
}

func (f *fixture) openRun(t *testing.T, examID uint, minutes int) *RunResponse {
	t.Helper()

	group := group10A
	run, err := f.runs.Create(f.ctx, &CreateRunRequest{
		ExamID:          examID,
		GroupID:         &group,
		DurationMinutes: minutes,
		StartNow:        true,
	}, teacherID)
	require.NoError(t, err)
	return run
}

// slotOfType returns the first blueprint item of the given category.
func slotOfType(t *testing.T, items []models.BlueprintItem, category models.QuestionCategory) models.BlueprintItem {
	t.Helper()
	for _, it := range items {
		if it.Type.Category() == category {
			return it
		}
	}
	t.Fatalf("no %s item in blueprint", category)
	return models.BlueprintItem{}
}

func positionOf(item models.BlueprintItem, key string) int {
	for i, k := range item.OptionOrder {
		if k == key {
			return i
		}
	}
	return -1
}

func ptr[T any](v T) *T {
	return &v
}

// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/pkg"
)

// NewTestDB opens an isolated in-memory sqlite database with the engine
// schema migrated. A single connection keeps transactions serialized.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := pkg.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// QuestionSet builds a question list with the given category counts. MC
// questions have options A-D with B correct, open questions expect "42"
// under EXACT_MATCH, situations weigh 3 points each.
func QuestionSet(closed, open, situation int) []*models.ExamQuestion {
	questions := make([]*models.ExamQuestion, 0, closed+open+situation)
	number := 1

	for i := 0; i < closed; i++ {
		q := &models.ExamQuestion{
			Number:        number,
			Type:          models.MultipleChoice,
			Prompt:        fmt.Sprintf("closed %d", i+1),
			CorrectAnswer: "B",
			Points:        1,
		}
		_ = q.SetOptions([]models.QuestionOption{
			{Key: "A", Text: "alpha"},
			{Key: "B", Text: "beta"},
			{Key: "C", Text: "gamma"},
			{Key: "D", Text: "delta"},
		})
		questions = append(questions, q)
		number++
	}

	for i := 0; i < open; i++ {
		questions = append(questions, &models.ExamQuestion{
			Number:        number,
			Type:          models.OpenSingleValue,
			Prompt:        fmt.Sprintf("open %d", i+1),
			CorrectAnswer: "42",
			RuleType:      models.RuleExactMatch,
			Points:        2,
		})
		number++
	}

	for i := 0; i < situation; i++ {
		idx := i + 1
		questions = append(questions, &models.ExamQuestion{
			Number:         number,
			Type:           models.Situation,
			Prompt:         fmt.Sprintf("situation %d", idx),
			Points:         3,
			SituationIndex: &idx,
		})
		number++
	}
	return questions
}

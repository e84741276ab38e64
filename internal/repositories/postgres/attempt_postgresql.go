package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

// Attempts are never cached: every read must observe the lazily refreshed
// status.
type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	return getDB(a.db, tx).WithContext(ctx).Omit("Answers").Create(attempt).Error
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := getDB(a.db, tx).WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get attempt %d: %w", id, err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	db := lockForUpdate(getDB(a.db, tx).WithContext(ctx))
	if err := db.First(&attempt, id).Error; err != nil {
		return nil, fmt.Errorf("failed to lock attempt %d: %w", id, err)
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetCurrent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) (*models.Attempt, error) {
	var attempt models.Attempt
	err := getDB(a.db, tx).WithContext(ctx).
		Where("run_id = ? AND student_id = ? AND archived = ?", runID, studentID, false).
		Order("id DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	return getDB(a.db, tx).WithContext(ctx).Omit("Answers").Save(attempt).Error
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	var attempts []*models.Attempt
	var total int64

	query := getDB(a.db, tx).WithContext(ctx).Model(&models.Attempt{})
	query = applyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPaginationAndSort(query, attemptSortColumns, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func applyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.RunID != nil {
		query = query.Where("run_id = ?", *filters.RunID)
	}
	if filters.ExamID != nil {
		query = query.Where("exam_id = ?", *filters.ExamID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if !filters.IncludeArchived {
		query = query.Where("archived = ?", false)
	}
	return query
}

func (a *AttemptPostgreSQL) TransitionStatus(ctx context.Context, tx *gorm.DB, id uint, from, to models.AttemptStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Archive flags the attempt. Grading columns are left untouched.
func (a *AttemptPostgreSQL) Archive(ctx context.Context, tx *gorm.DB, id uint, reason string, at time.Time) error {
	result := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND archived = ?", id, false).
		Updates(map[string]interface{}{
			"archived":       true,
			"archived_at":    at,
			"archive_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (a *AttemptPostgreSQL) CountByRun(ctx context.Context, tx *gorm.DB, runID uint) (int64, error) {
	var count int64
	err := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("run_id = ?", runID).
		Count(&count).Error
	return count, err
}

func (a *AttemptPostgreSQL) CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	var count int64
	err := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("exam_id = ?", examID).
		Count(&count).Error
	return count, err
}

func (a *AttemptPostgreSQL) ListOverdue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	query := getDB(a.db, tx).WithContext(ctx).
		Where("status = ? AND expires_at < ? AND archived = ?", models.AttemptInProgress, now, false).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) ListStale(ctx context.Context, tx *gorm.DB, status models.AttemptStatus, before time.Time, limit int) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	query := getDB(a.db, tx).WithContext(ctx).
		Where("status = ? AND created_at < ? AND archived = ?", status, before, false).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) FindDuplicates(ctx context.Context, tx *gorm.DB) ([]repositories.DuplicateAttemptKey, error) {
	var keys []repositories.DuplicateAttemptKey
	err := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Select("run_id, student_id, COUNT(*) AS count").
		Where("archived = ?", false).
		Group("run_id, student_id").
		Having("COUNT(*) > 1").
		Scan(&keys).Error
	return keys, err
}

func (a *AttemptPostgreSQL) ListByRunAndStudent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	err := getDB(a.db, tx).WithContext(ctx).
		Where("run_id = ? AND student_id = ?", runID, studentID).
		Order("id ASC").
		Find(&attempts).Error
	return attempts, err
}

func (a *AttemptPostgreSQL) DeleteByRuns(ctx context.Context, tx *gorm.DB, runIDs []uint) error {
	if len(runIDs) == 0 {
		return nil
	}
	db := getDB(a.db, tx).WithContext(ctx)
	attemptIDs := db.Model(&models.Attempt{}).Select("id").Where("run_id IN ?", runIDs)

	if err := db.Where("attempt_id IN (?)", attemptIDs).Delete(&models.Answer{}).Error; err != nil {
		return fmt.Errorf("failed to delete answers: %w", err)
	}
	if err := db.Where("attempt_id IN (?)", attemptIDs).Delete(&models.Canvas{}).Error; err != nil {
		return fmt.Errorf("failed to delete canvases: %w", err)
	}
	if err := db.Where("run_id IN ?", runIDs).Delete(&models.Attempt{}).Error; err != nil {
		return fmt.Errorf("failed to delete attempts: %w", err)
	}
	return nil
}

// ===== ANSWERS =====

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

// Upsert keeps one row per (attempt, slot); the latest write wins.
func (a *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	return getDB(a.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "slot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"question_id", "situation_index", "selected_option", "text_answer", "canvas_id", "updated_at",
			}),
		}).
		Create(answer).Error
}

func (a *AnswerPostgreSQL) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.Answer, error) {
	var answers []models.Answer
	err := getDB(a.db, tx).WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("slot_key ASC").
		Find(&answers).Error
	return answers, err
}

func (a *AnswerPostgreSQL) UpdateScoring(ctx context.Context, tx *gorm.DB, answer *models.Answer) error {
	return getDB(a.db, tx).WithContext(ctx).
		Model(answer).
		Select("auto_points", "manual_points", "situation_fraction", "needs_manual_grading").
		Updates(answer).Error
}

// ===== CANVASES =====

type CanvasPostgreSQL struct {
	db *gorm.DB
}

func NewCanvasPostgreSQL(db *gorm.DB) repositories.CanvasRepository {
	return &CanvasPostgreSQL{db: db}
}

func (c *CanvasPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, canvas *models.Canvas) error {
	return getDB(c.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "slot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"blob_key", "url", "content_type", "size_bytes", "updated_at"}),
		}).
		Create(canvas).Error
}

func (c *CanvasPostgreSQL) GetBySlot(ctx context.Context, tx *gorm.DB, attemptID uint, slotKey string) (*models.Canvas, error) {
	var canvas models.Canvas
	err := getDB(c.db, tx).WithContext(ctx).
		Where("attempt_id = ? AND slot_key = ?", attemptID, slotKey).
		First(&canvas).Error
	if err != nil {
		return nil, err
	}
	return &canvas, nil
}

func (c *CanvasPostgreSQL) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]models.Canvas, error) {
	var canvases []models.Canvas
	err := getDB(c.db, tx).WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("slot_key ASC").
		Find(&canvases).Error
	return canvases, err
}

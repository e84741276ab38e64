package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

type RunPostgreSQL struct {
	db *gorm.DB
}

func NewRunPostgreSQL(db *gorm.DB) repositories.RunRepository {
	return &RunPostgreSQL{db: db}
}

func (r *RunPostgreSQL) Create(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	return getDB(r.db, tx).WithContext(ctx).Omit("Exam").Create(run).Error
}

func (r *RunPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	var run models.Run
	if err := getDB(r.db, tx).WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return &run, nil
}

func (r *RunPostgreSQL) Update(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	return getDB(r.db, tx).WithContext(ctx).Omit("Exam", "AttemptCount").Save(run).Error
}

func (r *RunPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := getDB(r.db, tx).WithContext(ctx).Delete(&models.Run{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *RunPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.RunFilters) ([]*models.Run, int64, error) {
	var runs []*models.Run
	var total int64

	query := getDB(r.db, tx).WithContext(ctx).Model(&models.Run{})
	if filters.ExamID != nil {
		query = query.Where("exam_id = ?", *filters.ExamID)
	}
	if filters.GroupID != nil {
		query = query.Where("group_id = ?", *filters.GroupID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPaginationAndSort(query, runSortColumns, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *RunPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Run, error) {
	var runs []*models.Run
	err := getDB(r.db, tx).WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("start_at ASC").
		Find(&runs).Error
	return runs, err
}

func (r *RunPostgreSQL) FindOverlapping(ctx context.Context, tx *gorm.DB, examID uint, target models.RunTarget, start, end time.Time) ([]*models.Run, error) {
	query := getDB(r.db, tx).WithContext(ctx).
		Where("exam_id = ?", examID).
		Where("status IN ?", []models.RunStatus{models.RunScheduled, models.RunActive}).
		Where("start_at < ? AND end_at > ?", end, start)

	if target.GroupID != nil {
		query = query.Where("group_id = ?", *target.GroupID)
	} else {
		query = query.Where("student_id = ?", *target.StudentID)
	}

	var runs []*models.Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *RunPostgreSQL) IncrementAttemptCount(ctx context.Context, tx *gorm.DB, id uint) error {
	result := getDB(r.db, tx).WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *RunPostgreSQL) TransitionStatus(ctx context.Context, tx *gorm.DB, id uint, from []models.RunStatus, to models.RunStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := getDB(r.db, tx).WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *RunPostgreSQL) ListDueTransitions(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.Run, error) {
	var runs []*models.Run
	query := getDB(r.db, tx).WithContext(ctx).
		Where("(status = ? AND start_at <= ?) OR (status IN ? AND end_at <= ?)",
			models.RunScheduled, now,
			[]models.RunStatus{models.RunScheduled, models.RunActive}, now).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

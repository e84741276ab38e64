package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/cache"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

type ExamPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewExamPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ExamRepository {
	return &ExamPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (e *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := getDB(e.db, tx)
	return db.WithContext(ctx).Omit("Questions").Create(exam).Error
}

// GetByID is cached outside transactions only; reads inside a tx must see
// uncommitted changes.
func (e *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	load := func() (*models.Exam, error) {
		var exam models.Exam
		if err := getDB(e.db, tx).WithContext(ctx).First(&exam, id).Error; err != nil {
			return nil, fmt.Errorf("failed to get exam %d: %w", id, err)
		}
		return &exam, nil
	}
	if tx != nil {
		return load()
	}
	return cache.CacheOrLoad(ctx, e.cacheManager.Exam, cache.ExamKey(id), cache.ExamCacheConfig.TTL, load)
}

func (e *ExamPostgreSQL) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := getDB(e.db, tx)
	if err := db.WithContext(ctx).Omit("Questions").Save(exam).Error; err != nil {
		return err
	}
	e.invalidateOutsideTx(ctx, tx, exam.ID)
	return nil
}

func (e *ExamPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := getDB(e.db, tx).WithContext(ctx)
	if err := db.Where("exam_id = ?", id).Delete(&models.ExamQuestion{}).Error; err != nil {
		return err
	}
	result := db.Delete(&models.Exam{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	e.invalidateOutsideTx(ctx, tx, id)
	return nil
}

func (e *ExamPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	db := getDB(e.db, tx)
	var exams []*models.Exam
	var total int64

	query := db.WithContext(ctx).Model(&models.Exam{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Kind != nil {
		query = query.Where("kind = ?", *filters.Kind)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.Archived != nil {
		query = query.Where("archived = ?", *filters.Archived)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPaginationAndSort(query, examSortColumns, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&exams).Error; err != nil {
		return nil, 0, err
	}
	return exams, total, nil
}

// ===== QUESTION SET =====

func (e *ExamPostgreSQL) GetQuestions(ctx context.Context, tx *gorm.DB, examID uint) ([]models.ExamQuestion, error) {
	load := func() ([]models.ExamQuestion, error) {
		var questions []models.ExamQuestion
		err := getDB(e.db, tx).WithContext(ctx).
			Where("exam_id = ?", examID).
			Order("number ASC, id ASC").
			Find(&questions).Error
		if err != nil {
			return nil, fmt.Errorf("failed to get questions of exam %d: %w", examID, err)
		}
		return questions, nil
	}
	if tx != nil {
		return load()
	}
	return cache.CacheOrLoad(ctx, e.cacheManager.Questions, cache.QuestionSetKey(examID), cache.QuestionSetCacheConfig.TTL, load)
}

func (e *ExamPostgreSQL) AddQuestions(ctx context.Context, tx *gorm.DB, examID uint, questions []*models.ExamQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	for _, q := range questions {
		q.ExamID = examID
	}
	db := getDB(e.db, tx)
	if err := db.WithContext(ctx).CreateInBatches(questions, 100).Error; err != nil {
		return err
	}
	e.invalidateOutsideTx(ctx, tx, examID)
	return nil
}

// ReplaceQuestions swaps the whole answer key of an exam.
func (e *ExamPostgreSQL) ReplaceQuestions(ctx context.Context, tx *gorm.DB, examID uint, questions []*models.ExamQuestion) error {
	db := getDB(e.db, tx).WithContext(ctx)
	if err := db.Where("exam_id = ?", examID).Delete(&models.ExamQuestion{}).Error; err != nil {
		return err
	}
	if err := e.AddQuestions(ctx, db, examID, questions); err != nil {
		return err
	}
	e.invalidateOutsideTx(ctx, tx, examID)
	return nil
}

// InvalidateCache drops the cached exam and question set. Writes made
// inside a transaction leave the cache alone; callers invalidate once the
// transaction has committed, otherwise a concurrent read could cache the
// pre-commit rows again.
func (e *ExamPostgreSQL) InvalidateCache(ctx context.Context, examID uint) {
	cache.InvalidateExamCache(ctx, e.cacheManager, examID)
}

func (e *ExamPostgreSQL) invalidateOutsideTx(ctx context.Context, tx *gorm.DB, examID uint) {
	if tx == nil {
		e.InvalidateCache(ctx, examID)
	}
}

func (e *ExamPostgreSQL) NextQuestionNumber(ctx context.Context, tx *gorm.DB, examID uint) (int, error) {
	var maxNumber *int
	err := getDB(e.db, tx).WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Where("exam_id = ?", examID).
		Select("MAX(number)").
		Scan(&maxNumber).Error
	if err != nil {
		return 0, err
	}
	if maxNumber == nil {
		return 1, nil
	}
	return *maxNumber + 1, nil
}

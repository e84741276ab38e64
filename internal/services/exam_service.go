package services

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/storage"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

// MaxDocumentSize caps exam PDF uploads.
const MaxDocumentSize = 20 << 20

//go:embed answer_key.schema.json
var answerKeySchemaJSON string

const answerKeySchemaURL = "mem://answer_key.schema.json"

type answerKeyDocument struct {
	Questions []QuestionRequest `json:"questions"`
}

type examService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	blobs     storage.BlobStore
	publisher events.EventPublisher
	schema    *jsonschema.Schema
}

func NewExamService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, blobs storage.BlobStore, publisher events.EventPublisher) (ExamService, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(answerKeySchemaURL, strings.NewReader(answerKeySchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to load answer key schema: %w", err)
	}
	schema, err := compiler.Compile(answerKeySchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer key schema: %w", err)
	}

	return &examService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		blobs:     blobs,
		publisher: publisher,
		schema:    schema,
	}, nil
}

// ===== CRUD =====

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, userID string) (*models.Exam, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	scoringSet := req.ScoringSet
	if scoringSet == "" {
		scoringSet = models.ScoringSet2
	}

	exam := &models.Exam{
		Title:          strings.TrimSpace(req.Title),
		Kind:           req.Kind,
		Source:         req.Source,
		ScoringSet:     scoringSet,
		Status:         models.ExamDraft,
		NumericEpsilon: req.NumericEpsilon,
		CreatedBy:      userID,
	}
	if err := s.repo.Exam().Create(ctx, nil, exam); err != nil {
		return nil, fmt.Errorf("failed to create exam: %w", err)
	}

	s.logger.Info("Exam created", "exam_id", exam.ID, "kind", exam.Kind, "source", exam.Source, "created_by", userID)
	return exam, nil
}

func (s *examService) GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	exam, err := loadExam(ctx, s.repo, nil, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeExam(ctx, s.repo, exam, userID, "view"); err != nil {
		return nil, err
	}
	return s.getQuestionsResponse(ctx, exam)
}

func (s *examService) List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	if userRole(ctx, s.repo, userID) != models.RoleAdmin {
		filters.CreatedBy = &userID
	}

	exams, total, err := s.repo.Exam().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}
	return &ExamListResponse{
		Exams:  exams,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}

// ===== QUESTION SET =====

func (s *examService) AddQuestions(ctx context.Context, examID uint, req *AddQuestionsRequest, userID string) ([]models.ExamQuestion, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateQuestions(req.Questions); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		exam, err := s.editableExam(ctx, tx, examID, userID)
		if err != nil {
			return err
		}

		existing, err := s.repo.Exam().GetQuestions(ctx, tx, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to get exam questions: %w", err)
		}
		next, err := s.repo.Exam().NextQuestionNumber(ctx, tx, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to get next question number: %w", err)
		}

		questions := make([]*models.ExamQuestion, 0, len(req.Questions))
		for i := range req.Questions {
			q, err := toExamQuestion(exam.ID, &req.Questions[i])
			if err != nil {
				return err
			}
			if q.Number == 0 {
				q.Number = next
				next++
			}
			questions = append(questions, q)
		}

		if conflicts := conflictsWithExisting(existing, questions); len(conflicts) > 0 {
			return NewBusinessRuleError("question_conflict", ErrValidationFailed, "%s", strings.Join(conflicts, "; "))
		}

		if err := s.repo.Exam().AddQuestions(ctx, tx, exam.ID, questions); err != nil {
			if repositories.IsDuplicateError(err) {
				return NewBusinessRuleError("question_conflict", ErrValidationFailed, "question numbers must be unique")
			}
			return fmt.Errorf("failed to add questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.repo.Exam().InvalidateCache(ctx, examID)
	s.logger.Info("Questions added", "exam_id", examID, "count", len(req.Questions), "user_id", userID)
	return s.repo.Exam().GetQuestions(ctx, nil, examID)
}

// ImportAnswerKey replaces the question set with an uploaded JSON key.
func (s *examService) ImportAnswerKey(ctx context.Context, examID uint, data []byte, userID string) ([]models.ExamQuestion, error) {
	doc, err := s.parseAnswerKey(data)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateQuestions(doc.Questions); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		exam, err := s.editableExam(ctx, tx, examID, userID)
		if err != nil {
			return err
		}

		questions := make([]*models.ExamQuestion, 0, len(doc.Questions))
		for i := range doc.Questions {
			q, err := toExamQuestion(exam.ID, &doc.Questions[i])
			if err != nil {
				return err
			}
			questions = append(questions, q)
		}

		if err := s.repo.Exam().ReplaceQuestions(ctx, tx, exam.ID, questions); err != nil {
			if repositories.IsDuplicateError(err) {
				return NewBusinessRuleError("question_conflict", ErrInvalidAnswerKey, "question numbers must be unique")
			}
			return fmt.Errorf("failed to replace questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.repo.Exam().InvalidateCache(ctx, examID)
	s.logger.Info("Answer key imported", "exam_id", examID, "questions", len(doc.Questions), "user_id", userID)
	return s.repo.Exam().GetQuestions(ctx, nil, examID)
}

func (s *examService) parseAnswerKey(data []byte) (*answerKeyDocument, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerKey, err)
	}
	if err := s.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerKey, err)
	}

	var doc answerKeyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerKey, err)
	}
	return &doc, nil
}

// AttachPDF stores the exam document and records its reference.
func (s *examService) AttachPDF(ctx context.Context, examID uint, r io.Reader, userID string) (*models.Exam, error) {
	exam, err := loadExam(ctx, s.repo, nil, examID)
	if err != nil {
		return nil, err
	}
	if err := authorizeExam(ctx, s.repo, exam, userID, "attach_pdf"); err != nil {
		return nil, err
	}
	if exam.Status != models.ExamDraft || exam.Archived {
		return nil, ErrExamNotEditable
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, NewBusinessRuleError("document_too_large", ErrValidationFailed, "document exceeds %d bytes", MaxDocumentSize)
	}
	contentType, err := storage.DetectDocument(data)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedMedia) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
		}
		return nil, err
	}

	obj, err := s.blobs.Put(ctx, storage.ExamDocumentKey(exam.ID), bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	exam.PDFFileRef = &obj.Key
	exam.PDFFileURL = &obj.URL
	if err := s.repo.Exam().Update(ctx, nil, exam); err != nil {
		return nil, fmt.Errorf("failed to update exam: %w", err)
	}

	s.logger.Info("Exam document attached", "exam_id", exam.ID, "size", obj.Size)
	return exam, nil
}

// ===== LIFECYCLE =====

func (s *examService) Activate(ctx context.Context, examID uint, userID string) (*models.Exam, error) {
	var exam *models.Exam
	var activated bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		exam, err = loadExam(ctx, s.repo, tx, examID)
		if err != nil {
			return err
		}
		if err := authorizeExam(ctx, s.repo, exam, userID, "activate"); err != nil {
			return err
		}
		activated, err = activateExam(ctx, s.repo, tx, exam)
		return err
	})
	if err != nil {
		return nil, err
	}

	if activated {
		s.repo.Exam().InvalidateCache(ctx, exam.ID)
		s.logger.Info("Exam activated", "exam_id", exam.ID, "max_score", exam.MaxScore)
		events.SafePublish(ctx, s.publisher, s.logger, events.ExamActivated, events.ExamEvent{
			ExamID:   exam.ID,
			Kind:     string(exam.Kind),
			MaxScore: exam.MaxScore,
		})
	}
	return exam, nil
}

func (s *examService) Finish(ctx context.Context, examID uint, userID string) (*models.Exam, error) {
	return s.updateLifecycle(ctx, examID, userID, "finish", func(exam *models.Exam) error {
		if exam.Status != models.ExamActive {
			return fmt.Errorf("%w: exam %d is %s", ErrInvalidStateTransition, exam.ID, exam.Status)
		}
		exam.Status = models.ExamFinished
		return nil
	})
}

// Archive hides the exam from listings. Runs and attempts stay readable.
func (s *examService) Archive(ctx context.Context, examID uint, userID string) (*models.Exam, error) {
	return s.updateLifecycle(ctx, examID, userID, "archive", func(exam *models.Exam) error {
		exam.Archived = true
		return nil
	})
}

func (s *examService) updateLifecycle(ctx context.Context, examID uint, userID, action string, apply func(*models.Exam) error) (*models.Exam, error) {
	var exam *models.Exam
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		exam, err = loadExam(ctx, s.repo, tx, examID)
		if err != nil {
			return err
		}
		if err := authorizeExam(ctx, s.repo, exam, userID, action); err != nil {
			return err
		}
		if err := apply(exam); err != nil {
			return err
		}
		return s.repo.Exam().Update(ctx, tx, exam)
	})
	if err != nil {
		return nil, err
	}

	s.repo.Exam().InvalidateCache(ctx, examID)
	s.logger.Info("Exam updated", "exam_id", examID, "action", action, "status", exam.Status, "archived", exam.Archived)
	return exam, nil
}

// Delete removes the exam. With attempts present it needs force, which
// also removes runs, attempts, answers and canvases.
func (s *examService) Delete(ctx context.Context, examID uint, force bool, userID string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		exam, err := loadExam(ctx, s.repo, tx, examID)
		if err != nil {
			return err
		}
		if err := authorizeExam(ctx, s.repo, exam, userID, "delete"); err != nil {
			return err
		}

		count, err := s.repo.Attempt().CountByExam(ctx, tx, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}
		if count > 0 && !force {
			return ErrHasAttemptsConflict
		}

		runs, err := s.repo.Run().ListByExam(ctx, tx, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		runIDs := make([]uint, len(runs))
		for i, r := range runs {
			runIDs[i] = r.ID
		}
		if err := s.repo.Attempt().DeleteByRuns(ctx, tx, runIDs); err != nil {
			return fmt.Errorf("failed to delete attempts: %w", err)
		}
		for _, id := range runIDs {
			if err := s.repo.Run().Delete(ctx, tx, id); err != nil && !repositories.IsNotFoundError(err) {
				return fmt.Errorf("failed to delete run %d: %w", id, err)
			}
		}
		return s.repo.Exam().Delete(ctx, tx, exam.ID)
	})
	if err != nil {
		return err
	}

	s.repo.Exam().InvalidateCache(ctx, examID)
	s.logger.Warn("Exam deleted", "exam_id", examID, "force", force, "user_id", userID)
	return nil
}

func (s *examService) editableExam(ctx context.Context, tx *gorm.DB, examID uint, userID string) (*models.Exam, error) {
	exam, err := loadExam(ctx, s.repo, tx, examID)
	if err != nil {
		return nil, err
	}
	if err := authorizeExam(ctx, s.repo, exam, userID, "edit"); err != nil {
		return nil, err
	}
	if exam.Status != models.ExamDraft || exam.Archived {
		return nil, ErrExamNotEditable
	}
	return exam, nil
}

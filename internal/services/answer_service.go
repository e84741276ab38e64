package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/observability"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/storage"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

// MaxCanvasSize caps a single drawing upload.
const MaxCanvasSize = 5 << 20

type answerService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	blobs     storage.BlobStore
	now       Clock
}

func NewAnswerService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, blobs storage.BlobStore, clock Clock) AnswerService {
	return newAnswerService(repo, db, logger, validator, blobs, clock)
}

func newAnswerService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, blobs storage.BlobStore, clock Clock) *answerService {
	return &answerService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		blobs:     blobs,
		now:       clock.orSystem(),
	}
}

// SaveAnswer upserts the answer of one slot while the attempt is open.
func (s *answerService) SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, studentID string) (*models.Answer, error) {
	if err := s.validator.Validate(req); err != nil {
		observability.AnswerSaves().WithLabelValues("answer", "invalid").Inc()
		return nil, err
	}

	var saved *models.Answer
	err := s.db.Transaction(func(tx *gorm.DB) error {
		attempt, bp, err := s.openAttempt(ctx, tx, attemptID, studentID)
		if err != nil {
			return err
		}
		saved, err = s.upsertLocked(ctx, tx, attempt, bp, req)
		return err
	})
	if err != nil {
		observability.AnswerSaves().WithLabelValues("answer", saveResult(err)).Inc()
		return nil, err
	}

	observability.AnswerSaves().WithLabelValues("answer", "accepted").Inc()
	return saved, nil
}

// SaveCanvas replaces the drawing of a slot. The blob is written under a
// key stable per slot, so repeated saves overwrite it.
func (s *answerService) SaveCanvas(ctx context.Context, attemptID uint, slotKey string, image io.Reader, studentID string) (*CanvasResponse, error) {
	if err := s.validator.Validate(&SaveAnswerRequest{SlotKey: slotKey}); err != nil {
		observability.AnswerSaves().WithLabelValues("canvas", "invalid").Inc()
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(image, MaxCanvasSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read canvas: %w", err)
	}
	if len(data) > MaxCanvasSize {
		observability.AnswerSaves().WithLabelValues("canvas", "invalid").Inc()
		return nil, NewBusinessRuleError("canvas_too_large", ErrValidationFailed, "canvas exceeds %d bytes", MaxCanvasSize)
	}
	contentType, err := storage.DetectCanvas(data)
	if err != nil {
		observability.AnswerSaves().WithLabelValues("canvas", "invalid").Inc()
		if errors.Is(err, storage.ErrUnsupportedMedia) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
		}
		return nil, err
	}

	var canvas *models.Canvas
	err = s.db.Transaction(func(tx *gorm.DB) error {
		attempt, bp, err := s.openAttempt(ctx, tx, attemptID, studentID)
		if err != nil {
			return err
		}
		item, ok := bp.Item(slotKey)
		if !ok {
			return fmt.Errorf("%w: slot %s", ErrQuestionNotFound, slotKey)
		}

		// The row lock is held while uploading so a concurrent submit
		// cannot score before the canvas lands.
		obj, err := s.blobs.Put(ctx, storage.CanvasKey(attempt.ID, slotKey), bytes.NewReader(data), contentType)
		if err != nil {
			return fmt.Errorf("failed to store canvas: %w", err)
		}

		canvas = &models.Canvas{
			AttemptID:   attempt.ID,
			SlotKey:     slotKey,
			BlobKey:     obj.Key,
			URL:         obj.URL,
			ContentType: contentType,
			SizeBytes:   obj.Size,
		}
		if err := s.repo.Canvas().Upsert(ctx, tx, canvas); err != nil {
			return fmt.Errorf("failed to save canvas: %w", err)
		}
		if canvas.ID == 0 {
			stored, err := s.repo.Canvas().GetBySlot(ctx, tx, attempt.ID, slotKey)
			if err != nil {
				return fmt.Errorf("failed to reload canvas: %w", err)
			}
			canvas = stored
		}

		answer, err := s.existingAnswer(ctx, tx, attempt.ID, slotKey)
		if err != nil {
			return err
		}
		answer.CanvasID = &canvas.ID
		fillSlot(answer, item)
		if err := s.repo.Answer().Upsert(ctx, tx, answer); err != nil {
			return fmt.Errorf("failed to link canvas: %w", err)
		}
		return nil
	})
	if err != nil {
		observability.AnswerSaves().WithLabelValues("canvas", saveResult(err)).Inc()
		return nil, err
	}

	observability.AnswerSaves().WithLabelValues("canvas", "accepted").Inc()
	s.logger.Debug("Canvas saved", "attempt_id", attemptID, "slot", slotKey, "size", canvas.SizeBytes)
	return &CanvasResponse{
		CanvasID:  canvas.ID,
		SlotKey:   canvas.SlotKey,
		URL:       canvas.URL,
		UpdatedAt: canvas.UpdatedAt,
	}, nil
}

// openAttempt locks the attempt and checks it still accepts writes.
func (s *answerService) openAttempt(ctx context.Context, tx *gorm.DB, attemptID uint, studentID string) (*models.Attempt, *models.Blueprint, error) {
	attempt, err := lockAttempt(ctx, s.repo, tx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if attempt.StudentID != studentID {
		return nil, nil, NewPermissionError(studentID, attempt.ID, "attempt", "answer", "not owned by student")
	}
	if !attempt.AcceptsWrites(s.now()) {
		return nil, nil, ErrAttemptClosed
	}

	bp, err := attempt.ParsedBlueprint()
	if err != nil {
		return nil, nil, err
	}
	return attempt, bp, nil
}

// upsertLocked writes one answer. The caller holds the attempt row lock.
// A save carries the whole typed answer of the slot; the linked canvas is
// kept.
func (s *answerService) upsertLocked(ctx context.Context, tx *gorm.DB, attempt *models.Attempt, bp *models.Blueprint, req *SaveAnswerRequest) (*models.Answer, error) {
	item, ok := bp.Item(req.SlotKey)
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", ErrQuestionNotFound, req.SlotKey)
	}

	selected, text, err := resolvePayload(item, req)
	if err != nil {
		return nil, err
	}

	answer, err := s.existingAnswer(ctx, tx, attempt.ID, req.SlotKey)
	if err != nil {
		return nil, err
	}
	fillSlot(answer, item)
	answer.SelectedOption = selected
	answer.TextAnswer = text

	if err := s.repo.Answer().Upsert(ctx, tx, answer); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}
	return answer, nil
}

func (s *answerService) existingAnswer(ctx context.Context, tx *gorm.DB, attemptID uint, slotKey string) (*models.Answer, error) {
	answers, err := s.repo.Answer().ListByAttempt(ctx, tx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	fresh := &models.Answer{AttemptID: attemptID, SlotKey: slotKey}
	for _, a := range answers {
		if a.SlotKey == slotKey {
			// Upserts go through the (attempt, slot) conflict target, so the
			// primary key stays unset.
			fresh.SelectedOption = a.SelectedOption
			fresh.TextAnswer = a.TextAnswer
			fresh.CanvasID = a.CanvasID
			break
		}
	}
	return fresh, nil
}

// resolvePayload maps a displayed option position back to the original key
// and drops fields the question type does not take.
func resolvePayload(item *models.BlueprintItem, req *SaveAnswerRequest) (*string, *string, error) {
	if item.Type.Category() != models.CategoryClosed {
		if req.SelectedOption != nil || req.OptionPosition != nil {
			return nil, nil, fmt.Errorf("%w: %s takes a text answer", ErrInvalidAnswer, item.SlotKey)
		}
		if req.TextAnswer == nil {
			return nil, nil, nil
		}
		text := strings.TrimSpace(*req.TextAnswer)
		return nil, &text, nil
	}

	switch {
	case req.OptionPosition != nil:
		key, ok := item.OptionAt(*req.OptionPosition)
		if !ok {
			return nil, nil, fmt.Errorf("%w: no option at position %d", ErrInvalidAnswer, *req.OptionPosition)
		}
		if req.SelectedOption != nil && *req.SelectedOption != key {
			return nil, nil, fmt.Errorf("%w: option key and position disagree", ErrInvalidAnswer)
		}
		return &key, nil, nil
	case req.SelectedOption != nil:
		key := strings.TrimSpace(*req.SelectedOption)
		if key == "" {
			return nil, nil, nil
		}
		if !item.HasOption(key) {
			return nil, nil, fmt.Errorf("%w: unknown option %q", ErrInvalidAnswer, key)
		}
		return &key, nil, nil
	}
	return nil, nil, nil
}

func fillSlot(answer *models.Answer, item *models.BlueprintItem) {
	qid := item.QuestionID
	answer.QuestionID = &qid
	answer.SituationIndex = item.SituationIndex
}

func saveResult(err error) string {
	if errors.Is(err, ErrAttemptClosed) {
		return "closed"
	}
	return "rejected"
}

func answersBySlot(answers []models.Answer) map[string]*models.Answer {
	out := make(map[string]*models.Answer, len(answers))
	for i := range answers {
		out[answers[i].SlotKey] = &answers[i]
	}
	return out
}

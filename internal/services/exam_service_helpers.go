package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/scoring"
)

// checkComposition compares the realized question set with the exam kind's
// requirement. Every question needs a usable answer key and PDF exams need
// their document.
func checkComposition(exam *models.Exam, questions []models.ExamQuestion) error {
	required, ok := models.RequirementFor(exam.Kind)
	if !ok {
		return fmt.Errorf("%w: unknown exam kind %q", ErrCompositionInvalid, exam.Kind)
	}

	actual := models.CompositionOf(questions)
	var problems []string
	for i := range questions {
		if !usableAnswerKey(&questions[i]) {
			problems = append(problems, fmt.Sprintf("question %d has no usable answer key", questions[i].Number))
		}
	}
	if exam.Source == models.ExamSourcePDF && !exam.HasPDF() {
		problems = append(problems, "pdf exams need an attached document")
	}

	if actual != required || len(problems) > 0 {
		return &CompositionError{
			Kind:     exam.Kind,
			Required: required,
			Actual:   actual,
			Problems: problems,
		}
	}
	return nil
}

// usableAnswerKey also runs the scoring rule's key check for open questions.
func usableAnswerKey(q *models.ExamQuestion) bool {
	if !q.HasAnswerKey() {
		return false
	}
	if q.Type.Category() == models.CategoryOpen {
		return scoring.CheckKey(q.RuleType, q.CorrectAnswer) == nil
	}
	return true
}

// activateExam moves a draft exam to active inside tx once its composition
// is valid. Active exams are only re-checked.
func activateExam(ctx context.Context, repo repositories.Repository, tx *gorm.DB, exam *models.Exam) (bool, error) {
	if exam.Archived || exam.Status == models.ExamFinished {
		return false, fmt.Errorf("%w: exam %d is %s", ErrInvalidStateTransition, exam.ID, exam.Status)
	}

	questions, err := repo.Exam().GetQuestions(ctx, tx, exam.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get exam questions: %w", err)
	}
	if err := checkComposition(exam, questions); err != nil {
		return false, err
	}
	if exam.Status == models.ExamActive {
		return false, nil
	}

	exam.Status = models.ExamActive
	exam.MaxScore = models.MaxScoreOf(questions)
	if err := repo.Exam().Update(ctx, tx, exam); err != nil {
		return false, fmt.Errorf("failed to activate exam: %w", err)
	}
	return true, nil
}

func toExamQuestion(examID uint, req *QuestionRequest) (*models.ExamQuestion, error) {
	q := &models.ExamQuestion{
		ExamID:         examID,
		Number:         req.Number,
		Type:           req.Type,
		Prompt:         req.Prompt,
		CorrectAnswer:  strings.TrimSpace(req.CorrectAnswer),
		RuleType:       req.RuleType,
		Points:         req.Points,
		BankQuestionID: req.BankQuestionID,
		SituationIndex: req.SituationIndex,
	}
	if q.Type.Category() == models.CategoryOpen && q.RuleType == "" {
		q.RuleType = scoring.DefaultRule(q.Type)
	}
	if q.Type.Category() != models.CategorySituation {
		q.SituationIndex = nil
	}

	if len(req.Options) > 0 {
		opts := make([]models.QuestionOption, len(req.Options))
		for i, o := range req.Options {
			opts[i] = models.QuestionOption{Key: o.Key, Text: o.Text}
		}
		if err := q.SetOptions(opts); err != nil {
			return nil, fmt.Errorf("failed to encode options: %w", err)
		}
	}
	return q, nil
}

// conflictsWithExisting reports numbers or situation indexes already taken.
func conflictsWithExisting(existing []models.ExamQuestion, incoming []*models.ExamQuestion) []string {
	numbers := make(map[int]bool, len(existing))
	situations := make(map[int]bool)
	for _, q := range existing {
		numbers[q.Number] = true
		if q.SituationIndex != nil {
			situations[*q.SituationIndex] = true
		}
	}

	var conflicts []string
	for _, q := range incoming {
		if numbers[q.Number] {
			conflicts = append(conflicts, fmt.Sprintf("question number %d is taken", q.Number))
		}
		if q.SituationIndex != nil && situations[*q.SituationIndex] {
			conflicts = append(conflicts, fmt.Sprintf("situation %d already exists", *q.SituationIndex))
		}
	}
	return conflicts
}

func (s *examService) getQuestionsResponse(ctx context.Context, exam *models.Exam) (*ExamResponse, error) {
	questions, err := s.repo.Exam().GetQuestions(ctx, nil, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam questions: %w", err)
	}

	required, _ := models.RequirementFor(exam.Kind)
	resp := &ExamResponse{
		Exam:        exam,
		Composition: models.CompositionOf(questions),
		Required:    required,
	}
	resp.Exam.Questions = questions

	if err := checkComposition(exam, questions); err != nil {
		if ce, ok := err.(*CompositionError); ok {
			resp.Problems = ce.Problems
		}
	} else {
		resp.CanActivate = exam.Status == models.ExamDraft && !exam.Archived
	}
	return resp, nil
}

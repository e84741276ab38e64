package services

import (
	"context"
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/scoring"
)

// slotGrade is the manual outcome of one slot.
type slotGrade struct {
	question *models.ExamQuestion
	points   float64
	fraction *string
}

type gradingPlan map[string]slotGrade

func (p gradingPlan) total() float64 {
	sum := 0.0
	for _, g := range p {
		sum += g.points
	}
	return roundScore(sum)
}

// planGrading checks a grade request against the exam's questions and the
// stored answers and returns the manual points per slot.
func planGrading(set models.ScoringSet, questions []models.ExamQuestion, answers []models.Answer, req *GradeRequest) (gradingPlan, error) {
	byID := make(map[uint]*models.ExamQuestion, len(questions))
	bySituation := make(map[int]*models.ExamQuestion)
	for i := range questions {
		q := &questions[i]
		byID[q.ID] = q
		if q.Type == models.Situation && q.SituationIndex != nil {
			bySituation[*q.SituationIndex] = q
		}
	}
	stored := answersBySlot(answers)
	plan := make(gradingPlan)

	for qid, score := range req.ManualScores {
		q, ok := byID[qid]
		if !ok {
			return nil, fmt.Errorf("%w: question %d", ErrQuestionNotFound, qid)
		}

		limit := q.Points
		if q.Type.Category() == models.CategorySituation {
			if set != models.ScoringSet1 {
				return nil, NewBusinessRuleError("situation_needs_fraction", ErrValidationFailed,
					"situation %s is graded with a fraction under %s", q.SlotKey(), set)
			}
		} else if a, ok := stored[q.SlotKey()]; ok {
			limit -= a.AutoPoints
		}
		if score > limit+1e-9 {
			return nil, NewBusinessRuleError("manual_score_exceeds_points", ErrValidationFailed,
				"manual score %.2f for question %d exceeds %.2f", score, qid, limit)
		}
		plan[q.SlotKey()] = slotGrade{question: q, points: score}
	}

	if len(req.SituationScores) > 0 && set == models.ScoringSet1 {
		return nil, NewBusinessRuleError("situation_fraction_set1", ErrValidationFailed,
			"situation fractions are not used under %s", set)
	}
	for _, sc := range req.SituationScores {
		q, ok := bySituation[sc.Index]
		if !ok {
			return nil, fmt.Errorf("%w: situation %d", ErrQuestionNotFound, sc.Index)
		}
		slot := q.SlotKey()
		if _, dup := plan[slot]; dup {
			return nil, NewBusinessRuleError("situation_graded_twice", ErrValidationFailed,
				"situation %d graded twice", sc.Index)
		}
		f, err := scoring.ParseFraction(sc.Fraction)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		fraction := string(f)
		plan[slot] = slotGrade{question: q, points: f.Apply(q.Points), fraction: &fraction}
	}
	return plan, nil
}

// applyPlan writes the plan onto the answer rows. Slots graded earlier but
// absent from the plan lose their manual points, so a regrade replaces the
// previous one. Slots without a stored answer get a row.
func (s *gradingService) applyPlan(ctx context.Context, tx *gorm.DB, attemptID uint, answers []models.Answer, plan gradingPlan) error {
	seen := make(map[string]bool, len(answers))
	for i := range answers {
		a := &answers[i]
		seen[a.SlotKey] = true

		g, graded := plan[a.SlotKey]
		if !graded && a.ManualPoints == nil && a.SituationFraction == nil {
			continue
		}
		if graded {
			a.ManualPoints = floatPtr(g.points)
			a.SituationFraction = g.fraction
			a.NeedsManualGrading = false
		} else {
			a.ManualPoints = nil
			a.SituationFraction = nil
		}
		if err := s.repo.Answer().UpdateScoring(ctx, tx, a); err != nil {
			return fmt.Errorf("failed to store manual score: %w", err)
		}
	}

	for slot, g := range plan {
		if seen[slot] {
			continue
		}
		qid := g.question.ID
		row := &models.Answer{
			AttemptID:         attemptID,
			SlotKey:           slot,
			QuestionID:        &qid,
			SituationIndex:    g.question.SituationIndex,
			ManualPoints:      floatPtr(g.points),
			SituationFraction: g.fraction,
		}
		if err := s.repo.Answer().Upsert(ctx, tx, row); err != nil {
			return fmt.Errorf("failed to store manual score: %w", err)
		}
	}
	return nil
}

func roundScore(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

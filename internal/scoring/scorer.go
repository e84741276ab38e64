// Package scoring computes the objective part of an attempt score.
package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// Response is what the student left in one slot.
type Response struct {
	SelectedOption string
	Text           string
}

func (r Response) Empty() bool {
	return r.SelectedOption == "" && r.Text == ""
}

// Result is the outcome of scoring a single slot.
type Result struct {
	Points      float64 `json:"points"`
	MaxPoints   float64 `json:"max_points"`
	NeedsManual bool    `json:"needs_manual"`
}

// Strategy scores one question type.
type Strategy interface {
	Score(ctx context.Context, q *models.ExamQuestion, r Response) (Result, error)
}

type Option func(*config)

type config struct {
	numericEpsilon float64
	logger         *slog.Logger
}

// WithLogger sets where unusable answer keys are reported.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNumericEpsilon sets the tolerance of NUMERIC_EQUAL rules.
func WithNumericEpsilon(eps float64) Option {
	return func(c *config) {
		if eps > 0 {
			c.numericEpsilon = eps
		}
	}
}

// Scorer routes questions to the strategy of their type.
type Scorer struct {
	strategies map[models.QuestionType]Strategy
}

// New installs the built-in strategies.
func New(opts ...Option) *Scorer {
	cfg := &config{logger: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}

	open := ruleStrategy{epsilon: cfg.numericEpsilon, logger: cfg.logger}
	return &Scorer{
		strategies: map[models.QuestionType]Strategy{
			models.MultipleChoice:  choiceStrategy{},
			models.OpenSingleValue: open,
			models.OpenOrdered:     open,
			models.OpenUnordered:   open,
			models.Situation:       situationStrategy{},
		},
	}
}

// Score scores a single slot.
func (s *Scorer) Score(ctx context.Context, q *models.ExamQuestion, r Response) (Result, error) {
	strategy, ok := s.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: q.Points, NeedsManual: true}, nil
	}
	return strategy.Score(ctx, q, r)
}

// Summary aggregates slot results of one attempt.
type Summary struct {
	AutoScore float64           `json:"auto_score"`
	MaxScore  float64           `json:"max_score"`
	Slots     map[string]Result `json:"slots"`
}

// ScoreAll scores every question against the responses keyed by slot.
// Slots without a response score zero.
func (s *Scorer) ScoreAll(ctx context.Context, questions []models.ExamQuestion, responses map[string]Response) (*Summary, error) {
	summary := &Summary{Slots: make(map[string]Result, len(questions))}

	for i := range questions {
		q := &questions[i]
		key := q.SlotKey()

		res, err := s.Score(ctx, q, responses[key])
		if err != nil {
			return nil, fmt.Errorf("failed to score question %d: %w", q.ID, err)
		}

		summary.Slots[key] = res
		summary.AutoScore += res.Points
		summary.MaxScore += res.MaxPoints
	}

	return summary, nil
}

type choiceStrategy struct{}

func (choiceStrategy) Score(_ context.Context, q *models.ExamQuestion, r Response) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if r.SelectedOption != "" && r.SelectedOption == q.CorrectAnswer {
		res.Points = q.Points
	}
	return res, nil
}

type situationStrategy struct{}

func (situationStrategy) Score(_ context.Context, q *models.ExamQuestion, _ Response) (Result, error) {
	return Result{MaxPoints: q.Points, NeedsManual: true}, nil
}

type ruleStrategy struct {
	epsilon float64
	logger  *slog.Logger
}

// Score never fails on a broken answer key: the slot scores zero and is
// left for manual grading so the attempt can still finish.
func (s ruleStrategy) Score(ctx context.Context, q *models.ExamQuestion, r Response) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if r.Text == "" {
		return res, nil
	}

	rule := q.RuleType
	if rule == "" {
		rule = DefaultRule(q.Type)
	}

	ok, err := Match(rule, q.CorrectAnswer, r.Text, s.epsilon)
	if err != nil {
		s.logger.WarnContext(ctx, "Unusable answer key, leaving slot for manual grading",
			"question_id", q.ID, "rule", rule, "error", err)
		res.NeedsManual = true
		return res, nil
	}
	if ok {
		res.Points = q.Points
	}
	return res, nil
}

// DefaultRule is the answer rule an open question uses when none is set.
func DefaultRule(t models.QuestionType) models.AnswerRuleType {
	switch t {
	case models.OpenOrdered:
		return models.RuleOrderedMatch
	case models.OpenUnordered:
		return models.RuleUnorderedMatch
	default:
		return models.RuleExactMatch
	}
}

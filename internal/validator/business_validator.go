package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/scoring"
)

const (
	MinRunDuration = 1
	MaxRunDuration = 24 * 60
)

var slotKeyPattern = regexp.MustCompile(`^[qs]:[1-9][0-9]*$`)

// registerBusinessRules registers custom business rule validators
func (v *Validator) registerBusinessRules() {
	_ = v.validate.RegisterValidation("exam_kind", func(fl validator.FieldLevel) bool {
		kind := models.ExamKind(fl.Field().String())
		_, ok := models.RequirementFor(kind)
		return ok
	})

	_ = v.validate.RegisterValidation("exam_source", func(fl validator.FieldLevel) bool {
		switch models.ExamSource(fl.Field().String()) {
		case models.ExamSourceBank, models.ExamSourceJSON, models.ExamSourcePDF:
			return true
		}
		return false
	})

	_ = v.validate.RegisterValidation("scoring_set", func(fl validator.FieldLevel) bool {
		set := models.ScoringSet(fl.Field().String())
		return set == models.ScoringSet1 || set == models.ScoringSet2
	})

	_ = v.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return models.QuestionType(fl.Field().String()).IsValid()
	})

	_ = v.validate.RegisterValidation("answer_rule", func(fl validator.FieldLevel) bool {
		return models.AnswerRuleType(fl.Field().String()).IsValid()
	})

	_ = v.validate.RegisterValidation("run_duration", func(fl validator.FieldLevel) bool {
		d := fl.Field().Int()
		return d >= MinRunDuration && d <= MaxRunDuration
	})

	_ = v.validate.RegisterValidation("slot_key", func(fl validator.FieldLevel) bool {
		return slotKeyPattern.MatchString(fl.Field().String())
	})

	_ = v.validate.RegisterValidation("situation_fraction", func(fl validator.FieldLevel) bool {
		_, err := scoring.ParseFraction(fl.Field().String())
		return err == nil
	})
}

// ValidateQuestion checks the answer-key shape a question type needs.
func (v *Validator) ValidateQuestion(field string, q *QuestionRequest) ValidationErrors {
	var errs ValidationErrors
	add := func(name, msg string, value interface{}) {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("%s.%s", field, name),
			Message: msg,
			Value:   value,
			Rule:    "business_logic",
		})
	}

	switch q.Type.Category() {
	case models.CategoryClosed:
		if len(q.Options) < 2 {
			add("options", "multiple choice needs at least two options", len(q.Options))
		}
		seen := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			if seen[o.Key] {
				add("options", "option keys must be unique", o.Key)
			}
			seen[o.Key] = true
		}
		if q.CorrectAnswer != "" && !seen[q.CorrectAnswer] {
			add("correct_answer", "must be one of the option keys", q.CorrectAnswer)
		}
	case models.CategoryOpen:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			add("correct_answer", "is required for open questions", nil)
		}
		rule := q.RuleType
		if rule == "" {
			rule = scoring.DefaultRule(q.Type)
		}
		if !rule.IsValid() {
			add("rule_type", "is not a supported answer rule", q.RuleType)
		} else if strings.TrimSpace(q.CorrectAnswer) != "" {
			if err := scoring.CheckKey(rule, q.CorrectAnswer); err != nil {
				add("correct_answer", err.Error(), q.CorrectAnswer)
			}
		}
	case models.CategorySituation:
		if q.SituationIndex == nil || *q.SituationIndex < 1 {
			add("situation_index", "is required for situation questions", q.SituationIndex)
		}
	}
	return errs
}

// ValidateQuestions runs struct and per-type checks over a question list and
// rejects duplicate numbers or situation indexes.
func (v *Validator) ValidateQuestions(questions []QuestionRequest) error {
	var errs ValidationErrors
	numbers := make(map[int]bool)
	situations := make(map[int]bool)

	for i := range questions {
		q := &questions[i]
		field := fmt.Sprintf("questions[%d]", i)

		if err := v.Validate(q); err != nil {
			for _, fe := range ToValidationErrors(err) {
				fe.Field = field + "." + fe.Field
				errs = append(errs, fe)
			}
			continue
		}
		errs = append(errs, v.ValidateQuestion(field, q)...)

		if q.Number > 0 {
			if numbers[q.Number] {
				errs = append(errs, ValidationError{Field: field + ".number", Message: "duplicate question number", Value: q.Number, Rule: "business_logic"})
			}
			numbers[q.Number] = true
		}
		if q.SituationIndex != nil {
			if situations[*q.SituationIndex] {
				errs = append(errs, ValidationError{Field: field + ".situation_index", Message: "duplicate situation index", Value: *q.SituationIndex, Rule: "business_logic"})
			}
			situations[*q.SituationIndex] = true
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRunTarget requires exactly one of group or student.
func (v *Validator) ValidateRunTarget(req *CreateRunRequest) ValidationErrors {
	target := models.RunTarget{GroupID: req.GroupID, StudentID: req.StudentID}
	if target.Valid() {
		return nil
	}
	return ValidationErrors{{
		Field:   "target",
		Message: "exactly one of group_id or student_id is required",
		Rule:    "business_logic",
	}}
}

package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// ===== NOT FOUND =====

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrUserNotFound     = errors.New("user not found")
)

// ===== RUNS =====

var (
	ErrInvalidTarget      = errors.New("run target must be exactly one of group or student")
	ErrCompositionInvalid = errors.New("exam composition does not match its kind")
	ErrAlreadyActive      = errors.New("a run of this exam already covers the target in that window")
	ErrRunNotActive       = errors.New("run is not accepting attempts")
)

// ===== ATTEMPTS =====

var (
	ErrAlreadySubmitted   = errors.New("attempt already submitted")
	ErrAttemptClosed      = errors.New("attempt no longer accepts answers")
	ErrAttemptNotTerminal = errors.New("attempt is still in progress")
	ErrAttemptPublished   = errors.New("attempt result is published, reopen it first")
	ErrAttemptNotGraded   = errors.New("attempt has not been graded")
	ErrInvalidAnswer      = errors.New("answer does not fit the question")
)

// ===== EXAMS =====

var (
	ErrHasAttemptsConflict    = errors.New("exam has attempts, use force to delete")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrExamNotEditable        = errors.New("exam questions can only change while draft")
	ErrInvalidAnswerKey       = errors.New("invalid answer key")
	ErrUnsupportedMedia       = errors.New("unsupported media type")
)

// ===== GENERIC =====

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
)

// CompositionError reports the realized question counts next to the ones
// the exam kind requires.
type CompositionError struct {
	Kind     models.ExamKind              `json:"kind"`
	Required models.CompositionRequirement `json:"required"`
	Actual   models.Composition            `json:"actual"`
	Problems []string                      `json:"problems,omitempty"`
}

func (e *CompositionError) Error() string {
	msg := fmt.Sprintf("%s needs %d closed, %d open, %d situation questions, has %d/%d/%d",
		e.Kind,
		e.Required.Closed, e.Required.Open, e.Required.Situation,
		e.Actual.Closed, e.Actual.Open, e.Actual.Situation)
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	return msg
}

func (e *CompositionError) Unwrap() error {
	return ErrCompositionInvalid
}

// PermissionError is returned when a user may not act on a resource.
type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return ErrForbidden
}

// BusinessRuleError carries a rule name the client can branch on.
type BusinessRuleError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func NewBusinessRuleError(rule string, err error, format string, args ...interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func (e *BusinessRuleError) Unwrap() error {
	return e.Err
}

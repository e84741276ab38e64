package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Path      string      `json:"path"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the helpers every handler shares.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.GetLogger(c, h.logger).Debug(msg, append(args, "user_id", h.getUserID(c))...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string) {
	utils.GetLogger(c, h.logger).Error(msg, "error", err, "path", c.FullPath())
}

func (h *BaseHandler) respondError(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		Path:      c.Request.URL.Path,
	})
}

func (h *BaseHandler) getUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func (h *BaseHandler) isStudent(c *gin.Context) bool {
	role, err := GetUserRoleFromContext(c)
	return err != nil || role == models.RoleStudent
}

// parseIDParam writes the 400 itself and returns 0 on failure.
func (h *BaseHandler) parseIDParam(c *gin.Context, param string) uint {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Invalid "+param, nil)
		return 0
	}
	return uint(id)
}

func (h *BaseHandler) parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	value, err := strconv.Atoi(c.Query(param))
	if err != nil {
		return defaultValue
	}
	return value
}

// pagination turns page/size into limit/offset, size capped at 100.
func (h *BaseHandler) pagination(c *gin.Context) (limit, offset int) {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return size, (page - 1) * size
}

func (h *BaseHandler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Invalid request payload", err.Error())
		return false
	}
	return true
}

func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		h.respondError(c, http.StatusBadRequest, "validation_failed", "Validation failed", validationErrors)
		return
	}

	var compositionError *services.CompositionError
	if errors.As(err, &compositionError) {
		h.respondError(c, http.StatusUnprocessableEntity, "composition_invalid", compositionError.Error(), compositionError)
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, services.ErrValidationFailed) {
			status = http.StatusBadRequest
		}
		h.respondError(c, status, businessRuleError.Rule, businessRuleError.Message, nil)
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		h.respondError(c, http.StatusForbidden, "forbidden", "Access denied", map[string]interface{}{
			"resource": permissionError.Resource,
			"action":   permissionError.Action,
			"reason":   permissionError.Reason,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrExamNotFound),
		errors.Is(err, services.ErrRunNotFound),
		errors.Is(err, services.ErrAttemptNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrUserNotFound):
		h.respondError(c, http.StatusNotFound, "not_found", err.Error(), nil)

	case errors.Is(err, services.ErrAttemptClosed):
		h.respondError(c, http.StatusGone, "attempt_closed", err.Error(), nil)

	case errors.Is(err, services.ErrAlreadyActive),
		errors.Is(err, services.ErrAlreadySubmitted),
		errors.Is(err, services.ErrRunNotActive),
		errors.Is(err, services.ErrHasAttemptsConflict),
		errors.Is(err, services.ErrInvalidStateTransition),
		errors.Is(err, services.ErrExamNotEditable),
		errors.Is(err, services.ErrAttemptNotTerminal),
		errors.Is(err, services.ErrAttemptPublished),
		errors.Is(err, services.ErrAttemptNotGraded):
		h.respondError(c, http.StatusConflict, "conflict", err.Error(), nil)

	case errors.Is(err, services.ErrCompositionInvalid),
		errors.Is(err, services.ErrInvalidAnswerKey):
		h.respondError(c, http.StatusUnprocessableEntity, "unprocessable", err.Error(), nil)

	case errors.Is(err, services.ErrUnsupportedMedia):
		h.respondError(c, http.StatusUnsupportedMediaType, "unsupported_media", err.Error(), nil)

	case errors.Is(err, services.ErrForbidden):
		h.respondError(c, http.StatusForbidden, "forbidden", "Access denied", nil)

	case errors.Is(err, services.ErrInvalidTarget),
		errors.Is(err, services.ErrInvalidAnswer),
		errors.Is(err, services.ErrValidationFailed):
		h.respondError(c, http.StatusBadRequest, "bad_request", err.Error(), nil)

	default:
		h.LogError(c, err, "Unexpected service error")
		h.respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}

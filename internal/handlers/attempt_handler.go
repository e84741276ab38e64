package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
)

const maxCanvasBytes = 5 << 20

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	answerService  services.AnswerService
	gradingService services.GradingService
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	answerService services.AnswerService,
	gradingService services.GradingService,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		answerService:  answerService,
		gradingService: gradingService,
	}
}

// SaveAnswer stores the latest answer for one slot
// @Router /attempts/{id}/answers [put]
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SaveAnswerRequest
	if !h.bindJSON(c, &req) {
		return
	}

	answer, err := h.answerService.SaveAnswer(c.Request.Context(), id, &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.StudentAnswerView(answer))
}

// SaveCanvas replaces the drawing of a slot. Multipart fields: image, slot.
// @Router /attempts/{id}/canvas [put]
func (h *AttemptHandler) SaveCanvas(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	slot := c.PostForm("slot")
	if slot == "" {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Missing slot", nil)
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Missing image", err.Error())
		return
	}
	if fh.Size > maxCanvasBytes {
		h.respondError(c, http.StatusRequestEntityTooLarge, "too_large", "Image too large", nil)
		return
	}
	file, err := fh.Open()
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Unreadable image", err.Error())
		return
	}
	defer file.Close()

	canvas, err := h.answerService.SaveCanvas(c.Request.Context(), id, slot, file, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, canvas)
}

// Submit finalizes the attempt. A body with answers saves them first.
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) Submit(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Submitting attempt", "attempt_id", id)

	var req services.SubmitRequest
	if c.Request.ContentLength != 0 {
		if !h.bindJSON(c, &req) {
			return
		}
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), id, &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.StudentView(attempt))
}

// GetAttempt returns the full attempt to staff and the gated view to its
// student.
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	attempt, err := h.attemptService.GetByID(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if h.isStudent(c) {
		c.JSON(http.StatusOK, services.StudentView(attempt))
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// @Router /attempts/{id}/result [get]
func (h *AttemptHandler) GetResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	result, err := h.gradingService.StudentResult(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Restart archives the attempt and opens a fresh one for the same student
// @Router /attempts/{id}/restart [post]
func (h *AttemptHandler) Restart(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Restarting attempt", "attempt_id", id)

	var req services.RestartRequest
	if c.Request.ContentLength != 0 {
		if !h.bindJSON(c, &req) {
			return
		}
	}

	attempt, err := h.attemptService.Restart(c.Request.Context(), id, &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attempt)
}

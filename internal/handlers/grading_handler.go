package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
)

type GradingHandler struct {
	BaseHandler
	gradingService services.GradingService
}

func NewGradingHandler(gradingService services.GradingService, logger utils.Logger) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		gradingService: gradingService,
	}
}

// GradeAttempt applies manual scores. Earlier manual scores are replaced.
// @Router /attempts/{id}/grade [post]
func (h *GradingHandler) GradeAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Grading attempt", "attempt_id", id)

	var req services.GradeRequest
	if !h.bindJSON(c, &req) {
		return
	}

	attempt, err := h.gradingService.Grade(c.Request.Context(), id, &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// PublishAttempt toggles result visibility. An empty body publishes.
// @Router /attempts/{id}/publish [post]
func (h *GradingHandler) PublishAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	req := services.PublishRequest{Publish: true}
	if c.Request.ContentLength != 0 {
		if !h.bindJSON(c, &req) {
			return
		}
	}

	attempt, err := h.gradingService.Publish(c.Request.Context(), id, req.Publish, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// ReopenAttempt hides a published result so it can be regraded
// @Router /attempts/{id}/reopen [post]
func (h *GradingHandler) ReopenAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	attempt, err := h.gradingService.Reopen(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type RunHandler struct {
	BaseHandler
	runService     services.RunService
	attemptService services.AttemptService
	exportService  services.ExportService
}

func NewRunHandler(runService services.RunService, attemptService services.AttemptService, exportService services.ExportService, logger utils.Logger) *RunHandler {
	return &RunHandler{
		BaseHandler:    NewBaseHandler(logger),
		runService:     runService,
		attemptService: attemptService,
		exportService:  exportService,
	}
}

// CreateRun schedules a run for a group or a single student
// @Router /runs [post]
func (h *RunHandler) CreateRun(c *gin.Context) {
	h.LogRequest(c, "Creating run")

	var req services.CreateRunRequest
	if !h.bindJSON(c, &req) {
		return
	}

	run, err := h.runService.Create(c.Request.Context(), &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// @Router /runs/{id} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	run, err := h.runService.GetByID(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// @Router /runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, offset := h.pagination(c)
	filters := repositories.RunFilters{
		Limit:     limit,
		Offset:    offset,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if examID, err := strconv.ParseUint(c.Query("exam_id"), 10, 32); err == nil {
		id := uint(examID)
		filters.ExamID = &id
	}
	if group := c.Query("group_id"); group != "" {
		filters.GroupID = &group
	}
	if student := c.Query("student_id"); student != "" {
		filters.StudentID = &student
	}
	if status := c.Query("status"); status != "" {
		s := models.RunStatus(status)
		filters.Status = &s
	}

	resp, err := h.runService.List(c.Request.Context(), filters, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StopRun closes the run for new starts
// @Router /runs/{id}/stop [post]
func (h *RunHandler) StopRun(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Stopping run", "run_id", id)

	run, err := h.runService.Stop(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRunAttempts lists the attempts of a run without their blueprints
// @Router /runs/{id}/attempts [get]
func (h *RunHandler) ListRunAttempts(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	limit, offset := h.pagination(c)
	filters := repositories.AttemptFilters{
		Limit:           limit,
		Offset:          offset,
		IncludeArchived: c.Query("include_archived") == "true",
		SortBy:          c.Query("sort_by"),
		SortOrder:       c.Query("sort_order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.AttemptStatus(status)
		filters.Status = &s
	}
	if student := c.Query("student_id"); student != "" {
		filters.StudentID = &student
	}

	resp, err := h.runService.ListAttempts(c.Request.Context(), id, filters, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExportResults downloads the run results workbook
// @Router /runs/{id}/results.xlsx [get]
func (h *RunHandler) ExportResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Exporting run results", "run_id", id)

	// Buffered so a failure can still become a JSON error.
	var buf bytes.Buffer
	if err := h.exportService.RunResults(c.Request.Context(), id, h.getUserID(c), &buf); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%d-results.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// DeleteRun removes the run; runs with attempts need ?force=true
// @Router /runs/{id} [delete]
func (h *RunHandler) DeleteRun(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Deleting run", "run_id", id)

	if err := h.runService.Delete(c.Request.Context(), id, c.Query("force") == "true", h.getUserID(c)); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartAttempt starts or resumes the caller's attempt on the run
// @Router /runs/{id}/start [post]
func (h *RunHandler) StartAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Starting attempt", "run_id", id)

	attempt, err := h.attemptService.Start(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if attempt.Resumed || attempt.AlreadySubmitted {
		status = http.StatusOK
	}
	c.JSON(status, services.StudentView(attempt))
}

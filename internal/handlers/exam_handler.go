package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
)

const (
	maxAnswerKeyBytes = 2 << 20
	maxDocumentBytes  = 20 << 20
)

type ExamHandler struct {
	BaseHandler
	examService services.ExamService
}

func NewExamHandler(examService services.ExamService, logger utils.Logger) *ExamHandler {
	return &ExamHandler{
		BaseHandler: NewBaseHandler(logger),
		examService: examService,
	}
}

// CreateExam creates a draft exam
// @Router /exams [post]
func (h *ExamHandler) CreateExam(c *gin.Context) {
	h.LogRequest(c, "Creating exam")

	var req services.CreateExamRequest
	if !h.bindJSON(c, &req) {
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exam)
}

// GetExam returns the exam with its composition check
// @Router /exams/{id} [get]
func (h *ExamHandler) GetExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// ListExams lists exams visible to the caller
// @Router /exams [get]
func (h *ExamHandler) ListExams(c *gin.Context) {
	limit, offset := h.pagination(c)
	filters := repositories.ExamFilters{
		Limit:     limit,
		Offset:    offset,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.ExamStatus(status)
		filters.Status = &s
	}
	if kind := c.Query("kind"); kind != "" {
		k := models.ExamKind(kind)
		filters.Kind = &k
	}

	resp, err := h.examService.List(c.Request.Context(), filters, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AddQuestions appends questions to a draft exam
// @Router /exams/{id}/questions [post]
func (h *ExamHandler) AddQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.AddQuestionsRequest
	if !h.bindJSON(c, &req) {
		return
	}

	questions, err := h.examService.AddQuestions(c.Request.Context(), id, &req, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"questions": questions})
}

// ImportAnswerKey replaces the question set from a JSON answer key. The key
// is read from a multipart "file" or from the raw body.
// @Router /exams/{id}/answer-key [post]
func (h *ExamHandler) ImportAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			h.respondError(c, http.StatusBadRequest, "bad_request", "Missing answer key file", err.Error())
			return
		}
		file, err := fh.Open()
		if err != nil {
			h.respondError(c, http.StatusBadRequest, "bad_request", "Unreadable answer key file", err.Error())
			return
		}
		defer file.Close()
		src = file
	}

	data, err := io.ReadAll(io.LimitReader(src, maxAnswerKeyBytes+1))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Unreadable answer key", err.Error())
		return
	}
	if len(data) > maxAnswerKeyBytes {
		h.respondError(c, http.StatusRequestEntityTooLarge, "too_large", "Answer key too large", nil)
		return
	}

	questions, err := h.examService.ImportAnswerKey(c.Request.Context(), id, data, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

// AttachPDF stores the exam document
// @Router /exams/{id}/pdf [post]
func (h *ExamHandler) AttachPDF(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Missing document file", err.Error())
		return
	}
	if fh.Size > maxDocumentBytes {
		h.respondError(c, http.StatusRequestEntityTooLarge, "too_large", "Document too large", nil)
		return
	}
	file, err := fh.Open()
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "bad_request", "Unreadable document", err.Error())
		return
	}
	defer file.Close()

	exam, err := h.examService.AttachPDF(c.Request.Context(), id, file, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// @Router /exams/{id}/activate [post]
func (h *ExamHandler) ActivateExam(c *gin.Context) {
	h.lifecycle(c, "Activating exam", h.examService.Activate)
}

// @Router /exams/{id}/finish [post]
func (h *ExamHandler) FinishExam(c *gin.Context) {
	h.lifecycle(c, "Finishing exam", h.examService.Finish)
}

// @Router /exams/{id}/archive [post]
func (h *ExamHandler) ArchiveExam(c *gin.Context) {
	h.lifecycle(c, "Archiving exam", h.examService.Archive)
}

func (h *ExamHandler) lifecycle(c *gin.Context, msg string, op func(ctx context.Context, id uint, userID string) (*models.Exam, error)) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, msg, "exam_id", id)

	exam, err := op(c.Request.Context(), id, h.getUserID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// DeleteExam hard deletes the exam; exams with attempts need ?force=true
// @Router /exams/{id} [delete]
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	h.LogRequest(c, "Deleting exam", "exam_id", id)

	if err := h.examService.Delete(c.Request.Context(), id, c.Query("force") == "true", h.getUserID(c)); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/events"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/storage"
	"github.com/SAP-F-2025/exam-attempt-service/internal/testutil"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-service/internal/validator"
)

// tokenIsUserID accepts any token and treats it as the user id.
type tokenIsUserID struct{}

func (tokenIsUserID) ParseJwtToken(token string) (*casdoorsdk.Claims, error) {
	if token == "bad" {
		return nil, errors.New("signature is invalid")
	}
	return &casdoorsdk.Claims{User: casdoorsdk.User{Id: token}}, nil
}

type apiFixture struct {
	router *gin.Engine
	repo   repositories.Repository
	sm     services.ServiceManager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logger := utils.NewSlogLogger(slogger)
	db := testutil.NewTestDB(t)
	roster := testutil.SchoolRoster()
	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db, Users: roster})
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	enabled := services.ServiceConfig{Enabled: true}
	sm := services.NewServiceManager(db, repo, slogger, validator.New(), services.ServiceManagerConfig{
		Exam:      enabled,
		Run:       enabled,
		Attempt:   enabled,
		Grading:   enabled,
		Archival:  enabled,
		Export:    enabled,
		Publisher: events.NewMockEventPublisher(slogger),
		Blobs:     blobs,
	})
	require.NoError(t, sm.Initialize(context.Background()))

	router := gin.New()
	SetupMiddleware(router, logger)
	NewHandlerManager(sm, logger, NewAuthMiddlewareWithParser(tokenIsUserID{}, roster, logger)).SetupRoutes(router)

	return &apiFixture{router: router, repo: repo, sm: sm}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedQuizRun stores a complete quiz owned by teacher-1 and opens a run for
// group 10A through the API.
func (f *apiFixture) seedQuizRun(t *testing.T) uint {
	t.Helper()
	ctx := context.Background()

	exam := &models.Exam{
		Title:      "Algebra",
		Kind:       models.ExamKindQuiz,
		Source:     models.ExamSourceBank,
		ScoringSet: models.ScoringSet2,
		Status:     models.ExamDraft,
		CreatedBy:  "teacher-1",
	}
	require.NoError(t, f.repo.Exam().Create(ctx, nil, exam))
	require.NoError(t, f.repo.Exam().AddQuestions(ctx, nil, exam.ID, testutil.QuestionSet(12, 3, 0)))

	rec := f.do(t, http.MethodPost, "/api/v1/runs", "teacher-1", map[string]interface{}{
		"exam_id":          exam.ID,
		"group_id":         "10A",
		"duration_minutes": 30,
		"start_now":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[services.RunResponse](t, rec).ID
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "exam_http_requests_total")
}

func TestRouter_BodyLimitAndNoStore(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams", bytes.NewReader([]byte("{}")))
	req.ContentLength = maxRequestBytes + 1
	req.Header.Set("Authorization", "Bearer teacher-1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/exams", "teacher-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRouter_Authentication(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		user string
		path string
		want int
	}{
		{name: "no token", path: "/api/v1/exams", want: http.StatusUnauthorized},
		{name: "bad token", user: "bad", path: "/api/v1/exams", want: http.StatusUnauthorized},
		{name: "student on staff route", user: "s1", path: "/api/v1/exams", want: http.StatusForbidden},
		{name: "teacher", user: "teacher-1", path: "/api/v1/exams", want: http.StatusOK},
		{name: "unknown user falls back to claims", user: "ghost", path: "/api/v1/exams", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, tt.user, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_ExamCompositionError(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/exams", "teacher-1", map[string]interface{}{
		"title": "Short", "kind": "quiz", "source": "bank",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exam := decode[models.Exam](t, rec)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/activate", exam.ID), "teacher-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "composition_invalid", body.Error)

	rec = f.do(t, http.MethodPost, "/api/v1/exams", "teacher-1", map[string]interface{}{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/exams/abc", "teacher-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/exams/999", "teacher-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_AttemptLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	runID := f.seedQuizRun(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/runs/%d/start", runID), "s3", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "s3 is not in 10A")

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/runs/%d/start", runID), "s1", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[services.StudentAttemptResponse](t, rec)
	require.Len(t, started.Items, 15)
	assert.NotContains(t, rec.Body.String(), "correct_answer")

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/runs/%d/start", runID), "s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "second start resumes")

	var mc models.BlueprintItem
	for _, item := range started.Items {
		if item.Type == models.MultipleChoice {
			mc = item
			break
		}
	}
	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/attempts/%d/answers", started.ID), "s1", map[string]interface{}{
		"slot_key":        mc.SlotKey,
		"selected_option": "B",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "auto_points")

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/attempts/%d/answers", started.ID), "s2", map[string]interface{}{
		"slot_key":        mc.SlotKey,
		"selected_option": "B",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/attempts/%d/submit", started.ID), "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	submitted := decode[services.StudentAttemptResponse](t, rec)
	require.NotNil(t, submitted.Result)
	assert.True(t, submitted.Result.Pending)
	assert.Nil(t, submitted.Result.Score)
	require.NotNil(t, submitted.AutoScore)
	assert.InDelta(t, 1.0, *submitted.AutoScore, 1e-9)
	require.NotNil(t, submitted.MaxScore)
	assert.False(t, submitted.IsPublished)
	assert.NotContains(t, rec.Body.String(), "final_score")
	assert.NotContains(t, rec.Body.String(), "manual_score")

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/attempts/%d/answers", started.ID), "s1", map[string]interface{}{
		"slot_key":        mc.SlotKey,
		"selected_option": "A",
	})
	assert.Equal(t, http.StatusGone, rec.Code)

	// Staff see scores, the student does not until publication.
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/attempts/%d", started.ID), "teacher-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode[services.AttemptResponse](t, rec)
	assert.InDelta(t, 1.0, full.AutoScore, 1e-9)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/attempts/%d/publish", started.ID), "teacher-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "ungraded attempts cannot be published")

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/attempts/%d/grade", started.ID), "teacher-1", map[string]interface{}{
		"publish": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/attempts/%d/result", started.ID), "s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[services.StudentResult](t, rec)
	assert.False(t, result.Pending)
	require.NotNil(t, result.Score)
	assert.InDelta(t, 1.0, *result.Score, 1e-9)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/runs/%d/results.xlsx", runID), "teacher-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "results.xlsx")

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/runs/%d", runID), "teacher-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/runs/%d?force=true", runID), "teacher-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_SaveCanvas(t *testing.T) {
	f := newAPIFixture(t)
	runID := f.seedQuizRun(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/runs/%d/start", runID), "s2", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[services.StudentAttemptResponse](t, rec)

	upload := func(slot string, image []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		require.NoError(t, w.WriteField("slot", slot))
		part, err := w.CreateFormFile("image", "drawing.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/v1/attempts/%d/canvas", started.ID), &body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer s2")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	slot := started.Items[0].SlotKey
	rec = upload(slot, []byte("definitely not an image"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())

	png := []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
	}
	rec = upload(slot, png)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	canvas := decode[services.CanvasResponse](t, rec)
	assert.Equal(t, slot, canvas.SlotKey)
	assert.WithinDuration(t, time.Now(), canvas.UpdatedAt, time.Minute)
}

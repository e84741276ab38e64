package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/observability"
	"github.com/SAP-F-2025/exam-attempt-service/internal/services"
	"github.com/SAP-F-2025/exam-attempt-service/internal/utils"
)

type HandlerManager struct {
	examHandler    *ExamHandler
	runHandler     *RunHandler
	attemptHandler *AttemptHandler
	gradingHandler *GradingHandler
	authMiddleware *CasdoorAuthMiddleware
	health         func(c *gin.Context)
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	logger utils.Logger,
	authMiddleware *CasdoorAuthMiddleware,
) *HandlerManager {
	return &HandlerManager{
		examHandler:    NewExamHandler(serviceManager.Exam(), logger),
		runHandler:     NewRunHandler(serviceManager.Run(), serviceManager.Attempt(), serviceManager.Export(), logger),
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), serviceManager.Answer(), serviceManager.Grading(), logger),
		gradingHandler: NewGradingHandler(serviceManager.Grading(), logger),
		authMiddleware: authMiddleware,
		health: func(c *gin.Context) {
			if err := serviceManager.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "exam-attempt-service",
					"error":   err.Error(),
				})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"status":  "healthy",
				"service": "exam-attempt-service",
			})
		},
	}
}

// SetupRoutes registers the public probes and the authenticated /api/v1 API.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.health)
	router.GET("/metrics", observability.MetricsHandler())

	staff := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher)
	student := hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		exams := v1.Group("/exams")
		exams.Use(staff)
		{
			exams.POST("", hm.examHandler.CreateExam)
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.DELETE("/:id", hm.examHandler.DeleteExam)
			exams.POST("/:id/questions", hm.examHandler.AddQuestions)
			exams.POST("/:id/answer-key", hm.examHandler.ImportAnswerKey)
			exams.POST("/:id/pdf", hm.examHandler.AttachPDF)
			exams.POST("/:id/activate", hm.examHandler.ActivateExam)
			exams.POST("/:id/finish", hm.examHandler.FinishExam)
			exams.POST("/:id/archive", hm.examHandler.ArchiveExam)
		}

		runs := v1.Group("/runs")
		{
			// Students read their own runs and start them; the service
			// checks targeting.
			runs.GET("/:id", hm.runHandler.GetRun)
			runs.POST("/:id/start", student, hm.runHandler.StartAttempt)

			runs.POST("", staff, hm.runHandler.CreateRun)
			runs.GET("", staff, hm.runHandler.ListRuns)
			runs.POST("/:id/stop", staff, hm.runHandler.StopRun)
			runs.GET("/:id/attempts", staff, hm.runHandler.ListRunAttempts)
			runs.GET("/:id/results.xlsx", staff, hm.runHandler.ExportResults)
			runs.DELETE("/:id", staff, hm.runHandler.DeleteRun)
		}

		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/result", hm.attemptHandler.GetResult)
			attempts.PUT("/:id/answers", student, hm.attemptHandler.SaveAnswer)
			attempts.PUT("/:id/canvas", student, hm.attemptHandler.SaveCanvas)
			attempts.POST("/:id/submit", student, hm.attemptHandler.Submit)

			attempts.POST("/:id/restart", staff, hm.attemptHandler.Restart)
			attempts.POST("/:id/grade", staff, hm.gradingHandler.GradeAttempt)
			attempts.POST("/:id/publish", staff, hm.gradingHandler.PublishAttempt)
			attempts.POST("/:id/reopen", staff, hm.gradingHandler.ReopenAttempt)
		}
	}
}

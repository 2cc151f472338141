package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Exam    *handler.ExamHandler
	Monitor *handler.MonitorHandler
	Signal  *handler.SignalHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Restrict to AllowedOrigins when set, otherwise allow all for dev.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	brotliConfig := middleware.DefaultBrotliConfig
	brotliConfig.Skipper = isStream
	router.Use(middleware.BrotliWithConfig(brotliConfig))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT, never cached) ──────────────────────────
	submitLimiter := middleware.NewRateLimiter(cfg.SubmitRatePerMinute, time.Minute, middleware.KeyByIdentity)

	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/exams/available", handlers.Attempt.ListAvailable)
		studentAPI.POST("/exams/:exam_id/open", handlers.Attempt.OpenExam)
		studentAPI.POST("/exams/:exam_id/questions/:question_id/answer",
			submitLimiter.Middleware(),
			handlers.Attempt.SubmitAnswer,
		)
		studentAPI.POST("/exams/:exam_id/finalize", handlers.Attempt.Finalize)
		studentAPI.GET("/exams/:exam_id/result", handlers.Attempt.GetResult)
		studentAPI.GET("/history", handlers.Attempt.GetHistory)
	}

	// ─── 2. Organization Group (proctor JWT) ───────────────────────────
	orgAPI := router.Group("/api/v1/org")
	orgAPI.Use(middleware.RequireProctorJWT(authService))
	{
		orgAPI.POST("/exams", handlers.Exam.CreateExam)
		orgAPI.GET("/exams/:exam_id", handlers.Exam.GetExam)
		orgAPI.POST("/exams/:exam_id/questions", handlers.Exam.AddQuestion)
		orgAPI.POST("/exams/:exam_id/students", handlers.Exam.AddStudents)
		orgAPI.GET("/exams/:exam_id/students", handlers.Exam.ListStudents)
		orgAPI.GET("/exams/:exam_id/students/:student_id/result", handlers.Exam.GetStudentResult)
		orgAPI.GET("/exams/:exam_id/presence", handlers.Exam.ListPresence)
		orgAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)

		orgAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 3. WebSocket Group (student or proctor token) ─────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/exams/:exam_id/signal", handlers.Signal.ExamSignal)
	}

	return router
}

// isStream reports SSE routes, which must not be buffered for compression.
func isStream(c *gin.Context) bool {
	p := c.Request.URL.Path
	return strings.HasSuffix(p, "/monitor") || strings.HasSuffix(p, "/system/metrics")
}

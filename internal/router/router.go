package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/handler"
	"github.com/stemsi/proktor-backend/internal/middleware"
	"github.com/stemsi/proktor-backend/internal/response"
	"github.com/stemsi/proktor-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	StudentMgmt   *handler.StudentManagementHandler
	Exam          *handler.ExamHandler
	Question      *handler.QuestionHandler
	Attempt       *handler.AttemptHandler
	Monitor       *handler.MonitorHandler
	Dashboard     *handler.DashboardHandler
	Media         *handler.MediaHandler
	Setting       *handler.SettingHandler
	System        *handler.SystemHandler
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
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Serve uploaded media files statically with aggressive caching (1 year).
	uploadsGroup := router.Group("/uploads")
	uploadsGroup.Use(middleware.CacheControl(31536000))
	{
		uploadsGroup.Static("/", "./uploads")
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	publicAPI := router.Group("/api/v1/public")
	{
		publicAPI.GET("/settings", handlers.Setting.GetPublicSettings)
	}

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/instructor/login", handlers.Auth.InstructorLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/instructor/me", middleware.RequireInstructorJWT(authService), handlers.Auth.GetInstructorProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/lobby", handlers.StudentPortal.GetLobby)
		studentAPI.GET("/exams/:exam_id/paper", handlers.StudentPortal.GetExamPaper)

		// Attempt lifecycle
		studentAPI.POST("/exams/:exam_id/attempts", handlers.Attempt.StartAttempt)
		studentAPI.GET("/attempts", handlers.Attempt.ListMyAttempts)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		studentAPI.POST("/attempts/:attempt_id/answers", handlers.Attempt.RecordAnswer)
		studentAPI.POST("/attempts/:attempt_id/violations", handlers.Attempt.RecordViolation)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		studentAPI.POST("/attempts/:attempt_id/snapshots", handlers.Attempt.SaveSnapshot)

		// Webcam snapshot upload; the returned URL is then registered on
		// the attempt.
		studentAPI.POST("/media/upload", handlers.Media.UploadMedia)
	}

	// ─── 3. Instructor Group (JWT) ─────────────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		// Dashboard
		instructorAPI.GET("/dashboard", handlers.Dashboard.GetDashboard)

		// Exam management
		instructorAPI.GET("/exams", handlers.Exam.ListExams)
		instructorAPI.POST("/exams", handlers.Exam.CreateExam)
		instructorAPI.GET("/exams/:exam_id", handlers.Exam.GetExam)
		instructorAPI.PUT("/exams/:exam_id", handlers.Exam.UpdateExam)
		instructorAPI.DELETE("/exams/:exam_id", handlers.Exam.DeleteExam)
		instructorAPI.POST("/exams/:exam_id/publish", handlers.Exam.PublishExam)
		instructorAPI.POST("/exams/:exam_id/archive", handlers.Exam.ArchiveExam)
		instructorAPI.POST("/exams/:exam_id/cache/refresh", handlers.Exam.RefreshExamCache)

		// Question management
		instructorAPI.GET("/exams/:exam_id/questions", handlers.Question.ListQuestions)
		instructorAPI.POST("/exams/:exam_id/questions", handlers.Question.AddQuestion)
		instructorAPI.PUT("/exams/:exam_id/questions", handlers.Question.ReplaceQuestions)
		instructorAPI.DELETE("/exams/:exam_id/questions/:question_id", handlers.Question.DeleteQuestion)

		// Attempt review
		instructorAPI.GET("/exams/:exam_id/attempts", handlers.Attempt.ListExamAttempts)
		instructorAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetExamAttempt)
		instructorAPI.POST("/attempts/:attempt_id/cancel", handlers.Attempt.CancelAttempt)

		// Live monitoring
		instructorAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.GetSummary)

		// Student management
		instructorAPI.GET("/students", handlers.StudentMgmt.ListStudents)
		instructorAPI.POST("/students", handlers.StudentMgmt.CreateStudent)
		instructorAPI.GET("/students/:id", handlers.StudentMgmt.GetStudent)
		instructorAPI.PUT("/students/:id", handlers.StudentMgmt.UpdateStudent)
		instructorAPI.DELETE("/students/:id", handlers.StudentMgmt.DeleteStudent)
		instructorAPI.POST("/students/:id/reset-session", handlers.StudentMgmt.ResetStudentSession)

		// Media upload
		instructorAPI.POST("/media/upload", handlers.Media.UploadMedia)

		// App settings
		instructorAPI.GET("/settings", handlers.Setting.GetAllSettings)
		instructorAPI.PUT("/settings", handlers.Setting.UpdateSettings)

		// System monitoring
		instructorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 4. WebSocket Group (Instructor WS Auth) ───────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireInstructorWSAuth(authService))
	{
		ws.GET("/instructor/monitor", handlers.Monitor.StreamEvents)
	}

	return router
}

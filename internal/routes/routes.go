package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/snaprepair/backend/internal/controllers"
	"github.com/snaprepair/backend/internal/middleware"
	"github.com/snaprepair/backend/internal/notify"
	"github.com/snaprepair/backend/internal/services"
	"github.com/snaprepair/backend/internal/store"
)

// Deps is everything the route table wires into controllers.
type Deps struct {
	Stores       *store.Stores
	Tokens       *middleware.TokenIssuer
	Issues       *services.IssueService
	Feedback     *services.FeedbackService
	Hub          *notify.Hub
	LLMCalls     controllers.LLMCallLog
	PollInterval time.Duration
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Deps) {
	// Initialize controllers
	authController := controllers.NewAuthController(deps.Stores.Users, deps.Tokens)
	userController := controllers.NewUserController(deps.Stores.Users)
	issueController := controllers.NewIssueController(deps.Issues, deps.Feedback)
	eventsController := controllers.NewEventsController(deps.Issues, deps.Hub, deps.PollInterval)
	adminController := controllers.NewAdminController(deps.LLMCalls)

	// API routes
	api := r.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
			auth.POST("/register", authController.Register)
			auth.POST("/refresh", middleware.AuthMiddleware(deps.Tokens), authController.RefreshToken)
			auth.POST("/change-password", middleware.AuthMiddleware(deps.Tokens), authController.ChangePassword)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(deps.Tokens))
		{
			// Users
			users := protected.Group("/users")
			{
				users.GET("/me", userController.GetCurrentUser)
				users.PUT("/me", userController.UpdateCurrentUser)
			}

			// Issues
			issues := protected.Group("/issues")
			{
				issues.POST("", issueController.CreateIssue)
				issues.GET("", issueController.GetMyIssues)
				issues.POST("/detect-device", issueController.DetectDevice)
				issues.GET("/:id", issueController.GetIssue)
				issues.GET("/:id/snapshot", issueController.GetSnapshot)
				issues.GET("/:id/events", eventsController.Stream)
				issues.GET("/:id/messages", issueController.GetMessages)
				issues.POST("/:id/messages", issueController.PostMessage)
				issues.POST("/:id/diagnose", issueController.Diagnose)
				issues.PUT("/:id/diagnosis", issueController.AttachDiagnosis)
				issues.POST("/:id/payment-request", issueController.RequestPayment)
				issues.GET("/:id/payments", issueController.GetPayments)
				issues.POST("/:id/payments", issueController.RecordPayment)
				issues.POST("/:id/close", issueController.CloseIssue)
				issues.GET("/:id/feedback", issueController.GetFeedback)
				issues.POST("/:id/feedback", issueController.SubmitFeedback)
			}

			// Expert dashboard
			expert := protected.Group("/expert")
			{
				expert.GET("/issues", issueController.GetAllIssues)
				expert.GET("/feedback/summary", issueController.GetFeedbackSummary)
			}

			// Admin routes
			admin := protected.Group("/admin")
			{
				admin.GET("/llm-api-calls", adminController.GetLLMAPICalls)
				admin.DELETE("/llm-api-calls", adminController.ClearLLMAPICalls)
			}
		}
	}
}

package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/ai"
	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/credits"
	"cvforge/internal/storage"
)

// RouteDeps bundles everything the handlers need.
type RouteDeps struct {
	DB             *gorm.DB
	AsynqClient    *asynq.Client
	AuthService    *auth.AuthService
	GoogleVerifier *auth.GoogleVerifier
	RedisClient    *redis.Client
	Logger         *slog.Logger
	Storage        *storage.Client
	Ledger         *credits.Ledger
	Pipeline       *ai.Pipeline

	ClamdAddr             string
	MaxUploadBytes        int64
	MaxResumes            int
	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
}

// RegisterRoutes wires all /v1 endpoints.
func RegisterRoutes(router *gin.Engine, deps RouteDeps) {
	authHandler := NewAuthHandler(
		deps.DB,
		deps.AuthService,
		deps.GoogleVerifier,
		deps.RedisClient,
		deps.Logger,
		deps.LoginRateLimitPerHour,
		deps.LoginLockThreshold,
		deps.LoginLockTTL,
	)
	resumeHandler := NewResumeHandler(
		deps.DB,
		deps.AsynqClient,
		deps.Storage,
		deps.Ledger,
		deps.Pipeline,
		deps.ClamdAddr,
		deps.MaxUploadBytes,
		deps.MaxResumes,
	)
	aiHandler := NewAIHandler(deps.Pipeline)
	feedbackHandler := NewFeedbackHandler(deps.DB)
	wsHandler := NewWsHandler(deps.RedisClient, deps.AuthService, deps.Logger, nil)
	authMiddleware := middleware.AuthMiddleware(deps.AuthService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/google", authHandler.GoogleLogin)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authHandler.Logout)
			authGroup.GET("/profile", authMiddleware, authHandler.Profile)
			authGroup.GET("/me", authMiddleware, authHandler.Profile)
		}

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("/upload", resumeHandler.UploadResume)
			resumeGroup.GET("", resumeHandler.ListResumes)
			resumeGroup.GET("/:id", resumeHandler.GetResume)
			resumeGroup.PUT("/:id", resumeHandler.UpdateResume)
			resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
			resumeGroup.POST("/:id/render", resumeHandler.RenderResume)
			resumeGroup.GET("/:id/download-link", resumeHandler.GetDownloadLink)
		}

		aiGroup := v1.Group("/ai")
		aiGroup.Use(authMiddleware)
		{
			aiGroup.POST("/enhance", aiHandler.Enhance)
			aiGroup.POST("/analyze", aiHandler.Analyze)
			aiGroup.POST("/optimize", aiHandler.Optimize)
		}

		feedbackGroup := v1.Group("/feedback")
		feedbackGroup.Use(authMiddleware)
		{
			feedbackGroup.POST("/submit", feedbackHandler.Submit)
			feedbackGroup.GET("", feedbackHandler.List)
		}
	}
}

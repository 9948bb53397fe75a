package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
)

// FeedbackHandler stores and lists user feedback messages.
type FeedbackHandler struct {
	db *gorm.DB
}

func NewFeedbackHandler(db *gorm.DB) *FeedbackHandler {
	return &FeedbackHandler{db: db}
}

type submitFeedbackRequest struct {
	Message string `json:"message" binding:"required,min=3,max=4000"`
}

type feedbackItem struct {
	ID         uint       `json:"id"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Submit stores a feedback message for the caller.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return
		}
		logger.Error("feedback user lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	feedback := database.Feedback{
		UserID:    userID,
		UserEmail: email,
		Message:   req.Message,
	}
	if err := h.db.WithContext(ctx).Create(&feedback).Error; err != nil {
		logger.Error("create feedback failed", slog.Any("error", err))
		Internal(c, "failed to store feedback")
		return
	}

	c.JSON(http.StatusCreated, feedbackItem{
		ID:        feedback.ID,
		Message:   feedback.Message,
		CreatedAt: feedback.CreatedAt,
	})
}

// List returns the caller's feedback, newest first.
func (h *FeedbackHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var items []database.Feedback
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&items).Error; err != nil {
		Internal(c, "failed to list feedback")
		return
	}

	out := make([]feedbackItem, 0, len(items))
	for _, f := range items {
		out = append(out, feedbackItem{
			ID:         f.ID,
			Message:    f.Message,
			CreatedAt:  f.CreatedAt,
			ResolvedAt: f.ResolvedAt,
		})
	}

	c.JSON(http.StatusOK, out)
}

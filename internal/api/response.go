package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/credits"
	"cvforge/internal/errcode"
)

func Error(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.Unauthorized})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, errcode.Unauthorized, "unauthorized")
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, errcode.ValidationFailed, msg)
}

func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, errcode.NotFound, msg)
}

func Conflict(c *gin.Context, msg string) {
	Error(c, http.StatusConflict, errcode.Conflict, msg)
}

func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, errcode.SystemError, msg)
}

func BadGateway(c *gin.Context, msg string) {
	Error(c, http.StatusBadGateway, errcode.DelegationFailed, msg)
}

// PaymentRequired reports an insufficient balance together with the numbers
// the client needs to explain the refusal.
func PaymentRequired(c *gin.Context, e *credits.InsufficientCreditsError) {
	c.JSON(http.StatusPaymentRequired, gin.H{
		"error":     "insufficient credits",
		"code":      errcode.InsufficientCredits,
		"remaining": e.Remaining,
		"required":  e.Required,
		"tier":      e.Tier,
	})
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

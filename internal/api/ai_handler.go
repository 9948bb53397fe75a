package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/ai"
	"cvforge/internal/api/middleware"
	"cvforge/internal/credits"
)

// AIHandler serves the priced content operations: enhance, analyze and
// optimize. All of them run through the same pipeline envelope.
type AIHandler struct {
	pipeline *ai.Pipeline
}

func NewAIHandler(pipeline *ai.Pipeline) *AIHandler {
	return &AIHandler{pipeline: pipeline}
}

type enhanceRequest struct {
	SectionName string `json:"section_name" binding:"required"`
	Content     string `json:"content"`
}

// Enhance rewrites one resume section for impact.
func (h *AIHandler) Enhance(c *gin.Context) {
	var req enhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	instructions := fmt.Sprintf("%s\n\nSection: %s", ai.EnhanceInstructions, req.SectionName)
	enhanced, err := h.pipeline.Run(c.Request.Context(), userID, credits.OpEnhance, instructions, req.Content, nil)
	if err != nil {
		replyPipelineError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"section":  req.SectionName,
		"original": req.Content,
		"enhanced": enhanced,
	})
}

type analyzeRequest struct {
	JobDescription string `json:"job_description" binding:"required"`
	Content        string `json:"content"`
}

// Analyze compares the resume against a job description for ATS keywords.
func (h *AIHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	instructions := fmt.Sprintf("%s\n\nJob description:\n%s", ai.AnalyzeInstructions, req.JobDescription)
	analysis, err := h.pipeline.Run(c.Request.Context(), userID, credits.OpAnalyze, instructions, req.Content, nil)
	if err != nil {
		replyPipelineError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

type optimizeRequest struct {
	SectionName string `json:"section_name" binding:"required"`
	Content     string `json:"content"`
	TargetRole  string `json:"target_role" binding:"required"`
}

// Optimize rewrites one section toward a target role.
func (h *AIHandler) Optimize(c *gin.Context) {
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	instructions := fmt.Sprintf("%s\n\nSection: %s\nTarget role: %s", ai.OptimizeInstructions, req.SectionName, req.TargetRole)
	optimized, err := h.pipeline.Run(c.Request.Context(), userID, credits.OpOptimize, instructions, req.Content, nil)
	if err != nil {
		replyPipelineError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"section":   req.SectionName,
		"original":  req.Content,
		"optimized": optimized,
	})
}

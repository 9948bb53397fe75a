package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/ai"
	"cvforge/internal/api/middleware"
	"cvforge/internal/credits"
	"cvforge/internal/database"
	"cvforge/internal/pdfparse"
	"cvforge/internal/schema"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
)

// ResumeHandler serves resume CRUD, PDF upload parsing, render requests and
// download links.
type ResumeHandler struct {
	db             *gorm.DB
	asynqClient    *asynq.Client
	storage        *storage.Client
	ledger         *credits.Ledger
	pipeline       *ai.Pipeline
	clamdAddr      string
	maxUploadBytes int64
	maxResumes     int
}

func NewResumeHandler(
	db *gorm.DB,
	asynqClient *asynq.Client,
	storageClient *storage.Client,
	ledger *credits.Ledger,
	pipeline *ai.Pipeline,
	clamdAddr string,
	maxUploadBytes int64,
	maxResumes int,
) *ResumeHandler {
	return &ResumeHandler{
		db:             db,
		asynqClient:    asynqClient,
		storage:        storageClient,
		ledger:         ledger,
		pipeline:       pipeline,
		clamdAddr:      clamdAddr,
		maxUploadBytes: maxUploadBytes,
		maxResumes:     maxResumes,
	}
}

var errInvalidResumeID = errors.New("invalid resume id")

type resumeListItem struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type resumeResponse struct {
	ID        uint           `json:"id"`
	Title     string         `json:"title"`
	Content   datatypes.JSON `json:"content"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newResumeResponse(r database.Resume) resumeResponse {
	return resumeResponse{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// UploadResume accepts a PDF, extracts its text and delegates parsing to the
// content generator. The parse operation is priced at the default cost.
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		BadRequest(c, "file too large")
		return
	}
	if !strings.EqualFold(strings.TrimSpace(c.PostForm("skip_extension_check")), "true") &&
		!strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		BadRequest(c, "only PDF files are accepted")
		return
	}

	var count int64
	if err := h.db.WithContext(ctx).
		Model(&database.Resume{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		Internal(c, "failed to count resumes")
		return
	}
	if h.maxResumes > 0 && count >= int64(h.maxResumes) {
		Conflict(c, "resume limit reached")
		return
	}

	if h.clamdAddr != "" {
		if err := h.scanUpload(file); err != nil {
			if errors.Is(err, errMaliciousFile) {
				logger.Warn("malicious upload rejected")
				BadRequest(c, "malicious file detected")
				return
			}
			logger.Error("scan upload failed", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}

	// The extractor needs a real file on disk; removed on every exit path.
	tmpPath, err := h.saveToTemp(file)
	if err != nil {
		logger.Error("save upload failed", slog.Any("error", err))
		Internal(c, "failed to store upload")
		return
	}
	defer os.Remove(tmpPath)

	text, err := pdfparse.ExtractText(tmpPath)
	if err != nil {
		logger.Info("pdf text extraction failed", slog.Any("error", err))
		BadRequest(c, "could not read the PDF")
		return
	}

	output, err := h.pipeline.Run(ctx, userID, "parse", ai.ParseInstructions, text, func(raw string) (string, error) {
		doc, err := schema.ExtractDocument(raw)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		replyPipelineError(c, logger, err)
		return
	}

	title := strings.TrimSuffix(file.Filename, ".pdf")
	if title == "" {
		title = "Imported resume"
	}
	resume := database.Resume{
		Title:   title,
		Content: datatypes.JSON(output),
		UserID:  userID,
		Status:  database.ResumeStatusDraft,
	}
	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		logger.Error("create resume failed", slog.Any("error", err))
		Internal(c, "failed to create resume")
		return
	}
	if err := h.adjustResumeCount(ctx, userID, 1); err != nil {
		logger.Warn("increment resume count failed", slog.Any("error", err))
	}

	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

// ListResumes lists the caller's resumes, newest first.
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var resumes []database.Resume
	if err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&resumes).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeListItem, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, resumeListItem{
			ID:        r.ID,
			Title:     r.Title,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, items)
}

// GetResume returns one resume owned by the caller.
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

type updateResumeRequest struct {
	Title   string         `json:"title" binding:"required"`
	Content datatypes.JSON `json:"content" binding:"required"`
}

// UpdateResume replaces the stored document.
func (h *ResumeHandler) UpdateResume(c *gin.Context) {
	var req updateResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(req.Content, &doc); err != nil {
		BadRequest(c, "content must be a JSON object")
		return
	}
	if err := schema.Validate(doc); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	resume, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	updates := map[string]any{
		"title":   req.Title,
		"content": req.Content,
		"status":  database.ResumeStatusDraft,
	}
	if err := h.db.WithContext(ctx).Model(resume).Updates(updates).Error; err != nil {
		Internal(c, "failed to update resume")
		return
	}
	if err := h.db.WithContext(ctx).First(resume, resume.ID).Error; err != nil {
		Internal(c, "failed to reload resume")
		return
	}

	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// DeleteResume removes a resume and decrements the owner's cached count.
// The two writes are sequential, not transactional; the profile read repairs
// a stale count.
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	resume, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	if err := h.db.WithContext(ctx).Delete(resume).Error; err != nil {
		Internal(c, "failed to delete resume")
		return
	}
	if err := h.adjustResumeCount(ctx, userID, -1); err != nil {
		logger.Warn("decrement resume count failed", slog.Any("error", err))
	}

	if resume.PDFObjectKey != "" {
		if err := h.storage.DeleteObject(ctx, resume.PDFObjectKey); err != nil {
			logger.Warn("delete rendered pdf failed", slog.Any("error", err))
		}
	}

	c.Status(http.StatusNoContent)
}

// RenderResume reserves the render price and enqueues the background task.
// The task is enqueued without retries; a failed render refunds and the user
// re-requests explicitly.
func (h *ResumeHandler) RenderResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	resume, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}
	if len(resume.Content) == 0 {
		BadRequest(c, "resume has no content to render")
		return
	}

	if err := h.ledger.Reserve(ctx, userID, credits.OpGenerate); err != nil {
		var insufficient *credits.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			PaymentRequired(c, insufficient)
			return
		}
		logger.Error("reserve render credits failed", slog.Any("error", err))
		Internal(c, "failed to reserve credits")
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewResumeRenderTask(resume.ID, userID, correlationID)
	if err != nil {
		h.refundRender(ctx, logger, userID)
		Internal(c, "failed to build render task")
		return
	}

	info, err := h.asynqClient.EnqueueContext(ctx, task)
	if err != nil {
		logger.Error("enqueue render task failed", slog.Any("error", err))
		h.refundRender(ctx, logger, userID)
		Internal(c, "failed to enqueue render task")
		return
	}

	if err := h.db.WithContext(ctx).
		Model(resume).
		Update("status", database.ResumeStatusRendering).Error; err != nil {
		logger.Warn("mark resume rendering failed", slog.Any("error", err))
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID})
}

// GetDownloadLink returns a presigned URL for the rendered PDF.
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	resume, err := h.getResumeForUser(ctx, c.Param("id"), userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	if resume.PDFObjectKey == "" {
		Conflict(c, "resume has not been rendered yet")
		return
	}

	url, err := h.storage.GeneratePresignedURL(ctx, resume.PDFObjectKey, 15*time.Minute)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "rendered pdf not found")
			return
		}
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

var errMaliciousFile = errors.New("malicious file detected")

func (h *ResumeHandler) scanUpload(file *multipart.FileHeader) error {
	fileReader, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return errMaliciousFile
		}
	}
	return nil
}

func (h *ResumeHandler) saveToTemp(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "cvforge-upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// getResumeForUser loads a resume scoped to its owner. Absent and not-owned
// are indistinguishable to the caller.
func (h *ResumeHandler) getResumeForUser(ctx context.Context, rawID string, userID uint) (*database.Resume, error) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return nil, errInvalidResumeID
	}

	var resume database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&resume).Error; err != nil {
		return nil, err
	}
	return &resume, nil
}

func (h *ResumeHandler) adjustResumeCount(ctx context.Context, userID uint, delta int) error {
	return h.db.WithContext(ctx).
		Model(&database.User{}).
		Where("id = ?", userID).
		Update("resume_count", gorm.Expr("CASE WHEN resume_count + ? >= 0 THEN resume_count + ? ELSE 0 END", delta, delta)).Error
}

func (h *ResumeHandler) refundRender(ctx context.Context, logger *slog.Logger, userID uint) {
	if err := h.ledger.Refund(context.WithoutCancel(ctx), userID, credits.OpGenerate); err != nil {
		logger.Error("refund render reservation failed", slog.Any("error", err))
	}
}

func (h *ResumeHandler) replyLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidResumeID):
		BadRequest(c, "invalid resume id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resume not found")
	default:
		Internal(c, "failed to query resume")
	}
}

// replyPipelineError maps pipeline failures onto the HTTP error taxonomy.
// Shared by the upload parse and the AI endpoints.
func replyPipelineError(c *gin.Context, logger *slog.Logger, err error) {
	var insufficient *credits.InsufficientCreditsError
	var delegation *ai.DelegationError
	switch {
	case errors.As(err, &insufficient):
		PaymentRequired(c, insufficient)
	case errors.Is(err, ai.ErrEmptyContent):
		BadRequest(c, "content is required")
	case errors.As(err, &delegation):
		logger.Error("delegated operation failed", slog.Any("error", err))
		BadGateway(c, "content generation failed")
	default:
		logger.Error("pipeline failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

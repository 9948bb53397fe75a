package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/credits"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/rendercv"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
)

// RenderTaskHandler consumes resume render tasks: it converts the stored
// document to a RenderCV description, drives the external renderer, and
// uploads the produced PDF.
type RenderTaskHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	ledger      *credits.Ledger
	renderer    *rendercv.Renderer
	logger      *slog.Logger
}

func NewRenderTaskHandler(
	db *gorm.DB,
	storage *storage.Client,
	redisClient *redis.Client,
	ledger *credits.Ledger,
	renderer *rendercv.Renderer,
	logger *slog.Logger,
) *RenderTaskHandler {
	return &RenderTaskHandler{
		db:          db,
		storage:     storage,
		redisClient: redisClient,
		ledger:      ledger,
		renderer:    renderer,
		logger:      logger,
	}
}

// ProcessTask implements asynq.Handler. Credits were reserved when the task
// was enqueued, so any failure here refunds the reservation. Tasks are
// enqueued with zero retries: a failed render is reported to the user, who
// re-requests explicitly.
func (h *RenderTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.ResumeRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("resume_id", int(payload.ResumeID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)
	log.Info("starting resume render task")

	defer func() {
		if retErr == nil {
			return
		}

		cleanupCtx := context.WithoutCancel(ctx)
		if err := h.ledger.Refund(cleanupCtx, payload.UserID, credits.OpGenerate); err != nil {
			log.Error("refund render reservation failed", slog.Any("error", err))
		}
		if err := h.db.WithContext(cleanupCtx).
			Model(&database.Resume{}).
			Where("id = ?", payload.ResumeID).
			Update("status", database.ResumeStatusFailed).Error; err != nil {
			log.Error("mark resume failed", slog.Any("error", err))
		}

		notify := RenderNotifyMessage{
			Status:        "error",
			ResumeID:      payload.ResumeID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishRenderNotify(cleanupCtx, payload.UserID, notify); err != nil {
			log.Error("publish render error notification failed", slog.Any("error", err))
		}
	}()

	var resume database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", payload.ResumeID, payload.UserID).
		First(&resume).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("resume %d not found", payload.ResumeID)
		}
		return fmt.Errorf("query resume: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(resume.Content, &doc); err != nil {
		return fmt.Errorf("decode resume content: %w", err)
	}

	yamlContent, err := rendercv.Convert(doc)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "cvforge-render-*")
	if err != nil {
		return fmt.Errorf("create render workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath, err := h.renderer.Render(ctx, yamlContent, workDir)
	if err != nil {
		log.Error("render resume failed", slog.Any("error", err))
		return err
	}

	pdfFile, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("open rendered pdf: %w", err)
	}
	defer pdfFile.Close()

	info, err := pdfFile.Stat()
	if err != nil {
		return fmt.Errorf("stat rendered pdf: %w", err)
	}

	objectKey := fmt.Sprintf("rendered-resumes/%d/%s.pdf", resume.UserID, uuid.NewString())
	if err := h.storage.UploadFile(ctx, objectKey, pdfFile, info.Size(), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}

	update := map[string]any{
		"yaml_content":   yamlContent,
		"pdf_object_key": objectKey,
		"status":         database.ResumeStatusCompleted,
	}
	if err := h.db.WithContext(ctx).Model(&resume).Updates(update).Error; err != nil {
		return fmt.Errorf("update resume: %w", err)
	}

	notify := RenderNotifyMessage{
		Status:        "completed",
		ResumeID:      resume.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishRenderNotify(ctx, resume.UserID, notify); err != nil {
		log.Error("publish render notification failed", slog.Any("error", err))
	}

	log.Info("resume render task completed")
	return nil
}

func (h *RenderTaskHandler) publishRenderNotify(ctx context.Context, userID uint, notify RenderNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

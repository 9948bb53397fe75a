package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type constants shared by queue producers and consumers.
const (
	TypeResumeRender = "resume:render"
)

// ResumeRenderPayload carries the minimum information needed to render a
// resume PDF.
type ResumeRenderPayload struct {
	ResumeID      uint   `json:"resume_id"`
	UserID        uint   `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewResumeRenderTask builds a render task. Rendering is charged up front,
// so the task must not be retried: a failed attempt refunds the reservation
// and the user re-requests explicitly.
func NewResumeRenderTask(resumeID, userID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResumeRenderPayload{
		ResumeID:      resumeID,
		UserID:        userID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeRender, payload, asynq.MaxRetry(0)), nil
}

package worker

// RenderNotifyMessage is the WebSocket message protocol forwarded to clients
// through Redis Pub/Sub. Field names are part of the client contract.
type RenderNotifyMessage struct {
	Status        string `json:"status"`
	ResumeID      uint   `json:"resume_id"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

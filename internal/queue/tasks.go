package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/flyimg/internal/options"
	"github.com/hibiken/asynq"
)

const TypeTransformImage = "image:transform"

// TransformImagePayload carries everything the worker needs, so a job can be
// processed without a round trip to the job store.
type TransformImagePayload struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id,omitempty"`
	SourceType  string          `json:"source_type"`
	SourceURL   string          `json:"source_url,omitempty"`
	Payload     string          `json:"payload,omitempty"`
	ObjectKey   string          `json:"object_key,omitempty"`
	Mode        string          `json:"mode,omitempty"`
	WebhookURL  string          `json:"webhook_url,omitempty"`
	Options     options.Options `json:"options"`
	RequestedAt time.Time       `json:"requested_at"`
}

func NewTransformImageTask(payload TransformImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformImage, body), nil
}

func ParseTransformImagePayload(task *asynq.Task) (TransformImagePayload, error) {
	var payload TransformImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformImagePayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if payload.JobID == "" {
		return TransformImagePayload{}, fmt.Errorf("transform payload is missing job_id")
	}
	return payload, nil
}

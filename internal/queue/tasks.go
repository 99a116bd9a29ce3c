package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRenderVariant = "variant:render"

// RenderVariantPayload asks a worker to render {Directive}/{Filename} into
// the object store.
type RenderVariantPayload struct {
	JobID       string    `json:"job_id"`
	Directive   string    `json:"directive"`
	Filename    string    `json:"filename"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewRenderVariantTask(payload RenderVariantPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderVariant, body), nil
}

func ParseRenderVariantPayload(task *asynq.Task) (RenderVariantPayload, error) {
	var payload RenderVariantPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderVariantPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

func TestRenderVariantTaskRoundTrip(t *testing.T) {
	payload := RenderVariantPayload{
		JobID:       "job-123",
		Directive:   "300x200-crop100x100+10+10-Center",
		Filename:    "photos/cat.jpg",
		WebhookURL:  "https://hooks.example.com/render",
		RequestedAt: time.Now().UTC().Truncate(time.Second),
	}

	task, err := NewRenderVariantTask(payload)
	if err != nil {
		t.Fatalf("NewRenderVariantTask returned error: %v", err)
	}
	if task.Type() != TypeRenderVariant {
		t.Fatalf("expected task type %q, got %q", TypeRenderVariant, task.Type())
	}

	parsed, err := ParseRenderVariantPayload(task)
	if err != nil {
		t.Fatalf("ParseRenderVariantPayload returned error: %v", err)
	}
	if parsed != payload {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, payload)
	}
}

func TestParseRenderVariantPayloadRejectsGarbage(t *testing.T) {
	if _, err := ParseRenderVariantPayload(asynq.NewTask(TypeRenderVariant, []byte("{"))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestEnqueueRenderVariant(t *testing.T) {
	mr := miniredis.RunT(t)

	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, "renders", time.Minute)
	defer client.Close()

	info, err := client.EnqueueRenderVariant(context.Background(), RenderVariantPayload{
		JobID:     "job-9",
		Directive: "50x50",
		Filename:  "cat.jpg",
	})
	if err != nil {
		t.Fatalf("EnqueueRenderVariant returned error: %v", err)
	}
	if info.Queue != "renders" {
		t.Fatalf("expected queue renders, got %q", info.Queue)
	}
	if info.ID != "job-9" {
		t.Fatalf("expected task id job-9, got %q", info.ID)
	}
	if info.Timeout != time.Minute {
		t.Fatalf("expected timeout 1m, got %s", info.Timeout)
	}
}

package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

type CreateJobRequest struct {
	Directive  string `json:"directive"`
	Filename   string `json:"filename"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Job tracks one asynchronous render of a variant into the object store.
type Job struct {
	ID         string    `json:"job_id"`
	Status     string    `json:"status"`
	Directive  string    `json:"directive"`
	Filename   string    `json:"filename"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Location   string    `json:"location,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobUpdate carries the fields a status transition may set. Empty strings
// leave the stored value untouched.
type JobUpdate struct {
	Status    string
	ObjectKey string
	Location  string
	Error     string
}

func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Filename) == "" {
		return errors.New("filename is required")
	}
	if strings.Contains(r.Directive, "/") {
		return errors.New("directive must not contain '/'")
	}
	if webhookURL := strings.TrimSpace(r.WebhookURL); webhookURL != "" &&
		!strings.HasPrefix(webhookURL, "http://") && !strings.HasPrefix(webhookURL, "https://") {
		return errors.New("webhook_url must be an http(s) URL")
	}
	return nil
}

func IsTerminalStatus(status string) bool {
	return status == JobStatusSucceeded || status == JobStatusFailed
}

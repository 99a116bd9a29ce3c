package domain

import "testing"

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		Directive: "300x200-Center",
		Filename:  "photos/cat.jpg",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	emptyDirective := CreateJobRequest{Filename: "cat.jpg"}
	if err := emptyDirective.Validate(); err != nil {
		t.Fatalf("expected empty directive to be accepted, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	slashInDirective := CreateJobRequest{
		Directive: "300x200/evil",
		Filename:  "cat.jpg",
	}
	if err := slashInDirective.Validate(); err == nil {
		t.Fatal("expected validation error for directive containing a slash")
	}

	badWebhook := CreateJobRequest{
		Directive:  "300x200",
		Filename:   "cat.jpg",
		WebhookURL: "ftp://example.com/hook",
	}
	if err := badWebhook.Validate(); err == nil {
		t.Fatal("expected validation error for non-http webhook_url")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, status := range []string{JobStatusSucceeded, JobStatusFailed} {
		if !IsTerminalStatus(status) {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []string{JobStatusCreated, JobStatusQueued, JobStatusProcessing} {
		if IsTerminalStatus(status) {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ JobStore   = (*MemoryJobStore)(nil)
	_ UsageStore = (*MemoryJobStore)(nil)
	_ JobStore   = (*PostgresJobStore)(nil)
	_ UsageStore = (*PostgresJobStore)(nil)
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	created := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, s.Create(ctx, domain.Job{
		ID:        "job-1",
		Status:    domain.JobStatusCreated,
		Directive: "300x200",
		Filename:  "cat.jpg",
		CreatedAt: created,
		UpdatedAt: created,
	}))

	job, ok, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCreated, job.Status)

	job, err = s.Update(ctx, "job-1", domain.JobUpdate{Status: domain.JobStatusQueued})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.True(t, job.UpdatedAt.After(created))

	job, err = s.Update(ctx, "job-1", domain.JobUpdate{
		Status:    domain.JobStatusSucceeded,
		ObjectKey: "300x200/cat.jpg",
		Location:  "http://static.example.com/300x200/cat.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "300x200/cat.jpg", job.ObjectKey)

	job, err = s.Update(ctx, "job-1", domain.JobUpdate{})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status, "empty update keeps fields")
	assert.Equal(t, "http://static.example.com/300x200/cat.jpg", job.Location)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Update(ctx, "missing", domain.JobUpdate{Status: domain.JobStatusFailed})
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestMemoryJobStoreUsageLogs(t *testing.T) {
	s := NewMemoryJobStore()
	require.NoError(t, s.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "job-1", OutputBytes: 10}))

	logs := s.UsageLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "job-1", logs[0].JobID)
}

func TestMemoryJobStoreSuccessClearsRetryError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	require.NoError(t, s.Create(ctx, domain.Job{ID: "job-2", Status: domain.JobStatusQueued}))

	job, err := s.Update(ctx, "job-2", domain.JobUpdate{Status: domain.JobStatusQueued, Error: "stat object: timeout"})
	require.NoError(t, err)
	assert.Equal(t, "stat object: timeout", job.Error)

	job, err = s.Update(ctx, "job-2", domain.JobUpdate{Status: domain.JobStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, "stat object: timeout", job.Error, "intermediate states keep the last error")

	job, err = s.Update(ctx, "job-2", domain.JobUpdate{Status: domain.JobStatusSucceeded, Location: "/100x100/cat.jpg"})
	require.NoError(t, err)
	assert.Empty(t, job.Error)
}

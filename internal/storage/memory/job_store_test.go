package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/clock/system"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewJobStore(system.Fixed(now))
	ctx := context.Background()
	job := monitor.Job{ID: "job-1", Stage: monitor.StageScrape, Status: monitor.JobStatusQueued}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	require.NoError(t, store.UpdateJob(ctx, job.ID, monitor.JobStatusRunning, "", nil))
	running, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, running.Started)
	require.Nil(t, running.Finished)

	summary := map[string]int{"processed": 3}
	require.NoError(t, store.UpdateJob(ctx, job.ID, monitor.JobStatusSucceeded, "", summary))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusSucceeded, final.Status)
	require.Equal(t, now, *final.Finished)
	require.Equal(t, summary, final.Summary)
}

func TestJobStoreMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	_, err := store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.ErrorIs(t, store.UpdateJob(context.Background(), "nope", monitor.JobStatusFailed, "x", nil), monitor.ErrNotFound)
}

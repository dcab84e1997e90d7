package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := NewJobStore(clk)
	ctx := context.Background()
	job := pipeline.CrawlJob{
		ID:        uuid.New(),
		Domain:    "example.com",
		Status:    pipeline.JobStatusPending,
		StartedAt: clk.Now(),
	}

	require.NoError(t, s.CreateJob(ctx, job))
	require.Error(t, s.CreateJob(ctx, job), "duplicate create must fail")

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusRunning, ""))
	require.NoError(t, s.SetPagesTotal(ctx, job.ID, 3))
	require.NoError(t, s.AddPagesScraped(ctx, job.ID, 2))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusCompleted, ""))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, *got.PagesTotal)
	assert.Equal(t, 2, got.PagesScraped)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, clk.Now(), *got.CompletedAt)

	// Terminal rows never change again.
	err = s.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusFailed, "late writer")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, got.Status)
}

func TestGetJobUnknown(t *testing.T) {
	t.Parallel()

	s := NewJobStore(newFakeClock())
	_, err := s.GetJob(context.Background(), uuid.New())
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestPageErrorStoreWindowing(t *testing.T) {
	t.Parallel()

	s := NewPageErrorStore()
	ctx := context.Background()
	jobID := uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordPageError(ctx, pipeline.PageError{
			ID: uuid.New(), JobID: jobID, URL: "https://example.com/",
			Stage: pipeline.StageFetch, Message: "timeout",
			OccurredAt: time.Unix(int64(1700000000+i), 0),
		}))
	}

	page, err := s.ListPageErrors(ctx, jobID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, time.Unix(1700000001, 0), page[0].OccurredAt)

	rest, err := s.ListPageErrors(ctx, jobID, 10, 4)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	empty, err := s.ListPageErrors(ctx, jobID, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "snapshots/example.com/abc.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	assert.Equal(t, "memory://snapshots/example.com/abc.html", uri)

	data, ok := s.Object("snapshots/example.com/abc.html")
	require.True(t, ok)
	assert.Equal(t, []byte("<html/>"), data)
}

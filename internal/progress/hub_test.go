package progress_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/progress"
)

type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

func validEvent(stage progress.Stage) progress.Event {
	return progress.Event{
		JobID:  progress.UUIDToBytes(uuid.New()),
		TS:     time.Now().UTC(),
		Stage:  stage,
		Domain: "example.com",
		URL:    "https://example.com/",
	}
}

func TestHubDeliversBatches(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{
		MaxBatchEvents: 2,
		MaxBatchWait:   20 * time.Millisecond,
	}, sink)

	hub.Emit(validEvent(progress.StageJobStart))
	hub.Emit(validEvent(progress.StagePageDone))
	hub.Emit(validEvent(progress.StageJobDone))

	require.NoError(t, hub.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, progress.StageJobStart, got[0].Stage)
	assert.True(t, sink.closed)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{}, sink)

	hub.Emit(progress.Event{Stage: progress.StageJobStart}) // missing job id and ts
	hub.Emit(validEvent(progress.StagePageDone))

	require.NoError(t, hub.Close(context.Background()))
	assert.Len(t, sink.snapshot(), 1)
}

func TestHubEmitAfterClose(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(progress.StagePageDone))
	assert.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	jobID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()

	cases := []struct {
		name    string
		evt     progress.Event
		wantErr bool
	}{
		{"JobStart", progress.Event{JobID: jobID, TS: now, Stage: progress.StageJobStart}, false},
		{"Reconcile", progress.Event{JobID: jobID, TS: now, Stage: progress.StageJobReconcile, Deleted: 4}, false},
		{"PageFetchMissingClass", progress.Event{JobID: jobID, TS: now, Stage: progress.StagePageFetch, Domain: "example.com"}, true},
		{"PageErrorMissingStage", progress.Event{JobID: jobID, TS: now, Stage: progress.StagePageError, Domain: "example.com", URL: "https://example.com/"}, true},
		{"PageError", progress.Event{JobID: jobID, TS: now, Stage: progress.StagePageError, Domain: "example.com", URL: "https://example.com/", PipelineStage: "fetch"}, false},
		{"UnknownStage", progress.Event{JobID: jobID, TS: now, Stage: "BOGUS"}, true},
		{"MissingJobID", progress.Event{TS: now, Stage: progress.StageJobStart}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.evt.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, progress.Status2xx, progress.ClassifyStatus(200))
	assert.Equal(t, progress.Status3xx, progress.ClassifyStatus(301))
	assert.Equal(t, progress.Status4xx, progress.ClassifyStatus(404))
	assert.Equal(t, progress.Status5xx, progress.ClassifyStatus(503))
	assert.Equal(t, progress.StatusOther, progress.ClassifyStatus(42))
}

package sinks_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/pipeline"
	"github.com/sitechat/ingest/internal/progress"
	"github.com/sitechat/ingest/internal/progress/sinks"
	"github.com/sitechat/ingest/internal/storage/memory"
)

type staticIDs struct {
	ids []uuid.UUID
	i   int
}

func (g *staticIDs) NewID() (uuid.UUID, error) {
	id := g.ids[g.i%len(g.ids)]
	g.i++
	return id, nil
}

func TestStoreSinkRecordsPageErrors(t *testing.T) {
	t.Parallel()

	errStore := memory.NewPageErrorStore()
	idGen := &staticIDs{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	sink := sinks.NewStoreSink(errStore, idGen, nil)

	jobID := uuid.New()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{
			JobID: progress.UUIDToBytes(jobID), TS: ts,
			Stage: progress.StageJobStart,
		},
		{
			JobID: progress.UUIDToBytes(jobID), TS: ts,
			Stage:         progress.StagePageError,
			Domain:        "example.com",
			URL:           "https://example.com/broken",
			PipelineStage: pipeline.StageFetch,
			Note:          "HTTP 503",
		},
		{
			JobID: progress.UUIDToBytes(jobID), TS: ts.Add(time.Second),
			Stage:  progress.StagePageDone,
			Domain: "example.com",
			URL:    "https://example.com/",
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	recorded, err := errStore.ListPageErrors(context.Background(), jobID, 10, 0)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "https://example.com/broken", recorded[0].URL)
	assert.Equal(t, pipeline.StageFetch, recorded[0].Stage)
	assert.Equal(t, "HTTP 503", recorded[0].Message)
	assert.Equal(t, ts, recorded[0].OccurredAt)
}

func TestStoreSinkNilStore(t *testing.T) {
	t.Parallel()

	sink := sinks.NewStoreSink(nil, nil, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{Stage: progress.StagePageError},
	})
	assert.NoError(t, err)
}

package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/pipeline"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	event := pipeline.CrawlEvent{JobID: uuid.New(), Domain: "example.com", Status: "completed"}
	id, err := p.Publish(ctx, "crawl-events", event)
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	id, err = p.Publish(ctx, "crawl-events", "second")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "crawl-events", msgs[0].Topic)
	assert.Equal(t, event, msgs[0].Payload)
}

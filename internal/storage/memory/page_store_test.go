package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idgen "github.com/sitechat/ingest/internal/id/uuid"
	"github.com/sitechat/ingest/internal/pipeline"
)

func TestUpsertPageIsKeyedByDomainAndURL(t *testing.T) {
	t.Parallel()

	s := NewPageStore(idgen.New())
	ctx := context.Background()

	first, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "example.com", URL: "https://example.com/a",
		Content: "v1", ContentHash: "h1", Status: pipeline.PageStatusActive,
	})
	require.NoError(t, err)

	second, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "example.com", URL: "https://example.com/a",
		Content: "v2", ContentHash: "h2", Status: pipeline.PageStatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "upsert must keep the stable id")

	got, err := s.GetPageByURL(ctx, "example.com", "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)

	// Same path on another domain is a distinct row.
	other, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "other.com", URL: "https://other.com/a", Status: pipeline.PageStatusActive,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestReplaceEmbeddingsValidatesOwnership(t *testing.T) {
	t.Parallel()

	s := NewPageStore(idgen.New())
	ctx := context.Background()

	pageID, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "example.com", URL: "https://example.com/a", Status: pipeline.PageStatusActive,
	})
	require.NoError(t, err)

	err = s.ReplaceEmbeddings(ctx, pageID, []pipeline.Embedding{
		{ID: uuid.New(), PageID: uuid.New(), Vector: []float32{1}},
	})
	require.ErrorIs(t, err, pipeline.ErrIntegrity)
	assert.Empty(t, s.EmbeddingsForPage(pageID), "rejected call must not write")

	set := []pipeline.Embedding{
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 0, Vector: []float32{1}},
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 1, Vector: []float32{2}},
	}
	require.NoError(t, s.ReplaceEmbeddings(ctx, pageID, set))
	assert.Len(t, s.EmbeddingsForPage(pageID), 2)

	// Replacing with a new set leaves no trace of the old one.
	replacement := []pipeline.Embedding{
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 0, Vector: []float32{3}},
	}
	require.NoError(t, s.ReplaceEmbeddings(ctx, pageID, replacement))
	got := s.EmbeddingsForPage(pageID)
	require.Len(t, got, 1)
	assert.Equal(t, replacement[0].ID, got[0].ID)
}

func TestReplaceEmbeddingsUnknownPage(t *testing.T) {
	t.Parallel()

	s := NewPageStore(idgen.New())
	err := s.ReplaceEmbeddings(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestBulkOpsReportUnsupported(t *testing.T) {
	t.Parallel()

	s := NewPageStore(idgen.New())
	_, err := s.BulkUpsertPages(context.Background(), []pipeline.Page{{URL: "https://example.com/"}})
	require.ErrorIs(t, err, pipeline.ErrBulkUnsupported)
	_, err = s.BulkInsertEmbeddings(context.Background(), nil)
	require.ErrorIs(t, err, pipeline.ErrBulkUnsupported)
}

func TestMarkPagesDeletedSparesCurrentJobAndNonActive(t *testing.T) {
	t.Parallel()

	s := NewPageStore(idgen.New())
	ctx := context.Background()
	currentJob := uuid.New()
	oldJob := uuid.New()

	seen, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "example.com", URL: "https://example.com/kept",
		Status: pipeline.PageStatusActive, LastSeenInJobID: &currentJob,
	})
	require.NoError(t, err)
	gone, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "example.com", URL: "https://example.com/gone",
		Status: pipeline.PageStatusActive, LastSeenInJobID: &oldJob,
	})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceEmbeddings(ctx, gone, []pipeline.Embedding{
		{ID: uuid.New(), PageID: gone, Vector: []float32{1}},
	}))
	require.NoError(t, s.MarkPageFailed(ctx, "example.com", "https://example.com/failed", oldJob))

	count, err := s.MarkPagesDeleted(ctx, "example.com", currentJob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	keptPage, err := s.GetPageByURL(ctx, "example.com", "https://example.com/kept")
	require.NoError(t, err)
	assert.Equal(t, pipeline.PageStatusActive, keptPage.Status)

	gonePage, err := s.GetPageByURL(ctx, "example.com", "https://example.com/gone")
	require.NoError(t, err)
	assert.Equal(t, pipeline.PageStatusDeleted, gonePage.Status)
	assert.Empty(t, s.EmbeddingsForPage(gone), "reconciled page loses its embeddings")

	// Failed pages are not reconciliation's business.
	failedPage, err := s.GetPageByURL(ctx, "example.com", "https://example.com/failed")
	require.NoError(t, err)
	assert.Equal(t, pipeline.PageStatusFailed, failedPage.Status)
	_ = seen
}

func TestMarkPageFailedPreservesContent(t *testing.T) {
	t.Parallel()

	s := NewPageStore(idgen.New())
	ctx := context.Background()
	jobID := uuid.New()

	pageID, err := s.UpsertPage(ctx, pipeline.Page{
		DomainID: "example.com", URL: "https://example.com/a",
		Content: "body", ContentHash: "h1", Status: pipeline.PageStatusActive,
	})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceEmbeddings(ctx, pageID, []pipeline.Embedding{
		{ID: uuid.New(), PageID: pageID, Vector: []float32{1}},
	}))

	require.NoError(t, s.MarkPageFailed(ctx, "example.com", "https://example.com/a", jobID))

	got, err := s.GetPageByURL(ctx, "example.com", "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, pipeline.PageStatusFailed, got.Status)
	assert.Equal(t, "body", got.Content, "prior content survives a failed pass")
	assert.Equal(t, "h1", got.ContentHash)
	assert.Len(t, s.EmbeddingsForPage(pageID), 1, "prior embeddings survive a failed pass")
}

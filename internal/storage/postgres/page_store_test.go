package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/pipeline"
)

type sequentialIDs struct {
	next int
}

func (g *sequentialIDs) NewID() (uuid.UUID, error) {
	g.next++
	return uuid.MustParse("00000000-0000-7000-8000-" + padHex(g.next)), nil
}

func padHex(n int) string {
	const digits = "0123456789abcdef"
	out := []byte("000000000000")
	for i := len(out) - 1; n > 0 && i >= 0; i-- {
		out[i] = digits[n%16]
		n /= 16
	}
	return string(out)
}

func newPageStore(t *testing.T) (*PageStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewPageStore(mock, &sequentialIDs{})
	require.NoError(t, err)
	return store, mock
}

func TestUpsertPageReturnsStableID(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	storedID := uuid.New()
	jobID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	page := pipeline.Page{
		DomainID:        "example.com",
		URL:             "https://example.com/a",
		Content:         "Hello world",
		ContentHash:     "h1",
		Title:           "A",
		Status:          pipeline.PageStatusActive,
		LastScrapedAt:   &now,
		LastSeenInJobID: &jobID,
	}

	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(pgxmock.AnyArg(), page.DomainID, page.URL, page.Content, page.ContentHash,
			page.Title, page.Status, page.LastScrapedAt, page.LastSeenInJobID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(storedID))

	id, err := store.UpsertPage(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, storedID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPageByURLNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	mock.ExpectQuery("SELECT id, domain_id, url").
		WithArgs("example.com", "https://example.com/missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetPageByURL(context.Background(), "example.com", "https://example.com/missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEmbeddingsCommitsDeleteAndInsertTogether(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	pageID := uuid.New()
	embeddings := []pipeline.Embedding{
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 0, Vector: []float32{0.1, 0.2}},
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 1, Vector: []float32{0.3, 0.4}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM embeddings WHERE page_id").
		WithArgs(pageID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"embeddings"}, embeddingColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceEmbeddings(context.Background(), pageID, embeddings))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEmbeddingsRollsBackOnInsertFailure(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	pageID := uuid.New()
	embeddings := []pipeline.Embedding{
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 0, Vector: []float32{0.1}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM embeddings WHERE page_id").
		WithArgs(pageID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"embeddings"}, embeddingColumns).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.ReplaceEmbeddings(context.Background(), pageID, embeddings)
	require.Error(t, err)
	// The delete was rolled back with the failed insert: no commit happened.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEmbeddingsRejectsForeignRowsBeforeAnyWrite(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	pageID := uuid.New()
	foreign := []pipeline.Embedding{
		{ID: uuid.New(), PageID: uuid.New(), ChunkIndex: 0, Vector: []float32{0.1}},
	}

	err := store.ReplaceEmbeddings(context.Background(), pageID, foreign)
	require.ErrorIs(t, err, pipeline.ErrIntegrity)
	// No transaction was even opened.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertEmbeddingsUsesCopy(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	pageID := uuid.New()
	embeddings := []pipeline.Embedding{
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 0, Vector: []float32{1}},
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 1, Vector: []float32{2}},
		{ID: uuid.New(), PageID: pageID, ChunkIndex: 2, Vector: []float32{3}},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"embeddings"}, embeddingColumns).
		WillReturnResult(3)

	n, err := store.BulkInsertEmbeddings(context.Background(), embeddings)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPagesDeletedRunsInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM embeddings USING pages").
		WithArgs("example.com", jobID).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec("UPDATE pages SET status = 'deleted'").
		WithArgs("example.com", jobID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	count, err := store.MarkPagesDeleted(context.Background(), "example.com", jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPageFailedLeavesContentColumnsAlone(t *testing.T) {
	t.Parallel()

	store, mock := newPageStore(t)
	jobID := uuid.New()

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(pgxmock.AnyArg(), "example.com", "https://example.com/broken", jobID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkPageFailed(context.Background(), "example.com", "https://example.com/broken", jobID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingRowsCarryVectorAndMetadata(t *testing.T) {
	t.Parallel()

	pageID := uuid.New()
	id := uuid.New()
	rows, err := embeddingRows([]pipeline.Embedding{{
		ID:         id,
		PageID:     pageID,
		ChunkIndex: 3,
		Vector:     []float32{0.5, 0.25},
		Metadata:   map[string]any{"source_url": "https://example.com/a"},
	}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0][0])
	assert.Equal(t, pageID, rows[0][1])
	assert.Equal(t, 3, rows[0][2])
	assert.Equal(t, pgvector.NewVector([]float32{0.5, 0.25}), rows[0][3])
	assert.JSONEq(t, `{"source_url":"https://example.com/a"}`, string(rows[0][4].([]byte)))
}

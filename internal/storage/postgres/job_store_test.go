package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/ingest/internal/pipeline"
)

type frozenClock struct {
	now time.Time
}

func (c frozenClock) Now() time.Time { return c.now }

func newJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStore(mock, frozenClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	return store, mock
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	job := pipeline.CrawlJob{
		ID:        uuid.New(),
		Domain:    "example.com",
		Status:    pipeline.JobStatusPending,
		StartedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(job.ID, job.Domain, job.Status, job.PagesTotal, job.PagesScraped,
			job.StartedAt, job.CompletedAt, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateJob(context.Background(), job))

	total := 12
	errText := "boom"
	mock.ExpectQuery("SELECT id, domain, status").
		WithArgs(job.ID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "domain", "status", "pages_total", "pages_scraped",
			"started_at", "completed_at", "error_message",
		}).AddRow(job.ID, job.Domain, pipeline.JobStatusFailed, &total, 3,
			job.StartedAt, (*time.Time)(nil), &errText))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, got.Status)
	assert.Equal(t, 12, *got.PagesTotal)
	assert.Equal(t, "boom", got.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	jobID := uuid.New()
	mock.ExpectQuery("SELECT id, domain, status").
		WithArgs(jobID).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), jobID)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusStampsTerminalStates(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	jobID := uuid.New()
	errText := "cancelled"

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(jobID, pipeline.JobStatusCancelled, &errText, true,
			time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateJobStatus(context.Background(), jobID, pipeline.JobStatusCancelled, "cancelled"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusRefusesTerminalRows(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	jobID := uuid.New()

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(jobID, pipeline.JobStatusRunning, (*string)(nil), false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), jobID, pipeline.JobStatusRunning, "")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressCounters(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	jobID := uuid.New()

	mock.ExpectExec("UPDATE crawl_jobs SET pages_total").
		WithArgs(jobID, 42).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_jobs SET pages_scraped").
		WithArgs(jobID, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetPagesTotal(context.Background(), jobID, 42))
	require.NoError(t, store.AddPagesScraped(context.Background(), jobID, 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageErrorStoreRecordAndList(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewPageErrorStore(mock)
	require.NoError(t, err)

	pe := pipeline.PageError{
		ID:         uuid.New(),
		JobID:      uuid.New(),
		URL:        "https://example.com/b",
		Stage:      pipeline.StageEmbed,
		Message:    "provider rate limited",
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO page_errors").
		WithArgs(pe.ID, pe.JobID, pe.URL, pe.Stage, pe.Message, pe.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordPageError(context.Background(), pe))

	mock.ExpectQuery("SELECT id, job_id, url, stage, message, occurred_at").
		WithArgs(pe.JobID, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "job_id", "url", "stage", "message", "occurred_at"}).
			AddRow(pe.ID, pe.JobID, pe.URL, pe.Stage, pe.Message, pe.OccurredAt))

	out, err := store.ListPageErrors(context.Background(), pe.JobID, 50, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, pe, out[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

var jobCols = []string{
	"id", "company_id", "agent_id", "root_url", "page_budget", "status",
	"submitted_at", "started_at", "finished_at", "error_text", "progress", "result",
}

func TestJobStoreCreateAndStatus(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewJobStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	job := crawler.Job{ID: "j1", CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.example/", PageBudget: 50, Status: crawler.JobStatusQueued, Submitted: now}
	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("j1", "acme", "bot", "https://acme.example/", 50, "queued", now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("j1", "running", "", &now, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("missing", "failed", "boom", (*time.Time)(nil), &now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.UpdateJobStatus(ctx, "j1", crawler.JobStatusRunning, ""))
	require.ErrorIs(t, store.UpdateJobStatus(ctx, "missing", crawler.JobStatusFailed, "boom"), crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreProgressAndResult(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewJobStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE crawl_jobs SET progress").WithArgs("j1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_jobs SET result").WithArgs("j1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, store.UpdateProgress(ctx, "j1", crawler.JobProgress{Stage: "crawling", Percent: 10}))
	require.NoError(t, store.SetResult(ctx, "j1", crawler.CrawlResult{Success: true, Chunks: 3}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetAndActive(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewJobStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM crawl_jobs WHERE id = \\$1").WithArgs("j1").
		WillReturnRows(mock.NewRows(jobCols).AddRow(
			"j1", "acme", "bot", "https://acme.example/", 50, "succeeded",
			now, &now, &now, "",
			[]byte(`{"stage":"done","percent":100}`),
			[]byte(`{"success":true,"chunks":7,"pages_visited":3,"is_spa":false,"profile":{"company_name":"Acme"}}`),
		))
	mock.ExpectQuery("status IN \\('queued', 'running'\\)").WithArgs("acme", "bot").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM crawl_jobs WHERE id = \\$1").WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	ctx := context.Background()
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 100, job.Progress.Percent)
	require.NotNil(t, job.Result)
	require.Equal(t, 7, job.Result.Chunks)
	require.Equal(t, "Acme", job.Result.Profile.CompanyName)

	_, ok, err := store.ActiveJob(ctx, "acme", "bot")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.GetJob(ctx, "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

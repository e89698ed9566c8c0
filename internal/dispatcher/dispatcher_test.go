package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackjpnteam/sales-ai/internal/clock/system"
	"github.com/hackjpnteam/sales-ai/internal/crawler"
	queuememory "github.com/hackjpnteam/sales-ai/internal/queue/memory"
	"github.com/hackjpnteam/sales-ai/internal/storage/memory"
)

type countingRunner struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context) {
	r.started.Add(1)
	<-ctx.Done()
	r.stopped.Add(1)
}

func TestRunStartsAndStopsWorkers(t *testing.T) {
	t.Parallel()

	a, b := &countingRunner{}, &countingRunner{}
	d := New(queuememory.NewQueue(1), memory.NewJobStore(), []Runner{a, b}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return a.started.Load() == 1 && b.started.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	require.Equal(t, int32(1), a.stopped.Load())
	require.Equal(t, int32(1), b.stopped.Load())
}

func TestSubmitQueuesJob(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(4)
	jobs := memory.NewJobStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	id := uuid.MustParse("01950000-0000-7000-8000-000000000001")
	d := New(q, jobs, nil, system.NewFixed(now), func() (uuid.UUID, error) { return id, nil })

	job, err := d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test/", PageBudget: 20})
	require.NoError(t, err)
	require.Equal(t, id.String(), job.ID)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
	require.Equal(t, now, job.Submitted)

	stored, err := jobs.GetJob(context.Background(), id.String())
	require.NoError(t, err)
	require.Equal(t, "https://acme.test/", stored.RootURL)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, item.Request.JobID)
	require.Equal(t, 20, item.Request.PageBudget)
}

func TestSubmitRejectsBusyAgent(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	d := New(queuememory.NewQueue(4), jobs, nil, nil, nil)

	first, err := d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test/"})
	require.NoError(t, err)

	active, err := d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test/"})
	require.ErrorIs(t, err, ErrAgentBusy)
	require.Equal(t, first.ID, active.ID)

	_, err = d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "other", RootURL: "https://acme.test/"})
	require.NoError(t, err)

	require.NoError(t, jobs.UpdateJobStatus(context.Background(), first.ID, crawler.JobStatusSucceeded, ""))
	_, err = d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test/"})
	require.NoError(t, err)
}

func TestSubmitMarksJobFailedWhenQueueRejects(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	q.Close()
	jobs := memory.NewJobStore()
	id := uuid.New()
	d := New(q, jobs, nil, nil, func() (uuid.UUID, error) { return id, nil })

	_, err := d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test/"})
	require.ErrorIs(t, err, crawler.ErrQueueClosed)

	job, err := jobs.GetJob(context.Background(), id.String())
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)

	_, busy, err := jobs.ActiveJob(context.Background(), "acme", "bot")
	require.NoError(t, err)
	require.False(t, busy)
}

func TestSubmitPropagatesIDErrors(t *testing.T) {
	t.Parallel()

	d := New(queuememory.NewQueue(1), memory.NewJobStore(), nil, nil, func() (uuid.UUID, error) {
		return uuid.Nil, errors.New("entropy exhausted")
	})
	_, err := d.Submit(context.Background(), crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot"})
	require.ErrorContains(t, err, "entropy exhausted")
}

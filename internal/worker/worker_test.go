package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackjpnteam/sales-ai/internal/clock/system"
	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/progress"
	queuememory "github.com/hackjpnteam/sales-ai/internal/queue/memory"
	"github.com/hackjpnteam/sales-ai/internal/storage/memory"
)

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.CrawlResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(crawler.CrawlResult), args.Error(1)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) Extract(ctx context.Context, chunks []crawler.Chunk) crawler.CompanyProfile {
	return m.Called(ctx, chunks).Get(0).(crawler.CompanyProfile)
}

type recordingIndexer struct {
	mu     sync.Mutex
	chunks []crawler.Chunk
	err    error
}

func (i *recordingIndexer) Index(_ context.Context, chunks []crawler.Chunk) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return 0, i.err
	}
	i.chunks = append(i.chunks, chunks...)
	return len(chunks), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) Stages() []progress.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]progress.Stage, 0, len(l.events))
	for _, evt := range l.events {
		out = append(out, evt.Stage)
	}
	return out
}

func queuedJob(t *testing.T, jobs *memory.JobStore) crawler.QueueItem {
	t.Helper()
	id := uuid.New()
	req := crawler.CrawlRequest{JobID: id, CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test/", PageBudget: 10}
	require.NoError(t, jobs.CreateJob(context.Background(), crawler.Job{
		ID: id.String(), CompanyID: "acme", AgentID: "bot", RootURL: req.RootURL, Status: crawler.JobStatusQueued,
	}))
	return crawler.QueueItem{JobID: id.String(), Request: req}
}

var collected = []crawler.Chunk{{CompanyID: "acme", AgentID: "bot", URL: "https://acme.test/about", Text: "Acme Corp makes widgets."}}

func TestProcessSuccessfulCrawl(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := queuedJob(t, jobs)

	c := &mockCrawler{}
	c.On("Crawl", mock.Anything, item.Request).Return(crawler.CrawlResult{
		Success: true, Chunks: 4, PagesVisited: 3, Collected: collected,
	}, nil)
	profiles := &mockProfiles{}
	profiles.On("Extract", mock.Anything, collected).Return(crawler.CompanyProfile{
		CompanyName: "Acme Corp", Services: []string{"Widgets"},
	})
	idx := &recordingIndexer{}
	events := &eventLog{}

	w := New(nil, jobs, c, profiles, idx, events, system.NewFixed(time.Unix(0, 0)), Config{}, nil)
	w.Process(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	require.NotNil(t, job.Result)
	require.Equal(t, "Acme Corp", job.Result.Profile.CompanyName)
	require.Equal(t, 4+len(idx.chunks), job.Result.Chunks)
	require.NotEmpty(t, idx.chunks)
	require.Equal(t, "Company overview", idx.chunks[0].SectionTitle)

	require.Equal(t, []progress.Stage{progress.StageJobStart, progress.StageExtracting, progress.StageJobDone}, events.Stages())
	c.AssertExpectations(t)
	profiles.AssertExpectations(t)
}

func TestProcessWithoutContentFails(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := queuedJob(t, jobs)
	c := &mockCrawler{}
	c.On("Crawl", mock.Anything, item.Request).Return(crawler.CrawlResult{PagesVisited: 5}, nil)
	profiles := &mockProfiles{}
	events := &eventLog{}

	w := New(nil, jobs, c, profiles, &recordingIndexer{}, events, nil, Config{}, nil)
	w.Process(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, "no content could be indexed", job.ErrorText)
	profiles.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	require.Equal(t, progress.StageJobError, events.Stages()[len(events.Stages())-1])
}

func TestProcessOverviewIndexFailureKeepsProfile(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := queuedJob(t, jobs)
	c := &mockCrawler{}
	c.On("Crawl", mock.Anything, item.Request).Return(crawler.CrawlResult{Success: true, Chunks: 2, Collected: collected}, nil)
	profiles := &mockProfiles{}
	profiles.On("Extract", mock.Anything, collected).Return(crawler.CompanyProfile{Industry: "Manufacturing"})

	w := New(nil, jobs, c, profiles, &recordingIndexer{err: errors.New("quota")}, nil, nil, Config{}, nil)
	w.Process(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 2, job.Result.Chunks)
	require.Equal(t, "Manufacturing", job.Result.Profile.Industry)
}

func TestProcessCrawlErrors(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := queuedJob(t, jobs)
	c := &mockCrawler{}
	c.On("Crawl", mock.Anything, item.Request).Return(crawler.CrawlResult{}, errors.New("invalid root url"))

	w := New(nil, jobs, c, nil, nil, nil, nil, Config{}, nil)
	w.Process(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "invalid root url")
}

func TestProcessCanceledCrawl(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := queuedJob(t, jobs)
	ctx, cancel := context.WithCancel(context.Background())

	c := &mockCrawler{}
	c.On("Crawl", mock.Anything, item.Request).Run(func(mock.Arguments) { cancel() }).
		Return(crawler.CrawlResult{PagesVisited: 1}, context.Canceled)

	w := New(nil, jobs, c, nil, nil, nil, nil, Config{}, nil)
	w.Process(ctx, item)

	job, err := jobs.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
}

func TestRunConsumesQueueUntilCanceled(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := queuedJob(t, jobs)
	q := queuememory.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), item))

	c := &mockCrawler{}
	c.On("Crawl", mock.Anything, item.Request).Return(crawler.CrawlResult{Success: true, Chunks: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := New(q, jobs, c, nil, nil, nil, nil, Config{SkipProfile: true}, nil)
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), item.JobID)
		return err == nil && job.Status == crawler.JobStatusSucceeded
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunStopsOnClosedQueue(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	q.Close()
	done := make(chan struct{})
	go func() {
		New(q, memory.NewJobStore(), &mockCrawler{}, nil, nil, nil, nil, Config{}, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker kept polling a closed queue")
	}
}

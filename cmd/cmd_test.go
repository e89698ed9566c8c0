package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/retrieval"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockApp) CrawlOnce(ctx context.Context, req crawler.CrawlRequest) (crawler.Job, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(crawler.Job), args.Error(1)
}

func (m *mockApp) Search(ctx context.Context, companyID, question string) ([]crawler.SearchResult, error) {
	args := m.Called(ctx, companyID, question)
	return args.Get(0).([]crawler.SearchResult), args.Error(1)
}

func (m *mockApp) Answer(ctx context.Context, companyID, question string) (retrieval.Answer, error) {
	args := m.Called(ctx, companyID, question)
	return args.Get(0).(retrieval.Answer), args.Error(1)
}

func (m *mockApp) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// execute runs the root command against app. Tests using it must not run in
// parallel because newApp is package state.
func execute(t *testing.T, app App, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPrintsJob(t *testing.T) {
	app := &mockApp{}
	req := crawler.CrawlRequest{CompanyID: "acme", AgentID: "bot", RootURL: "https://acme.test", PageBudget: 7}
	app.On("CrawlOnce", mock.Anything, req).Return(crawler.Job{
		ID:     "job-1",
		Status: crawler.JobStatusSucceeded,
		Result: &crawler.CrawlResult{Success: true, Chunks: 12, PagesVisited: 3},
	}, nil)
	app.On("Close", mock.Anything).Return(nil)

	out, err := execute(t, app, "crawl", "https://acme.test", "--company", "acme", "--agent", "bot", "--pages", "7")
	require.NoError(t, err)
	require.Contains(t, out, `"id": "job-1"`)
	require.Contains(t, out, `"chunks": 12`)
	app.AssertExpectations(t)
}

func TestCrawlCommandReportsFailedJob(t *testing.T) {
	app := &mockApp{}
	app.On("CrawlOnce", mock.Anything, mock.Anything).Return(crawler.Job{
		ID:        "job-2",
		Status:    crawler.JobStatusFailed,
		ErrorText: "no content could be indexed",
	}, nil)

	_, err := execute(t, app, "crawl", "https://empty.test")
	require.ErrorContains(t, err, "no content could be indexed")
}

func TestAskCommand(t *testing.T) {
	app := &mockApp{}
	app.On("Answer", mock.Anything, "acme", "who founded acme?").Return(retrieval.Answer{
		Text:  "Jane founded it.",
		Found: true,
		Sources: []crawler.SearchResult{
			{URL: "https://acme.test/about", Score: 0.82},
			{Title: "History", Score: 0.9, IsCustomKnowledge: true},
		},
	}, nil)
	app.On("Close", mock.Anything).Return(nil)

	out, err := execute(t, app, "ask", "--company", "acme", "--sources", "who", "founded", "acme?")
	require.NoError(t, err)
	require.Contains(t, out, "Jane founded it.")
	require.Contains(t, out, "[0.82] https://acme.test/about")
	require.Contains(t, out, "[0.90] knowledge: History")
}

func TestAskSearchOnly(t *testing.T) {
	app := &mockApp{}
	app.On("Search", mock.Anything, "default", "pricing").Return([]crawler.SearchResult{
		{URL: "https://acme.test/pricing", Text: "Plans start at $10.", Score: 0.7},
	}, nil)
	app.On("Close", mock.Anything).Return(nil)

	out, err := execute(t, app, "ask", "--search-only", "pricing")
	require.NoError(t, err)
	require.Contains(t, out, "Plans start at $10.")
	app.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything, mock.Anything)
}

func TestServeCommand(t *testing.T) {
	app := &mockApp{}
	app.On("Run", mock.Anything).Return(context.Canceled)
	app.On("Close", mock.Anything).Return(nil)

	_, err := execute(t, app, "serve")
	require.NoError(t, err)
	app.AssertExpectations(t)
}

func TestAppInitFailure(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad config") }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	root.SetArgs([]string{"ask", "q"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "bad config")
}

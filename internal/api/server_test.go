package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/clock/system"
	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/dispatcher"
	queueMemory "github.com/hackjpnteam/sales-ai/internal/queue/memory"
	"github.com/hackjpnteam/sales-ai/internal/retrieval"
	"github.com/hackjpnteam/sales-ai/internal/storage/memory"
)

const testJobID = "018f2b6e-0000-7000-8000-000000000001"

type fixture struct {
	server    *Server
	jobs      *memory.JobStore
	queue     *queueMemory.Queue
	chunks    *memory.ChunkStore
	knowledge *memory.KnowledgeStore
}

type staticEmbedder struct {
	err error
}

func (e staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubAnswerer struct {
	answer retrieval.Answer
	err    error
}

func (a stubAnswerer) Answer(context.Context, string, string) (retrieval.Answer, error) {
	return a.answer, a.err
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()
	jobs := memory.NewJobStore()
	q := queueMemory.NewQueue(10)
	chunks := memory.NewChunkStore()
	knowledge := memory.NewKnowledgeStore()
	clock := system.NewFixed(time.Unix(100, 0).UTC())
	dispatch := dispatcher.New(q, jobs, nil, clock, func() (uuid.UUID, error) {
		return uuid.MustParse(testJobID), nil
	})
	embedder := staticEmbedder{}
	deps := Deps{
		Jobs:      jobs,
		Crawls:    dispatch,
		Search:    retrieval.NewEngine(embedder, chunks, knowledge, retrieval.Config{}, zap.NewNop()),
		Answers:   stubAnswerer{answer: retrieval.Answer{Text: retrieval.NoInformationMessage}},
		Chunks:    chunks,
		Knowledge: knowledge,
		Embedder:  embedder,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return fixture{
		server:    NewServer(deps, Config{DefaultPageBudget: 25, MaxPageBudget: 100}, zap.NewNop()),
		jobs:      jobs,
		queue:     q,
		chunks:    chunks,
		knowledge: knowledge,
	}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitCrawlQueuesJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/crawls/", `{"company_id":"c1","agent_id":"a1","url":"example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted crawlAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.Equal(t, testJobID, accepted.JobID)
	require.Equal(t, crawler.JobStatusQueued, accepted.Status)

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, accepted.JobID, item.JobID)
	require.Equal(t, "https://example.com", item.Request.RootURL)
	require.Equal(t, 25, item.Request.PageBudget)
}

func TestSubmitCrawlClampsBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/crawls/", `{"company_id":"c1","agent_id":"a1","url":"https://example.com/","page_budget":1000}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100, item.Request.PageBudget)
}

func TestSubmitCrawlRejectsSecondActiveCrawl(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	body := `{"company_id":"c1","agent_id":"a1","url":"https://example.com"}`
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/crawls/", body).Code)

	rec := f.do(t, http.MethodPost, "/v1/crawls/", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict crawlConflict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	require.Equal(t, testJobID, conflict.JobID)
	require.Equal(t, 1, f.queue.Len())
}

func TestSubmitCrawlValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	cases := map[string]string{
		"invalid json":    `{"company_id":`,
		"unknown field":   `{"company_id":"c","agent_id":"a","url":"https://x.com","depth":2}`,
		"missing agent":   `{"company_id":"c","url":"https://x.com"}`,
		"bad scheme":      `{"company_id":"c","agent_id":"a","url":"ftp://x.com"}`,
		"negative budget": `{"company_id":"c","agent_id":"a","url":"https://x.com","page_budget":-1}`,
		"empty url":       `{"company_id":"c","agent_id":"a","url":""}`,
	}
	for name, body := range cases {
		rec := f.do(t, http.MethodPost, "/v1/crawls/", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Equal(t, 0, f.queue.Len())
}

func TestGetCrawl(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	jobID := "018f2b6e-0000-7000-8000-0000000000aa"
	require.NoError(t, f.jobs.CreateJob(context.Background(), crawler.Job{
		ID: jobID, CompanyID: "c1", AgentID: "a1", Status: crawler.JobStatusQueued,
	}))
	require.NoError(t, f.jobs.UpdateProgress(context.Background(), jobID, crawler.JobProgress{
		Stage: "crawling", CurrentPage: 3, TotalPages: 10, Percent: 30,
	}))

	rec := f.do(t, http.MethodGet, "/v1/crawls/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job crawler.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, jobID, job.ID)
	require.Equal(t, "crawling", job.Progress.Stage)
	require.Equal(t, 30, job.Progress.Percent)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/crawls/"+uuid.NewString(), "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/crawls/not-a-uuid", "").Code)
}

func TestSearchReturnsRankedResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.chunks.InsertChunks(context.Background(), []crawler.Chunk{{
		CompanyID: "c1", AgentID: "a1", URL: "https://example.com/about",
		Title: "About", Text: "We sell widgets.", Vector: []float32{1, 0},
	}}))

	rec := f.do(t, http.MethodPost, "/v1/companies/c1/search", `{"question":"what do you sell?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.Equal(t, "https://example.com/about", resp.Results[0].URL)

	rec = f.do(t, http.MethodPost, "/v1/companies/other/search", `{"question":"what do you sell?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"results":[]}`, rec.Body.String())

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/companies/c1/search", `{"question":"  "}`).Code)
}

func TestAnswer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/companies/c1/answer", `{"question":"who is the ceo?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ans retrieval.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	require.False(t, ans.Found)
	require.Equal(t, retrieval.NoInformationMessage, ans.Text)

	failing := newFixture(t, func(d *Deps) { d.Answers = stubAnswerer{err: errors.New("llm down")} })
	rec = failing.do(t, http.MethodPost, "/v1/companies/c1/answer", `{"question":"q"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPutKnowledge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/companies/c1/knowledge", `{"title":"Hours","content":"Open 9-5"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := f.knowledge.ListKnowledge(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Open 9-5", entries[0].Content)
	_, err = uuid.Parse(entries[0].ID)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, entries[0].Vector)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/companies/c1/knowledge", `{"title":"x"}`).Code)

	failing := newFixture(t, func(d *Deps) { d.Embedder = staticEmbedder{err: errors.New("quota")} })
	rec = failing.do(t, http.MethodPost, "/v1/companies/c1/knowledge", `{"content":"x"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeleteChunks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.chunks.InsertChunks(context.Background(), []crawler.Chunk{
		{CompanyID: "c1", AgentID: "a1", Text: "x"},
		{CompanyID: "c1", AgentID: "a2", Text: "y"},
	}))

	rec := f.do(t, http.MethodDelete, "/v1/companies/c1/agents/a1/chunks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"deleted":1}`, rec.Body.String())
	require.Equal(t, 1, f.chunks.Count("c1"))
}

func TestMissingDependenciesReturnUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) { *d = Deps{} })
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/v1/crawls/", `{}`).Code)
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/v1/companies/c/search", `{"question":"q"}`).Code)
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodDelete, "/v1/companies/c/agents/a/chunks", "").Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "").Code)

	down := newFixture(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("db unreachable") }
	})
	require.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/readyz", "").Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc", seen)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

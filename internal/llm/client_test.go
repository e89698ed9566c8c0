package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	client, err := New(Config{
		APIURL:         srv.URL + "/",
		APIKey:         "secret",
		EmbeddingModel: "text-embedding-3-small",
		ChatModel:      "gpt-4o-mini",
		MaxRetries:     retries,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestNewRequiresEmbeddingModel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	client, err := New(Config{EmbeddingModel: "m"})
	require.NoError(t, err)
	require.Equal(t, DefaultAPIURL, client.apiURL)
}

func TestEmbedOrdersVectorsByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "text-embedding-3-small", req.Model)
		require.Equal(t, []string{"a", "b"}, req.Input)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	vectors, err := newTestClient(t, srv, 0).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1]}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 0).Embed(context.Background(), []string{"a", "b"})
	require.ErrorContains(t, err, "unexpected embeddings count")

	_, err = newTestClient(t, srv, 0).Embed(context.Background(), nil)
	require.Error(t, err)
}

func TestEmbedRetriesRateLimits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	vectors, err := newTestClient(t, srv, 3).Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.5}}, vectors)
	require.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 3).Embed(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "bad key")
	require.Equal(t, int32(1), calls.Load())
}

func TestComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Equal(t, "question", req.Messages[1].Content)
		require.InDelta(t, 0.2, req.Temperature, 1e-9)
		require.Equal(t, 300, req.MaxTokens)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  answer \n"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv, 0).Complete(context.Background(), "rules", "question", 0.2, 300)
	require.NoError(t, err)
	require.Equal(t, "answer", out)
}

func TestCompleteWithoutChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 0).Complete(context.Background(), "", "q", 0, 0)
	require.ErrorContains(t, err, "no choices")
}

type closeCounter struct {
	io.ReadCloser
	closed *atomic.Int32
}

func (c closeCounter) Close() error {
	c.closed.Add(1)
	return c.ReadCloser.Close()
}

type trackingTransport struct {
	base   http.RoundTripper
	opened atomic.Int32
	closed atomic.Int32
}

func (t *trackingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.opened.Add(1)
	resp.Body = closeCounter{ReadCloser: resp.Body, closed: &t.closed}
	return resp, nil
}

func TestRetriedResponsesAreClosed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 3)
	transport := &trackingTransport{base: http.DefaultTransport}
	client.http.Transport = transport

	_, err := client.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, int32(3), transport.opened.Load())
	require.Equal(t, int32(3), transport.closed.Load())
}

func TestExhaustedRetriesKeepLastBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "still down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 2)
	transport := &trackingTransport{base: http.DefaultTransport}
	client.http.Transport = transport

	_, err := client.Embed(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "still down")
	require.Equal(t, int32(3), transport.opened.Load())
	require.Equal(t, transport.opened.Load(), transport.closed.Load())
}

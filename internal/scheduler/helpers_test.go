package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// siteFetcher serves canned pages keyed by normalized URL.
type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	hits  map[string]int
}

func newSiteFetcher(pages map[string]string) *siteFetcher {
	return &siteFetcher{pages: pages, fail: map[string]error{}, hits: map[string]int{}}
}

func (f *siteFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[req.URL]++
	if err, ok := f.fail[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.StatusError{Code: 404}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *siteFetcher) Hits(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[u]
}

// countingIndexer stores everything it is given unless failWith is set.
type countingIndexer struct {
	mu       sync.Mutex
	rounds   [][]crawler.Chunk
	failWith error
}

func (i *countingIndexer) Index(_ context.Context, chunks []crawler.Chunk) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rounds = append(i.rounds, chunks)
	if i.failWith != nil {
		return 0, i.failWith
	}
	return len(chunks), nil
}

type fakeBrowser struct {
	links      []crawler.Link
	exploreErr error
	rendered   map[string]string
	closed     int
}

func (b *fakeBrowser) Render(_ context.Context, url string) (crawler.FetchResponse, error) {
	body, ok := b.rendered[url]
	if !ok {
		return crawler.FetchResponse{}, fmt.Errorf("no render for %s", url)
	}
	return crawler.FetchResponse{URL: url, StatusCode: 200, Body: []byte(body), UsedHeadless: true}, nil
}

func (b *fakeBrowser) Explore(context.Context, string) ([]crawler.Link, error) {
	return b.links, b.exploreErr
}

func (b *fakeBrowser) Close() error {
	b.closed++
	return nil
}

// lengthEmbedder returns a two-dimensional vector derived from text length.
type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func htmlPage(title string, body string, links ...string) string {
	nav := ""
	for _, l := range links {
		nav += fmt.Sprintf(`<a href="%s">%s</a>`, l, l)
	}
	return fmt.Sprintf(`<html><head><title>%s</title><meta name="theme-color" content="#112233"></head>
<body><nav>%s</nav><main><h1>%s</h1><p>%s</p><h2>Details</h2><p>%s details are listed here.</p></main></body></html>`,
		title, nav, title, body, title)
}

const spaShell = `<html><head><script type="module" src="/app.js"></script></head><body><div id="root"></div></body></html>`

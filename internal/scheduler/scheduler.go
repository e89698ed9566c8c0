// Package scheduler runs one bounded crawl of a single site: discovery, tiered
// frontier, parallel fetch batches and per-batch indexing.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackjpnteam/sales-ai/internal/chunk"
	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/extract"
	"github.com/hackjpnteam/sales-ai/internal/fetcher/hybrid"
	"github.com/hackjpnteam/sales-ai/internal/frontier"
	"github.com/hackjpnteam/sales-ai/internal/hash/sha256"
	"github.com/hackjpnteam/sales-ai/internal/progress"
)

// Defaults applied to zero Config values.
const (
	DefaultPageBudget       = 50
	DefaultParallelism      = 5
	DefaultSufficientChunks = 200
)

// Config bounds a crawl run.
type Config struct {
	// PageBudget caps visited URLs per run.
	PageBudget int
	// Parallelism is the fetch batch size.
	Parallelism int
	// SufficientChunks stops the run once reached, unless a critical URL is pending.
	SufficientChunks int
	// ChunkSize is the chunker's max size in runes.
	ChunkSize int
	Frontier  frontier.Config
}

func (c Config) withDefaults() Config {
	if c.PageBudget <= 0 {
		c.PageBudget = DefaultPageBudget
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.SufficientChunks <= 0 {
		c.SufficientChunks = DefaultSufficientChunks
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = chunk.DefaultMaxSize
	}
	return c
}

// Indexer embeds and persists one round of chunks.
type Indexer interface {
	Index(ctx context.Context, chunks []crawler.Chunk) (int, error)
}

// BrowserFactory opens a browser session scoped to one run.
type BrowserFactory func() crawler.BrowserSession

// Scheduler is safe for concurrent runs; all per-run state lives in run.
type Scheduler struct {
	plain      crawler.Fetcher
	detector   crawler.SPADetector
	newBrowser BrowserFactory
	extractor  *extract.Extractor
	indexer    Indexer
	archive    crawler.BlobStore
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithBrowser enables SPA rendering and navigation exploration.
func WithBrowser(factory BrowserFactory) Option {
	return func(s *Scheduler) { s.newBrowser = factory }
}

// WithArchive stores every fetched page body in blobs.
func WithArchive(blobs crawler.BlobStore) Option {
	return func(s *Scheduler) { s.archive = blobs }
}

// WithProgress sends progress events to emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(s *Scheduler) { s.emitter = emitter }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Scheduler around a plain fetcher, an SPA detector and an indexer.
func New(plain crawler.Fetcher, detector crawler.SPADetector, indexer Indexer, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		plain:     plain,
		detector:  detector,
		extractor: extract.New(),
		indexer:   indexer,
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Crawl runs one crawl. Page, render and indexing failures degrade the result
// instead of failing it; an error is returned only for an invalid root URL or
// cancellation, together with whatever was collected so far.
func (s *Scheduler) Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.CrawlResult, error) {
	root, err := parseRoot(req.RootURL)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	budget := req.PageBudget
	if budget <= 0 {
		budget = s.cfg.PageBudget
	}

	browser := s.openBrowser()
	if browser != nil {
		defer func() {
			if cerr := browser.Close(); cerr != nil {
				s.logger.Warn("close browser", zap.Error(cerr))
			}
		}()
	}

	r := &run{
		s:        s,
		req:      req,
		root:     root,
		budget:   budget,
		frontier: frontier.New(s.cfg.Frontier),
		browser:  browser,
		fetcher:  hybrid.New(s.plain, browser, s.detector, s.logger),
		report:   progress.NewReporter(s.emitter, req.JobID),
		logger: s.logger.With(
			zap.String("job_id", req.JobID.String()),
			zap.String("company_id", req.CompanyID),
			zap.String("agent_id", req.AgentID),
		),
	}
	err = r.execute(ctx)
	return r.result(), err
}

func (s *Scheduler) openBrowser() crawler.BrowserSession {
	if s.newBrowser == nil {
		return nil
	}
	return s.newBrowser()
}

func parseRoot(raw string) (*url.URL, error) {
	normalized, err := crawler.NormalizeURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid root url %q: %w", raw, err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid root url %q: %w", raw, err)
	}
	return u, nil
}

// run holds the state of one crawl. The frontier is touched only between
// batches, never from fetch goroutines.
type run struct {
	s        *Scheduler
	req      crawler.CrawlRequest
	root     *url.URL
	budget   int
	frontier *frontier.Frontier
	browser  crawler.BrowserSession
	fetcher  crawler.Fetcher
	report   *progress.Reporter
	logger   *zap.Logger

	// rootResponse is the discovery fetch, reused for a static root.
	rootResponse *crawler.FetchResponse

	stored     int
	collected  []crawler.Chunk
	themeColor string
	isSPA      bool
}

func (r *run) execute(ctx context.Context) error {
	rootURL := r.root.String()
	r.frontier.Push(rootURL, crawler.TierCritical)

	r.report.Stage(progress.StageDiscovering, 0, r.budget, 0, rootURL)
	r.discover(ctx)
	r.frontier.InjectSeeds(r.root)

	for r.frontier.Len() > 0 && r.frontier.VisitedCount() < r.budget {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl canceled: %w", err)
		}
		if r.stored >= r.s.cfg.SufficientChunks && !r.frontier.HasPendingCritical() {
			r.logger.Info("enough content collected", zap.Int("chunks", r.stored))
			break
		}
		tasks := r.nextBatch()
		if len(tasks) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl canceled: %w", err)
		}
		r.report.Stage(progress.StageCrawling, r.frontier.VisitedCount(), r.budget, r.stored,
			fmt.Sprintf("fetching %d pages", len(tasks)))
		pages := r.fetchBatch(ctx, tasks)
		r.absorb(ctx, pages)
	}
	return nil
}

// discover fetches the root once. An SPA root is explored in the browser;
// otherwise, or when exploration yields nothing, links come from the static
// HTML.
func (r *run) discover(ctx context.Context) {
	rootURL := r.root.String()
	resp, err := r.s.plain.Fetch(ctx, crawler.FetchRequest{JobID: r.req.JobID.String(), URL: rootURL})
	if err != nil {
		r.logger.Warn("root fetch failed", zap.String("url", rootURL), zap.Error(err))
		r.frontier.MarkVisited(rootURL)
		r.report.Page(rootURL, crawler.StatusCode(err), 0, false, 0)
		return
	}
	if r.s.detector != nil && r.s.detector.IsSPA(resp.Body) {
		r.isSPA = true
		if r.explore(ctx, rootURL) {
			return
		}
	} else {
		r.rootResponse = &resp
	}
	doc, err := r.s.extractor.Extract(resp.Body, rootURL, resp.Headers.Get("Content-Type"))
	if err != nil {
		r.logger.Warn("extract root links", zap.Error(err))
		return
	}
	for _, link := range doc.Links {
		r.frontier.PushLink(link.URL)
	}
}

func (r *run) explore(ctx context.Context, rootURL string) bool {
	if r.browser == nil {
		return false
	}
	links, err := r.browser.Explore(ctx, rootURL)
	if err != nil {
		r.logger.Warn("navigation exploration failed; using static links", zap.Error(err))
		return false
	}
	added := 0
	for _, link := range links {
		if r.frontier.PushLink(link.URL) {
			added++
		}
	}
	r.logger.Info("navigation explored", zap.Int("links", len(links)), zap.Int("queued", added))
	return added > 0
}

func (r *run) nextBatch() []crawler.CrawlTask {
	limit := r.s.cfg.Parallelism
	if remaining := r.budget - r.frontier.VisitedCount(); remaining < limit {
		limit = remaining
	}
	tasks := make([]crawler.CrawlTask, 0, limit)
	for len(tasks) < limit {
		task, ok := r.frontier.Pop()
		if !ok {
			break
		}
		if !r.frontier.MarkVisited(task.URL) {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

type page struct {
	task   crawler.CrawlTask
	doc    crawler.PageDocument
	chunks []crawler.Chunk
	ok     bool
}

func (r *run) fetchBatch(ctx context.Context, tasks []crawler.CrawlTask) []page {
	pages := make([]page, len(tasks))
	var g errgroup.Group
	g.SetLimit(r.s.cfg.Parallelism)
	for i, task := range tasks {
		g.Go(func() error {
			pages[i] = r.processPage(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

// processPage never fails the batch; a broken page yields no chunks and no links.
func (r *run) processPage(ctx context.Context, task crawler.CrawlTask) page {
	out := page{task: task}
	resp, err := r.fetch(ctx, task.URL)
	if err != nil {
		r.report.Page(task.URL, crawler.StatusCode(err), 0, false, 0)
		if ctx.Err() == nil {
			r.logger.Debug("page skipped", zap.String("url", task.URL), zap.Stringer("tier", task.Tier), zap.Error(err))
		}
		return out
	}
	r.report.Page(task.URL, resp.StatusCode, len(resp.Body), resp.UsedHeadless, resp.Duration)
	r.archivePage(ctx, task.URL, resp.Body)

	doc, err := r.s.extractor.Extract(resp.Body, task.URL, resp.Headers.Get("Content-Type"))
	if err != nil {
		r.logger.Warn("extract failed", zap.String("url", task.URL), zap.Error(err))
		return out
	}
	out.doc = doc
	out.chunks = chunk.ForPage(doc, r.req.CompanyID, r.req.AgentID, r.s.cfg.ChunkSize)
	out.ok = true
	return out
}

func (r *run) fetch(ctx context.Context, target string) (crawler.FetchResponse, error) {
	if r.rootResponse != nil && target == r.root.String() {
		return *r.rootResponse, nil
	}
	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{JobID: r.req.JobID.String(), URL: target})
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	return resp, nil
}

// PagePath is the archive location of a fetched page.
func PagePath(jobID, pageURL string) string {
	return fmt.Sprintf("pages/%s/%s.html", jobID, sha256.SumString(pageURL))
}

func (r *run) archivePage(ctx context.Context, pageURL string, body []byte) {
	if r.s.archive == nil || len(body) == 0 {
		return
	}
	path := PagePath(r.req.JobID.String(), pageURL)
	if _, err := r.s.archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body)); err != nil {
		r.logger.Warn("archive page failed", zap.String("url", pageURL), zap.Error(err))
	}
}

// absorb merges a finished batch: links go to the frontier in batch order and
// the batch's chunks are indexed before the next batch starts.
func (r *run) absorb(ctx context.Context, pages []page) {
	var batch []crawler.Chunk
	for _, p := range pages {
		if !p.ok {
			continue
		}
		if r.themeColor == "" && p.doc.ThemeColor != "" {
			r.themeColor = p.doc.ThemeColor
		}
		for _, link := range p.doc.Links {
			r.frontier.PushLink(link.URL)
		}
		batch = append(batch, p.chunks...)
	}
	if len(batch) == 0 {
		return
	}
	r.collected = append(r.collected, batch...)

	visited := r.frontier.VisitedCount()
	r.report.Stage(progress.StageEmbedding, visited, r.budget, r.stored,
		fmt.Sprintf("embedding %d chunks", len(batch)))
	n, err := r.s.indexer.Index(ctx, batch)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Warn("index batch failed; continuing", zap.Int("chunks", len(batch)), zap.Error(err))
		return
	}
	r.stored += n
	r.report.Stage(progress.StageSaving, visited, r.budget, r.stored,
		fmt.Sprintf("saved %d chunks", n))
}

func (r *run) result() crawler.CrawlResult {
	return crawler.CrawlResult{
		Success:      r.stored > 0,
		Chunks:       r.stored,
		PagesVisited: r.frontier.VisitedCount(),
		Visited:      r.frontier.Visited(),
		ThemeColor:   r.themeColor,
		IsSPA:        r.isSPA,
		Collected:    r.collected,
	}
}

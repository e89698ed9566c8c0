// Package worker executes queued crawl jobs: crawl, profile extraction,
// overview indexing and final job status.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/metrics"
	"github.com/hackjpnteam/sales-ai/internal/profile"
	"github.com/hackjpnteam/sales-ai/internal/progress"
)

// Crawler runs one site crawl.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.CrawlRequest) (crawler.CrawlResult, error)
}

// ProfileExtractor summarizes collected chunks into a company profile.
type ProfileExtractor interface {
	Extract(ctx context.Context, chunks []crawler.Chunk) crawler.CompanyProfile
}

// Indexer embeds and stores chunks.
type Indexer interface {
	Index(ctx context.Context, chunks []crawler.Chunk) (int, error)
}

// Config controls Worker behavior.
type Config struct {
	// ChunkSize bounds overview chunks.
	ChunkSize int
	// SkipProfile disables profile extraction.
	SkipProfile bool
}

// Worker consumes queue items one at a time.
type Worker struct {
	queue    crawler.Queue
	jobs     crawler.JobStore
	crawler  Crawler
	profiles ProfileExtractor
	indexer  Indexer
	emitter  progress.Emitter
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. profiles and emitter may be nil.
func New(
	queue crawler.Queue,
	jobs crawler.JobStore,
	c Crawler,
	profiles ProfileExtractor,
	indexer Indexer,
	emitter progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobs:     jobs,
		crawler:  c,
		profiles: profiles,
		indexer:  indexer,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs one job to completion and records its outcome.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("job_id", item.JobID),
		zap.String("company_id", item.Request.CompanyID),
		zap.String("agent_id", item.Request.AgentID),
	)
	report := progress.NewReporter(w.emitter, item.Request.JobID)
	start := w.now()

	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, ""); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}
	report.Stage(progress.StageJobStart, 0, item.Request.PageBudget, 0, item.Request.RootURL)
	logger.Info("crawl started", zap.String("url", item.Request.RootURL))

	result, err := w.crawler.Crawl(ctx, item.Request)
	if err != nil {
		status := crawler.JobStatusFailed
		if ctx.Err() != nil {
			status = crawler.JobStatusCanceled
		}
		w.finish(context.WithoutCancel(ctx), logger, report, item, result, status, err.Error(), start)
		return
	}

	result.Profile = w.extractProfile(ctx, logger, report, item, &result)

	status, errText := crawler.JobStatusSucceeded, ""
	if !result.Success {
		status, errText = crawler.JobStatusFailed, "no content could be indexed"
	}
	w.finish(ctx, logger, report, item, result, status, errText, start)
}

func (w *Worker) extractProfile(
	ctx context.Context,
	logger *zap.Logger,
	report *progress.Reporter,
	item crawler.QueueItem,
	result *crawler.CrawlResult,
) crawler.CompanyProfile {
	if w.cfg.SkipProfile || w.profiles == nil || len(result.Collected) == 0 {
		return crawler.CompanyProfile{}
	}
	report.Stage(progress.StageExtracting, result.PagesVisited, result.PagesVisited, result.Chunks,
		"extracting company profile")
	p := w.profiles.Extract(ctx, result.Collected)
	if p.IsEmpty() || w.indexer == nil {
		return p
	}
	overview := profile.OverviewChunks(p, item.Request.CompanyID, item.Request.AgentID, item.Request.RootURL, w.cfg.ChunkSize)
	n, err := w.indexer.Index(ctx, overview)
	if err != nil {
		logger.Warn("index company overview failed", zap.Error(err))
		return p
	}
	result.Chunks += n
	result.Success = result.Chunks > 0
	return p
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	report *progress.Reporter,
	item crawler.QueueItem,
	result crawler.CrawlResult,
	status crawler.JobStatus,
	errText string,
	start time.Time,
) {
	if err := w.jobs.SetResult(ctx, item.JobID, result); err != nil {
		logger.Error("store crawl result failed", zap.Error(err))
	}
	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}

	evt := progress.Event{
		Stage:       progress.StageJobDone,
		CurrentPage: result.PagesVisited,
		TotalPages:  result.PagesVisited,
		Percent:     100,
		ChunksFound: result.Chunks,
		Dur:         w.now().Sub(start),
	}
	if status != crawler.JobStatusSucceeded {
		evt.Stage = progress.StageJobError
		evt.Message = errText
	}
	report.Event(evt)

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("pages", result.PagesVisited),
		zap.Int("chunks", result.Chunks),
		zap.Bool("spa", result.IsSPA),
		zap.Duration("elapsed", evt.Dur),
	}
	if errText != "" {
		logger.Warn("crawl finished", append(fields, zap.String("error", errText))...)
		return
	}
	logger.Info("crawl finished", fields...)
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

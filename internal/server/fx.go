// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/api"
	"github.com/hackjpnteam/sales-ai/internal/clock/system"
	"github.com/hackjpnteam/sales-ai/internal/config"
	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/dispatcher"
	collyfetcher "github.com/hackjpnteam/sales-ai/internal/fetcher/colly"
	headlessfetcher "github.com/hackjpnteam/sales-ai/internal/fetcher/headless"
	"github.com/hackjpnteam/sales-ai/internal/frontier"
	"github.com/hackjpnteam/sales-ai/internal/hash/sha256"
	"github.com/hackjpnteam/sales-ai/internal/headless/detector"
	"github.com/hackjpnteam/sales-ai/internal/id/uuid"
	"github.com/hackjpnteam/sales-ai/internal/indexer"
	"github.com/hackjpnteam/sales-ai/internal/llm"
	"github.com/hackjpnteam/sales-ai/internal/profile"
	"github.com/hackjpnteam/sales-ai/internal/progress"
	progresssinks "github.com/hackjpnteam/sales-ai/internal/progress/sinks"
	queueMemory "github.com/hackjpnteam/sales-ai/internal/queue/memory"
	"github.com/hackjpnteam/sales-ai/internal/retrieval"
	"github.com/hackjpnteam/sales-ai/internal/scheduler"
	gcsstorage "github.com/hackjpnteam/sales-ai/internal/storage/gcs"
	localstorage "github.com/hackjpnteam/sales-ai/internal/storage/local"
	memoryStorage "github.com/hackjpnteam/sales-ai/internal/storage/memory"
	pgstore "github.com/hackjpnteam/sales-ai/internal/storage/postgres"
	"github.com/hackjpnteam/sales-ai/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobs      crawler.JobStore
	chunks    crawler.ChunkStore
	knowledge crawler.KnowledgeStore
	llm       *llm.Client
	indexer   *indexer.Indexer
	scheduler *scheduler.Scheduler
	profiles  *profile.Extractor
	search    *retrieval.Engine
	answers   *retrieval.Answerer

	progressHub *progress.Hub
	queue       *queueMemory.Queue
	workers     []*worker.Worker
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server

	ready   func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Options adjust Build for embedding callers and tests.
type Options struct {
	// Registerer receives the progress Prometheus collectors. Nil uses the
	// default registry.
	Registerer prometheus.Registerer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Storage.Archive.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if err := app.setupStores(ctx); err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	if err := app.setupLLM(); err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	if err := app.setupProgress(opts.Registerer); err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	app.setupPipeline(archive)
	app.setupRunner()

	app.apiServer = api.NewServer(api.Deps{
		Jobs:      app.jobs,
		Crawls:    app.dispatch,
		Search:    app.search,
		Answers:   app.answers,
		Chunks:    app.chunks,
		Knowledge: app.knowledge,
		Embedder:  app.llm,
		Ready:     app.ready,
	}, api.Config{
		RequestTimeout:    cfg.RequestTimeout(),
		DefaultPageBudget: cfg.Crawl.PageBudgetDefault,
		MaxPageBudget:     cfg.Crawl.PageBudgetMax,
	}, logger.Named("api"))

	return app, nil
}

func (a *App) setupStores(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		pgCfg := pgstore.Config{
			DSN:        a.cfg.Storage.Postgres.DSN,
			MaxConns:   a.cfg.Storage.Postgres.MaxConns,
			MinConns:   a.cfg.Storage.Postgres.MinConns,
			Dimensions: a.cfg.Storage.Postgres.Dimensions,
		}
		pool, err := pgstore.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
		if a.cfg.Storage.Postgres.EnsureSchema {
			if err := pgstore.EnsureSchema(ctx, pool, pgCfg.Dimensions); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		if a.chunks, err = pgstore.NewChunkStore(pool); err != nil {
			return fmt.Errorf("chunk store init failed: %w", err)
		}
		if a.knowledge, err = pgstore.NewKnowledgeStore(pool); err != nil {
			return fmt.Errorf("knowledge store init failed: %w", err)
		}
		if a.jobs, err = pgstore.NewJobStore(pool); err != nil {
			return fmt.Errorf("job store init failed: %w", err)
		}
		a.ready = pool.Ping
		a.logger.Info("postgres stores initialized", zap.Int("dimensions", pgCfg.Dimensions))
	default:
		a.logger.Warn("using in-memory stores; data is lost on restart")
		a.chunks = memoryStorage.NewChunkStore()
		a.knowledge = memoryStorage.NewKnowledgeStore()
		a.jobs = memoryStorage.NewJobStore()
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	archiveCfg := a.cfg.Storage.Archive
	switch archiveCfg.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: archiveCfg.GCSBucket, Prefix: archiveCfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.logger.Info("archiving pages to gcs", zap.String("bucket", archiveCfg.GCSBucket))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: archiveCfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", archiveCfg.LocalDir))
		return store, nil
	case config.ArchiveMemory:
		return memoryStorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupLLM() error {
	client, err := llm.New(llm.Config{
		APIURL:         a.cfg.LLM.APIURL,
		APIKey:         a.cfg.LLM.APIKey,
		EmbeddingModel: a.cfg.LLM.EmbeddingModel,
		ChatModel:      a.cfg.LLM.ChatModel,
		Timeout:        time.Duration(a.cfg.LLM.TimeoutSeconds) * time.Second,
		MaxRetries:     a.cfg.LLM.MaxRetries,
		BaseDelay:      time.Duration(a.cfg.LLM.BackoffInitialMs) * time.Millisecond,
		MaxDelay:       time.Duration(a.cfg.LLM.BackoffMaxMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("llm client init failed: %w", err)
	}
	a.llm = client
	return nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(a.jobs, a.logger.Named("progress_store")),
	}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	hubCfg := progress.HubConfig{
		BufferSize:    a.cfg.Progress.BufferSize,
		MaxBatch:      a.cfg.Progress.MaxBatch,
		FlushInterval: time.Duration(a.cfg.Progress.FlushIntervalMs) * time.Millisecond,
		SinkTimeout:   time.Duration(a.cfg.Progress.SinkTimeoutSeconds) * time.Second,
		Logger:        a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch", hubCfg.MaxBatch),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
	)
	return nil
}

func (a *App) setupPipeline(archive crawler.BlobStore) {
	clock := system.New()
	a.indexer = indexer.New(a.llm, a.chunks, clock, indexer.WithLogger(a.logger.Named("indexer")))

	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
	})
	opts := []scheduler.Option{
		scheduler.WithProgress(a.progressHub),
		scheduler.WithLogger(a.logger.Named("scheduler")),
	}
	if archive != nil {
		opts = append(opts, scheduler.WithArchive(archive))
	}
	if a.cfg.Headless.Enabled {
		browserCfg := headlessfetcher.Config{
			UserAgent:      a.cfg.HTTP.UserAgent,
			RenderTimeout:  time.Duration(a.cfg.Headless.RenderTimeoutSeconds) * time.Second,
			ExploreTimeout: time.Duration(a.cfg.Headless.ExploreTimeoutSeconds) * time.Second,
			ExecPath:       a.cfg.Headless.ExecPath,
			RemoteURL:      a.cfg.Headless.RemoteURL,
			MaxClicks:      a.cfg.Headless.MaxClicks,
		}
		hasher := sha256.New()
		browserLogger := a.logger.Named("headless")
		opts = append(opts, scheduler.WithBrowser(func() crawler.BrowserSession {
			return headlessfetcher.New(browserCfg, hasher, browserLogger)
		}))
	}
	a.scheduler = scheduler.New(plain, detector.NewHeuristic(a.cfg.Headless.SPATextThreshold), a.indexer, scheduler.Config{
		PageBudget:       a.cfg.Crawl.PageBudgetDefault,
		Parallelism:      a.cfg.Crawl.Parallelism,
		SufficientChunks: a.cfg.Crawl.SufficientChunks,
		ChunkSize:        a.cfg.Chunk.MaxSize,
		Frontier: frontier.Config{
			CriticalPaths: a.cfg.Crawl.CriticalPaths,
			PriorityPaths: a.cfg.Crawl.PriorityPaths,
		},
	}, opts...)

	a.profiles = profile.New(a.llm, profile.Config{
		MaxChunks: a.cfg.Profile.MaxChunks,
		MaxChars:  a.cfg.Profile.MaxChars,
		MaxTokens: a.cfg.Profile.MaxTokens,
	}, a.logger.Named("profile"))

	a.search = retrieval.NewEngine(a.llm, a.chunks, a.knowledge, retrieval.Config{
		Limit:          a.cfg.Retrieval.Limit,
		Candidates:     a.cfg.Retrieval.Candidates,
		KnowledgeLimit: a.cfg.Retrieval.KnowledgeLimit,
		KnowledgeBoost: a.cfg.Retrieval.KnowledgeBoost,
	}, a.logger.Named("retrieval"))
	a.answers = retrieval.NewAnswerer(a.search, a.llm, retrieval.AnswerConfig{
		MinScore:    a.cfg.Retrieval.MinScore,
		Temperature: a.cfg.Retrieval.AnswerTemperature,
		MaxTokens:   a.cfg.Retrieval.AnswerMaxTokens,
	}, a.logger.Named("answer"))
}

func (a *App) setupRunner() {
	clock := system.New()
	a.queue = queueMemory.NewQueue(a.cfg.Crawl.QueueDepth)
	workerCfg := worker.Config{
		ChunkSize:   a.cfg.Chunk.MaxSize,
		SkipProfile: !a.cfg.Profile.Enabled,
	}
	runners := make([]dispatcher.Runner, 0, a.cfg.Crawl.Workers)
	for i := 0; i < a.cfg.Crawl.Workers; i++ {
		w := a.newWorker(clock, workerCfg, a.logger.Named("worker").With(zap.Int("index", i)))
		a.workers = append(a.workers, w)
		runners = append(runners, w)
	}
	a.dispatch = dispatcher.New(a.queue, a.jobs, runners, clock, uuid.New().NewJobID)
}

func (a *App) newWorker(clock crawler.Clock, cfg worker.Config, logger *zap.Logger) *worker.Worker {
	return worker.New(a.queue, a.jobs, a.scheduler, a.profiles, a.indexer, a.progressHub, clock, cfg, logger)
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API and runs the job workers until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", len(a.workers)))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// CrawlOnce runs one crawl job in the calling goroutine, bypassing the queue,
// and returns the finished job.
func (a *App) CrawlOnce(ctx context.Context, req crawler.CrawlRequest) (crawler.Job, error) {
	if req.PageBudget <= 0 {
		req.PageBudget = a.cfg.Crawl.PageBudgetDefault
	}
	if _, busy, err := a.jobs.ActiveJob(ctx, req.CompanyID, req.AgentID); err != nil {
		return crawler.Job{}, fmt.Errorf("check active job: %w", err)
	} else if busy {
		return crawler.Job{}, dispatcher.ErrAgentBusy
	}
	id, err := uuid.New().NewJobID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	req.JobID = id
	clock := system.New()
	job := crawler.Job{
		ID:         id.String(),
		CompanyID:  req.CompanyID,
		AgentID:    req.AgentID,
		RootURL:    req.RootURL,
		PageBudget: req.PageBudget,
		Status:     crawler.JobStatusQueued,
		Submitted:  clock.Now(),
	}
	if err := a.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	w := a.newWorker(clock, worker.Config{
		ChunkSize:   a.cfg.Chunk.MaxSize,
		SkipProfile: !a.cfg.Profile.Enabled,
	}, a.logger.Named("worker"))
	w.Process(ctx, crawler.QueueItem{JobID: job.ID, Request: req})

	finished, err := a.jobs.GetJob(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job: %w", err)
	}
	return finished, nil
}

// Answer answers a question about a company from stored content.
func (a *App) Answer(ctx context.Context, companyID, question string) (retrieval.Answer, error) {
	return a.answers.Answer(ctx, companyID, question)
}

// Search ranks stored content for a question.
func (a *App) Search(ctx context.Context, companyID, question string) ([]crawler.SearchResult, error) {
	return a.search.Search(ctx, companyID, question)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	a.closeAll(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

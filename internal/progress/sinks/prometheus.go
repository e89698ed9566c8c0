package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackjpnteam/sales-ai/internal/metrics"
	"github.com/hackjpnteam/sales-ai/internal/progress"
)

// PrometheusSink turns progress events into job and fetch collectors.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	jobStage      *prometheus.CounterVec
	jobChunks     prometheus.Histogram

	pages         *prometheus.CounterVec
	pageBytes     *prometheus.CounterVec
	pageDuration  *prometheus.HistogramVec
	renderedPages *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors on reg, or the default registerer
// when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_jobs_started_total",
			Help: "Crawl jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_jobs_completed_total",
			Help: "Crawl jobs finished, by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_jobs_running",
			Help: "Crawl jobs currently running.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_job_runtime_seconds",
			Help:    "Wall time per finished crawl job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		jobStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_stage_transitions_total",
			Help: "Progress updates by pipeline stage.",
		}, []string{"stage"}),
		jobChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawl_job_chunks",
			Help:    "Chunks produced per successful crawl job.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Pages fetched, by site and status class.",
		}, []string{"site", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_page_bytes_total",
			Help: "Bytes fetched per site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_page_duration_seconds",
			Help:    "Page fetch latency by status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		renderedPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_rendered_total",
			Help: "Pages served through the headless browser, by site.",
		}, []string{"site"}),
		tracker: newJobTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime, s.jobStage, s.jobChunks,
		s.pages, s.pageBytes, s.pageDuration, s.renderedPages,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageDone:
			s.observePage(evt)
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobDone:
			s.finish(evt, "success")
			s.jobChunks.Observe(float64(evt.ChunksFound))
		case progress.StageJobError:
			s.finish(evt, "error")
		default:
			s.jobStage.WithLabelValues(string(evt.Stage)).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observePage(evt progress.Event) {
	site := metrics.SanitizeSite(evt.URL)
	class := string(evt.StatusClass)
	s.pages.WithLabelValues(site, class).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
	}
	if evt.Rendered {
		s.renderedPages.WithLabelValues(site).Inc()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

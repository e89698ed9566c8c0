// Package dispatcher manages worker fan-out over the job queue and admits new
// crawl jobs.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// ErrAgentBusy is returned when an agent already has a queued or running crawl.
var ErrAgentBusy = errors.New("agent already has an active crawl")

// Runner processes queue items until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	jobs    crawler.JobStore
	workers []Runner
	clock   crawler.Clock
	newID   func() (uuid.UUID, error)

	// admit serializes the active-job check with job creation.
	admit sync.Mutex
}

// New creates a Dispatcher. newID defaults to uuid.NewV7.
func New(queue crawler.Queue, jobs crawler.JobStore, workers []Runner, clock crawler.Clock, newID func() (uuid.UUID, error)) *Dispatcher {
	if newID == nil {
		newID = uuid.NewV7
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		workers: workers,
		clock:   clock,
		newID:   newID,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued job and enqueues it. A second crawl for an agent
// with an active job is rejected with ErrAgentBusy.
func (d *Dispatcher) Submit(ctx context.Context, req crawler.CrawlRequest) (crawler.Job, error) {
	d.admit.Lock()
	defer d.admit.Unlock()

	active, busy, err := d.jobs.ActiveJob(ctx, req.CompanyID, req.AgentID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("check active job: %w", err)
	}
	if busy {
		return active, ErrAgentBusy
	}

	id, err := d.newID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	req.JobID = id
	job := crawler.Job{
		ID:         id.String(),
		CompanyID:  req.CompanyID,
		AgentID:    req.AgentID,
		RootURL:    req.RootURL,
		PageBudget: req.PageBudget,
		Status:     crawler.JobStatusQueued,
		Submitted:  d.now(),
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.queue.Enqueue(ctx, crawler.QueueItem{JobID: job.ID, Request: req}); err != nil {
		if uerr := d.jobs.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, crawler.JobStatusFailed, err.Error()); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return crawler.Job{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return job, nil
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock.Now()
}

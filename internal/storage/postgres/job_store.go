package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

const jobColumns = `id, company_id, agent_id, root_url, page_budget, status, submitted_at, started_at, finished_at, error_text, progress, result`

// JobStore implements crawler.JobStore on the crawl_jobs table.
type JobStore struct {
	db  DB
	now func() time.Time
}

// NewJobStore wraps an open pool.
func NewJobStore(db DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO crawl_jobs (id, company_id, agent_id, root_url, page_budget, status, submitted_at, progress)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.CompanyID, job.AgentID, job.RootURL, job.PageBudget, string(job.Status), job.Submitted, progress)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets the status, stamping started_at once and finished_at
// for terminal states.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status crawler.JobStatus, errText string) error {
	now := s.now()
	var started, finished *time.Time
	switch status {
	case crawler.JobStatusRunning:
		started = &now
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed, crawler.JobStatusCanceled:
		finished = &now
	}
	tag, err := s.db.Exec(ctx, `UPDATE crawl_jobs
SET status = $2, error_text = $3, started_at = COALESCE(started_at, $4), finished_at = COALESCE($5, finished_at)
WHERE id = $1`, jobID, string(status), errText, started, finished)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// UpdateProgress replaces the progress snapshot.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress crawler.JobProgress) error {
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = s.now()
	}
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.updateJSON(ctx, "progress", jobID, payload)
}

// SetResult stores the crawl summary.
func (s *JobStore) SetResult(ctx context.Context, jobID string, result crawler.CrawlResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.updateJSON(ctx, "result", jobID, payload)
}

func (s *JobStore) updateJSON(ctx context.Context, column, jobID string, payload []byte) error {
	tag, err := s.db.Exec(ctx, `UPDATE crawl_jobs SET `+column+` = $2 WHERE id = $1`, jobID, payload)
	if err != nil {
		return fmt.Errorf("update job %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJob returns the newest queued or running job for an agent.
func (s *JobStore) ActiveJob(ctx context.Context, companyID, agentID string) (crawler.Job, bool, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+`
FROM crawl_jobs
WHERE company_id = $1 AND agent_id = $2 AND status IN ('queued', 'running')
ORDER BY submitted_at DESC
LIMIT 1`, companyID, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, false, nil
	}
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("active job: %w", err)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job      crawler.Job
		status   string
		progress []byte
		result   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.CompanyID,
		&job.AgentID,
		&job.RootURL,
		&job.PageBudget,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&progress,
		&result,
	); err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &job.Progress); err != nil {
			return crawler.Job{}, fmt.Errorf("decode progress: %w", err)
		}
	}
	if len(result) > 0 {
		var res crawler.CrawlResult
		if err := json.Unmarshal(result, &res); err != nil {
			return crawler.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/progress"
)

// ProgressWriter is the slice of crawler.JobStore the sink needs.
type ProgressWriter interface {
	UpdateProgress(ctx context.Context, jobID string, progress crawler.JobProgress) error
}

// StoreSink records the latest progress snapshot of each job. Within a batch
// only the newest snapshot per job is written.
type StoreSink struct {
	store  ProgressWriter
	logger *zap.Logger
}

// NewStoreSink wraps store.
func NewStoreSink(store ProgressWriter, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume implements progress.Sink. A job that no longer exists is skipped;
// other store errors abort the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	latest := make(map[[16]byte]progress.Event)
	var order [][16]byte
	for _, evt := range batch {
		if !evt.IsSnapshot() {
			continue
		}
		prev, seen := latest[evt.JobID]
		if !seen {
			order = append(order, evt.JobID)
		}
		if !seen || !evt.TS.Before(prev.TS) {
			latest[evt.JobID] = evt
		}
	}
	for _, id := range order {
		evt := latest[id]
		jobID := evt.JobUUID().String()
		err := s.store.UpdateProgress(ctx, jobID, evt.Snapshot())
		if errors.Is(err, crawler.ErrNotFound) {
			s.logger.Debug("progress for unknown job", zap.String("job_id", jobID))
			continue
		}
		if err != nil {
			return fmt.Errorf("update progress for %s: %w", jobID, err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

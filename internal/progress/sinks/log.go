package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/progress"
)

// LogSink writes each event as a structured log line. Page events go to debug
// level so a normal info log only carries stage transitions.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage == progress.StagePageDone {
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Bool("rendered", evt.Rendered),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("page fetched", fields...)
			continue
		}
		fields = append(fields,
			zap.Int("current_page", evt.CurrentPage),
			zap.Int("total_pages", evt.TotalPages),
			zap.Int("percent", evt.Percent),
			zap.Int("chunks_found", evt.ChunksFound),
		)
		if evt.Message != "" {
			fields = append(fields, zap.String("message", evt.Message))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Stage == progress.StageJobError {
			s.logger.Warn("crawl progress", fields...)
			continue
		}
		s.logger.Info("crawl progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// Package hybrid chooses between a plain fetch and a headless render per URL.
package hybrid

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/metrics"
)

// Fetcher tries a plain fetch first and upgrades SPA shells to a render. A
// failed render falls back to the plain HTML rather than dropping the page.
type Fetcher struct {
	plain    crawler.Fetcher
	renderer crawler.Renderer
	detector crawler.SPADetector
	logger   *zap.Logger
}

// New wires a hybrid fetcher. renderer may be nil to disable upgrades.
func New(plain crawler.Fetcher, renderer crawler.Renderer, detector crawler.SPADetector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		plain:    plain,
		renderer: renderer,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	static, err := f.plain.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("plain fetch: %w", err)
	}
	if f.detector == nil || !f.detector.IsSPA(static.Body) {
		return static, nil
	}
	static.IsSPA = true
	if f.renderer == nil {
		return static, nil
	}

	rendered, err := f.renderer.Render(ctx, request.URL)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		metrics.ObserveRender("fallback")
		f.logger.Warn("render failed; using static html",
			zap.String("job_id", request.JobID),
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return static, nil
	}
	metrics.ObserveRender("rendered")
	rendered.IsSPA = true
	rendered.Duration += static.Duration
	return rendered, nil
}

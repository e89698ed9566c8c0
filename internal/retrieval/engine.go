// Package retrieval ranks crawled chunks and custom knowledge against a
// question and synthesizes grounded answers.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
	"github.com/hackjpnteam/sales-ai/internal/metrics"
)

// Defaults for Config.
const (
	DefaultLimit          = 10
	DefaultCandidates     = 150
	DefaultKnowledgeLimit = 5
	DefaultKnowledgeBoost = 1.1
)

// Config tunes ranking.
type Config struct {
	Limit          int
	Candidates     int
	KnowledgeLimit int
	KnowledgeBoost float64
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Candidates <= 0 {
		c.Candidates = DefaultCandidates
	}
	if c.KnowledgeLimit <= 0 {
		c.KnowledgeLimit = DefaultKnowledgeLimit
	}
	if c.KnowledgeBoost <= 0 {
		c.KnowledgeBoost = DefaultKnowledgeBoost
	}
	return c
}

// Engine embeds a question, asks the primary strategy for crawled hits and
// falls back when the primary fails or finds nothing.
type Engine struct {
	embedder  crawler.Embedder
	primary   Strategy
	fallback  Strategy
	knowledge crawler.KnowledgeStore
	cfg       Config
	logger    *zap.Logger
}

// NewEngine wires an engine over a chunk store. When the store also
// implements crawler.VectorIndex the indexed strategy is primary.
func NewEngine(
	embedder crawler.Embedder,
	chunks crawler.ChunkStore,
	knowledge crawler.KnowledgeStore,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var primary Strategy
	if index, ok := chunks.(crawler.VectorIndex); ok {
		primary = IndexedStrategy{Index: index, Candidates: cfg.Candidates}
	}
	return &Engine{
		embedder:  embedder,
		primary:   primary,
		fallback:  BruteForceStrategy{Store: chunks},
		knowledge: knowledge,
		cfg:       cfg,
		logger:    logger,
	}
}

// WithStrategies replaces the primary and fallback strategies.
func (e *Engine) WithStrategies(primary, fallback Strategy) *Engine {
	e.primary = primary
	e.fallback = fallback
	return e
}

// Search returns up to Config.Limit results for question. Custom knowledge
// scores are boosted; on equal final scores crawled hits come first.
func (e *Engine) Search(ctx context.Context, companyID, question string) ([]crawler.SearchResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is required")
	}
	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, errors.New("embed question: empty vector")
	}
	return e.SearchVector(ctx, companyID, vectors[0])
}

// SearchVector is Search with a precomputed query vector.
func (e *Engine) SearchVector(ctx context.Context, companyID string, vector []float32) ([]crawler.SearchResult, error) {
	hits, err := e.crawled(ctx, companyID, vector)
	if err != nil {
		return nil, err
	}
	results := make([]crawler.SearchResult, 0, len(hits)+e.cfg.KnowledgeLimit)
	for _, h := range hits {
		results = append(results, crawler.SearchResult{
			Text:  h.Chunk.Text,
			URL:   h.Chunk.URL,
			Title: resultTitle(h.Chunk),
			Score: h.Score,
		})
	}

	knowledge, err := e.knowledgeHits(ctx, companyID, vector)
	if err != nil {
		e.logger.Warn("custom knowledge search failed", zap.String("company_id", companyID), zap.Error(err))
	}
	results = append(results, knowledge...)

	return topK(results, e.cfg.Limit, func(r crawler.SearchResult) float64 { return r.Score }), nil
}

func (e *Engine) crawled(ctx context.Context, companyID string, vector []float32) ([]crawler.ScoredChunk, error) {
	if e.primary != nil {
		hits, err := e.primary.Search(ctx, companyID, vector, e.cfg.Limit)
		switch {
		case err == nil && len(hits) > 0:
			metrics.ObserveSearch(e.primary.Name())
			return hits, nil
		case err != nil && !errors.Is(err, crawler.ErrIndexUnavailable):
			e.logger.Warn("primary search failed; falling back",
				zap.String("company_id", companyID),
				zap.String("strategy", e.primary.Name()),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("search canceled: %w", ctx.Err())
		}
	}
	if e.fallback == nil {
		return nil, nil
	}
	hits, err := e.fallback.Search(ctx, companyID, vector, e.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", e.fallback.Name(), err)
	}
	metrics.ObserveSearch(e.fallback.Name())
	return hits, nil
}

func (e *Engine) knowledgeHits(ctx context.Context, companyID string, vector []float32) ([]crawler.SearchResult, error) {
	if e.knowledge == nil {
		return nil, nil
	}
	entries, err := e.knowledge.ListKnowledge(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	scored := make([]crawler.SearchResult, 0, len(entries))
	for _, entry := range entries {
		scored = append(scored, crawler.SearchResult{
			Text:              entry.Content,
			Title:             entry.Title,
			Score:             Cosine(vector, entry.Vector),
			IsCustomKnowledge: true,
		})
	}
	scored = topK(scored, e.cfg.KnowledgeLimit, func(r crawler.SearchResult) float64 { return r.Score })
	for i := range scored {
		scored[i].Score *= e.cfg.KnowledgeBoost
	}
	return scored, nil
}

func resultTitle(c crawler.Chunk) string {
	switch {
	case c.SectionTitle != "" && c.Title != "" && c.SectionTitle != c.Title:
		return c.Title + " - " + c.SectionTitle
	case c.SectionTitle != "":
		return c.SectionTitle
	default:
		return c.Title
	}
}

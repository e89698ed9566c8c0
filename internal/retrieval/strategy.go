package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// Strategy ranks a company's chunks against a query vector.
type Strategy interface {
	Name() string
	Search(ctx context.Context, companyID string, vector []float32, limit int) ([]crawler.ScoredChunk, error)
}

// IndexedStrategy asks a VectorIndex for approximate nearest neighbours.
type IndexedStrategy struct {
	Index      crawler.VectorIndex
	Candidates int
}

// Name implements Strategy.
func (IndexedStrategy) Name() string { return "indexed" }

// Search implements Strategy.
func (s IndexedStrategy) Search(ctx context.Context, companyID string, vector []float32, limit int) ([]crawler.ScoredChunk, error) {
	if s.Index == nil {
		return nil, crawler.ErrIndexUnavailable
	}
	hits, err := s.Index.SearchIndexed(ctx, companyID, vector, s.Candidates, limit)
	if err != nil {
		return nil, fmt.Errorf("indexed search: %w", err)
	}
	return hits, nil
}

// BruteForceStrategy scans every chunk and scores it in process.
type BruteForceStrategy struct {
	Store crawler.ChunkStore
}

// Name implements Strategy.
func (BruteForceStrategy) Name() string { return "brute_force" }

// Search implements Strategy.
func (s BruteForceStrategy) Search(ctx context.Context, companyID string, vector []float32, limit int) ([]crawler.ScoredChunk, error) {
	chunks, err := s.Store.ListChunks(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	hits := make([]crawler.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, crawler.ScoredChunk{Chunk: c, Score: Cosine(vector, c.Vector)})
	}
	return topK(hits, limit, func(h crawler.ScoredChunk) float64 { return h.Score }), nil
}

// topK sorts descending by score, keeping input order on ties, and truncates.
func topK[T any](items []T, k int, score func(T) float64) []T {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(score(b), score(a))
	})
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

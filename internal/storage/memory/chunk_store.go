package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// ChunkStore keeps chunks per company. It has no vector index, so retrieval
// against it always takes the brute-force path.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[string][]crawler.Chunk
}

// NewChunkStore constructs an empty ChunkStore.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{chunks: make(map[string][]crawler.Chunk)}
}

// InsertChunks appends copies of chunks.
func (s *ChunkStore) InsertChunks(_ context.Context, chunks []crawler.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		c.Vector = slices.Clone(c.Vector)
		s.chunks[c.CompanyID] = append(s.chunks[c.CompanyID], c)
	}
	return nil
}

// ListChunks returns every chunk for a company in insertion order.
func (s *ChunkStore) ListChunks(_ context.Context, companyID string) ([]crawler.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[companyID]), nil
}

// DeleteChunks removes an agent's chunks and reports how many were dropped.
func (s *ChunkStore) DeleteChunks(_ context.Context, companyID, agentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[companyID][:0:0]
	var removed int64
	for _, c := range s.chunks[companyID] {
		if c.AgentID == agentID {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks[companyID] = kept
	return removed, nil
}

// SearchIndexed always reports crawler.ErrIndexUnavailable.
func (s *ChunkStore) SearchIndexed(context.Context, string, []float32, int, int) ([]crawler.ScoredChunk, error) {
	return nil, crawler.ErrIndexUnavailable
}

// Count returns the number of chunks stored for a company.
func (s *ChunkStore) Count(companyID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[companyID])
}

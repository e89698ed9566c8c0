package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// KnowledgeStore keeps custom knowledge entries per company. Putting an
// entry with an existing ID replaces it.
type KnowledgeStore struct {
	mu      sync.RWMutex
	entries map[string][]crawler.CustomKnowledgeEntry
}

// NewKnowledgeStore constructs an empty KnowledgeStore.
func NewKnowledgeStore() *KnowledgeStore {
	return &KnowledgeStore{entries: make(map[string][]crawler.CustomKnowledgeEntry)}
}

// PutKnowledge inserts or replaces an entry.
func (s *KnowledgeStore) PutKnowledge(_ context.Context, entry crawler.CustomKnowledgeEntry) error {
	if entry.ID == "" || entry.CompanyID == "" {
		return errors.New("knowledge entry requires id and company id")
	}
	entry.Vector = slices.Clone(entry.Vector)
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[entry.CompanyID]
	for i := range list {
		if list[i].ID == entry.ID {
			list[i] = entry
			return nil
		}
	}
	s.entries[entry.CompanyID] = append(list, entry)
	return nil
}

// ListKnowledge returns a company's entries in insertion order.
func (s *KnowledgeStore) ListKnowledge(_ context.Context, companyID string) ([]crawler.CustomKnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries[companyID]), nil
}

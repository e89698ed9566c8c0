// Package indexer embeds chunk text and persists the resulting records.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackjpnteam/sales-ai/internal/crawler"
)

// MaxBatchSize caps the number of inputs sent in a single embedding request.
const MaxBatchSize = 2048

// Indexer implements the embed-then-insert pipeline for one crawl round.
type Indexer struct {
	embedder  crawler.Embedder
	store     crawler.ChunkStore
	clock     crawler.Clock
	logger    *zap.Logger
	batchSize int
}

// Option customizes an Indexer.
type Option func(*Indexer)

// WithBatchSize overrides MaxBatchSize. Values outside (0, MaxBatchSize] are ignored.
func WithBatchSize(n int) Option {
	return func(i *Indexer) {
		if n > 0 && n <= MaxBatchSize {
			i.batchSize = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Indexer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New constructs an Indexer.
func New(embedder crawler.Embedder, store crawler.ChunkStore, clock crawler.Clock, opts ...Option) *Indexer {
	i := &Indexer{
		embedder:  embedder,
		store:     store,
		clock:     clock,
		logger:    zap.NewNop(),
		batchSize: MaxBatchSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Index embeds every chunk's text, stamps CreatedAt and inserts the records.
// Nothing is persisted when any embedding request fails. It returns the number
// of records written.
func (i *Indexer) Index(ctx context.Context, chunks []crawler.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if i.embedder == nil || i.store == nil {
		return 0, errors.New("indexer is not configured")
	}

	records := make([]crawler.Chunk, len(chunks))
	copy(records, chunks)

	for start := 0; start < len(records); start += i.batchSize {
		end := min(start+i.batchSize, len(records))
		texts := make([]string, 0, end-start)
		for _, c := range records[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := i.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(vectors), len(texts))
		}
		for j, vec := range vectors {
			records[start+j].Vector = vec
		}
	}

	now := i.now()
	for j := range records {
		records[j].CreatedAt = now
	}
	if err := i.store.InsertChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("insert chunks: %w", err)
	}
	i.logger.Debug("chunks indexed", zap.Int("count", len(records)))
	return len(records), nil
}

func (i *Indexer) now() time.Time {
	if i.clock == nil {
		return time.Now().UTC()
	}
	return i.clock.Now()
}

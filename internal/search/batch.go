package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nougatpkg/nougat/internal/model"
	"go.uber.org/zap"
)

// ErrBatchTooLarge is returned by a Pusher when the backend rejects a batch
// for its size. The batching indexer reacts by bisecting the batch.
var ErrBatchTooLarge = errors.New("search: batch too large")

// Document is one search-index entry.
type Document struct {
	ID          string
	Version     string
	Description string
	Tags        []string
}

// Pusher delivers batches of documents to an external search service.
type Pusher interface {
	Push(ctx context.Context, batch []Document) error
}

// BatchingIndexer accumulates documents and flushes them to a push-based
// search backend in batches of at most maxBatchSize.
type BatchingIndexer struct {
	pusher       Pusher
	maxBatchSize int
	logger       *zap.Logger

	mu      sync.Mutex
	pending []Document
}

// NewBatchingIndexer creates an indexer flushing through pusher.
func NewBatchingIndexer(pusher Pusher, maxBatchSize int, logger *zap.Logger) *BatchingIndexer {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	return &BatchingIndexer{
		pusher:       pusher,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// Index queues the package and flushes once the batch is full.
func (b *BatchingIndexer) Index(ctx context.Context, pkg *model.Package) error {
	b.mu.Lock()
	b.pending = append(b.pending, Document{
		ID:          pkg.ID,
		Version:     pkg.Version.Normalized(),
		Description: pkg.Description,
		Tags:        pkg.Tags,
	})
	var batch []Document
	if len(b.pending) >= b.maxBatchSize {
		batch = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if batch == nil {
		return nil
	}
	return b.push(ctx, batch)
}

// Flush sends any buffered documents immediately.
func (b *BatchingIndexer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.push(ctx, batch)
}

// push delivers a batch, recursively bisecting on a too-large rejection so
// an oversized batch degrades into smaller deliveries instead of failing
// outright.
func (b *BatchingIndexer) push(ctx context.Context, batch []Document) error {
	err := b.pusher.Push(ctx, batch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrBatchTooLarge) {
		return fmt.Errorf("failed to push %d documents: %w", len(batch), err)
	}
	if len(batch) <= 1 {
		return fmt.Errorf("backend rejected a single-document batch: %w", err)
	}

	b.logger.Warn("search batch rejected as too large, splitting",
		zap.Int("size", len(batch)),
	)

	mid := len(batch) / 2
	if err := b.push(ctx, batch[:mid]); err != nil {
		return err
	}
	return b.push(ctx, batch[mid:])
}

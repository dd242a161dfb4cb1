package reembed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/storage"
)

// BatchStats accumulates what a BatchProcessor wrote.
type BatchStats struct {
	Conversations atomic.Int64
	Chunks        atomic.Int64
	Records       atomic.Int64
	Anomalies     atomic.Int64
}

// BatchProcessor rebuilds the embeddings of a batch of conversations.
type BatchProcessor struct {
	builder    *embedding.Builder
	embeddings storage.EmbeddingStore
	catalog    storage.Catalog
	pool       *ants.Pool
	logger     *slog.Logger
	stats      BatchStats
}

// NewBatchProcessor creates a batch processor that embeds up to workers
// conversations at once. catalog may be nil; when set, sync states are
// updated with the new chunk counts.
func NewBatchProcessor(builder *embedding.Builder, embeddings storage.EmbeddingStore, catalog storage.Catalog, pool *ants.Pool, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		builder:    builder,
		embeddings: embeddings,
		catalog:    catalog,
		pool:       pool,
		logger:     logger,
	}
}

// Stats returns the running totals.
func (bp *BatchProcessor) Stats() *BatchStats {
	return &bp.stats
}

// Process embeds every conversation of the batch and replaces its segment.
// The first failure is returned after the rest of the batch settles.
func (bp *BatchProcessor) Process(ctx context.Context, convs []*core.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, conv := range convs {
		wg.Add(1)
		err := bp.pool.Submit(func() {
			defer wg.Done()
			if err := bp.process(ctx, conv); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit %s: %w", conv.ID, err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func (bp *BatchProcessor) process(ctx context.Context, conv *core.Conversation) error {
	build, err := bp.builder.Build(ctx, conv)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", conv.ID, err)
	}
	for _, a := range build.Anomalies {
		bp.logger.Warn("skipped degenerate aggregate",
			"conversation", conv.ID, "level", a.Level, "message", a.MessageID, "err", a.Err)
	}

	if err := bp.embeddings.WriteSegment(ctx, conv.ProviderID, conv.ID, build.Records); err != nil {
		return fmt.Errorf("conversation %s: %w", conv.ID, err)
	}
	if err := bp.updateSyncState(ctx, conv, build.Chunks); err != nil {
		return fmt.Errorf("conversation %s: %w", conv.ID, err)
	}

	bp.stats.Conversations.Add(1)
	bp.stats.Chunks.Add(int64(build.Chunks))
	bp.stats.Records.Add(int64(len(build.Records)))
	bp.stats.Anomalies.Add(int64(len(build.Anomalies)))
	return nil
}

func (bp *BatchProcessor) updateSyncState(ctx context.Context, conv *core.Conversation, chunks int) error {
	if bp.catalog == nil {
		return nil
	}
	state, err := bp.catalog.GetSyncState(ctx, conv.ProviderID, conv.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	state.ChunkCount = chunks
	state.IndexedAt = time.Now().UTC()
	return bp.catalog.PutSyncState(ctx, state)
}

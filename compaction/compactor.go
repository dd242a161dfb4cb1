// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package compaction

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage/files"
	"github.com/poiesic/convoy/storage/lock"
)

// Result describes one provider's compaction.
type Result struct {
	Provider     string
	Segments     int // segments merged and removed
	Rows         int // rows in the consolidated file afterwards
	TempsRemoved int
	Skipped      bool // nothing to merge
	Duration     time.Duration
}

// ProviderStatus is the compaction state of one provider.
type ProviderStatus struct {
	Provider     string
	Consolidated bool
	SegmentCount int
	TotalRows    int
}

// Compactor merges embedding segments for the providers of an EmbeddingStore.
type Compactor struct {
	store  *files.EmbeddingStore
	lock   *lock.DataLock
	logger *slog.Logger
}

// Option is a functional option for configuring a Compactor.
type Option func(*Compactor)

// WithLock makes every compaction hold l.
func WithLock(l *lock.DataLock) Option {
	return func(c *Compactor) {
		c.lock = l
	}
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compactor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCompactor(store *files.EmbeddingStore, opts ...Option) *Compactor {
	c := &Compactor{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "compactor")
	return c
}

func (c *Compactor) acquire(ctx context.Context) (func(), error) {
	if c.lock == nil {
		return func() {}, nil
	}
	if err := c.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := c.lock.Release(); err != nil {
			c.logger.Warn("failed to release lock", "err", err)
		}
	}, nil
}

// CompactAll compacts every provider. A failed provider does not stop the
// others; their errors are joined.
func (c *Compactor) CompactAll(ctx context.Context) ([]Result, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	providers, err := c.store.Providers(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(providers))
	var errs []error
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := c.compact(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

// CompactProvider compacts one provider.
func (c *Compactor) CompactProvider(ctx context.Context, provider string) (*Result, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.compact(ctx, provider)
}

// NeedsCompaction reports whether provider has pending segments.
func (c *Compactor) NeedsCompaction(provider string) (bool, error) {
	paths, err := c.store.SegmentPaths(provider)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// Status reports every provider's consolidated file, pending segments, and
// current row count.
func (c *Compactor) Status(ctx context.Context) ([]ProviderStatus, error) {
	providers, err := c.store.Providers(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]ProviderStatus, 0, len(providers))
	for _, p := range providers {
		consolidated, segments, err := c.store.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		hasFile, err := c.store.HasConsolidated(p)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, ProviderStatus{
			Provider:     p,
			Consolidated: hasFile,
			SegmentCount: len(segments),
			TotalRows:    len(files.Overlay(consolidated, segments)),
		})
	}
	return statuses, nil
}

func (c *Compactor) compact(ctx context.Context, provider string) (*Result, error) {
	start := time.Now()
	logger := c.logger.With("provider", provider)
	res := &Result{Provider: provider}

	removed, err := c.store.RemoveTemps(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrCompaction, provider, err)
	}
	res.TempsRemoved = removed
	if removed > 0 {
		logger.Info("removed stale temp files", "count", removed)
	}

	consolidated, segments, err := c.store.Load(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrCompaction, provider, err)
	}
	if len(segments) == 0 {
		res.Skipped = true
		res.Rows = len(consolidated)
		res.Duration = time.Since(start)
		logger.Debug("nothing to compact")
		return res, nil
	}

	merged := files.Overlay(consolidated, segments)
	SortRecords(merged)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.store.WriteConsolidated(provider, merged); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrCompaction, provider, err)
	}

	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.Path
	}
	// The new consolidated file already contains these rows; leftovers only
	// overlay identical data until the next run.
	if err := c.store.RemoveFiles(paths); err != nil {
		logger.Warn("failed to remove merged segments", "err", err)
	}

	res.Segments = len(segments)
	res.Rows = len(merged)
	res.Duration = time.Since(start)
	logger.Info("compacted", "segments", res.Segments, "rows", res.Rows, "duration", res.Duration)
	return res, nil
}

// SortRecords orders records by conversation, level, message, and chunk index.
func SortRecords(records []core.EmbeddingRecord) {
	slices.SortStableFunc(records, func(a, b core.EmbeddingRecord) int {
		return cmp.Or(
			cmp.Compare(a.ConversationID, b.ConversationID),
			cmp.Compare(a.Level, b.Level),
			cmp.Compare(a.MessageID, b.MessageID),
			cmp.Compare(a.ChunkIndex, b.ChunkIndex),
		)
	})
}

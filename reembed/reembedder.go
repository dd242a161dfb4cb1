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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of conversations read per batch
	BatchSize int `yaml:"batch_size"`

	// Workers is the number of conversations embedded concurrently
	Workers int `yaml:"workers"`

	// ReportInterval is how often to report progress (number of conversations)
	ReportInterval int `yaml:"report_interval"`

	// Provider limits the run to one provider. Empty means all.
	Provider string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		Workers:        4,
		ReportInterval: 50,
	}
}

// Stores are the stores a Reembedder reads from and writes to.
// Catalog is optional.
type Stores struct {
	Conversations ConversationSource
	Embeddings    storage.EmbeddingStore
	Catalog       storage.Catalog
}

// Result summarizes a reembedding run.
type Result struct {
	Conversations int
	Chunks        int
	Records       int
	Anomalies     int
	Duration      time.Duration
}

// Reembedder orchestrates the reembedding of every stored conversation.
type Reembedder struct {
	builder  *embedding.Builder
	stores   Stores
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(builder *embedding.Builder, stores Stores, config *Config, progress io.Writer, logger *slog.Logger) (*Reembedder, error) {
	if builder == nil {
		return nil, ErrBuilderRequired
	}
	if stores.Conversations == nil || stores.Embeddings == nil {
		return nil, ErrStoreRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reembedder{
		builder:  builder,
		stores:   stores,
		config:   config,
		progress: progress,
		logger:   logger.With("component", "reembed"),
	}, nil
}

// Run rebuilds the embeddings of every conversation in scope.
// Progress is reported to the configured writer. On failure the result
// counts the conversations rewritten before it.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	iterator := NewConversationIterator(r.stores.Conversations, r.config.Provider, r.config.BatchSize)

	total, err := iterator.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No conversations found (0 conversations)\n")
		return &Result{}, nil
	}

	pool, err := ants.NewPool(max(r.config.Workers, 1))
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	processor := NewBatchProcessor(r.builder, r.stores.Embeddings, r.stores.Catalog, pool, r.logger)

	fmt.Fprintf(r.progress, "Starting reembedding of %d conversations (batch size: %d, workers: %d)\n",
		total, r.config.BatchSize, r.config.Workers)
	r.logger.Info("reembedding started", "conversations", total, "provider", r.config.Provider)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval, "conversations")
	tracker.Start()

	err = iterator.ForEach(ctx, func(convs []*core.Conversation) error {
		if err := processor.Process(ctx, convs); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		tracker.Increment(len(convs))
		return nil
	})

	stats := processor.Stats()
	result := &Result{
		Conversations: int(stats.Conversations.Load()),
		Chunks:        int(stats.Chunks.Load()),
		Records:       int(stats.Records.Load()),
		Anomalies:     int(stats.Anomalies.Load()),
		Duration:      time.Since(start),
	}
	if err != nil {
		r.logger.Error("reembedding failed", "conversations", result.Conversations, "err", err)
		return result, err
	}

	tracker.Finish()
	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d conversations in %v (%.1f conversations/sec)\n",
		result.Conversations, elapsed.Round(time.Second), float64(result.Conversations)/max(elapsed.Seconds(), 1e-9))
	r.logger.Info("reembedding finished",
		"conversations", result.Conversations,
		"records", result.Records,
		"anomalies", result.Anomalies,
		"duration", result.Duration)
	return result, nil
}

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


package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/provider"
	"github.com/poiesic/convoy/storage"
	"github.com/poiesic/convoy/storage/files"
	"github.com/spf13/afero"
)

// Stores are the outputs a pipeline persists into.
type Stores struct {
	Catalog       storage.Catalog
	Conversations storage.ConversationStore
	Embeddings    storage.EmbeddingStore
	Index         storage.TextIndex
}

// Pipeline orchestrates one pull: fetching conversations from providers,
// downloading their attachments, and embedding and persisting them.
// A Pipeline runs once.
type Pipeline struct {
	config   Config
	registry *provider.Registry
	builder  *embedding.Builder
	stores   Stores
	mediaFs  afero.Fs
	media    *files.MediaStore
	logger   *slog.Logger
	state    atomic.Int32
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMediaFs sets the file system attachments are downloaded to.
// Default is the OS file system.
func WithMediaFs(fs afero.Fs) Option {
	return func(p *Pipeline) error {
		p.mediaFs = fs
		return nil
	}
}

// NewPipeline creates a pipeline. The config is validated here so a bad
// configuration never reaches Run.
func NewPipeline(config Config, registry *provider.Registry, builder *embedding.Builder, stores Stores, opts ...Option) (*Pipeline, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if builder == nil {
		return nil, ErrBuilderRequired
	}
	if stores.Catalog == nil || stores.Conversations == nil || stores.Embeddings == nil || stores.Index == nil {
		return nil, ErrStoreRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:   config,
		registry: registry,
		builder:  builder,
		stores:   stores,
		mediaFs:  afero.NewOsFs(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")
	if config.MediaDir != "" {
		p.media = files.NewMediaStore(p.mediaFs, config.MediaDir)
	}
	return p, nil
}

// State returns the current lifecycle state. Safe for concurrent use.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// run holds the channels and bookkeeping of one Run.
type run struct {
	p      *Pipeline
	logger *slog.Logger

	fetched    chan PipelineMessage // channel 1: fetch -> media
	downloaded chan PipelineMessage // channel 2: media -> embed
	results    chan PipelineMessage // embed -> coordinator

	errs        errorLog
	skipped     atomic.Int64
	fetchFailed atomic.Int64

	cancelFetch context.CancelFunc
	halted      atomic.Bool
	fatalMu     sync.Mutex
	fatalErr    error
}

// fatal records the first stage-fatal failure, stops fetching, and makes the
// downstream stages drop the rest of the run.
func (r *run) fatal(stage string, err error) {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	if r.fatalErr != nil {
		return
	}
	r.fatalErr = core.NewStageError(stage, "", err)
	r.halted.Store(true)
	r.cancelFetch()
	r.logger.Error("storage failure, halting pipeline", "stage", stage, "err", err)
}

func (r *run) fatalError() error {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatalErr
}

// Run pulls every account. Canceling ctx stops fetching; conversations
// already past the fetch stage are still persisted. On a storage failure Run
// returns the partial result together with the error.
func (p *Pipeline) Run(ctx context.Context, accounts []*core.Account) (*Result, error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyRun
	}
	start := time.Now()
	result := &Result{RunID: uuid.NewString(), StartedAt: start.UTC()}
	logger := p.logger.With("run", result.RunID)
	logger.Info("pull started", "accounts", len(accounts), "new_only", p.config.NewOnly)

	fetchPool, mediaPool, embedPool, err := p.newPools()
	if err != nil {
		p.setState(StateFailed)
		return result, err
	}
	defer func() {
		fetchPool.Release()
		mediaPool.Release()
		embedPool.Release()
	}()

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()
	// Work that got past fetch finishes even when the caller cancels.
	workCtx := context.WithoutCancel(ctx)

	r := &run{
		p:           p,
		logger:      logger,
		fetched:     make(chan PipelineMessage, p.config.fetchCapacity()),
		downloaded:  make(chan PipelineMessage, p.config.embedCapacity()),
		results:     make(chan PipelineMessage, p.config.ChannelCapacity),
		cancelFetch: cancelFetch,
	}

	embedDone, embedErr := startWorkers(embedPool, p.config.EmbedWorkers, func() { r.embedWorker(workCtx) })
	mediaDone, mediaErr := startWorkers(mediaPool, p.config.MediaWorkers, func() { r.mediaWorker(workCtx) })
	go func() {
		embedDone.Wait()
		r.results <- Shutdown{}
		close(r.results)
	}()
	go func() {
		mediaDone.Wait()
		close(r.downloaded)
	}()

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		r.collect(result)
	}()

	wiringErr := embedErr
	if wiringErr == nil {
		wiringErr = mediaErr
	}
	if wiringErr == nil {
		r.fetch(fetchCtx, fetchPool, accounts)
	} else {
		r.fatalMu.Lock()
		r.fatalErr = fmt.Errorf("start workers: %w", wiringErr)
		r.fatalMu.Unlock()
	}
	close(r.fetched)
	if p.State() == StateRunning {
		p.setState(StateDraining)
	}
	logger.Debug("fetch stage finished, draining")

	<-collected

	result.Skipped = int(r.skipped.Load())
	result.Failed += int(r.fetchFailed.Load())
	result.Errors = r.errs.snapshot()
	result.Canceled = ctx.Err() != nil
	result.Duration = time.Since(start)

	if err := r.fatalError(); err != nil {
		p.setState(StateFailed)
		logger.Error("pull failed", "completed", result.Completed, "failed", result.Failed, "err", err)
		return result, err
	}
	p.setState(StateCompleted)
	logger.Info("pull finished",
		"completed", result.Completed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"chunks", result.Chunks,
		"canceled", result.Canceled,
		"duration", result.Duration)
	return result, nil
}

func (p *Pipeline) newPools() (fetch, media, embed *ants.Pool, err error) {
	if fetch, err = ants.NewPool(p.config.FetchWorkers); err != nil {
		return nil, nil, nil, fmt.Errorf("fetch pool: %w", err)
	}
	if media, err = ants.NewPool(p.config.MediaWorkers); err != nil {
		fetch.Release()
		return nil, nil, nil, fmt.Errorf("media pool: %w", err)
	}
	if embed, err = ants.NewPool(p.config.EmbedWorkers); err != nil {
		fetch.Release()
		media.Release()
		return nil, nil, nil, fmt.Errorf("embed pool: %w", err)
	}
	return fetch, media, embed, nil
}

// startWorkers submits n long-running workers to pool. The returned group
// tracks the ones that started.
func startWorkers(pool *ants.Pool, n int, worker func()) (*sync.WaitGroup, error) {
	wg := &sync.WaitGroup{}
	for range n {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			worker()
		}); err != nil {
			wg.Done()
			return wg, err
		}
	}
	return wg, nil
}

// collect tallies the result channel until it closes.
func (r *run) collect(result *Result) {
	for msg := range r.results {
		switch m := msg.(type) {
		case Complete:
			result.Completed++
			result.Messages += m.MessagesCount
			result.Chunks += m.ChunksCount
		case Error:
			result.Failed++
			r.errs.record(m)
		case Shutdown:
			r.logger.Debug("embed stage shut down")
		default:
			r.logger.Warn("unexpected message on result channel", "type", fmt.Sprintf("%T", msg))
		}
	}
}

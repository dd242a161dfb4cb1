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


package convoy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/poiesic/convoy/ai"
	"github.com/poiesic/convoy/ai/openai"
	"github.com/poiesic/convoy/compaction"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/provider"
	"github.com/poiesic/convoy/provider/export"
	"github.com/poiesic/convoy/search"
	"github.com/poiesic/convoy/storage/badger"
	"github.com/poiesic/convoy/storage/files"
	"github.com/poiesic/convoy/storage/lock"
	"github.com/poiesic/convoy/storage/sqlite"
	"github.com/spf13/afero"
)

// Archive is an opened data directory with every store and service wired.
type Archive struct {
	config        *Config
	fs            afero.Fs
	catalog       *badger.Catalog
	index         *sqlite.Index
	conversations *files.ConversationStore
	embeddings    *files.EmbeddingStore
	registry      *provider.Registry
	aiProvider    ai.AIProvider
	builder       *embedding.Builder
	searcher      *search.Searcher
	compactor     *compaction.Compactor
	lock          *lock.DataLock
	logger        *slog.Logger
	rootLogger    *slog.Logger // handed to components, which add their own component key
	closed        atomic.Bool
}

// Option configures an Archive.
type Option func(*archiveOptions)

type archiveOptions struct {
	aiProvider ai.AIProvider
	embedder   ai.Embedder
	providers  []provider.Provider
	logger     *slog.Logger
}

// WithEmbedder uses e instead of connecting to the configured service.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *archiveOptions) {
		o.embedder = e
	}
}

// WithAIProvider uses p for embeddings. The archive closes p on Close.
func WithAIProvider(p ai.AIProvider) Option {
	return func(o *archiveOptions) {
		o.aiProvider = p
	}
}

// WithProvider registers p, replacing a provider with the same ID.
func WithProvider(p provider.Provider) Option {
	return func(o *archiveOptions) {
		o.providers = append(o.providers, p)
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *archiveOptions) {
		o.logger = logger
	}
}

// Paths within the data directory.
const (
	catalogDir       = "catalog"
	indexFile        = "index.db"
	conversationsDir = "conversations"
	embeddingsDir    = "embeddings"
	mediaDir         = "media"
)

// Open validates cfg and opens the archive in cfg.DataDir, creating it if needed.
func Open(cfg *Config, opts ...Option) (*Archive, error) {
	options := &archiveOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := options.logger

	dir := cfg.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %w", core.ErrStorageUnavailable, err)
	}

	a := &Archive{
		config:     cfg,
		fs:         afero.NewOsFs(),
		lock:       lock.New(dir),
		logger:     logger.With("component", "archive"),
		rootLogger: logger,
	}

	var err error
	if a.catalog, err = badger.OpenCatalog(filepath.Join(dir, catalogDir), false); err != nil {
		return nil, err
	}
	if a.index, err = sqlite.Open(filepath.Join(dir, indexFile), sqlite.WithLogger(logger)); err != nil {
		a.Close()
		return nil, err
	}
	a.conversations = files.NewConversationStore(a.fs, filepath.Join(dir, conversationsDir), files.WithLogger(logger))
	a.embeddings = files.NewEmbeddingStore(a.fs, filepath.Join(dir, embeddingsDir), files.WithLogger(logger))

	embedder := options.embedder
	if embedder == nil && options.aiProvider != nil {
		a.aiProvider = options.aiProvider
		embedder = a.aiProvider.Embedder()
	}
	if embedder == nil {
		if a.aiProvider, err = openai.NewProvider(cfg.AI); err != nil {
			a.Close()
			return nil, err
		}
		embedder = a.aiProvider.Embedder()
	}

	chunker, err := embedding.NewChunker(cfg.Chunker)
	if err != nil {
		a.Close()
		return nil, err
	}
	adapter, err := embedding.NewAdapter(embedder, cfg.Embedding, embedding.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.builder = embedding.NewBuilder(chunker, adapter)

	a.registry = provider.NewRegistry(export.New(a.fs, export.WithLogger(logger)))
	for _, id := range cfg.Exports {
		a.registry.Register(export.New(a.fs, export.WithID(id), export.WithLogger(logger)))
	}
	for _, p := range options.providers {
		a.registry.Register(p)
	}

	if a.searcher, err = search.NewSearcher(a.index, a.embeddings, a.conversations, a.builder, search.WithLogger(logger)); err != nil {
		a.Close()
		return nil, err
	}
	a.compactor = compaction.NewCompactor(a.embeddings, compaction.WithLock(a.lock), compaction.WithLogger(logger))

	a.logger.Debug("archive opened", "dir", dir, "providers", a.registry.IDs())
	return a, nil
}

// Close releases every store. It is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	var errs []error
	if a.aiProvider != nil {
		if err := a.aiProvider.Close(); err != nil {
			a.logger.Error("error closing AI provider", "err", err)
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Error("error closing text index", "err", err)
			errs = append(errs, err)
		}
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Error("error closing catalog", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Archive) check() error {
	if a.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Config returns the archive configuration.
func (a *Archive) Config() *Config {
	return a.config
}

// Providers returns the registered provider IDs.
func (a *Archive) Providers() []string {
	return a.registry.IDs()
}

// AddAccount stores an account for a registered provider.
func (a *Archive) AddAccount(ctx context.Context, account *core.Account) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := core.ValidateAccount(account); err != nil {
		return err
	}
	if _, err := a.registry.Get(account.ProviderID); err != nil {
		return err
	}
	if account.Source != "" && !filepath.IsAbs(account.Source) {
		abs, err := filepath.Abs(account.Source)
		if err != nil {
			return err
		}
		account.Source = abs
	}
	return a.catalog.AddAccount(ctx, account)
}

// ListAccounts returns every account ordered by provider then ID.
func (a *Archive) ListAccounts(ctx context.Context) ([]*core.Account, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.catalog.ListAccounts(ctx)
}

// RemoveAccount deletes an account. Its conversations stay in the archive.
func (a *Archive) RemoveAccount(ctx context.Context, providerID, id string) error {
	if err := a.check(); err != nil {
		return err
	}
	return a.catalog.RemoveAccount(ctx, providerID, id)
}

// Search runs a query against the archive.
func (a *Archive) Search(ctx context.Context, q search.Query) ([]*core.SearchResult, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.searcher.Search(ctx, q)
}

// ListConversations returns indexed conversations, most recently updated
// first. An empty providerID lists every provider; limit <= 0 lists all.
func (a *Archive) ListConversations(ctx context.Context, providerID string, limit int) ([]core.ConversationSummary, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.index.ListConversations(ctx, providerID, limit)
}

// Conversation returns a stored conversation with its downloaded attachments.
func (a *Archive) Conversation(ctx context.Context, providerID, id string) (*core.Conversation, []*core.DownloadedAttachment, error) {
	if err := a.check(); err != nil {
		return nil, nil, err
	}
	conv, err := a.conversations.Get(ctx, providerID, id)
	if err != nil {
		return nil, nil, err
	}
	atts, err := a.catalog.ListAttachments(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, atts, nil
}

// Stats summarizes the archive.
type Stats struct {
	Accounts      int
	Conversations int
	Messages      int
	Attachments   int
	EmbeddingRows int
	Segments      int // pending, not yet compacted
	Providers     map[string]int
	IndexUpdated  time.Time
	LastPull      *core.PullRecord
}

// Stats gathers counts from the catalog, index, and embedding store.
func (a *Archive) Stats(ctx context.Context) (*Stats, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	accounts, err := a.catalog.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	attachments, err := a.catalog.CountAttachments(ctx)
	if err != nil {
		return nil, err
	}
	indexStats, err := a.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status, err := a.compactor.Status(ctx)
	if err != nil {
		return nil, err
	}
	pulls, err := a.catalog.RecentPulls(ctx, 1)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		Accounts:      len(accounts),
		Conversations: indexStats.Conversations,
		Messages:      indexStats.Messages,
		Attachments:   attachments,
		Providers:     indexStats.Providers,
		IndexUpdated:  indexStats.LastUpdated,
	}
	for _, st := range status {
		s.EmbeddingRows += st.TotalRows
		s.Segments += st.SegmentCount
	}
	if len(pulls) > 0 {
		s.LastPull = pulls[0]
	}
	return s, nil
}

// RecentPulls returns up to limit pulls, most recent first.
func (a *Archive) RecentPulls(ctx context.Context, limit int) ([]*core.PullRecord, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.catalog.RecentPulls(ctx, limit)
}

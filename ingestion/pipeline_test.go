package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	aimock "github.com/poiesic/convoy/ai/mock"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/provider"
	provmock "github.com/poiesic/convoy/provider/mock"
	"github.com/poiesic/convoy/storage"
	"github.com/poiesic/convoy/storage/badger"
	"github.com/poiesic/convoy/storage/files"
	"github.com/poiesic/convoy/storage/sqlite"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = &core.Account{ID: "alice", ProviderID: "claude"}

type harness struct {
	fs       afero.Fs
	catalog  *badger.Catalog
	convs    *files.ConversationStore
	embs     *files.EmbeddingStore
	index    *sqlite.Index
	embedder *aimock.MockEmbedder
	prov     *provmock.Provider
	registry *provider.Registry
	builder  *embedding.Builder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := badger.NewMemoryCatalog()
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	index, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	fs := afero.NewMemMapFs()
	embedder := aimock.NewMockEmbedder()

	chunker, err := embedding.NewChunker(embedding.DefaultChunkerConfig())
	require.NoError(t, err)
	cfg := embedding.DefaultAdapterConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	adapter, err := embedding.NewAdapter(embedder, cfg)
	require.NoError(t, err)

	prov := provmock.NewProvider("claude")
	return &harness{
		fs:       fs,
		catalog:  catalog,
		convs:    files.NewConversationStore(fs, "/data/conversations"),
		embs:     files.NewEmbeddingStore(fs, "/data/embeddings"),
		index:    index,
		embedder: embedder,
		prov:     prov,
		registry: provider.NewRegistry(prov),
		builder:  embedding.NewBuilder(chunker, adapter),
	}
}

func (h *harness) stores() Stores {
	return Stores{Catalog: h.catalog, Conversations: h.convs, Embeddings: h.embs, Index: h.index}
}

func (h *harness) pipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, h.registry, h.builder, h.stores(), WithMediaFs(h.fs))
	require.NoError(t, err)
	return p
}

var baseTime = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

func addConversations(p *provmock.Provider, n int) []string {
	ids := make([]string, n)
	for i := range n {
		id := fmt.Sprintf("c%03d", i)
		ids[i] = id
		p.AddConversation(core.Conversation{
			ID:        id,
			Title:     "conversation " + id,
			UpdatedAt: baseTime.Add(time.Duration(i) * time.Minute),
			Messages: []core.Message{
				{ID: id + "-q", Role: core.RoleUser, ContentType: core.ContentText, Content: "question about topic " + id},
				{ID: id + "-a", ParentID: id + "-q", Role: core.RoleAssistant, ContentType: core.ContentText, Content: "answer about topic " + id},
			},
		})
	}
	return ids
}

func smallConfig() Config {
	return Config{ChannelCapacity: 1, FetchWorkers: 1, MediaWorkers: 1, EmbedWorkers: 1}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.ChannelCapacity)
	assert.Equal(t, runtime.NumCPU(), cfg.FetchWorkers)
	assert.Equal(t, max(runtime.NumCPU()/2, 1), cfg.MediaWorkers)
	assert.Equal(t, max(runtime.NumCPU()/2, 1), cfg.EmbedWorkers)
	assert.Equal(t, 100, cfg.fetchCapacity())

	cfg.EmbedCapacity = 7
	assert.Equal(t, 7, cfg.embedCapacity())

	for name, mutate := range map[string]func(*Config){
		"zero capacity":     func(c *Config) { c.ChannelCapacity = 0 },
		"zero fetch":        func(c *Config) { c.FetchWorkers = 0 },
		"negative override": func(c *Config) { c.FetchCapacity = -1 },
		"zero media":        func(c *Config) { c.MediaWorkers = 0 },
		"zero embed":        func(c *Config) { c.EmbedWorkers = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewPipeline_Requirements(t *testing.T) {
	h := newHarness(t)

	_, err := NewPipeline(DefaultConfig(), nil, h.builder, h.stores())
	assert.ErrorIs(t, err, ErrRegistryRequired)

	_, err = NewPipeline(DefaultConfig(), h.registry, nil, h.stores())
	assert.ErrorIs(t, err, ErrBuilderRequired)

	stores := h.stores()
	stores.Index = nil
	_, err = NewPipeline(DefaultConfig(), h.registry, h.builder, stores)
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewPipeline(Config{}, h.registry, h.builder, h.stores())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPipeline_Run(t *testing.T) {
	h := newHarness(t)
	ids := addConversations(h.prov, 5)
	ctx := context.Background()

	p := h.pipeline(t, DefaultConfig())
	assert.Equal(t, StateIdle, p.State())

	result, err := p.Run(ctx, []*core.Account{alice})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State())
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 5, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 10, result.Messages)
	assert.Equal(t, 10, result.Chunks)
	assert.Empty(t, result.Errors)
	assert.False(t, result.Canceled)

	for _, id := range ids {
		conv, err := h.convs.Get(ctx, "claude", id)
		require.NoError(t, err)
		assert.Equal(t, "alice", conv.AccountID)

		state, err := h.catalog.GetSyncState(ctx, "claude", id)
		require.NoError(t, err)
		assert.Equal(t, 2, state.ChunkCount)
	}

	var rows int
	require.NoError(t, h.embs.Scan(ctx, "claude", 0, func(*core.EmbeddingRecord) error {
		rows++
		return nil
	}))
	// 2 chunks + 2 messages + 1 conversation per conversation
	assert.Equal(t, 25, rows)

	hits, err := h.index.Search(ctx, "c003", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c003", hits[0].ConversationID)

	_, err = p.Run(ctx, []*core.Account{alice})
	assert.ErrorIs(t, err, ErrAlreadyRun)

	rec := result.PullRecord()
	assert.Equal(t, result.RunID, rec.RunID)
	assert.Equal(t, 5, rec.Completed)
}

func TestPipeline_LivenessWithSmallCapacity(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 40)

	result, err := h.pipeline(t, smallConfig()).Run(context.Background(), []*core.Account{alice})
	require.NoError(t, err)
	assert.Equal(t, 40, result.Completed)
}

func TestPipeline_BackpressureBlocksFetch(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 30)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		once.Do(func() { close(started) })
		<-release
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = aimock.DeterministicVector(text, aimock.Dimension)
		}
		return out, nil
	}

	p := h.pipeline(t, smallConfig())
	done := make(chan *Result, 1)
	go func() {
		result, err := p.Run(context.Background(), []*core.Account{alice})
		assert.NoError(t, err)
		done <- result
	}()

	<-started
	time.Sleep(100 * time.Millisecond)

	// embedding (1) + channel 2 (1) + media send (1) + channel 1 (1) + fetch send (1)
	assert.LessOrEqual(t, h.prov.FetchCalls(), 5)
	assert.Equal(t, StateRunning, p.State())

	close(release)
	select {
	case result := <-done:
		assert.Equal(t, 30, result.Completed)
		assert.Equal(t, 30, h.prov.FetchCalls())
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish after backpressure was released")
	}
}

func TestPipeline_FetchErrors(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 3)

	flaky := provmock.NewProvider("flaky")
	flaky.ListConversationsFunc = h.prov.ListConversations
	flaky.FetchConversationFunc = func(ctx context.Context, a *core.Account, id string) (*core.Conversation, []core.Attachment, error) {
		if id == "c001" {
			return nil, nil, errors.New("http 500")
		}
		conv, atts, err := h.prov.FetchConversation(ctx, a, id)
		if conv != nil {
			conv.ProviderID = "flaky"
		}
		return conv, atts, err
	}
	broken := provmock.NewProvider("broken")
	broken.ListConversationsFunc = func(context.Context, *core.Account) ([]core.ConversationSummary, error) {
		return nil, errors.New("unauthorized")
	}
	h.registry.Register(flaky)
	h.registry.Register(broken)

	accounts := []*core.Account{
		{ID: "a", ProviderID: "flaky"},
		{ID: "b", ProviderID: "broken"},
		{ID: "c", ProviderID: "unregistered"},
	}
	result, err := h.pipeline(t, smallConfig()).Run(context.Background(), accounts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 3)

	var perConversation, listing int
	for _, e := range result.Errors {
		assert.Equal(t, core.StageFetch, e.Stage)
		assert.ErrorIs(t, &e, core.ErrFetch)
		if e.ConversationID == "" {
			listing++
		} else {
			assert.Equal(t, "c001", e.ConversationID)
			perConversation++
		}
	}
	assert.Equal(t, 1, perConversation)
	assert.Equal(t, 2, listing)
}

func TestPipeline_EmbeddingFailureIsPerConversation(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 4)
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if strings.Contains(text, "c002") {
				return nil, errors.New("model overloaded")
			}
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = aimock.DeterministicVector(text, aimock.Dimension)
		}
		return out, nil
	}

	result, err := h.pipeline(t, DefaultConfig()).Run(context.Background(), []*core.Account{alice})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "c002", result.Errors[0].ConversationID)
	assert.Equal(t, core.StageEmbed, result.Errors[0].Stage)
	assert.ErrorIs(t, &result.Errors[0], core.ErrEmbedding)

	_, err = h.catalog.GetSyncState(context.Background(), "claude", "c002")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.convs.Get(context.Background(), "claude", "c002")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPipeline_Media(t *testing.T) {
	h := newHarness(t)
	h.prov.AddConversation(core.Conversation{
		ID:        "c1",
		UpdatedAt: baseTime,
		Messages:  []core.Message{{ID: "m1", Role: core.RoleUser, ContentType: core.ContentText, Content: "see attached"}},
	},
		core.Attachment{ID: "f1", MessageID: "m1", Filename: "notes.txt"},
		core.Attachment{ID: "f2", MessageID: "m1", Filename: "missing.bin"},
	)
	h.prov.SetAttachmentData("f1", []byte("hello notes"))

	cfg := DefaultConfig()
	cfg.MediaDir = "/data/media"
	result, err := h.pipeline(t, cfg).Run(context.Background(), []*core.Account{alice})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, result.Failed)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, core.StageMedia, result.Errors[0].Stage)
	assert.ErrorIs(t, &result.Errors[0], core.ErrMedia)

	atts, err := h.catalog.ListAttachments(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, int64(11), atts[0].SizeBytes)

	data, err := afero.ReadFile(h.fs, atts[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello notes", string(data))
}

func TestPipeline_NewOnly(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 4)
	ctx := context.Background()

	_, err := h.pipeline(t, DefaultConfig()).Run(ctx, []*core.Account{alice})
	require.NoError(t, err)
	require.Equal(t, 4, h.prov.FetchCalls())

	// bump one conversation
	conv, _, err := h.prov.FetchConversation(ctx, alice, "c002")
	require.NoError(t, err)
	conv.UpdatedAt = conv.UpdatedAt.Add(time.Hour)
	conv.Messages[0].Content = "revised question"
	h.prov.AddConversation(*conv)
	fetchesBefore := h.prov.FetchCalls()

	cfg := DefaultConfig()
	cfg.NewOnly = true
	result, err := h.pipeline(t, cfg).Run(ctx, []*core.Account{alice})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, fetchesBefore+1, h.prov.FetchCalls())

	stored, err := h.convs.Get(ctx, "claude", "c002")
	require.NoError(t, err)
	assert.Equal(t, "revised question", stored.Messages[0].Content)
}

func TestPipeline_CancellationKeepsOnlyCompleteConversations(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := h.prov
	wrapped := provmock.NewProvider("claude")
	wrapped.ListConversationsFunc = base.ListConversations
	var fetches int
	var mu sync.Mutex
	wrapped.FetchConversationFunc = func(c context.Context, a *core.Account, id string) (*core.Conversation, []core.Attachment, error) {
		mu.Lock()
		fetches++
		if fetches == 5 {
			cancel()
		}
		mu.Unlock()
		return base.FetchConversation(c, a, id)
	}
	h.registry.Register(wrapped)

	result, err := h.pipeline(t, smallConfig()).Run(ctx, []*core.Account{alice})
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.Less(t, result.Completed, 20)
	assert.Zero(t, result.Failed)

	states, err := h.catalog.ListSyncStates(context.Background(), "claude")
	require.NoError(t, err)
	assert.Len(t, states, result.Completed)

	// every synced conversation is fully persisted
	for _, s := range states {
		_, err := h.convs.Get(context.Background(), "claude", s.ConversationID)
		require.NoError(t, err)
		hits, err := h.index.Search(context.Background(), s.ConversationID, 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	}
	paths, err := h.embs.SegmentPaths("claude")
	require.NoError(t, err)
	assert.Len(t, paths, result.Completed)
}

// failingIndex reports the index as unavailable.
type failingIndex struct {
	storage.TextIndex
	calls int
	mu    sync.Mutex
}

func (f *failingIndex) IndexConversation(context.Context, *core.Conversation) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return fmt.Errorf("%w: disk I/O error", core.ErrStorageUnavailable)
}

func TestPipeline_StorageFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	addConversations(h.prov, 10)

	stores := h.stores()
	idx := &failingIndex{TextIndex: h.index}
	stores.Index = idx
	p, err := NewPipeline(smallConfig(), h.registry, h.builder, stores, WithMediaFs(h.fs))
	require.NoError(t, err)

	result, err := p.Run(context.Background(), []*core.Account{alice})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.Equal(t, StateFailed, p.State())
	require.NotNil(t, result)
	assert.Zero(t, result.Completed)
	assert.Equal(t, 1, idx.calls)
	assert.Less(t, h.prov.FetchCalls(), 10)

	states, err := h.catalog.ListSyncStates(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

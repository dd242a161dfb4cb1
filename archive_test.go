package convoy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	aimock "github.com/poiesic/convoy/ai/mock"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/provider"
	"github.com/poiesic/convoy/provider/export"
	provmock "github.com/poiesic/convoy/provider/mock"
	"github.com/poiesic/convoy/search"
	"github.com/poiesic/convoy/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T, mutate func(*Config), opts ...Option) *Archive {
	t.Helper()
	cfg := NewConfig(WithDataDir(t.TempDir()))
	cfg.Pipeline.FetchWorkers = 2
	cfg.Pipeline.MediaWorkers = 2
	cfg.Pipeline.EmbedWorkers = 2
	cfg.Embedding.RetryDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{WithEmbedder(aimock.NewMockEmbedder())}, opts...)
	a, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func writeExport(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	fs := afero.NewOsFs()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := range n {
		doc := &export.ConversationFile{
			ID:        fmt.Sprintf("conv-%d", i),
			Title:     fmt.Sprintf("Export conversation %d", i),
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
			Messages: []export.MessageFile{
				{ID: "u1", Role: "user", Content: fmt.Sprintf("tell me about lighthouse number %d", i)},
				{ID: "a1", ParentID: "u1", Role: "assistant", Content: "Lighthouses guide ships along dangerous coasts."},
			},
		}
		if i == 0 {
			doc.Attachments = []export.AttachmentFile{{ID: "f1", MessageID: "u1", Filename: "map.txt", URL: "files/map.txt"}}
		}
		require.NoError(t, export.Write(fs, dir, doc))
	}
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "files"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "files", "map.txt"), []byte("north cape"), 0o644))
	return dir
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := NewConfig(WithDataDir(t.TempDir()))
	cfg.Pipeline.ChannelCapacity = 0
	_, err := Open(cfg, WithEmbedder(aimock.NewMockEmbedder()))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestArchive_Accounts(t *testing.T) {
	a := openTestArchive(t, nil)
	ctx := context.Background()

	err := a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: "nope"})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)

	err = a.AddAccount(ctx, &core.Account{ProviderID: export.DefaultID})
	assert.ErrorIs(t, err, core.ErrInvalidAccount)

	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: "relative/dir"}))
	accounts, err := a.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, filepath.IsAbs(accounts[0].Source))

	require.NoError(t, a.RemoveAccount(ctx, export.DefaultID, "me"))
	assert.ErrorIs(t, a.RemoveAccount(ctx, export.DefaultID, "me"), storage.ErrNotFound)

	_, err = a.Pull(ctx, PullParams{})
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestArchive_PullSearchShow(t *testing.T) {
	a := openTestArchive(t, func(c *Config) {
		c.DownloadMedia = true
		c.Compaction.Auto = false
	})
	ctx := context.Background()
	src := writeExport(t, 4)
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: src}))

	result, err := a.Pull(ctx, PullParams{ChannelCapacity: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Errors)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.Equal(t, 4, stats.Conversations)
	assert.Equal(t, 8, stats.Messages)
	assert.Equal(t, 1, stats.Attachments)
	assert.Equal(t, 4, stats.Segments)
	assert.Equal(t, 20, stats.EmbeddingRows)
	require.NotNil(t, stats.LastPull)
	assert.Equal(t, result.RunID, stats.LastPull.RunID)

	list, err := a.ListConversations(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "conv-3", list[0].ID)

	results, err := a.Search(ctx, search.Query{Text: "number 2", Mode: search.ModeFTS, K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "conv-2", results[0].ConversationID)

	conv, atts, err := a.Conversation(ctx, export.DefaultID, "conv-0")
	require.NoError(t, err)
	assert.Equal(t, "Export conversation 0", conv.Title)
	assert.Equal(t, "me", conv.AccountID)
	require.Len(t, atts, 1)
	data, err := afero.ReadFile(afero.NewOsFs(), atts[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "north cape", string(data))
	assert.True(t, filepath.IsAbs(atts[0].LocalPath))

	// second incremental pull skips everything
	result, err = a.Pull(ctx, PullParams{NewOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Skipped)
	assert.Zero(t, result.Completed)

	pulls, err := a.RecentPulls(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pulls, 2)
	assert.Equal(t, result.RunID, pulls[0].RunID)
}

func TestArchive_CompactAndReembed(t *testing.T) {
	a := openTestArchive(t, func(c *Config) { c.Compaction.Auto = false })
	ctx := context.Background()
	src := writeExport(t, 3)
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: src}))
	_, err := a.Pull(ctx, PullParams{})
	require.NoError(t, err)

	status, err := a.CompactionStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, 3, status[0].SegmentCount)
	assert.False(t, status[0].Consolidated)

	compacted, err := a.Compact(ctx)
	require.NoError(t, err)
	require.Len(t, compacted, 1)
	assert.Equal(t, 3, compacted[0].Segments)
	assert.Equal(t, 15, compacted[0].Rows)

	status, err = a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status[0].SegmentCount)
	assert.True(t, status[0].Consolidated)

	before, err := a.Search(ctx, search.Query{Text: "lighthouse number 1", Mode: search.ModeSemantic, K: 3})
	require.NoError(t, err)

	var progress bytes.Buffer
	res, err := a.Reembed(ctx, "", &progress)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Conversations)
	assert.Contains(t, progress.String(), "Reembedding complete")

	// reembedding writes fresh segments over the consolidated rows
	status, err = a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status[0].SegmentCount)

	after, err := a.Search(ctx, search.Query{Text: "lighthouse number 1", Mode: search.ModeSemantic, K: 3})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestArchive_AutoCompact(t *testing.T) {
	a := openTestArchive(t, nil)
	ctx := context.Background()
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: writeExport(t, 2)}))

	result, err := a.Pull(ctx, PullParams{})
	require.NoError(t, err)
	require.Positive(t, result.Chunks)

	status, err := a.CompactionStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Zero(t, status[0].SegmentCount)
	assert.True(t, status[0].Consolidated)
	assert.Equal(t, 10, status[0].TotalRows)
	assert.False(t, a.lock.Locked())
}

func TestArchive_AutoCompactNeedsEmbeddings(t *testing.T) {
	a := openTestArchive(t, func(c *Config) { c.Compaction.Auto = false })
	ctx := context.Background()
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: writeExport(t, 2)}))

	_, err := a.Pull(ctx, PullParams{})
	require.NoError(t, err)
	status, err := a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status[0].SegmentCount)

	a.config.Compaction.Auto = true

	// Nothing changed, so nothing was embedded.
	result, err := a.Pull(ctx, PullParams{NewOnly: true})
	require.NoError(t, err)
	assert.Zero(t, result.Chunks)
	status, err = a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status[0].SegmentCount)

	result, err = a.Pull(ctx, PullParams{})
	require.NoError(t, err)
	assert.Positive(t, result.Chunks)
	status, err = a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status[0].SegmentCount)
	assert.Equal(t, 10, status[0].TotalRows)
}

func TestArchive_AutoCompactThreshold(t *testing.T) {
	a := openTestArchive(t, func(c *Config) { c.Compaction.SegmentThreshold = 3 })
	ctx := context.Background()
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: writeExport(t, 2)}))

	_, err := a.Pull(ctx, PullParams{})
	require.NoError(t, err)
	status, err := a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status[0].SegmentCount)

	_, err = a.Pull(ctx, PullParams{})
	require.NoError(t, err)
	status, err = a.CompactionStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status[0].SegmentCount)
}

func TestArchive_LockSerializesOperations(t *testing.T) {
	a := openTestArchive(t, nil)
	ctx := context.Background()
	require.NoError(t, a.lock.Acquire(ctx))

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err := a.Compact(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, a.lock.Release())
	_, err = a.Compact(ctx)
	assert.NoError(t, err)
}

func TestArchive_PullSingleProvider(t *testing.T) {
	mp := provmock.NewProvider("mock")
	mp.AddConversation(core.Conversation{
		ID:        "m-1",
		Title:     "from the mock",
		UpdatedAt: time.Now().UTC(),
		Messages:  []core.Message{{ID: "x", Role: core.RoleUser, ContentType: core.ContentText, Content: "hello mock"}},
	})
	a := openTestArchive(t, nil, WithProvider(mp))
	ctx := context.Background()
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: writeExport(t, 2)}))
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: "mock"}))
	assert.Equal(t, []string{"export", "mock"}, a.Providers())

	result, err := a.Pull(ctx, PullParams{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, mp.FetchCalls())

	_, err = a.Pull(ctx, PullParams{Provider: "unknown"})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestArchive_Closed(t *testing.T) {
	a := openTestArchive(t, nil)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.Pull(context.Background(), PullParams{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Search(context.Background(), search.NewQuery("x", 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestArchive_ClosesAIProvider(t *testing.T) {
	p := aimock.NewMockProvider()
	cfg := NewConfig(WithDataDir(t.TempDir()))
	a, err := Open(cfg, WithAIProvider(p))
	require.NoError(t, err)

	_, err = a.Search(context.Background(), search.NewQuery("anything", 3))
	require.NoError(t, err)
	mp := p.(*aimock.MockProvider)
	assert.Positive(t, mp.GetMockEmbedder().CallCount())

	require.NoError(t, a.Close())
	assert.True(t, mp.Closed())
}

// recordingHandler keeps the attributes of every record, including those
// bound with Logger.With.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[][]slog.Attr
	attrs   []slog.Attr
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[][]slog.Attr{}}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := append([]slog.Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	h.mu.Lock()
	*h.records = append(*h.records, attrs)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// components returns the component values of every record.
func (h *recordingHandler) components() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]string, 0, len(*h.records))
	for _, attrs := range *h.records {
		var values []string
		for _, a := range attrs {
			if a.Key == "component" {
				values = append(values, a.Value.String())
			}
		}
		out = append(out, values)
	}
	return out
}

func TestArchive_LogComponents(t *testing.T) {
	h := newRecordingHandler()
	a := openTestArchive(t, nil, WithLogger(slog.New(h)))
	ctx := context.Background()
	require.NoError(t, a.AddAccount(ctx, &core.Account{ID: "me", ProviderID: export.DefaultID, Source: writeExport(t, 2)}))

	_, err := a.Pull(ctx, PullParams{})
	require.NoError(t, err)
	_, err = a.Reembed(ctx, "", nil)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, values := range h.components() {
		assert.LessOrEqual(t, len(values), 1, "duplicate component key: %v", values)
		for _, v := range values {
			seen[v] = true
		}
	}
	assert.True(t, seen["pipeline"])
	assert.True(t, seen["reembed"])
	assert.True(t, seen["archive"])
}

package files

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConversation(provider, id string, contents ...string) *core.Conversation {
	conv := &core.Conversation{
		ID:         id,
		ProviderID: provider,
		Title:      "conversation " + id,
		UpdatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	parent := ""
	for i, c := range contents {
		mid := id + "-m" + string(rune('a'+i))
		conv.Messages = append(conv.Messages, core.Message{
			ID: mid, ParentID: parent, Role: core.RoleUser, ContentType: core.ContentText, Content: c,
		})
		parent = mid
	}
	return conv
}

func TestConversationStore_PutGet(t *testing.T) {
	store := NewConversationStore(afero.NewMemMapFs(), "/data/conversations")
	ctx := context.Background()

	conv := testConversation("claude", "c1", "hello", "world")
	require.NoError(t, store.Put(ctx, conv))

	got, err := store.Get(ctx, "claude", "c1")
	require.NoError(t, err)
	assert.Equal(t, conv, got)

	conv.Title = "renamed"
	require.NoError(t, store.Put(ctx, conv))
	got, err = store.Get(ctx, "claude", "c1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	_, err = store.Get(ctx, "claude", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConversationStore_PutInvalid(t *testing.T) {
	store := NewConversationStore(afero.NewMemMapFs(), "/data/conversations")
	err := store.Put(context.Background(), &core.Conversation{ID: "c1"})
	assert.ErrorIs(t, err, core.ErrInvalidConversation)
}

func TestConversationStore_ScanAndProviders(t *testing.T) {
	store := NewConversationStore(afero.NewMemMapFs(), "/data/conversations")
	ctx := context.Background()

	providers, err := store.Providers(ctx)
	require.NoError(t, err)
	assert.Empty(t, providers)

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, store.Put(ctx, testConversation("claude", id, "text")))
	}
	require.NoError(t, store.Put(ctx, testConversation("chatgpt", "x1", "text")))

	providers, err = store.Providers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chatgpt", "claude"}, providers)

	var ids []string
	require.NoError(t, store.Scan(ctx, "claude", func(c *core.Conversation) error {
		ids = append(ids, c.ID)
		return nil
	}))
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, ids)

	n, err := store.Count(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, store.Scan(ctx, "nobody", func(*core.Conversation) error {
		t.Fatal("unexpected conversation")
		return nil
	}))
}

func TestConversationStore_CorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewConversationStore(fs, "/data/conversations")
	ctx := context.Background()

	require.NoError(t, afero.WriteFile(fs, store.Path("claude", "c1"), []byte("garbage"), 0644))
	_, err := store.Get(ctx, "claude", "c1")
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.ErrorIs(t, err, storage.ErrBadMagic)
}

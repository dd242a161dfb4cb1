package export

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/provider"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) (afero.Fs, *core.Account) {
	t.Helper()
	fs := afero.NewMemMapFs()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, Write(fs, "/export", &ConversationFile{
		ID:        "older",
		Title:     "Older",
		CreatedAt: base,
		UpdatedAt: base,
		Messages: []MessageFile{
			{ID: "m1", Role: "user", Content: "hello"},
			{ID: "m2", ParentID: "m1", Role: "assistant", ContentType: "code", Content: "fmt.Println()"},
		},
		Attachments: []AttachmentFile{
			{ID: "a1", MessageID: "m1", Filename: "notes.txt", URL: "files/notes.txt"},
		},
	}))
	require.NoError(t, Write(fs, "/export", &ConversationFile{
		ID:        "newer",
		Title:     "Newer",
		UpdatedAt: base.Add(time.Hour),
		Messages:  []MessageFile{{ID: "m1", Role: "user", Content: "hi"}},
	}))
	require.NoError(t, afero.WriteFile(fs, "/export/files/notes.txt", []byte("attached"), 0o644))

	return fs, &core.Account{ID: "me", ProviderID: DefaultID, Source: "/export"}
}

func TestProvider_ListConversations(t *testing.T) {
	fs, acct := seed(t)
	p := New(fs)

	list, err := p.ListConversations(context.Background(), acct)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
	assert.Equal(t, "older", list[1].ID)
	assert.Equal(t, 2, list[1].MessageCount)
	assert.Equal(t, DefaultID, list[0].ProviderID)
}

func TestProvider_FetchConversation(t *testing.T) {
	fs, acct := seed(t)
	p := New(fs, WithID("claude-export"))

	conv, atts, err := p.FetchConversation(context.Background(), acct, "older")
	require.NoError(t, err)
	assert.Equal(t, "claude-export", conv.ProviderID)
	assert.Equal(t, "me", conv.AccountID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, core.ContentText, conv.Messages[0].ContentType)
	assert.Equal(t, core.ContentCode, conv.Messages[1].ContentType)
	assert.Equal(t, "m1", conv.Messages[1].ParentID)
	require.Len(t, atts, 1)
	assert.Equal(t, "notes.txt", atts[0].Filename)

	_, _, err = p.FetchConversation(context.Background(), acct, "missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestProvider_FetchRejectsInvalidRole(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, Write(fs, "/x", &ConversationFile{
		ID:       "bad",
		Messages: []MessageFile{{ID: "m1", Role: "robot", Content: "beep"}},
	}))
	_, _, err := New(fs).FetchConversation(context.Background(), &core.Account{Source: "/x"}, "bad")
	assert.ErrorIs(t, err, core.ErrInvalidConversation)
}

func TestProvider_DownloadAttachment(t *testing.T) {
	fs, acct := seed(t)
	p := New(fs)

	var buf bytes.Buffer
	n, err := p.DownloadAttachment(context.Background(), acct, &core.Attachment{ID: "a1", URL: "files/notes.txt"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, "attached", buf.String())

	_, err = p.DownloadAttachment(context.Background(), acct, &core.Attachment{ID: "a2", URL: "files/none.txt"}, &buf)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestProvider_DownloadAttachmentHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.png" {
			w.Write([]byte("png-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fs, acct := seed(t)
	p := New(fs, WithHTTPClient(srv.Client()))

	var buf bytes.Buffer
	_, err := p.DownloadAttachment(context.Background(), acct, &core.Attachment{ID: "a", URL: srv.URL + "/ok.png"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", buf.String())

	_, err = p.DownloadAttachment(context.Background(), acct, &core.Attachment{ID: "b", URL: srv.URL + "/gone.png"}, &buf)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

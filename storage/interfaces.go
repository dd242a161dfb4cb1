package storage

import (
	"context"
	"time"

	"github.com/poiesic/convoy/core"
)

// Catalog holds accounts, per-conversation sync state, downloaded
// attachments, and pull history.
// Implementations must be thread-safe and support concurrent access.
type Catalog interface {
	// AddAccount stores an account, replacing one with the same key.
	AddAccount(ctx context.Context, account *core.Account) error

	// GetAccount returns ErrNotFound if the account doesn't exist.
	GetAccount(ctx context.Context, providerID, id string) (*core.Account, error)

	// ListAccounts returns all accounts ordered by provider then ID.
	ListAccounts(ctx context.Context) ([]*core.Account, error)

	// RemoveAccount returns ErrNotFound if the account doesn't exist.
	RemoveAccount(ctx context.Context, providerID, id string) error

	// GetSyncState returns ErrNotFound for conversations never fully persisted.
	GetSyncState(ctx context.Context, providerID, conversationID string) (*core.SyncState, error)

	// PutSyncState marks a conversation as fully persisted.
	PutSyncState(ctx context.Context, state *core.SyncState) error

	// ListSyncStates returns sync states for one provider, or all when providerID is empty.
	ListSyncStates(ctx context.Context, providerID string) ([]*core.SyncState, error)

	// PutAttachments records downloaded attachments.
	PutAttachments(ctx context.Context, attachments ...*core.DownloadedAttachment) error

	// ListAttachments returns the attachments recorded for a conversation.
	ListAttachments(ctx context.Context, conversationID string) ([]*core.DownloadedAttachment, error)

	// CountAttachments returns the number of recorded attachments.
	CountAttachments(ctx context.Context) (int, error)

	// RecordPull appends a pull to the history.
	RecordPull(ctx context.Context, record *core.PullRecord) error

	// RecentPulls returns up to limit pulls, most recent first.
	RecentPulls(ctx context.Context, limit int) ([]*core.PullRecord, error)

	// WithTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// ConversationStore holds one record per conversation.
type ConversationStore interface {
	// Put writes the conversation, replacing any previous version atomically.
	Put(ctx context.Context, conv *core.Conversation) error

	// Get returns ErrNotFound if the conversation was never written.
	Get(ctx context.Context, providerID, conversationID string) (*core.Conversation, error)

	// Providers returns the providers that have stored conversations.
	Providers(ctx context.Context) ([]string, error)

	// Scan calls fn for each stored conversation of a provider.
	// Iteration stops at the first error from fn.
	Scan(ctx context.Context, providerID string, fn func(*core.Conversation) error) error
}

// EmbeddingStore holds embedding records as one segment per conversation
// plus a consolidated file per provider.
type EmbeddingStore interface {
	// WriteSegment replaces the conversation's pending segment.
	WriteSegment(ctx context.Context, providerID, conversationID string, records []core.EmbeddingRecord) error

	// Providers returns the providers that have embeddings.
	Providers(ctx context.Context) ([]string, error)

	// Scan calls fn for each current record of a provider at the given level,
	// or at every level when level is zero. Segment rows supersede
	// consolidated rows of the same conversation.
	Scan(ctx context.Context, providerID string, level core.Level, fn func(*core.EmbeddingRecord) error) error
}

// TextHit is one conversation matched by the full-text index.
type TextHit struct {
	ConversationID string  `db:"conversation_id"`
	ProviderID     string  `db:"provider_id"`
	MessageID      string  `db:"message_id"`
	Title          string  `db:"title"`
	Snippet        string  `db:"snippet"`
	Rank           float64 `db:"rank"`
}

// IndexStats summarizes the text index.
type IndexStats struct {
	Conversations int
	Messages      int
	Providers     map[string]int
	LastUpdated   time.Time
}

// TextIndex is the full-text index over conversation titles and messages.
type TextIndex interface {
	// IndexConversation replaces every indexed row of the conversation.
	IndexConversation(ctx context.Context, conv *core.Conversation) error

	// Search returns at most limit hits, best first, one per conversation.
	Search(ctx context.Context, query string, limit int) ([]TextHit, error)

	// ListConversations returns indexed conversations, most recently updated
	// first. An empty providerID lists every provider.
	ListConversations(ctx context.Context, providerID string, limit int) ([]core.ConversationSummary, error)

	// Stats summarizes the index.
	Stats(ctx context.Context) (*IndexStats, error)

	Close() error
}

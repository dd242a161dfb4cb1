package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// EmbeddingDim is the fixed width of every stored embedding vector.
const EmbeddingDim = 384

// ID is a compact content-derived identifier.
// It names files and keys derived from provider identifiers that may not be path safe.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width hex, suitable for file names.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ContentType describes the shape of a message's content.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentCode       ContentType = "code"
	ContentMultipart  ContentType = "multipart"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
)

// Valid reports whether c is one of the known content types.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentCode, ContentMultipart, ContentToolUse, ContentToolResult:
		return true
	}
	return false
}

// Account is a provider login whose conversations are pulled.
type Account struct {
	ID         string
	ProviderID string
	Email      string
	Name       string
	// Source is a provider specific locator, e.g. an export directory.
	Source string
}

// Key returns the catalog identity of the account.
func (a *Account) Key() string {
	return a.ProviderID + "/" + a.ID
}

// Conversation is one provider conversation with its ordered messages.
type Conversation struct {
	ID          string
	ProviderID  string
	AccountID   string
	Title       string
	Model       string
	ProjectID   string
	ProjectName string
	IsArchived  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Messages    []Message
}

// Message is a single turn in a conversation.
// ParentID links messages into a tree; see MessageTree.
type Message struct {
	ID          string
	ParentID    string
	Role        Role
	ContentType ContentType
	Content     string
	CreatedAt   time.Time // zero when the provider has no timestamp
}

// ConversationSummary is a listing entry returned by providers and the text index.
type ConversationSummary struct {
	ID           string
	ProviderID   string
	Title        string
	UpdatedAt    time.Time
	MessageCount int
}

// Attachment is a provider-side reference to a file attached to a message.
type Attachment struct {
	ID        string
	MessageID string
	Filename  string
	MimeType  string
	SizeBytes int64
	URL       string
}

// DownloadedAttachment records an attachment that was fetched to local storage.
type DownloadedAttachment struct {
	AttachmentID   string
	ConversationID string
	MessageID      string
	LocalPath      string
	SizeBytes      int64
}

// Chunk is a bounded slice of message text used as the unit of embedding.
// Start and End are character offsets into the chunked text.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// Level tags the granularity of an embedding record.
type Level uint8

const (
	LevelChunk Level = iota + 1
	LevelMessage
	LevelConversation
)

func (l Level) String() string {
	switch l {
	case LevelChunk:
		return "chunk"
	case LevelMessage:
		return "message"
	case LevelConversation:
		return "conversation"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l >= LevelChunk && l <= LevelConversation
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "chunk":
		return LevelChunk, nil
	case "message":
		return LevelMessage, nil
	case "conversation":
		return LevelConversation, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// EmbeddingRecord is one stored vector at chunk, message, or conversation level.
// MessageID is empty for conversation-level records.
type EmbeddingRecord struct {
	ConversationID string
	MessageID      string
	ChunkIndex     int
	Level          Level
	Vector         []float32
}

// SyncState tracks what was last persisted for a conversation.
// It is written only after every other store has accepted the conversation.
type SyncState struct {
	ProviderID     string
	ConversationID string
	UpdatedAt      time.Time
	MessageCount   int
	ChunkCount     int
	IndexedAt      time.Time
}

// PullRecord summarizes one pull invocation.
type PullRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Failed     int
	Skipped    int
	Chunks     int
	Canceled   bool
}

// SearchResult is one ranked conversation returned by a query.
// FTSRank and SemanticRank are 1-based positions in the constituent lists, 0 when absent.
type SearchResult struct {
	ConversationID string
	Title          string
	Snippet        string
	Score          float64
	FTSRank        int
	SemanticRank   int
	Distance       float32
}

package files

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage"
	"github.com/spf13/afero"
)

// ConversationStore implements storage.ConversationStore with one record file
// per conversation: <root>/<provider>/<FileName(id)>.conv.
type ConversationStore struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(component string, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", component)
	return o
}

func NewConversationStore(fs afero.Fs, root string, opts ...Option) *ConversationStore {
	o := buildOptions("conversations", opts)
	return &ConversationStore{fs: fs, root: root, logger: o.logger}
}

// Path returns where the record file for a conversation lives.
func (s *ConversationStore) Path(providerID, conversationID string) string {
	return filepath.Join(s.root, providerID, FileName(conversationID)+ConversationExt)
}

// Put writes the conversation, replacing any previous version atomically.
func (s *ConversationStore) Put(ctx context.Context, conv *core.Conversation) error {
	if err := core.ValidateConversation(conv); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(conv.ProviderID, conv.ID)
	if err := WriteFileAtomic(s.fs, path, storage.MarshalConversationFile(conv)); err != nil {
		return err
	}
	s.logger.Debug("wrote conversation", "conversation", conv.ID, "path", path, "messages", len(conv.Messages))
	return nil
}

// Get returns storage.ErrNotFound if the conversation was never written.
func (s *ConversationStore) Get(ctx context.Context, providerID, conversationID string) (*core.Conversation, error) {
	path := s.Path(providerID, conversationID)
	data, err := readFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	conv, err := storage.UnmarshalConversationFile(data)
	if err != nil {
		return nil, corrupt(path, err)
	}
	return conv, nil
}

// Providers returns the providers that have stored conversations.
func (s *ConversationStore) Providers(ctx context.Context) ([]string, error) {
	return listDirs(s.fs, s.root)
}

// Scan calls fn for each stored conversation of a provider in file name order.
func (s *ConversationStore) Scan(ctx context.Context, providerID string, fn func(*core.Conversation) error) error {
	dir := filepath.Join(s.root, providerID)
	names, err := listNames(s.fs, dir, ConversationExt)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		data, err := readFile(s.fs, path)
		if err != nil {
			return err
		}
		conv, err := storage.UnmarshalConversationFile(data)
		if err != nil {
			return corrupt(path, err)
		}
		if err := fn(conv); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of stored conversations of a provider.
func (s *ConversationStore) Count(ctx context.Context, providerID string) (int, error) {
	names, err := listNames(s.fs, filepath.Join(s.root, providerID), ConversationExt)
	return len(names), err
}

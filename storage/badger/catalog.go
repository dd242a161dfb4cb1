package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage"
)

// Catalog implements storage.Catalog for BadgerDB.
type Catalog struct {
	backend     *Backend
	pullSeq     *badger.Sequence
	ownsBackend bool
}

var _ storage.Catalog = (*Catalog)(nil)

// NewCatalog creates a Catalog on an open backend. Closing the catalog
// leaves the backend open.
func NewCatalog(backend *Backend) (*Catalog, error) {
	seq, err := backend.GetSequence(pullSeq)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		backend: backend,
		pullSeq: seq,
	}, nil
}

// OpenCatalog opens a BadgerDB database at path and returns a Catalog that
// owns it.
func OpenCatalog(path string, inMemory bool) (*Catalog, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	c, err := NewCatalog(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	c.ownsBackend = true
	return c, nil
}

// Close releases the pull sequence and, for owned backends, the database.
func (c *Catalog) Close() error {
	err := c.pullSeq.Release()
	if c.ownsBackend {
		err = errors.Join(err, c.backend.Close())
	}
	return err
}

// WithTransaction delegates to the backend.
func (c *Catalog) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.backend.WithTransaction(ctx, fn)
}

// AddAccount stores an account, replacing one with the same key.
func (c *Catalog) AddAccount(ctx context.Context, account *core.Account) error {
	if err := core.ValidateAccount(account); err != nil {
		return err
	}
	return c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		key := makeAccountKey(account.ProviderID, account.ID)
		return tx.Set(key, storage.Marshal(core.AccountMUS, *account))
	}, true)
}

// GetAccount returns storage.ErrNotFound if the account doesn't exist.
func (c *Catalog) GetAccount(ctx context.Context, providerID, id string) (*core.Account, error) {
	var account *core.Account
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		var err error
		account, err = readValue(tx, makeAccountKey(providerID, id), core.AccountMUS)
		return err
	}, false)
	return account, err
}

// ListAccounts returns all accounts ordered by provider then ID.
func (c *Catalog) ListAccounts(ctx context.Context) ([]*core.Account, error) {
	var accounts []*core.Account
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		var err error
		accounts, err = scanValues(tx, []byte(accountPrefix+sep), core.AccountMUS)
		return err
	}, false)
	return accounts, err
}

// RemoveAccount returns storage.ErrNotFound if the account doesn't exist.
func (c *Catalog) RemoveAccount(ctx context.Context, providerID, id string) error {
	return c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		key := makeAccountKey(providerID, id)
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("account %s/%s: %w", providerID, id, storage.ErrNotFound)
			}
			return err
		}
		return tx.Delete(key)
	}, true)
}

// GetSyncState returns storage.ErrNotFound for conversations never fully
// persisted.
func (c *Catalog) GetSyncState(ctx context.Context, providerID, conversationID string) (*core.SyncState, error) {
	var state *core.SyncState
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		var err error
		state, err = readValue(tx, makeSyncStateKey(providerID, conversationID), core.SyncStateMUS)
		return err
	}, false)
	return state, err
}

// PutSyncState marks a conversation as fully persisted.
func (c *Catalog) PutSyncState(ctx context.Context, state *core.SyncState) error {
	if state.ProviderID == "" || state.ConversationID == "" {
		return fmt.Errorf("%w: sync state needs provider and conversation", core.ErrInvalidConversation)
	}
	if state.IndexedAt.IsZero() {
		state.IndexedAt = time.Now().UTC()
	}
	return c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		key := makeSyncStateKey(state.ProviderID, state.ConversationID)
		return tx.Set(key, storage.Marshal(core.SyncStateMUS, *state))
	}, true)
}

// ListSyncStates returns sync states for one provider, or all when
// providerID is empty.
func (c *Catalog) ListSyncStates(ctx context.Context, providerID string) ([]*core.SyncState, error) {
	var states []*core.SyncState
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		var err error
		states, err = scanValues(tx, makeSyncStatePrefix(providerID), core.SyncStateMUS)
		return err
	}, false)
	return states, err
}

// PutAttachments records downloaded attachments.
func (c *Catalog) PutAttachments(ctx context.Context, attachments ...*core.DownloadedAttachment) error {
	if len(attachments) == 0 {
		return nil
	}
	return c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		for _, att := range attachments {
			key := makeAttachmentKey(att.ConversationID, att.AttachmentID)
			if err := tx.Set(key, storage.Marshal(core.DownloadedAttachmentMUS, *att)); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// ListAttachments returns the attachments recorded for a conversation.
func (c *Catalog) ListAttachments(ctx context.Context, conversationID string) ([]*core.DownloadedAttachment, error) {
	var atts []*core.DownloadedAttachment
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		var err error
		atts, err = scanValues(tx, makeAttachmentPrefix(conversationID), core.DownloadedAttachmentMUS)
		return err
	}, false)
	return atts, err
}

// CountAttachments returns the number of recorded attachments.
func (c *Catalog) CountAttachments(ctx context.Context) (int, error) {
	count := 0
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeAttachmentPrefix("")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// RecordPull appends a pull to the history.
func (c *Catalog) RecordPull(ctx context.Context, record *core.PullRecord) error {
	next, err := c.pullSeq.Next()
	if err != nil {
		return wrapErr(err)
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		if next, err = c.pullSeq.Next(); err != nil {
			return wrapErr(err)
		}
	}
	return c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		return tx.Set(makePullKey(next), storage.Marshal(core.PullRecordMUS, *record))
	}, true)
}

// RecentPulls returns up to limit pulls, most recent first.
func (c *Catalog) RecentPulls(ctx context.Context, limit int) ([]*core.PullRecord, error) {
	var results []*core.PullRecord
	if limit <= 0 {
		return results, nil
	}
	err := c.backend.withCtxTx(ctx, func(tx *badger.Txn) error {
		// Use reverse iterator to get most recent records first
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = makePullPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seek past the last possible key with this prefix
		seek := append(makePullPrefix(), 0xFF)
		for iter.Seek(seek); iter.Valid() && len(results) < limit; iter.Next() {
			rec, err := itemValue(iter.Item(), core.PullRecordMUS)
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return nil
	}, false)
	return results, err
}

// Helper methods

// readValue reads and decodes one value, mapping a missing key to
// storage.ErrNotFound.
func readValue[T any](tx *badger.Txn, key []byte, ser mus.Serializer[T]) (*T, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", strings.ReplaceAll(string(key), sep, "/"), storage.ErrNotFound)
		}
		return nil, err
	}
	return itemValue(item, ser)
}

func itemValue[T any](item *badger.Item, ser mus.Serializer[T]) (*T, error) {
	var v T
	err := item.Value(func(val []byte) error {
		var err error
		v, err = storage.Unmarshal(ser, val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// scanValues decodes every value under prefix in key order.
func scanValues[T any](tx *badger.Txn, prefix []byte, ser mus.Serializer[T]) ([]*T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = slices.Clone(prefix)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var results []*T
	for iter.Rewind(); iter.Valid(); iter.Next() {
		v, err := itemValue(iter.Item(), ser)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

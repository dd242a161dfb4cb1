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


package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/storage"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// overFetch is how many FTS rows are read per requested hit before
// deduplicating by conversation.
const overFetch = 8

// Index implements storage.TextIndex.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.TextIndex = (*Index)(nil)

// Option is a functional option for configuring an Index.
type Option func(*Index)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// Open opens the index database at path, creating it and applying
// migrations as needed. ":memory:" opens a private in-memory index.
func Open(path string, opts ...Option) (*Index, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open index: %w", core.ErrStorageUnavailable, err)
	}
	// Single connection for SQLite; also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ix := &Index{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With("component", "index")

	if err := ix.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to run migrations: %w", core.ErrStorageUnavailable, err)
	}
	return ix, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// runMigrations applies schema versions not yet recorded in schema_migrations.
func (ix *Index) runMigrations() error {
	const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := ix.db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []int
	if err := sqlscan.Select(context.Background(), ix.db, &applied, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, initialSchema},
	}

	for _, m := range migrations {
		if contains(applied, m.version) {
			continue
		}
		tx, err := ix.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		ix.logger.Debug("applied migration", "version", m.version)
	}
	return nil
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// IndexConversation replaces every indexed row of the conversation.
func (ix *Index) IndexConversation(ctx context.Context, conv *core.Conversation) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages_fts WHERE conversation_id = ? AND provider_id = ?`,
		conv.ID, conv.ProviderID); err != nil {
		return unavailable(err)
	}

	indexed := 0
	for i := range conv.Messages {
		text := embedding.MessageText(&conv.Messages[i])
		if text == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages_fts (conversation_id, message_id, provider_id, title, content) VALUES (?, ?, ?, ?, ?)`,
			conv.ID, conv.Messages[i].ID, conv.ProviderID, conv.Title, text); err != nil {
			return unavailable(err)
		}
		indexed++
	}
	// Title-only conversations stay findable by title.
	if indexed == 0 && conv.Title != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages_fts (conversation_id, message_id, provider_id, title, content) VALUES (?, '', ?, ?, '')`,
			conv.ID, conv.ProviderID, conv.Title); err != nil {
			return unavailable(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, provider_id, title, message_count, created_at, updated_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id, id) DO UPDATE SET
			title = excluded.title,
			message_count = excluded.message_count,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			indexed_at = excluded.indexed_at`,
		conv.ID, conv.ProviderID, conv.Title, len(conv.Messages),
		micros(conv.CreatedAt), micros(conv.UpdatedAt), micros(time.Now())); err != nil {
		return unavailable(err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Search returns at most limit hits ordered by bm25 rank, ties broken by
// conversation ID, keeping the best row of each conversation.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]storage.TextHit, error) {
	match := MatchExpression(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	fetch := limit * overFetch
	for {
		var rows []storage.TextHit
		err := sqlscan.Select(ctx, ix.db, &rows, `
			SELECT conversation_id, provider_id, message_id, title,
				snippet(messages_fts, 4, '[', ']', '...', 16) AS snippet,
				rank
			FROM messages_fts
			WHERE messages_fts MATCH ?
			ORDER BY rank, conversation_id
			LIMIT ?`, match, fetch)
		if err != nil {
			return nil, unavailable(err)
		}

		hits := dedupe(rows, limit)
		// Stop once enough distinct conversations surfaced or the index ran dry.
		if len(hits) == limit || len(rows) < fetch {
			return hits, nil
		}
		fetch *= 2
	}
}

// dedupe keeps the first row of each conversation, up to limit rows.
func dedupe(rows []storage.TextHit, limit int) []storage.TextHit {
	seen := make(map[string]struct{}, len(rows))
	hits := make([]storage.TextHit, 0, min(limit, len(rows)))
	for _, r := range rows {
		if _, ok := seen[r.ConversationID]; ok {
			continue
		}
		seen[r.ConversationID] = struct{}{}
		if r.Snippet == "" {
			r.Snippet = r.Title
		}
		hits = append(hits, r)
		if len(hits) == limit {
			break
		}
	}
	return hits
}

type conversationRow struct {
	ID           string `db:"id"`
	ProviderID   string `db:"provider_id"`
	Title        string `db:"title"`
	MessageCount int    `db:"message_count"`
	UpdatedAt    int64  `db:"updated_at"`
}

// ListConversations returns indexed conversations, most recently updated
// first. An empty providerID lists every provider; limit <= 0 lists all.
func (ix *Index) ListConversations(ctx context.Context, providerID string, limit int) ([]core.ConversationSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []conversationRow
	err := sqlscan.Select(ctx, ix.db, &rows, `
		SELECT id, provider_id, title, message_count, updated_at
		FROM conversations
		WHERE ? = '' OR provider_id = ?
		ORDER BY updated_at DESC, id
		LIMIT ?`, providerID, providerID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]core.ConversationSummary, len(rows))
	for i, r := range rows {
		out[i] = core.ConversationSummary{
			ID:           r.ID,
			ProviderID:   r.ProviderID,
			Title:        r.Title,
			UpdatedAt:    fromMicros(r.UpdatedAt),
			MessageCount: r.MessageCount,
		}
	}
	return out, nil
}

type providerStatsRow struct {
	ProviderID    string `db:"provider_id"`
	Conversations int    `db:"conversations"`
	Messages      int    `db:"messages"`
	LastIndexed   int64  `db:"last_indexed"`
}

// Stats summarizes the index.
func (ix *Index) Stats(ctx context.Context) (*storage.IndexStats, error) {
	var rows []providerStatsRow
	err := sqlscan.Select(ctx, ix.db, &rows, `
		SELECT provider_id,
			COUNT(*) AS conversations,
			COALESCE(SUM(message_count), 0) AS messages,
			COALESCE(MAX(indexed_at), 0) AS last_indexed
		FROM conversations
		GROUP BY provider_id
		ORDER BY provider_id`)
	if err != nil {
		return nil, unavailable(err)
	}
	stats := &storage.IndexStats{Providers: make(map[string]int, len(rows))}
	var last int64
	for _, r := range rows {
		stats.Conversations += r.Conversations
		stats.Messages += r.Messages
		stats.Providers[r.ProviderID] = r.Conversations
		last = max(last, r.LastIndexed)
	}
	if last > 0 {
		stats.LastUpdated = fromMicros(last)
	}
	return stats, nil
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
}

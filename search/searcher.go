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


package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/storage"
)

// snippetRunes bounds snippets recovered from conversation records.
const snippetRunes = 240

// Searcher answers full-text, semantic, and hybrid queries.
type Searcher struct {
	index         storage.TextIndex
	embeddings    storage.EmbeddingStore
	conversations storage.ConversationStore
	builder       *embedding.Builder
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher. The builder supplies the query
// embedding and the chunker used to recover semantic snippets.
func NewSearcher(
	index storage.TextIndex,
	embeddings storage.EmbeddingStore,
	conversations storage.ConversationStore,
	builder *embedding.Builder,
	opts ...Option,
) (*Searcher, error) {
	if index == nil {
		return nil, ErrTextIndexRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingStoreRequired
	}
	if conversations == nil {
		return nil, ErrConversationStoreRequired
	}
	if builder == nil {
		return nil, ErrBuilderRequired
	}

	s := &Searcher{
		index:         index,
		embeddings:    embeddings,
		conversations: conversations,
		builder:       builder,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search runs q and returns at most q.K results, best first.
func (s *Searcher) Search(ctx context.Context, q Query) ([]*core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor runs q, reporting each phase to monitor.
func (s *Searcher) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	monitor.Start(q)
	start := time.Now()

	var results []*core.SearchResult
	switch q.Mode {
	case ModeFTS:
		results, err = s.fullTextOnly(ctx, q, monitor)
	case ModeSemantic:
		results, err = s.semanticOnly(ctx, q, monitor)
	case ModeHybrid:
		results, err = s.hybrid(ctx, q, monitor)
	}
	if err != nil {
		s.logger.Error("search failed", "mode", q.Mode, "query", q.Text, "err", err)
		return nil, err
	}

	s.logger.Debug("search finished", "mode", q.Mode, "results", len(results), "duration", time.Since(start))
	monitor.Finish(results)
	return results, nil
}

func (s *Searcher) fullText(ctx context.Context, text string, limit int) ([]storage.TextHit, error) {
	hits, err := s.index.Search(ctx, text, limit)
	if err != nil {
		return nil, asUnavailable(err)
	}
	return hits, nil
}

func (s *Searcher) fullTextOnly(ctx context.Context, q Query, monitor SearchMonitor) ([]*core.SearchResult, error) {
	hits, err := s.fullText(ctx, q.Text, q.K)
	if err != nil {
		return nil, err
	}
	monitor.AfterFullTextSearch(hits)

	results := make([]*core.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = &core.SearchResult{
			ConversationID: h.ConversationID,
			Title:          h.Title,
			Snippet:        h.Snippet,
			Score:          h.Rank,
			FTSRank:        i + 1,
		}
	}
	return results, nil
}

func (s *Searcher) semanticOnly(ctx context.Context, q Query, monitor SearchMonitor) ([]*core.SearchResult, error) {
	hits, err := s.Nearest(ctx, q.Text, q.Level, q.K)
	if err != nil {
		return nil, err
	}
	monitor.AfterSemanticSearch(hits)

	results := make([]*core.SearchResult, len(hits))
	for i := range hits {
		r := &core.SearchResult{
			ConversationID: hits[i].ConversationID,
			Score:          float64(hits[i].Distance),
			SemanticRank:   i + 1,
			Distance:       hits[i].Distance,
		}
		if err := s.describe(ctx, &hits[i], r); err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

func (s *Searcher) hybrid(ctx context.Context, q Query, monitor SearchMonitor) ([]*core.SearchResult, error) {
	depth := 3 * q.K

	textHits, err := s.fullText(ctx, q.Text, depth)
	if err != nil {
		return nil, err
	}
	monitor.AfterFullTextSearch(textHits)

	semHits, err := s.Nearest(ctx, q.Text, q.Level, depth)
	if err != nil {
		return nil, err
	}
	monitor.AfterSemanticSearch(semHits)

	textIDs := make([]string, len(textHits))
	textByID := make(map[string]*storage.TextHit, len(textHits))
	for i := range textHits {
		textIDs[i] = textHits[i].ConversationID
		textByID[textIDs[i]] = &textHits[i]
	}
	semIDs := make([]string, len(semHits))
	semByID := make(map[string]*SemanticHit, len(semHits))
	for i := range semHits {
		semIDs[i] = semHits[i].ConversationID
		semByID[semIDs[i]] = &semHits[i]
	}

	fused := FuseRRF(q.RRFK, textIDs, semIDs)
	monitor.AfterFusion(fused)
	if len(fused) > q.K {
		fused = fused[:q.K]
	}

	results := make([]*core.SearchResult, len(fused))
	for i, f := range fused {
		r := &core.SearchResult{
			ConversationID: f.ID,
			Score:          f.Score,
			FTSRank:        f.Ranks[0],
			SemanticRank:   f.Ranks[1],
		}
		if h, ok := semByID[f.ID]; ok {
			r.Distance = h.Distance
		}
		if h, ok := textByID[f.ID]; ok {
			r.Title = h.Title
			r.Snippet = h.Snippet
		} else if err := s.describe(ctx, semByID[f.ID], r); err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// SemanticHit is the closest stored record of one conversation.
type SemanticHit struct {
	ProviderID     string
	ConversationID string
	MessageID      string
	ChunkIndex     int
	Level          core.Level
	Distance       float32
}

// Nearest embeds text and returns the k conversations whose closest record
// at level has the smallest squared distance to it, ties by conversation ID.
func (s *Searcher) Nearest(ctx context.Context, text string, level core.Level, k int) ([]SemanticHit, error) {
	vec, err := s.builder.Adapter().EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	providers, err := s.embeddings.Providers(ctx)
	if err != nil {
		return nil, asUnavailable(err)
	}

	best := make(map[string]SemanticHit)
	for _, providerID := range providers {
		err := s.embeddings.Scan(ctx, providerID, level, func(rec *core.EmbeddingRecord) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(rec.Vector) != len(vec) {
				return fmt.Errorf("%w: conversation %s", core.ErrDimensionMismatch, rec.ConversationID)
			}
			d := embedding.SquaredDistance(vec, rec.Vector)
			if cur, ok := best[rec.ConversationID]; ok && cur.Distance <= d {
				return nil
			}
			best[rec.ConversationID] = SemanticHit{
				ProviderID:     providerID,
				ConversationID: rec.ConversationID,
				MessageID:      rec.MessageID,
				ChunkIndex:     rec.ChunkIndex,
				Level:          rec.Level,
				Distance:       d,
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, asUnavailable(err)
		}
	}

	hits := make([]SemanticHit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	slices.SortFunc(hits, func(a, b SemanticHit) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ConversationID, b.ConversationID))
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// describe fills the title and snippet of r from the stored conversation.
// A missing conversation record leaves them empty.
func (s *Searcher) describe(ctx context.Context, h *SemanticHit, r *core.SearchResult) error {
	conv, err := s.conversations.Get(ctx, h.ProviderID, h.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("embedding without conversation record", "provider", h.ProviderID, "conversation", h.ConversationID)
			return nil
		}
		return asUnavailable(err)
	}
	r.Title = conv.Title
	r.Snippet = s.snippet(conv, h)
	return nil
}

func (s *Searcher) snippet(conv *core.Conversation, h *SemanticHit) string {
	if h.Level == core.LevelConversation {
		return clip(conv.Title)
	}
	i := slices.IndexFunc(conv.Messages, func(m core.Message) bool { return m.ID == h.MessageID })
	if i < 0 {
		return clip(conv.Title)
	}
	text := embedding.MessageText(&conv.Messages[i])
	if h.Level == core.LevelChunk {
		if chunk, ok := s.builder.Chunker().ChunkAt(text, h.ChunkIndex); ok {
			text = chunk.Text
		}
	}
	return clip(text)
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "..."
}

func asUnavailable(err error) error {
	if errors.Is(err, core.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
}

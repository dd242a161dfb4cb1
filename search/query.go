package search

import (
	"fmt"
	"strings"

	"github.com/poiesic/convoy/core"
)

// Mode selects how a query is answered.
type Mode string

const (
	ModeFTS      Mode = "fts"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// DefaultRRFK is the Reciprocal Rank Fusion constant used by NewQuery.
const DefaultRRFK = 60

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFTS, ModeSemantic, ModeHybrid:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", core.ErrInvalidQuery, s)
}

// Query is a search request.
type Query struct {
	Text string
	Mode Mode // empty means ModeHybrid
	K    int  // maximum number of results

	// Level is the embedding granularity compared by semantic search.
	// Zero means core.LevelChunk.
	Level core.Level

	// RRFK is the fusion constant of hybrid search. Zero is a valid value;
	// use NewQuery for the default.
	RRFK int
}

// NewQuery returns a hybrid chunk-level query with the default fusion constant.
func NewQuery(text string, k int) Query {
	return Query{Text: text, Mode: ModeHybrid, K: k, Level: core.LevelChunk, RRFK: DefaultRRFK}
}

// normalize fills defaults and validates q.
func (q Query) normalize() (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, fmt.Errorf("%w: empty query", core.ErrInvalidQuery)
	}
	if q.K <= 0 {
		return q, fmt.Errorf("%w: k must be positive, got %d", core.ErrInvalidQuery, q.K)
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if _, err := ParseMode(string(q.Mode)); err != nil {
		return q, err
	}
	if q.Level == 0 {
		q.Level = core.LevelChunk
	}
	if !q.Level.Valid() {
		return q, fmt.Errorf("%w: %w", core.ErrInvalidQuery, core.ErrInvalidLevel)
	}
	if q.RRFK < 0 {
		return q, fmt.Errorf("%w: negative rrf constant %d", core.ErrInvalidQuery, q.RRFK)
	}
	return q, nil
}

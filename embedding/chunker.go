package embedding

import (
	"fmt"
	"iter"

	"github.com/poiesic/convoy/core"
)

// ChunkerConfig bounds chunk size and overlap, in characters.
type ChunkerConfig struct {
	MaxChunkChars int `yaml:"max_chunk_chars"`
	OverlapChars  int `yaml:"overlap_chars"`
}

// DefaultChunkerConfig returns 1024 character chunks with 128 characters of overlap.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChunkChars: 1024,
		OverlapChars:  128,
	}
}

// Validate requires MaxChunkChars > 0 and 0 <= OverlapChars < MaxChunkChars.
func (c ChunkerConfig) Validate() error {
	if c.MaxChunkChars <= 0 {
		return fmt.Errorf("%w: max chunk chars must be positive, got %d", ErrInvalidChunkerConfig, c.MaxChunkChars)
	}
	if c.OverlapChars < 0 || c.OverlapChars >= c.MaxChunkChars {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkerConfig, c.OverlapChars, c.MaxChunkChars)
	}
	return nil
}

// Chunker splits text into overlapping chunks. It holds no state between
// calls and is safe for concurrent use.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker validates config and returns a Chunker.
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: config}, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() ChunkerConfig {
	return c.config
}

// Chunks returns the chunks of text in document order. The sequence is lazy
// and may be ranged over any number of times.
//
// Text no longer than MaxChunkChars, including empty text, yields exactly one
// chunk. Longer text is cut at the best boundary found in the window before
// the budget: a paragraph break, then a sentence end, then a line break, then
// a space, otherwise exactly at the budget. Each following chunk starts
// OverlapChars before the previous chunk's end.
func (c *Chunker) Chunks(text string) iter.Seq[core.Chunk] {
	return func(yield func(core.Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		if n <= c.config.MaxChunkChars {
			yield(core.Chunk{Index: 0, Start: 0, End: n, Text: text})
			return
		}

		start := 0
		for index := 0; ; index++ {
			end := start + c.config.MaxChunkChars
			if end >= n {
				yield(core.Chunk{Index: index, Start: start, End: n, Text: string(runes[start:])})
				return
			}
			brk := c.breakPoint(runes, start, end)
			if !yield(core.Chunk{Index: index, Start: start, End: brk, Text: string(runes[start:brk])}) {
				return
			}
			start = brk - c.config.OverlapChars
		}
	}
}

// ChunkAt recovers the chunk with the given index, if text has one.
func (c *Chunker) ChunkAt(text string, index int) (core.Chunk, bool) {
	if index < 0 {
		return core.Chunk{}, false
	}
	for chunk := range c.Chunks(text) {
		if chunk.Index == index {
			return chunk, true
		}
	}
	return core.Chunk{}, false
}

// breakPoint returns the cut position for a chunk spanning [start, end).
// The search window is kept past start+overlap so the next chunk always
// begins after this one.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	overlap := c.config.OverlapChars
	windowStart := end - overlap
	if windowStart <= start+overlap {
		windowStart = start + overlap + 1
	}
	if windowStart >= end {
		return end
	}

	for i := end - 2; i >= windowStart; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	for i := end - 1; i >= windowStart; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 == end || runes[i+1] == ' ' || runes[i+1] == '\n' {
				return i + 1
			}
		}
	}
	for i := end - 1; i >= windowStart; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= windowStart; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return end
}

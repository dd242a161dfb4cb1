package embedding

import (
	"strings"
	"testing"

	"github.com/poiesic/convoy/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(c *Chunker, text string) []core.Chunk {
	var out []core.Chunk
	for chunk := range c.Chunks(text) {
		out = append(out, chunk)
	}
	return out
}

func newChunker(t *testing.T, max, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(ChunkerConfig{MaxChunkChars: max, OverlapChars: overlap})
	require.NoError(t, err)
	return c
}

func TestChunkerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ChunkerConfig
		wantErr bool
	}{
		{name: "defaults", config: DefaultChunkerConfig()},
		{name: "zero overlap", config: ChunkerConfig{MaxChunkChars: 10}},
		{name: "zero max", config: ChunkerConfig{MaxChunkChars: 0}, wantErr: true},
		{name: "negative overlap", config: ChunkerConfig{MaxChunkChars: 10, OverlapChars: -1}, wantErr: true},
		{name: "overlap equals max", config: ChunkerConfig{MaxChunkChars: 10, OverlapChars: 10}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChunkerConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunker_SingleChunkWithinBudget(t *testing.T) {
	c := newChunker(t, 20, 5)
	for _, text := range []string{"", "short", strings.Repeat("x", 20)} {
		chunks := collect(c, text)
		require.Len(t, chunks, 1, "text %q", text)
		assert.Equal(t, core.Chunk{Index: 0, Start: 0, End: len([]rune(text)), Text: text}, chunks[0])
	}
}

func TestChunker_CoversTextWithoutGaps(t *testing.T) {
	c := newChunker(t, 64, 16)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20) +
		"\n\nSecond paragraph\nwith lines and " + strings.Repeat("z", 150)
	runes := []rune(text)

	chunks := collect(c, text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, chunk.End-chunk.Start, 64)
		assert.Equal(t, string(runes[chunk.Start:chunk.End]), chunk.Text)
		if i > 0 {
			prev := chunks[i-1]
			assert.Greater(t, chunk.Start, prev.Start)
			assert.Equal(t, prev.End-16, chunk.Start, "chunk %d overlaps the previous end", i)
		}
	}
}

func TestChunker_BreakPreference(t *testing.T) {
	t.Run("paragraph", func(t *testing.T) {
		c := newChunker(t, 20, 5)
		text := strings.Repeat("a", 15) + "\n\n" + strings.Repeat("b", 20)
		chunks := collect(c, text)
		require.Len(t, chunks, 3)
		assert.Equal(t, strings.Repeat("a", 15)+"\n\n", chunks[0].Text)
		assert.Equal(t, 12, chunks[1].Start)
	})

	t.Run("sentence before space", func(t *testing.T) {
		c := newChunker(t, 20, 5)
		chunks := collect(c, "abcdefghijklmnop. qrstuvwxyz abcdefgh")
		assert.Equal(t, "abcdefghijklmnop.", chunks[0].Text)
	})

	t.Run("hard split", func(t *testing.T) {
		c := newChunker(t, 20, 5)
		chunks := collect(c, strings.Repeat("x", 50))
		require.Len(t, chunks, 3)
		assert.Equal(t, [][2]int{{0, 20}, {15, 35}, {30, 50}},
			[][2]int{{chunks[0].Start, chunks[0].End}, {chunks[1].Start, chunks[1].End}, {chunks[2].Start, chunks[2].End}})
	})
}

func TestChunker_RuneOffsets(t *testing.T) {
	c := newChunker(t, 10, 2)
	text := strings.Repeat("é", 25)
	for _, chunk := range collect(c, text) {
		assert.Equal(t, chunk.End-chunk.Start, len([]rune(chunk.Text)))
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 10)
	}
}

func TestChunker_RestartableAndChunkAt(t *testing.T) {
	c := newChunker(t, 30, 8)
	text := strings.Repeat("lorem ipsum dolor sit amet. ", 10)

	first := collect(c, text)
	second := collect(c, text)
	assert.Equal(t, first, second)

	got, ok := c.ChunkAt(text, 2)
	require.True(t, ok)
	assert.Equal(t, first[2], got)

	_, ok = c.ChunkAt(text, len(first))
	assert.False(t, ok)
	_, ok = c.ChunkAt(text, -1)
	assert.False(t, ok)
}

func TestChunker_EarlyStop(t *testing.T) {
	c := newChunker(t, 10, 2)
	n := 0
	for range c.Chunks(strings.Repeat("word ", 50)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

package embedding

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/convoy/ai/mock"
	"github.com/poiesic/convoy/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapterConfig() AdapterConfig {
	cfg := DefaultAdapterConfig()
	cfg.BatchSize = 2
	cfg.MaxInputChars = 10
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func unitAxis(i int) []float32 {
	v := make([]float32, core.EmbeddingDim)
	v[i] = 1
	return v
}

func TestNewAdapter_Validation(t *testing.T) {
	_, err := NewAdapter(nil, DefaultAdapterConfig())
	assert.ErrorIs(t, err, ErrInvalidAdapterConfig)

	cfg := DefaultAdapterConfig()
	cfg.BatchSize = 0
	_, err = NewAdapter(mock.NewMockEmbedder(), cfg)
	assert.ErrorIs(t, err, ErrInvalidAdapterConfig)
}

func TestAdapter_BatchesTruncatesAndNormalizes(t *testing.T) {
	m := mock.NewMockEmbedder()
	var seen []string
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		seen = append(seen, texts...)
		out := make([][]float32, len(texts))
		for i := range texts {
			v := make([]float32, core.EmbeddingDim)
			v[0], v[1] = 3, 4
			out[i] = v
		}
		return out, nil
	}

	a, err := NewAdapter(m, testAdapterConfig())
	require.NoError(t, err)

	texts := []string{"one", "two", strings.Repeat("ü", 25), "four", "five"}
	vectors, err := a.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	assert.Equal(t, 3, m.CallCount(), "five texts in batches of two")
	assert.Equal(t, strings.Repeat("ü", 10), seen[2])
	for _, v := range vectors {
		assert.InDelta(t, 0.6, v[0], 1e-6)
		assert.InDelta(t, 0.8, v[1], 1e-6)
	}
}

func TestAdapter_RetriesTransientFailures(t *testing.T) {
	m := mock.NewMockEmbedder()
	var calls atomic.Int32
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return [][]float32{unitAxis(0)}, nil
	}

	a, err := NewAdapter(m, testAdapterConfig())
	require.NoError(t, err)

	v, err := a.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, unitAxis(0), v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAdapter_Failures(t *testing.T) {
	tests := []struct {
		name    string
		respond func(texts []string) ([][]float32, error)
		wantErr error
	}{
		{
			name:    "model unavailable",
			respond: func([]string) ([][]float32, error) { return nil, errors.New("offline") },
		},
		{
			name:    "count mismatch",
			respond: func([]string) ([][]float32, error) { return [][]float32{}, nil },
		},
		{
			name:    "wrong dimension",
			respond: func(texts []string) ([][]float32, error) { return [][]float32{{1, 0}}, nil },
			wantErr: core.ErrDimensionMismatch,
		},
		{
			name: "zero vector",
			respond: func(texts []string) ([][]float32, error) {
				return [][]float32{make([]float32, core.EmbeddingDim)}, nil
			},
			wantErr: core.ErrDegenerateVector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mock.NewMockEmbedder()
			m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
				return tt.respond(texts)
			}
			a, err := NewAdapter(m, testAdapterConfig())
			require.NoError(t, err)

			_, err = a.Embed(context.Background(), []string{"x"})
			assert.ErrorIs(t, err, core.ErrEmbedding)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

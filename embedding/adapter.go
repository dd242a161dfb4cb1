package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/convoy/ai"
	"github.com/poiesic/convoy/core"
)

// AdapterConfig controls batching, truncation, and retry for embedding calls.
type AdapterConfig struct {
	// BatchSize is the maximum number of texts sent in one request.
	BatchSize int `yaml:"batch_size"`

	// MaxInputChars truncates each text, in characters, before it is sent.
	MaxInputChars int `yaml:"max_input_chars"`

	// Dimension is the required vector width.
	Dimension int `yaml:"-"`

	// MaxRetries is the number of attempts per batch.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultAdapterConfig returns batches of 32, 8000 character inputs, and three attempts.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		BatchSize:     32,
		MaxInputChars: 8000,
		Dimension:     core.EmbeddingDim,
		MaxRetries:    3,
		RetryDelay:    500 * time.Millisecond,
	}
}

func (c AdapterConfig) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidAdapterConfig)
	case c.MaxInputChars <= 0:
		return fmt.Errorf("%w: max input chars must be positive", ErrInvalidAdapterConfig)
	case c.Dimension <= 0:
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidAdapterConfig)
	case c.MaxRetries <= 0:
		return fmt.Errorf("%w: max retries must be positive", ErrInvalidAdapterConfig)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidAdapterConfig)
	}
	return nil
}

// Adapter wraps an ai.Embedder and guarantees one unit-length vector of the
// configured width per input, in input order. Every failure wraps core.ErrEmbedding.
type Adapter struct {
	embedder ai.Embedder
	config   AdapterConfig
	logger   *slog.Logger
}

// AdapterOption is a functional option for configuring an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdapter creates an adapter around embedder.
func NewAdapter(embedder ai.Embedder, config AdapterConfig, opts ...AdapterOption) (*Adapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidAdapterConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		embedder: embedder,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "embedding-adapter")
	return a, nil
}

// Embed returns one normalized vector per text.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += a.config.BatchSize {
		end := min(start+a.config.BatchSize, len(texts))
		batch := make([]string, end-start)
		for i, text := range texts[start:end] {
			batch[i] = truncate(text, a.config.MaxInputChars)
		}

		var raw [][]float32
		err := RetryWithBackoff(ctx, func() error {
			var err error
			raw, err = a.embedder.EmbedTexts(ctx, batch)
			if err == nil && len(raw) != len(batch) {
				return Permanent(fmt.Errorf("expected %d vectors, got %d", len(batch), len(raw)))
			}
			return err
		}, a.config.MaxRetries, a.config.RetryDelay)
		if err != nil {
			a.logger.Debug("embedding batch failed", "size", len(batch), "err", err)
			return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
		}
		for i, v := range raw {
			unit, err := a.check(v)
			if err != nil {
				return nil, fmt.Errorf("%w: input %d: %w", core.ErrEmbedding, start+i, err)
			}
			out = append(out, unit)
		}
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (a *Adapter) check(v []float32) ([]float32, error) {
	if len(v) != a.config.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", core.ErrDimensionMismatch, len(v), a.config.Dimension)
	}
	wide := make([]float64, len(v))
	for i, x := range v {
		wide[i] = float64(x)
	}
	return Normalize(wide)
}

// truncate cuts text to at most n characters without splitting a rune.
func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}

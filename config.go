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


package convoy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/poiesic/convoy/ai"
	"github.com/poiesic/convoy/embedding"
	"github.com/poiesic/convoy/ingestion"
	"github.com/poiesic/convoy/reembed"
	"gopkg.in/yaml.v3"
)

// Config is the complete archive configuration, usually loaded from YAML.
type Config struct {
	// DataDir holds the catalog, index, record files, media, and lock.
	// Default: $XDG_DATA_HOME/convoy
	DataDir string `yaml:"data_dir" validate:"required"`

	// DownloadMedia enables attachment downloads into <DataDir>/media.
	DownloadMedia bool `yaml:"download_media"`

	AI         *ai.Config              `yaml:"ai" validate:"required"`
	Pipeline   ingestion.Config        `yaml:"pipeline"`
	Chunker    embedding.ChunkerConfig `yaml:"chunker"`
	Embedding  embedding.AdapterConfig `yaml:"embedding"`
	Compaction CompactionConfig        `yaml:"compaction"`
	Reembed    reembed.Config          `yaml:"reembed"`

	// Exports lists provider IDs served by export directories in addition
	// to "export". Accounts of these providers name the directory in Source.
	Exports []string `yaml:"exports" validate:"dive,required"`
}

// CompactionConfig controls automatic compaction after a pull.
type CompactionConfig struct {
	// Auto compacts after every successful pull that produced embeddings.
	Auto bool `yaml:"auto"`

	// SegmentThreshold is the pending segment count a provider needs
	// before Auto compacts. Raise it to batch compactions across pulls.
	// Default: 1
	SegmentThreshold int `yaml:"segment_threshold" validate:"min=1"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithDataDir sets the data directory.
func WithDataDir(dir string) ConfigOption {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithAIConfig replaces the embedding service configuration.
func WithAIConfig(cfg *ai.Config) ConfigOption {
	return func(c *Config) {
		c.AI = cfg
	}
}

// WithDownloadMedia enables or disables attachment downloads.
func WithDownloadMedia(enabled bool) ConfigOption {
	return func(c *Config) {
		c.DownloadMedia = enabled
	}
}

// DefaultDataDir returns the XDG data directory for convoy.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "convoy")
}

// DefaultConfigPath returns the XDG config file location for convoy.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "convoy", "config.yaml")
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   DefaultDataDir(),
		AI:        ai.DefaultConfig(),
		Pipeline:  ingestion.DefaultConfig(),
		Chunker:   embedding.DefaultChunkerConfig(),
		Embedding: embedding.DefaultAdapterConfig(),
		Compaction: CompactionConfig{
			Auto:             true,
			SegmentThreshold: 1,
		},
		Reembed: *reembed.DefaultConfig(),
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// LoadConfig reads a YAML file over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string, opts ...ConfigOption) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills unset sections and expands the data directory.
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if len(c.DataDir) > 1 && c.DataDir[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, c.DataDir[2:])
		}
	}
	c.DataDir = filepath.Clean(c.DataDir)
	if c.AI == nil {
		c.AI = ai.DefaultConfig()
	}
	c.AI.Normalize()
	// The adapter checks widths against the model's dimension and never
	// sends more than the service accepts.
	c.Embedding.Dimension = c.AI.Dimension
	c.Embedding.MaxInputChars = min(c.Embedding.MaxInputChars, c.AI.MaxInputChars)
	if c.Embedding.MaxInputChars <= 0 {
		c.Embedding.MaxInputChars = c.AI.MaxInputChars
	}
}

var validate = validator.New()

// Validate checks the configuration and every section.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%w: %s failed on tag '%s' with value '%v'", ErrInvalidConfig, e.Namespace(), e.Tag(), e.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("%w: pipeline: %w", ErrInvalidConfig, err)
	}
	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("%w: chunker: %w", ErrInvalidConfig, err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("%w: embedding: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

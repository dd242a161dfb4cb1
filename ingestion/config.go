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


package ingestion

import (
	"fmt"
	"runtime"

	"github.com/go-playground/validator/v10"
)

// Config holds pipeline sizing and behavior.
type Config struct {
	// ChannelCapacity bounds both inter-stage channels and the result channel.
	// Default: 100
	ChannelCapacity int `yaml:"channel_capacity" validate:"min=1"`

	// FetchCapacity overrides ChannelCapacity for the fetch -> media channel.
	// Zero uses ChannelCapacity.
	FetchCapacity int `yaml:"fetch_capacity" validate:"min=0"`

	// EmbedCapacity overrides ChannelCapacity for the media -> embed channel.
	// Zero uses ChannelCapacity.
	EmbedCapacity int `yaml:"embed_capacity" validate:"min=0"`

	// FetchWorkers bounds how many accounts are listed and fetched at once.
	// Default: runtime.NumCPU()
	FetchWorkers int `yaml:"fetch_workers" validate:"min=1"`

	// MediaWorkers is the number of attachment download workers.
	// Default: runtime.NumCPU() / 2, with a minimum of 1
	MediaWorkers int `yaml:"media_workers" validate:"min=1"`

	// EmbedWorkers is the number of embed and persist workers.
	// Default: runtime.NumCPU() / 2, with a minimum of 1
	EmbedWorkers int `yaml:"embed_workers" validate:"min=1"`

	// NewOnly skips conversations whose remote UpdatedAt is not newer than
	// the stored sync state.
	NewOnly bool `yaml:"new_only"`

	// MediaDir is where attachments are downloaded. Empty disables downloads.
	MediaDir string `yaml:"media_dir"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		ChannelCapacity: 100,
		FetchWorkers:    runtime.NumCPU(),
		MediaWorkers:    max(runtime.NumCPU()/2, 1),
		EmbedWorkers:    max(runtime.NumCPU()/2, 1),
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%w: %s failed on tag '%s' with value '%v'", ErrInvalidConfig, e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) fetchCapacity() int {
	if c.FetchCapacity > 0 {
		return c.FetchCapacity
	}
	return c.ChannelCapacity
}

func (c Config) embedCapacity() int {
	if c.EmbedCapacity > 0 {
		return c.EmbedCapacity
	}
	return c.ChannelCapacity
}

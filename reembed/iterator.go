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


package reembed

import (
	"context"
	"slices"

	"github.com/poiesic/convoy/core"
)

const (
	// DefaultBatchSize is the default number of conversations handed out per batch
	DefaultBatchSize = 16
)

// ConversationSource is the read side of a conversation store.
type ConversationSource interface {
	Providers(ctx context.Context) ([]string, error)
	Scan(ctx context.Context, providerID string, fn func(*core.Conversation) error) error
	Count(ctx context.Context, providerID string) (int, error)
}

// ConversationIterator walks stored conversations in batches.
type ConversationIterator struct {
	source    ConversationSource
	batchSize int
	provider  string
}

// NewConversationIterator creates a new iterator. An empty provider walks
// every provider; batchSize <= 0 uses DefaultBatchSize.
func NewConversationIterator(source ConversationSource, provider string, batchSize int) *ConversationIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ConversationIterator{
		source:    source,
		batchSize: batchSize,
		provider:  provider,
	}
}

func (it *ConversationIterator) providers(ctx context.Context) ([]string, error) {
	if it.provider != "" {
		return []string{it.provider}, nil
	}
	return it.source.Providers(ctx)
}

// Count returns the number of conversations ForEach will visit.
func (it *ConversationIterator) Count(ctx context.Context) (int, error) {
	providers, err := it.providers(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range providers {
		n, err := it.source.Count(ctx, p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ForEach calls fn with consecutive batches of conversations. A batch never
// mixes providers. Iteration stops on the first error from fn and when ctx
// is done.
func (it *ConversationIterator) ForEach(ctx context.Context, fn func([]*core.Conversation) error) error {
	providers, err := it.providers(ctx)
	if err != nil {
		return err
	}

	for _, p := range providers {
		batch := make([]*core.Conversation, 0, it.batchSize)
		err := it.source.Scan(ctx, p, func(conv *core.Conversation) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch = append(batch, conv)
			if len(batch) < it.batchSize {
				return nil
			}
			full := slices.Clone(batch)
			batch = batch[:0]
			return fn(full)
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

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


package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/poiesic/convoy/core"
)

var (
	// ErrUnknownProvider is returned when no provider is registered under an ID.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNotFound is returned when a conversation or attachment does not exist.
	ErrNotFound = errors.New("not found")
)

// Provider is a source of conversations.
// Implementations must be safe for concurrent use.
type Provider interface {
	// ID is the stable provider identifier stored with every conversation.
	ID() string

	// ListConversations returns the account's conversations in provider order.
	ListConversations(ctx context.Context, account *core.Account) ([]core.ConversationSummary, error)

	// FetchConversation returns one conversation with all of its messages and
	// the attachments they reference.
	FetchConversation(ctx context.Context, account *core.Account, id string) (*core.Conversation, []core.Attachment, error)

	// DownloadAttachment writes the attachment's bytes to w and returns the count.
	DownloadAttachment(ctx context.Context, account *core.Account, att *core.Attachment, w io.Writer) (int64, error)
}

// Registry maps provider IDs to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same ID.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

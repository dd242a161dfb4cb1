// Package mock provides an in-memory provider.Provider for tests.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/provider"
)

// Provider serves conversations added with AddConversation.
// Any of the Func fields replaces the default behavior of its method.
type Provider struct {
	ListConversationsFunc  func(ctx context.Context, account *core.Account) ([]core.ConversationSummary, error)
	FetchConversationFunc  func(ctx context.Context, account *core.Account, id string) (*core.Conversation, []core.Attachment, error)
	DownloadAttachmentFunc func(ctx context.Context, account *core.Account, att *core.Attachment, w io.Writer) (int64, error)

	id            string
	mu            sync.Mutex
	order         []string
	conversations map[string]core.Conversation
	attachments   map[string][]core.Attachment
	data          map[string][]byte

	listCalls     atomic.Int64
	fetchCalls    atomic.Int64
	downloadCalls atomic.Int64
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates an empty mock provider with the given ID.
func NewProvider(id string) *Provider {
	return &Provider{
		id:            id,
		conversations: make(map[string]core.Conversation),
		attachments:   make(map[string][]core.Attachment),
		data:          make(map[string][]byte),
	}
}

// AddConversation stores conv and its attachments. Re-adding an ID replaces
// the conversation but keeps its list position.
func (p *Provider) AddConversation(conv core.Conversation, atts ...core.Attachment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conv.ProviderID == "" {
		conv.ProviderID = p.id
	}
	if _, ok := p.conversations[conv.ID]; !ok {
		p.order = append(p.order, conv.ID)
	}
	p.conversations[conv.ID] = conv
	p.attachments[conv.ID] = atts
}

// SetAttachmentData sets the bytes served for an attachment ID.
func (p *Provider) SetAttachmentData(attachmentID string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[attachmentID] = data
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) ListConversations(ctx context.Context, account *core.Account) ([]core.ConversationSummary, error) {
	p.listCalls.Add(1)
	if p.ListConversationsFunc != nil {
		return p.ListConversationsFunc(ctx, account)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.ConversationSummary, 0, len(p.order))
	for _, id := range p.order {
		c := p.conversations[id]
		out = append(out, core.ConversationSummary{
			ID:           c.ID,
			ProviderID:   c.ProviderID,
			Title:        c.Title,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(c.Messages),
		})
	}
	return out, nil
}

func (p *Provider) FetchConversation(ctx context.Context, account *core.Account, id string) (*core.Conversation, []core.Attachment, error) {
	p.fetchCalls.Add(1)
	if p.FetchConversationFunc != nil {
		return p.FetchConversationFunc(ctx, account, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conversations[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: conversation %q", provider.ErrNotFound, id)
	}
	c.AccountID = account.ID
	c.Messages = slices.Clone(c.Messages)
	return &c, slices.Clone(p.attachments[id]), nil
}

func (p *Provider) DownloadAttachment(ctx context.Context, account *core.Account, att *core.Attachment, w io.Writer) (int64, error) {
	p.downloadCalls.Add(1)
	if p.DownloadAttachmentFunc != nil {
		return p.DownloadAttachmentFunc(ctx, account, att, w)
	}

	p.mu.Lock()
	data, ok := p.data[att.ID]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: attachment %q", provider.ErrNotFound, att.ID)
	}
	return io.Copy(w, bytes.NewReader(data))
}

// ListCalls returns the number of ListConversations calls.
func (p *Provider) ListCalls() int {
	return int(p.listCalls.Load())
}

// FetchCalls returns the number of FetchConversation calls.
func (p *Provider) FetchCalls() int {
	return int(p.fetchCalls.Load())
}

// DownloadCalls returns the number of DownloadAttachment calls.
func (p *Provider) DownloadCalls() int {
	return int(p.downloadCalls.Load())
}

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/provider"
	"github.com/spf13/afero"
)

// DefaultID is the provider ID used when none is given.
const DefaultID = "export"

// MessageFile is one message in a ConversationFile.
type MessageFile struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Role        string    `json:"role"`
	ContentType string    `json:"content_type,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// AttachmentFile references an attachment by URL or relative path.
type AttachmentFile struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	URL       string `json:"url"`
}

// ConversationFile is the JSON document stored per conversation.
type ConversationFile struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Model       string           `json:"model,omitempty"`
	ProjectID   string           `json:"project_id,omitempty"`
	ProjectName string           `json:"project_name,omitempty"`
	IsArchived  bool             `json:"is_archived,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Messages    []MessageFile    `json:"messages"`
	Attachments []AttachmentFile `json:"attachments,omitempty"`
}

// Provider reads conversations from export directories.
type Provider struct {
	id     string
	fs     afero.Fs
	client *http.Client
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithID sets the provider ID.
func WithID(id string) Option {
	return func(p *Provider) {
		p.id = id
	}
}

// WithHTTPClient sets the client used for http(s) attachment URLs.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates an export provider reading from fs.
func New(fs afero.Fs, opts ...Option) *Provider {
	p := &Provider{
		id:     DefaultID,
		fs:     fs,
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("provider", p.id)
	return p
}

func (p *Provider) ID() string {
	return p.id
}

// ListConversations returns the directory's conversations, most recently
// updated first, ties by ID.
func (p *Provider) ListConversations(ctx context.Context, account *core.Account) ([]core.ConversationSummary, error) {
	names, err := afero.Glob(p.fs, filepath.Join(account.Source, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", account.Source, err)
	}

	out := make([]core.ConversationSummary, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := p.read(name)
		if err != nil {
			return nil, err
		}
		out = append(out, core.ConversationSummary{
			ID:           doc.ID,
			ProviderID:   p.id,
			Title:        doc.Title,
			UpdatedAt:    doc.UpdatedAt.UTC(),
			MessageCount: len(doc.Messages),
		})
	}
	slices.SortStableFunc(out, func(a, b core.ConversationSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	p.logger.Debug("listed conversations", "source", account.Source, "count", len(out))
	return out, nil
}

// FetchConversation reads one conversation. Files are located by the
// conversation's ID, falling back to a scan when the file name differs.
func (p *Provider) FetchConversation(ctx context.Context, account *core.Account, id string) (*core.Conversation, []core.Attachment, error) {
	doc, err := p.find(ctx, account.Source, id)
	if err != nil {
		return nil, nil, err
	}

	conv := &core.Conversation{
		ID:          doc.ID,
		ProviderID:  p.id,
		AccountID:   account.ID,
		Title:       doc.Title,
		Model:       doc.Model,
		ProjectID:   doc.ProjectID,
		ProjectName: doc.ProjectName,
		IsArchived:  doc.IsArchived,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
		Messages:    make([]core.Message, len(doc.Messages)),
	}
	for i, m := range doc.Messages {
		ct := core.ContentType(m.ContentType)
		if ct == "" {
			ct = core.ContentText
		}
		conv.Messages[i] = core.Message{
			ID:          m.ID,
			ParentID:    m.ParentID,
			Role:        core.Role(m.Role),
			ContentType: ct,
			Content:     m.Content,
		}
		if !m.CreatedAt.IsZero() {
			conv.Messages[i].CreatedAt = m.CreatedAt.UTC()
		}
	}
	if err := core.ValidateConversation(conv); err != nil {
		return nil, nil, err
	}

	atts := make([]core.Attachment, len(doc.Attachments))
	for i, a := range doc.Attachments {
		atts[i] = core.Attachment{
			ID:        a.ID,
			MessageID: a.MessageID,
			Filename:  a.Filename,
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
			URL:       a.URL,
		}
	}
	return conv, atts, nil
}

// DownloadAttachment copies the attachment from its URL or relative path.
func (p *Provider) DownloadAttachment(ctx context.Context, account *core.Account, att *core.Attachment, w io.Writer) (int64, error) {
	if strings.HasPrefix(att.URL, "http://") || strings.HasPrefix(att.URL, "https://") {
		return p.download(ctx, att.URL, w)
	}

	rel := filepath.Clean("/" + filepath.FromSlash(att.URL))
	f, err := p.fs.Open(filepath.Join(account.Source, rel))
	if err != nil {
		return 0, fmt.Errorf("%w: attachment %q: %w", provider.ErrNotFound, att.ID, err)
	}
	defer f.Close()
	return io.Copy(w, f)
}

func (p *Provider) download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", provider.ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.Copy(w, resp.Body)
}

func (p *Provider) find(ctx context.Context, dir, id string) (*ConversationFile, error) {
	direct := filepath.Join(dir, id+".json")
	if ok, _ := afero.Exists(p.fs, direct); ok && !strings.ContainsAny(id, `/\`) {
		doc, err := p.read(direct)
		if err == nil && doc.ID == id {
			return doc, nil
		}
	}

	names, err := afero.Glob(p.fs, filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := p.read(name)
		if err != nil {
			return nil, err
		}
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: conversation %q", provider.ErrNotFound, id)
}

func (p *Provider) read(name string) (*ConversationFile, error) {
	data, err := afero.ReadFile(p.fs, name)
	if err != nil {
		return nil, err
	}
	var doc ConversationFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(name), ".json")
	}
	return &doc, nil
}

// Write stores doc as <dir>/<id>.json. It is the inverse of FetchConversation
// and is used to produce export directories.
func Write(fs afero.Fs, dir string, doc *ConversationFile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, filepath.Join(dir, doc.ID+".json"), data, 0o644)
}

package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage"
	"github.com/spf13/afero"
)

// Segment is one decoded segment file. Key is the file name stem shared with
// the conversation's record file.
type Segment struct {
	Path    string
	Key     string
	Records []core.EmbeddingRecord
}

// EmbeddingStore implements storage.EmbeddingStore. Each pulled conversation
// gets a segment file <root>/<provider>/<FileName(id)>.seg holding all of its
// records; compaction folds segments into <root>/<provider>/consolidated.emb.
type EmbeddingStore struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

var _ storage.EmbeddingStore = (*EmbeddingStore)(nil)

func NewEmbeddingStore(fs afero.Fs, root string, opts ...Option) *EmbeddingStore {
	o := buildOptions("embeddings", opts)
	return &EmbeddingStore{fs: fs, root: root, logger: o.logger}
}

// Fs returns the file system the store writes to.
func (s *EmbeddingStore) Fs() afero.Fs {
	return s.fs
}

// ProviderDir returns the directory holding a provider's embedding files.
func (s *EmbeddingStore) ProviderDir(providerID string) string {
	return filepath.Join(s.root, providerID)
}

// ConsolidatedPath returns the path of a provider's consolidated file.
func (s *EmbeddingStore) ConsolidatedPath(providerID string) string {
	return filepath.Join(s.root, providerID, ConsolidatedName)
}

// SegmentPath returns the path of a conversation's segment file.
func (s *EmbeddingStore) SegmentPath(providerID, conversationID string) string {
	return filepath.Join(s.root, providerID, FileName(conversationID)+SegmentExt)
}

// WriteSegment replaces the conversation's pending segment.
func (s *EmbeddingStore) WriteSegment(ctx context.Context, providerID, conversationID string, records []core.EmbeddingRecord) error {
	for i := range records {
		if records[i].ConversationID != conversationID {
			return fmt.Errorf("%w: record of conversation %q in segment of %q",
				core.ErrInvalidEmbeddingRecord, records[i].ConversationID, conversationID)
		}
		if err := core.ValidateEmbeddingRecord(&records[i]); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.SegmentPath(providerID, conversationID)
	if err := WriteFileAtomic(s.fs, path, storage.MarshalEmbeddingFile(records)); err != nil {
		return err
	}
	s.logger.Debug("wrote segment", "conversation", conversationID, "records", len(records))
	return nil
}

// Providers returns the providers that have embeddings.
func (s *EmbeddingStore) Providers(ctx context.Context) ([]string, error) {
	return listDirs(s.fs, s.root)
}

// SegmentPaths returns the provider's segment files in name order.
func (s *EmbeddingStore) SegmentPaths(providerID string) ([]string, error) {
	dir := s.ProviderDir(providerID)
	names, err := listNames(s.fs, dir, SegmentExt)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// HasConsolidated reports whether the provider has a consolidated file.
func (s *EmbeddingStore) HasConsolidated(providerID string) (bool, error) {
	ok, err := afero.Exists(s.fs, s.ConsolidatedPath(providerID))
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// ReadRecords decodes an embedding file. A missing file returns
// storage.ErrNotFound.
func (s *EmbeddingStore) ReadRecords(path string) ([]core.EmbeddingRecord, error) {
	data, err := readFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	records, err := storage.UnmarshalEmbeddingFile(data)
	if err != nil {
		return nil, corrupt(path, err)
	}
	return records, nil
}

// readConsolidated is ReadRecords with a missing file read as empty.
func (s *EmbeddingStore) readConsolidated(providerID string) ([]core.EmbeddingRecord, error) {
	records, err := s.ReadRecords(s.ConsolidatedPath(providerID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return records, err
}

// Load returns the provider's consolidated records and every segment, in
// segment name order.
func (s *EmbeddingStore) Load(ctx context.Context, providerID string) ([]core.EmbeddingRecord, []Segment, error) {
	consolidated, err := s.readConsolidated(providerID)
	if err != nil {
		return nil, nil, err
	}
	paths, err := s.SegmentPaths(providerID)
	if err != nil {
		return nil, nil, err
	}
	segments := make([]Segment, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		records, err := s.ReadRecords(path)
		if err != nil {
			return nil, nil, err
		}
		segments = append(segments, Segment{
			Path:    path,
			Key:     strings.TrimSuffix(filepath.Base(path), SegmentExt),
			Records: records,
		})
	}
	return consolidated, segments, nil
}

// Overlay returns base with every conversation that has a segment replaced by
// that segment's rows, including segments with no rows. Base rows come first
// in their original order, followed by segment rows in segment order.
func Overlay(base []core.EmbeddingRecord, segments []Segment) []core.EmbeddingRecord {
	replaced := make(map[string]struct{}, len(segments))
	size := 0
	for _, seg := range segments {
		size += len(seg.Records)
		replaced[seg.Key] = struct{}{}
	}
	out := make([]core.EmbeddingRecord, 0, len(base)+size)
	for i := range base {
		if _, ok := replaced[FileName(base[i].ConversationID)]; !ok {
			out = append(out, base[i])
		}
	}
	for _, seg := range segments {
		out = append(out, seg.Records...)
	}
	return out
}

// Scan calls fn for each current record of a provider at the given level,
// or at every level when level is zero.
func (s *EmbeddingStore) Scan(ctx context.Context, providerID string, level core.Level, fn func(*core.EmbeddingRecord) error) error {
	consolidated, segments, err := s.Load(ctx, providerID)
	if err != nil {
		return err
	}
	records := Overlay(consolidated, segments)
	for i := range records {
		if level != 0 && records[i].Level != level {
			continue
		}
		if err := fn(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteConsolidated atomically replaces the provider's consolidated file.
func (s *EmbeddingStore) WriteConsolidated(providerID string, records []core.EmbeddingRecord) error {
	return WriteFileAtomic(s.fs, s.ConsolidatedPath(providerID), storage.MarshalEmbeddingFile(records))
}

// RemoveFiles deletes the given files, ignoring ones already gone.
func (s *EmbeddingStore) RemoveFiles(paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := s.fs.Remove(path); err != nil {
			if ok, _ := afero.Exists(s.fs, path); ok {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return unavailable(errors.Join(errs...))
	}
	return nil
}

// RemoveTemps deletes temporary files left in the provider directory by an
// interrupted write.
func (s *EmbeddingStore) RemoveTemps(providerID string) (int, error) {
	return RemoveTemps(s.fs, s.ProviderDir(providerID))
}

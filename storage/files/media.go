package files

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/poiesic/convoy/core"
	"github.com/spf13/afero"
)

// MediaStore keeps downloaded attachments under
// <root>/<provider>/<FileName(conversation)>/<attachment>-<filename>.
type MediaStore struct {
	fs   afero.Fs
	root string
}

func NewMediaStore(fs afero.Fs, root string) *MediaStore {
	return &MediaStore{fs: fs, root: root}
}

// Path returns where an attachment of a conversation is stored.
func (s *MediaStore) Path(providerID, conversationID string, att *core.Attachment) string {
	name := sanitizeName(att.ID)
	if att.Filename != "" {
		name += "-" + sanitizeName(att.Filename)
	}
	return filepath.Join(s.root, providerID, FileName(conversationID), name)
}

// Save streams an attachment through write into a temporary file and renames
// it into place once write succeeds. It returns the final path and the
// number of bytes written.
func (s *MediaStore) Save(providerID, conversationID string, att *core.Attachment, write func(w io.Writer) (int64, error)) (string, int64, error) {
	path := s.Path(providerID, conversationID, att)
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return "", 0, unavailable(err)
	}
	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(path)+".*"+TempExt)
	if err != nil {
		return "", 0, unavailable(err)
	}
	tmpName := tmp.Name()
	n, err := write(tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = unavailable(cerr)
	}
	if err != nil {
		s.fs.Remove(tmpName)
		return "", 0, err
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return "", 0, unavailable(err)
	}
	return path, n, nil
}

func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." {
		return "_"
	}
	return name
}

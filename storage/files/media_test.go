package files

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/convoy/core"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaStore_Save(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewMediaStore(fs, "/data/media")
	att := &core.Attachment{ID: "f1", Filename: "diagram.png"}

	path, n, err := store.Save("claude", "c1", att, func(w io.Writer) (int64, error) {
		return io.Copy(w, strings.NewReader("png bytes"))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, filepath.Join("/data/media", "claude", FileName("c1"), "f1-diagram.png"), path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
}

func TestMediaStore_SaveFailureLeavesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewMediaStore(fs, "/data/media")
	att := &core.Attachment{ID: "f1", Filename: "a.bin"}
	boom := errors.New("connection reset")

	_, _, err := store.Save("claude", "c1", att, func(w io.Writer) (int64, error) {
		w.Write([]byte("partial"))
		return 7, boom
	})
	require.ErrorIs(t, err, boom)

	names, err := listNames(fs, filepath.Dir(store.Path("claude", "c1", att)), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMediaStore_PathSanitizes(t *testing.T) {
	store := NewMediaStore(afero.NewMemMapFs(), "/data/media")
	path := store.Path("claude", "c1", &core.Attachment{ID: "../x", Filename: "a/b.txt"})
	assert.Equal(t, "/data/media/claude/"+FileName("c1"), filepath.Dir(path))
	assert.Equal(t, ".._x-a_b.txt", filepath.Base(path))

	assert.Equal(t, "_", filepath.Base(store.Path("claude", "c1", &core.Attachment{ID: ".."})))
}

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


package files

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/poiesic/convoy/core"
	"github.com/poiesic/convoy/storage"
	"github.com/spf13/afero"
)

const (
	ConversationExt = ".conv"
	SegmentExt      = ".seg"
	TempExt         = ".tmp"

	// ConsolidatedName is the per-provider file compaction merges segments into.
	ConsolidatedName = "consolidated.emb"
)

// FileName returns the file name stem for a provider-assigned ID.
func FileName(id string) string {
	return core.IDFromContent(id).String()
}

// WriteFileAtomic writes data to a temporary file in path's directory and
// renames it over path. On failure path is left untouched and the temporary
// file is removed.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return unavailable(err)
	}
	tmp, err := afero.TempFile(fsys, dir, filepath.Base(path)+".*"+TempExt)
	if err != nil {
		return unavailable(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fsys.Remove(tmpName)
		return unavailable(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fsys.Remove(tmpName)
		return unavailable(err)
	}
	if err := tmp.Close(); err != nil {
		fsys.Remove(tmpName)
		return unavailable(err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		fsys.Remove(tmpName)
		return unavailable(err)
	}
	return nil
}

// RemoveTemps deletes temporary files left in dir by an interrupted write and
// returns how many were removed.
func RemoveTemps(fsys afero.Fs, dir string) (int, error) {
	names, err := listNames(fsys, dir, TempExt)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if err := fsys.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, unavailable(err)
		}
		removed++
	}
	return removed, nil
}

// listNames returns the sorted names of regular files in dir with the given
// suffix. A missing directory has no files.
func listNames(fsys afero.Fs, dir, suffix string) ([]string, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), suffix) {
			continue
		}
		names = append(names, info.Name())
	}
	slices.Sort(names)
	return names, nil
}

// listDirs returns the sorted names of subdirectories of dir.
func listDirs(fsys afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func readFile(fsys afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		return nil, unavailable(err)
	}
	return data, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
}

// corrupt reports an undecodable file. Readers cannot make progress past it,
// so it is also a storage failure.
func corrupt(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStorageUnavailable, path, err)
}

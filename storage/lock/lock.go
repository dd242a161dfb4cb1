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


// Package lock serializes pulls and compactions on an exclusive file lock in
// the data directory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/poiesic/convoy/core"
)

// FileName is the lock file created in the data directory.
const FileName = "convoy.lock"

const retryDelay = 100 * time.Millisecond

// ErrLocked is returned by TryAcquire when the lock is held, by this
// process or another one.
var ErrLocked = errors.New("data directory is locked")

// DataLock guards one data directory. Holders in the same process are
// serialized by sem; other processes by the file lock.
type DataLock struct {
	sem chan struct{}
	fl  *flock.Flock
}

// New returns the lock for dataDir without acquiring it.
func New(dataDir string) *DataLock {
	return &DataLock{
		sem: make(chan struct{}, 1),
		fl:  flock.New(filepath.Join(dataDir, FileName)),
	}
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.fl.Path()
}

// Acquire blocks until the lock is held or ctx is done.
func (l *DataLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.lockFile(ctx); err != nil {
		<-l.sem
		return err
	}
	return nil
}

func (l *DataLock) lockFile(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	ok, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: lock %s: %w", core.ErrStorageUnavailable, l.fl.Path(), err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// TryAcquire takes the lock without waiting, returning ErrLocked when it is
// held.
func (l *DataLock) TryAcquire() error {
	select {
	case l.sem <- struct{}{}:
	default:
		return ErrLocked
	}
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		<-l.sem
		return fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		<-l.sem
		return fmt.Errorf("%w: lock %s: %w", core.ErrStorageUnavailable, l.fl.Path(), err)
	}
	if !ok {
		<-l.sem
		return ErrLocked
	}
	return nil
}

// Release unlocks after a successful Acquire or TryAcquire. Releasing an
// unheld lock is a no-op.
func (l *DataLock) Release() error {
	select {
	case <-l.sem:
	default:
		return nil
	}
	return l.fl.Unlock()
}

// Locked reports whether this DataLock currently holds the lock.
func (l *DataLock) Locked() bool {
	return len(l.sem) > 0 && l.fl.Locked()
}

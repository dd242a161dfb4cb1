package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataLock_AcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	l := New(dir)
	assert.Equal(t, filepath.Join(dir, FileName), l.Path())

	require.NoError(t, l.Acquire(context.Background()))
	assert.True(t, l.Locked())
	require.NoError(t, l.Release())
	assert.False(t, l.Locked())
	require.NoError(t, l.Release())
}

func TestDataLock_Exclusive(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	second := New(dir)

	require.NoError(t, first.TryAcquire())
	defer first.Release()

	assert.ErrorIs(t, second.TryAcquire(), ErrLocked)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Release())
	require.NoError(t, second.TryAcquire())
	require.NoError(t, second.Release())
}

func TestDataLock_SerializesHoldersInProcess(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, l.TryAcquire(), ErrLocked)
	assert.True(t, l.Locked())

	acquired := make(chan error, 1)
	go func() {
		acquired <- l.Acquire(context.Background())
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second holder entered while the first held the lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, l.Release())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
	assert.True(t, l.Locked())
	require.NoError(t, l.Release())
	assert.False(t, l.Locked())
}

package peerinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFreeHandle(t *testing.T) {
	in, err := New(4096)
	require.NoError(t, err)
	defer in.Free()

	h := in.AllocHandle(100)
	require.NotNil(t, h)

	got, ok := in.LookupByID(h.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(100), got.Node)

	in.FreeHandle(h.ID)
	_, ok = in.LookupByID(h.ID)
	assert.False(t, ok)
}

func TestAllocHandleIDsAreUnique(t *testing.T) {
	in, err := New(4096)
	require.NoError(t, err)
	defer in.Free()

	h1 := in.AllocHandle(1)
	h2 := in.AllocHandle(2)
	assert.NotEqual(t, h1.ID, h2.ID)
}

func TestResetFlushesQueueAndPool(t *testing.T) {
	in, err := New(4096)
	require.NoError(t, err)
	defer in.Free()

	in.Mu.Lock()
	slice, err := in.Pool.Publish([]byte("payload"))
	require.NoError(t, err)
	n := in.Queue.Stage()
	in.Queue.Commit(n, slice, 0, []byte("payload"))
	in.Mu.Unlock()

	require.Equal(t, 1, in.Queue.Len())

	in.Reset()

	assert.Equal(t, 0, in.Queue.Len())

	// The pool must have been flushed back to one contiguous span.
	in.Mu.Lock()
	_, err = in.Pool.Publish(make([]byte, 4096))
	in.Mu.Unlock()
	assert.NoError(t, err)
}

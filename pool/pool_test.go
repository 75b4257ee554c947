package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busd/bus1/errs"
)

func TestNewRejectsBadSizes(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, errs.InvalidArg)

	_, err = New(1)
	assert.ErrorIs(t, err, errs.InvalidArg)
}

func TestPublishAndRelease(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)
	defer p.Destroy()

	s1, err := p.Publish([]byte("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, s1.Offset)
	assert.EqualValues(t, 5, s1.Size)

	s2, err := p.Publish([]byte("world!"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, s2.Offset)

	require.NoError(t, p.Release(s1))
	require.NoError(t, p.Release(s2))

	// After releasing both allocations the pool should have coalesced
	// back into a single span covering the whole mapping.
	s3, err := p.Publish(make([]byte, 4096))
	require.NoError(t, err)
	assert.EqualValues(t, 0, s3.Offset)
}

func TestPublishExhaustion(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)
	defer p.Destroy()

	_, err = p.Publish(make([]byte, 4096))
	require.NoError(t, err)

	_, err = p.Publish([]byte("x"))
	assert.ErrorIs(t, err, errs.OutOfMemory)
}

func TestFlushResetsToSingleSpan(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)
	defer p.Destroy()

	_, err = p.Publish(make([]byte, 100))
	require.NoError(t, err)

	p.Flush()

	s, err := p.Publish(make([]byte, 4096))
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.Offset)
}

func TestWriteAtThenReadAt(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)
	defer p.Destroy()

	s, err := p.Publish([]byte("helloXXXX"))
	require.NoError(t, err)

	require.NoError(t, p.WriteAt(s.Offset+5, []byte("tail")))

	got, err := p.ReadAt(s.Offset, s.Size)
	require.NoError(t, err)
	assert.Equal(t, []byte("hellotail"), got)

	_, err = p.ReadAt(s.Offset, s.Size+1)
	assert.ErrorIs(t, err, errs.InvalidArg)
}

func TestReleaseOutOfBounds(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)
	defer p.Destroy()

	err = p.Release(Slice{Offset: 4000, Size: 1000})
	assert.ErrorIs(t, err, errs.InvalidArg)
}

package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/peerinfo"
)

// fakePeer adapts a peerinfo.Info to domain.PeerRef, standing in for
// bus1/peer.Peer without importing it (avoiding a transaction<->peer test
// cycle; peer already depends on transaction-adjacent packages).
type fakePeer struct {
	id     uint64
	info   *peerinfo.Info
	active bool
}

func (f *fakePeer) ID() uint64     { return f.id }
func (f *fakePeer) IsActive() bool { return f.active }
func (f *fakePeer) AcquireInfo() (*peerinfo.Info, func(), bool) {
	if !f.active {
		return nil, nil, false
	}
	return f.info, func() {}, true
}

func newFakePeer(t *testing.T, id uint64) *fakePeer {
	t.Helper()
	info, err := peerinfo.New(4096)
	require.NoError(t, err)
	return &fakePeer{id: id, info: info, active: true}
}

func TestCommitForIDUnicast(t *testing.T) {
	dom := domain.New(nil)
	dst := newFakePeer(t, 1)

	dom.Mu.Lock()
	dom.Seq.BeginWrite()
	dom.AddPeer(dst)
	dom.Seq.EndWrite()
	dom.Mu.Unlock()

	tx, err := NewFromUser(dom, nil, []byte("hello"), 0, make([]byte, 512))
	require.NoError(t, err)

	require.NoError(t, tx.CommitForID(1))

	dst.info.Mu.Lock()
	n := dst.info.Queue.Dequeue()
	dst.info.Mu.Unlock()
	require.NotNil(t, n)
	assert.Equal(t, []byte("hello"), n.Payload)
}

func TestCommitForIDUnknownDestination(t *testing.T) {
	dom := domain.New(nil)
	tx, err := NewFromUser(dom, nil, []byte("x"), 0, make([]byte, 512))
	require.NoError(t, err)

	err = tx.CommitForID(999)
	assert.Error(t, err)
}

func TestMulticastAllOrNothing(t *testing.T) {
	dom := domain.New(nil)
	dst1 := newFakePeer(t, 1)
	dst2 := newFakePeer(t, 2)

	dom.Mu.Lock()
	dom.Seq.BeginWrite()
	dom.AddPeer(dst1)
	dom.AddPeer(dst2)
	dom.Seq.EndWrite()
	dom.Mu.Unlock()

	tx, err := NewFromUser(dom, nil, []byte("multi"), 0, make([]byte, 512))
	require.NoError(t, err)

	require.NoError(t, tx.InstantiateForID(1))
	require.NoError(t, tx.InstantiateForID(2))
	require.NoError(t, tx.Commit())

	for _, dst := range []*fakePeer{dst1, dst2} {
		dst.info.Mu.Lock()
		n := dst.info.Queue.Dequeue()
		dst.info.Mu.Unlock()
		require.NotNil(t, n)
		assert.Equal(t, []byte("multi"), n.Payload)
	}
}

func TestMulticastRollsBackOnFailure(t *testing.T) {
	dom := domain.New(nil)
	dst1 := newFakePeer(t, 1)

	dom.Mu.Lock()
	dom.Seq.BeginWrite()
	dom.AddPeer(dst1)
	dom.Seq.EndWrite()
	dom.Mu.Unlock()

	tx, err := NewFromUser(dom, nil, []byte("partial"), 0, make([]byte, 512))
	require.NoError(t, err)

	require.NoError(t, tx.InstantiateForID(1))
	err = tx.InstantiateForID(2) // unknown
	require.Error(t, err)
	tx.Destroy()

	dst1.info.Mu.Lock()
	n := dst1.info.Queue.Dequeue()
	dst1.info.Mu.Unlock()
	assert.Nil(t, n, "destroy must roll back the already-instantiated destination")
}

// TestCommitForIDReservesFDTailHeadroom covers spec §4.8 step 5 / §8
// scenario 5: a send carrying fds must not have its published slice sized
// to exactly the payload, or a later receive's fd-table write corrupts
// the tail of the message.
func TestCommitForIDReservesFDTailHeadroom(t *testing.T) {
	dom := domain.New(nil)
	dst := newFakePeer(t, 1)

	dom.Mu.Lock()
	dom.Seq.BeginWrite()
	dom.AddPeer(dst)
	dom.Seq.EndWrite()
	dom.Mu.Unlock()

	payload := []byte("hello")
	const nFiles = 2

	tx, err := NewFromUser(dom, nil, payload, nFiles, make([]byte, 512))
	require.NoError(t, err)
	require.NoError(t, tx.CommitForID(1))

	dst.info.Mu.Lock()
	n := dst.info.Queue.Dequeue()
	dst.info.Mu.Unlock()
	require.NotNil(t, n)

	assert.EqualValues(t, nFiles, n.NFiles)
	assert.Equal(t, uint64(len(payload)+nFiles*FDTailBytes), n.Slice.Size,
		"published slice must reserve fd-tail headroom beyond the payload")

	msgBytes, err := dst.info.Pool.ReadAt(n.Slice.Offset, uint64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, msgBytes, "payload bytes must survive untouched before a receive writes the fd tail")
}

func TestLargePayloadBorrowsScratch(t *testing.T) {
	dom := domain.New(nil)
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	tx, err := NewFromUser(dom, nil, payload, 0, make([]byte, 8))
	require.NoError(t, err)
	assert.True(t, tx.borrowed)
	tx.Destroy()
}

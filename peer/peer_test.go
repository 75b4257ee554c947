package peer

import (
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/errs"
	"github.com/busd/bus1/user"
)

func TestConnectResolveDisconnect(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	tok, ok := dom.AcquireActive()
	require.True(t, ok)
	defer dom.ReleaseActive(tok)

	res, err := p.Connect(ConnectParams{
		Flags:    FlagPeer,
		PoolSize: 4096,
		Names:    []string{"alpha"},
		Caller:   Caller{UID: 1, Admin: true},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, res.PoolSize)

	dom.Mu.RLock()
	id, found := dom.Resolve("alpha")
	dom.Mu.RUnlock()
	require.True(t, found)
	assert.Equal(t, p.ID(), id)

	require.NoError(t, p.Teardown())

	dom.Mu.RLock()
	_, found = dom.Resolve("alpha")
	dom.Mu.RUnlock()
	assert.False(t, found)
}

func TestDuplicateNameRejected(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p1 := New(dom, users)
	p2 := New(dom, users)

	_, err := p1.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 4096, Names: []string{"dup"},
		Caller: Caller{UID: 1, Admin: true},
	})
	require.NoError(t, err)

	_, err = p2.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 4096, Names: []string{"dup"},
		Caller: Caller{UID: 2, Admin: true},
	})
	assert.ErrorIs(t, err, errs.NameExists)

	dom.Mu.RLock()
	id, found := dom.Resolve("dup")
	dom.Mu.RUnlock()
	require.True(t, found)
	assert.Equal(t, p1.ID(), id, "the losing peer's candidate name must not appear in the index")
}

func TestReconnectMismatch(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	_, err := p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"x"},
		Caller: Caller{UID: 1, Admin: true},
	})
	require.NoError(t, err)

	_, err = p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 4096, Names: []string{"x"},
		Caller: Caller{UID: 1, Admin: true},
	})
	assert.ErrorIs(t, err, errs.RemoteChanged)

	_, err = p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"y"},
		Caller: Caller{UID: 1, Admin: true},
	})
	assert.ErrorIs(t, err, errs.RemoteChanged)

	res, err := p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"x"},
		Caller: Caller{UID: 1, Admin: true},
	})
	assert.ErrorIs(t, err, errs.AlreadyConnected)
	assert.EqualValues(t, 8192, res.PoolSize)
}

// TestReconnectNameCheckMatchesOriginalTwoPhaseAlgorithm exercises
// CheckNames's two-phase match (count names seen vs. the count reported
// when a name lands on the stored list's tail node) against the exact
// case that distinguishes it from a plain set-equality check: a
// resubmission that repeats the peer's tail (oldest) name instead of
// supplying every distinct stored name is still accepted, because
// bus1_peer_names_check counts matches, not distinct elements.
func TestReconnectNameCheckMatchesOriginalTwoPhaseAlgorithm(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	// new-connect prepends each parsed name, so after this call p.names
	// is head="b" -> tail="a" (2 stored names).
	_, err := p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"a", "b"},
		Caller: Caller{UID: 1, Admin: true},
	})
	require.NoError(t, err)

	// The exact stored set, resubmitted: exact match.
	res, err := p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"a", "b"},
		Caller: Caller{UID: 1, Admin: true},
	})
	assert.ErrorIs(t, err, errs.AlreadyConnected)
	assert.EqualValues(t, 8192, res.PoolSize)

	// Same cardinality (2) as the stored list, but missing "b" entirely
	// and repeating the tail name "a" twice instead. A plain set-equality
	// check (distinct names) would reject this as RemoteChanged; the
	// original's counting check accepts it, since both submitted entries
	// resolve against "a" and the running counts agree.
	res, err = p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"a", "a"},
		Caller: Caller{UID: 1, Admin: true},
	})
	assert.ErrorIs(t, err, errs.AlreadyConnected)
	assert.EqualValues(t, 8192, res.PoolSize)

	// A genuinely different set is still rejected.
	res, err = p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 8192, Names: []string{"a", "c"},
		Caller: Caller{UID: 1, Admin: true},
	})
	assert.ErrorIs(t, err, errs.RemoteChanged)
}

func TestResetFlushesPool(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	_, err := p.Connect(ConnectParams{Flags: FlagPeer, PoolSize: 4096, Caller: Caller{UID: 1}})
	require.NoError(t, err)

	info, release, ok := p.AcquireInfo()
	require.True(t, ok)
	info.Mu.Lock()
	slice, err := info.Pool.Publish([]byte("hi"))
	require.NoError(t, err)
	n := info.Queue.Stage()
	info.Queue.Commit(n, slice, 0, []byte("hi"))
	info.Mu.Unlock()
	release()

	res, err := p.Connect(ConnectParams{Flags: FlagReset})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, res.PoolSize)

	info, release, ok = p.AcquireInfo()
	require.True(t, ok)
	info.Mu.Lock()
	assert.Equal(t, 0, info.Queue.Len())
	info.Mu.Unlock()
	release()
}

func TestConnectWithoutAdminCannotClaimNames(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	_, err := p.Connect(ConnectParams{
		Flags: FlagPeer, PoolSize: 4096, Names: []string{"alpha"},
		Caller: Caller{UID: 1, Admin: false},
	})
	assert.ErrorIs(t, err, errs.NotPermitted)
}

func TestQueryRejectsNew(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	_, err := p.Connect(ConnectParams{Flags: FlagQuery})
	assert.ErrorIs(t, err, errs.NotConnected)
}

func TestDisconnectTwiceReturnsAlreadyShutDown(t *testing.T) {
	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	_, err := p.Connect(ConnectParams{Flags: FlagPeer, PoolSize: 4096, Caller: Caller{UID: 1}})
	require.NoError(t, err)

	require.NoError(t, p.Teardown())
	err = p.Teardown()
	assert.ErrorIs(t, err, errs.AlreadyShutDown)
}

// TestTeardownLeavesNoGoroutines guards against a regression where
// Teardown's Deactivate/Drain/Cleanup sequence parks a goroutine on a
// wait queue nobody ever wakes.
func TestTeardownLeavesNoGoroutines(t *testing.T) {
	defer leaktest.Check(t)()

	dom := domain.New(nil)
	users := user.NewRegistry()
	p := New(dom, users)

	_, err := p.Connect(ConnectParams{Flags: FlagPeer, PoolSize: 4096, Caller: Caller{UID: 1}})
	require.NoError(t, err)

	require.NoError(t, p.Teardown())
}

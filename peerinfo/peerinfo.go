// Package peerinfo implements PeerInfo (spec §4.3): the mutable interior
// of a connected peer — its pool, queue, quota binding, and handle maps.
package peerinfo

import (
	"sync/atomic"

	"github.com/google/btree"

	"github.com/busd/bus1/libs/syncutil"
	"github.com/busd/bus1/pool"
	"github.com/busd/bus1/queue"
	"github.com/busd/bus1/seqcount"
	"github.com/busd/bus1/user"
)

// Handle is a per-peer reference to a node (another peer's capability
// surface), tracked in two orderings so it can be looked up by either
// key. Spec §3 names these maps as part of PeerInfo's state; the module's
// operations (§4) never mutate handles beyond this bookkeeping, so the
// implementation here stays intentionally minimal.
type Handle struct {
	ID   uint64
	Node uint64
}

type byID struct{ h *Handle }

func (a byID) Less(than btree.Item) bool { return a.h.ID < than.(byID).h.ID }

type byNode struct{ h *Handle }

func (a byNode) Less(than btree.Item) bool { return a.h.Node < than.(byNode).h.Node }

// Info is the mutable per-peer state created by new-connect and destroyed
// only after the owning peer's active-ref has fully drained.
type Info struct {
	Mu syncutil.Mutex

	User  *user.User
	Pool  *pool.Pool
	Queue *queue.Queue

	handlesByID   *btree.BTree
	handlesByNode *btree.BTree
	nextHandleID  uint64
	handleSeq     seqcount.SeqCount
}

// New creates PeerInfo with a pool of exactly poolSize bytes, an empty
// queue, empty handle maps, and no bound user (spec §4.3).
func New(poolSize int) (*Info, error) {
	p, err := pool.New(poolSize)
	if err != nil {
		return nil, err
	}
	return &Info{
		Pool:          p,
		Queue:         queue.New(),
		handlesByID:   btree.New(32),
		handlesByNode: btree.New(32),
	}, nil
}

// AllocHandle allocates a new handle bound to node, under Mu.
func (in *Info) AllocHandle(node uint64) *Handle {
	in.Mu.Lock()
	defer in.Mu.Unlock()

	h := &Handle{ID: atomic.AddUint64(&in.nextHandleID, 1), Node: node}
	in.handleSeq.BeginWrite()
	in.handlesByID.ReplaceOrInsert(byID{h})
	in.handlesByNode.ReplaceOrInsert(byNode{h})
	in.handleSeq.EndWrite()
	return h
}

// FreeHandle removes a handle from both maps, under Mu.
func (in *Info) FreeHandle(id uint64) {
	in.Mu.Lock()
	defer in.Mu.Unlock()

	existing := in.handlesByID.Get(byID{&Handle{ID: id}})
	if existing == nil {
		return
	}
	h := existing.(byID).h
	in.handleSeq.BeginWrite()
	in.handlesByID.Delete(byID{h})
	in.handlesByNode.Delete(byNode{h})
	in.handleSeq.EndWrite()
}

// LookupByID finds a handle by id using the seqcount-retry read pattern
// spec §3 describes for handle-map readers.
func (in *Info) LookupByID(id uint64) (*Handle, bool) {
	start := in.handleSeq.ReadBegin()
	for {
		in.Mu.Lock()
		existing := in.handlesByID.Get(byID{&Handle{ID: id}})
		in.Mu.Unlock()

		if existing != nil {
			return existing.(byID).h, true
		}
		if !in.handleSeq.ReadRetry(start) {
			return nil, false
		}
		start = in.handleSeq.ReadBegin()
	}
}

// Reset flushes all queued messages and pool allocations (spec §4.3's
// RESET/GC flush semantics). Called with the owning peer's write-lock
// held; no domain lock is needed.
func (in *Info) Reset() {
	in.Mu.Lock()
	defer in.Mu.Unlock()

	in.Queue.FlushCommitted(func(s pool.Slice) {
		_ = in.Pool.Release(s)
	})
	in.Queue.PostFlush()
	in.Pool.Flush()
}

// Free destroys the queue, pool, and quota binding. Preconditions: the
// user binding has already been released by the caller and Reset has
// already run (spec §4.3).
func (in *Info) Free() {
	in.Queue.Dispose()
	_ = in.Pool.Destroy()
	in.User = nil
}

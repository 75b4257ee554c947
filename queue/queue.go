// Package queue implements the "queue" contract spec §1/§3 lists as a
// consumed external collaborator: a committed/staged ordered collection of
// message nodes. Delivery order is backed by
// github.com/Workiva/go-datastructures/queue's PriorityQueue — a direct
// concrete fit for "a committed/staged priority queue of message nodes"
// (spec glossary) — keyed by the monotonic sequence number a node is
// assigned when it is staged, so that commit order for a single sender
// coincides with stage (send) order, matching the "queue order
// preservation" law in spec §8.
//
// Like pool, Queue is not internally synchronized; bus1/peerinfo holds
// the info mutex around every call, per spec §3/§5.
package queue

import (
	"sync/atomic"

	dsqueue "github.com/Workiva/go-datastructures/queue"

	"github.com/busd/bus1/pool"
)

// Node is one message slot in a peer's queue. It is created staged (no
// payload yet) and later committed with a payload, or left staged forever
// if a transaction aborts.
type Node struct {
	seq       uint64
	committed bool
	unlinked  bool

	Slice   pool.Slice
	NFiles  int
	Payload []byte // retained for tests; real installs go through bus1/fds
}

// item adapts *Node to dsqueue.Item so the priority queue orders purely by
// stage sequence.
type item struct{ node *Node }

func (it item) Compare(other dsqueue.Item) int {
	o := other.(item)
	switch {
	case it.node.seq < o.node.seq:
		return -1
	case it.node.seq > o.node.seq:
		return 1
	default:
		return 0
	}
}

// Queue holds one peer's staged and committed message nodes.
type Queue struct {
	nextSeq uint64
	staged  []*Node
	ready   *dsqueue.PriorityQueue
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{ready: dsqueue.NewPriorityQueue(16, false)}
}

// Stage reserves an ordering position for a future message, returning the
// uncommitted Node. Used by the transaction engine's InstantiateForID
// (spec §4.7's multicast slow path).
func (q *Queue) Stage() *Node {
	n := &Node{seq: atomic.AddUint64(&q.nextSeq, 1)}
	q.staged = append(q.staged, n)
	return n
}

// Commit attaches a payload to a staged node and makes it visible to
// Peek/Dequeue in its reserved position. Committing a node that was
// already unlinked (by a concurrent Reset) is a silent no-op, matching
// spec §9's "late commits ... silently dropped" convention.
func (q *Queue) Commit(n *Node, slice pool.Slice, nFiles int, payload []byte) {
	if n.unlinked {
		return
	}
	n.Slice = slice
	n.NFiles = nFiles
	n.Payload = payload
	n.committed = true
	q.removeStaged(n)
	_ = q.ready.Put(item{node: n})
}

// Abort discards a staged node without committing it (a failed multicast
// instantiation, spec §4.7).
func (q *Queue) Abort(n *Node) {
	q.removeStaged(n)
}

func (q *Queue) removeStaged(n *Node) {
	for i, s := range q.staged {
		if s == n {
			q.staged = append(q.staged[:i], q.staged[i+1:]...)
			return
		}
	}
}

// Peek returns the first committed node without removing it, or nil if
// none is committed yet.
func (q *Queue) Peek() *Node {
	it := q.ready.Peek()
	if it == nil {
		return nil
	}
	return it.(item).node
}

// Dequeue removes and returns the first committed node, or nil if none is
// committed yet.
func (q *Queue) Dequeue() *Node {
	if q.ready.Empty() {
		return nil
	}
	items, err := q.ready.Get(1)
	if err != nil || len(items) == 0 {
		return nil
	}
	return items[0].(item).node
}

// Len reports the number of committed, not-yet-dequeued nodes.
func (q *Queue) Len() int {
	return int(q.ready.Len())
}

// FlushCommitted deallocates every committed node's pool slice via
// release, and unlinks every staged node so a later Commit self-discards
// (spec §4.3 step 1).
func (q *Queue) FlushCommitted(release func(pool.Slice)) {
	for {
		n := q.Dequeue()
		if n == nil {
			break
		}
		release(n.Slice)
	}
	for _, n := range q.staged {
		n.unlinked = true
	}
	q.staged = nil
}

// PostFlush publishes a marker so any commit that lands after a flush
// observes the boundary. In this implementation FlushCommitted already
// drains and unlinks synchronously under the caller's mutex, so PostFlush
// is a no-op retained to keep the reset sequence (flush queue, then flush
// pool) explicit at call sites, matching spec §4.3 step 2.
func (q *Queue) PostFlush() {}

// Dispose releases the underlying priority queue's resources. Called from
// PeerInfo.Free (spec §4.3).
func (q *Queue) Dispose() {
	q.ready.Dispose()
}

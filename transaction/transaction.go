// Package transaction implements the "transaction" contract spec §1/§3
// lists as a consumed external collaborator: the atomic multi-destination
// publishing unit backing the send path (spec §4.7). A transaction either
// lands a copy of the sender's payload in every destination's queue, or
// (on any instantiation failure) leaves no trace in any of them.
//
// Message bytes are carried in a scratch buffer borrowed from
// github.com/libp2p/go-buffer-pool when the caller's own stack scratch
// (spec §4.7's "~512 bytes") is too small for the payload — mirroring the
// kernel driver's fallback from a stack buffer to a heap allocation.
package transaction

import (
	"github.com/pkg/errors"
	bpool "github.com/libp2p/go-buffer-pool"

	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/errs"
	"github.com/busd/bus1/peerinfo"
	"github.com/busd/bus1/pool"
	"github.com/busd/bus1/queue"
	"github.com/busd/bus1/user"
)

// Flags mirror the SEND flag bits importable from spec §4.7.
type Flags uint32

const (
	IgnoreUnknown Flags = 1 << iota
	ConveyErrors
)

// SendParams is the fixed-size parameter block spec §4.7 says the send
// path imports before building a transaction.
type SendParams struct {
	Flags       Flags
	NVecs       int
	NFds        int
	Destination []uint64 // destination peer ids; len 1 is the unicast fast path
}

// pending tracks one destination this transaction has reserved pool space
// and a staged queue node in, but not yet committed or rolled back.
type pending struct {
	info    *peerinfo.Info
	release func()
	node    *queue.Node
	slice   pool.Slice
}

// Transaction accumulates reserved destinations for one SEND call.
type Transaction struct {
	dom     *domain.Domain
	sender  *user.User
	payload []byte // the sender's message bytes, excluding the fd tail
	nFiles  int
	scratch []byte
	borrowed bool

	// publish is what actually gets copied into each destination's pool:
	// payload followed by nFiles*8 bytes of headroom for recvDequeue to
	// later write the receiver's installed fd numbers into (spec §4.8
	// step 5). Equal to payload when nFiles == 0.
	publish []byte

	pending   []*pending
	committed bool
}

const stackScratchSize = 512

// FDTailBytes is the per-fd width of the trailing fd-number table a
// receive writes into a published slice (spec §4.8 step 5): one
// little-endian uint64 per installed descriptor. bus1/dispatch uses this
// same width to recover the sender's original message size from a
// published slice that has this much reserved headroom appended.
const FDTailBytes = 8

// NewFromUser builds a Transaction carrying a copy of payload. If payload
// fits within a stackScratch-sized buffer the caller already has on hand,
// that buffer is used in place (spec §4.7); otherwise a scratch buffer is
// borrowed from the buffer pool and must be returned by Destroy. Every
// destination's published pool slice additionally reserves nFiles*8 bytes
// of headroom beyond payload so a later receive has somewhere to write
// the fd table without overwriting message bytes.
func NewFromUser(dom *domain.Domain, sender *user.User, payload []byte, nFiles int, stackScratch []byte) (*Transaction, error) {
	if nFiles < 0 {
		return nil, errors.Wrap(errs.InvalidArg, "transaction: negative file count")
	}

	t := &Transaction{dom: dom, sender: sender, nFiles: nFiles}

	if len(stackScratch) >= len(payload) {
		t.scratch = stackScratch[:len(payload)]
		copy(t.scratch, payload)
	} else {
		t.scratch = bpool.Get(len(payload))
		copy(t.scratch, payload)
		t.borrowed = true
	}
	t.payload = t.scratch

	if nFiles == 0 {
		t.publish = t.payload
	} else {
		t.publish = make([]byte, len(t.payload)+nFiles*FDTailBytes)
		copy(t.publish, t.payload)
	}
	return t, nil
}

// InstantiateForID reserves pool space and a staged queue slot in the
// destination peer's PeerInfo (spec §4.7's multicast slow path). On
// failure the transaction holds no reservation in that destination; the
// caller must still call Destroy to unwind any destinations instantiated
// before this one failed.
func (t *Transaction) InstantiateForID(id uint64) error {
	dst, ok := t.lookup(id)
	if !ok {
		return errors.Wrap(errs.NotFound, "transaction: unknown destination")
	}

	info, release, ok := dst.AcquireInfo()
	if !ok {
		return errors.Wrap(errs.AlreadyShutDown, "transaction: destination already shut down")
	}

	info.Mu.Lock()
	slice, err := info.Pool.Publish(t.publish)
	if err != nil {
		info.Mu.Unlock()
		release()
		return err
	}
	node := info.Queue.Stage()
	info.Mu.Unlock()

	t.pending = append(t.pending, &pending{info: info, release: release, node: node, slice: slice})
	return nil
}

// CommitForID is the unicast fast path: instantiate and immediately commit
// a single destination (spec §4.7).
func (t *Transaction) CommitForID(id uint64) error {
	if err := t.InstantiateForID(id); err != nil {
		return err
	}
	return t.Commit()
}

// Commit finalizes every reserved destination by making its staged node
// visible to Peek/Dequeue. Once Commit returns successfully, Destroy is a
// no-op for every destination landed here.
func (t *Transaction) Commit() error {
	for _, p := range t.pending {
		info := p.info
		info.Mu.Lock()
		info.Queue.Commit(p.node, p.slice, t.nFiles, t.payload)
		info.Mu.Unlock()
		p.release()
	}
	t.pending = nil
	t.committed = true
	t.freeScratch()
	return nil
}

// Destroy rolls back any destination that was instantiated but never
// committed, and returns the transaction's borrowed scratch buffer, if
// any, to the pool (spec §4.7: "the stack scratch is not freed if it was
// used in place").
func (t *Transaction) Destroy() {
	for _, p := range t.pending {
		info := p.info
		info.Mu.Lock()
		info.Queue.Abort(p.node)
		_ = info.Pool.Release(p.slice)
		info.Mu.Unlock()
		p.release()
	}
	t.pending = nil
	t.freeScratch()
}

func (t *Transaction) freeScratch() {
	if t.borrowed && t.scratch != nil {
		bpool.Put(t.scratch)
		t.scratch = nil
		t.borrowed = false
	}
}

func (t *Transaction) lookup(id uint64) (domain.PeerRef, bool) {
	t.dom.Mu.RLock()
	defer t.dom.Mu.RUnlock()
	return t.dom.Lookup(id)
}

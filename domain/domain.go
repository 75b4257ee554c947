// Package domain implements the "domain" contract from spec §3: the
// parent container holding the name index and the peer list. It never
// imports bus1/peer — peer depends on domain, not the other way around —
// so the name index stores peers behind the PeerRef interface instead of
// a concrete type.
package domain

import (
	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/busd/bus1/activeref"
	"github.com/busd/bus1/errs"
	"github.com/busd/bus1/libs/metrics"
	"github.com/busd/bus1/libs/syncutil"
	"github.com/busd/bus1/peerid"
	"github.com/busd/bus1/peerinfo"
	"github.com/busd/bus1/seqcount"
)

// PeerRef is the view of a peer the domain's name index and the
// transaction engine need. bus1/peer.Peer implements this.
type PeerRef interface {
	ID() uint64
	IsActive() bool
	// AcquireInfo pins the peer's active-ref and returns its current
	// PeerInfo. release must be called exactly once. ok is false if the
	// peer could not be pinned (already shut down).
	AcquireInfo() (info *peerinfo.Info, release func(), ok bool)
}

type nameEntry struct {
	name string
	peer PeerRef
}

func (n nameEntry) Less(than btree.Item) bool {
	return n.name < than.(nameEntry).name
}

// Domain is the parent registry peers connect into.
//
// Mu doubles as both the "domain mutex" and the reader/writer gate for the
// name index: writers take Mu.Lock() and additionally bump Seq around
// their critical section; Resolve takes Mu.RLock() and runs the
// spec-shaped seqcount retry loop underneath it. Go gives no safe way to
// walk a plain tree while another goroutine mutates it without some
// synchronization (unlike the original's RCU-protected rbtree), so the
// RWMutex is what actually keeps concurrent Resolve calls memory-safe;
// the seqcount loop is kept byte-for-byte faithful to spec §4.6's
// algorithm shape on top of that. See DESIGN.md.
type Domain struct {
	Mu  syncutil.RWMutex
	Seq seqcount.SeqCount

	names   *btree.BTree
	peers   map[uint64]PeerRef
	nNames  int
	nPeers  int
	ids     peerid.Allocator
	Active  *activeref.Ref
	Metrics *metrics.Metrics
}

// New returns an empty, activated Domain.
func New(m *metrics.Metrics) *Domain {
	if m == nil {
		m = metrics.NopMetrics()
	}
	d := &Domain{
		names:   btree.New(32),
		peers:   make(map[uint64]PeerRef),
		Active:  activeref.New(),
		Metrics: m,
	}
	d.Active.Activate()
	return d
}

// NextPeerID allocates the next domain-scoped monotonic peer id (resolves
// the Open Question in spec §9: a peer's externally visible id is a
// domain-scoped monotonic counter installed at activate).
func (d *Domain) NextPeerID() uint64 {
	return d.ids.Next()
}

// InsertName inserts name -> peer into the index. The caller must hold Mu
// and have called Seq.BeginWrite. Returns NameExists on collision.
func (d *Domain) InsertName(name string, peer PeerRef) error {
	entry := nameEntry{name: name, peer: peer}
	if existing := d.names.Get(entry); existing != nil {
		return errors.Wrapf(errs.NameExists, "domain: name %q already claimed", name)
	}
	d.names.ReplaceOrInsert(entry)
	d.nNames++
	d.Metrics.Names.Set(float64(d.nNames))
	return nil
}

// RemoveName removes name from the index, if present. The caller must
// hold Mu and have called Seq.BeginWrite. Idempotent.
func (d *Domain) RemoveName(name string) {
	entry := nameEntry{name: name}
	if d.names.Delete(entry) != nil {
		d.nNames--
		d.Metrics.Names.Set(float64(d.nNames))
	}
}

// AddPeer links peer into the domain's peer list. The caller must hold Mu
// and have called Seq.BeginWrite.
func (d *Domain) AddPeer(peer PeerRef) {
	d.peers[peer.ID()] = peer
	d.nPeers++
	d.Metrics.Peers.Set(float64(d.nPeers))
}

// RemovePeer unlinks a peer from the domain's peer list. The caller must
// hold Mu and have called Seq.BeginWrite.
func (d *Domain) RemovePeer(id uint64) {
	if _, ok := d.peers[id]; ok {
		delete(d.peers, id)
		d.nPeers--
		d.Metrics.Peers.Set(float64(d.nPeers))
	}
}

// Peers returns a snapshot slice of every linked peer. The caller must
// hold at least Mu.RLock().
func (d *Domain) Peers() []PeerRef {
	out := make([]PeerRef, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}

// NNames returns the current name-index cardinality. The caller must hold
// at least Mu.RLock().
func (d *Domain) NNames() int { return d.nNames }

// NPeers returns the current peer-list length. The caller must hold at
// least Mu.RLock().
func (d *Domain) NPeers() int { return d.nPeers }

// Resolve implements spec §4.6: find the id of an ACTIVE peer bearing
// name, or report not-found. A name whose owner is DEACTIVATING or DEAD is
// treated as not found.
func (d *Domain) Resolve(name string) (id uint64, found bool) {
	start := d.Seq.ReadBegin()
	for {
		d.Mu.RLock()
		entry := d.names.Get(nameEntry{name: name})
		d.Mu.RUnlock()

		if entry != nil {
			ne := entry.(nameEntry)
			if ne.peer.IsActive() {
				return ne.peer.ID(), true
			}
			return 0, false
		}

		if !d.Seq.ReadRetry(start) {
			return 0, false
		}
		start = d.Seq.ReadBegin()
	}
}

// Lookup finds a linked peer by id. The caller must hold at least
// Mu.RLock(). Used by the transaction engine to resolve a unicast or
// multicast destination handle to its owning peer.
func (d *Domain) Lookup(id uint64) (PeerRef, bool) {
	p, ok := d.peers[id]
	return p, ok
}

// AcquireActive pins the domain for a CONNECT/RESOLVE call (spec §4.10).
func (d *Domain) AcquireActive() (activeref.Token, bool) {
	return d.Active.Acquire()
}

// ReleaseActive releases a token from AcquireActive.
func (d *Domain) ReleaseActive(tok activeref.Token) {
	d.Active.Release(tok, nil)
}

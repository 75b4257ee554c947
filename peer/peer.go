// Package peer implements Peer (spec §3/§4.4): the stable outer identity
// of a connected endpoint, and the connect/reset/query write-side state
// machine (spec §4.5) and teardown (spec §4.9) built on top of it.
package peer

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/busd/bus1/activeref"
	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/errs"
	"github.com/busd/bus1/libs/syncutil"
	"github.com/busd/bus1/peerinfo"
	"github.com/busd/bus1/peername"
	"github.com/busd/bus1/user"
)

// ConnectFlags are the CONNECT mode bits spec §4.5 says are mutually
// exclusive except for QUERY, which may combine with any of them.
type ConnectFlags uint32

const (
	FlagPeer ConnectFlags = 1 << iota
	FlagMonitor
	FlagReset
	FlagQuery
)

func (f ConnectFlags) modeBits() int {
	n := 0
	if f&FlagPeer != 0 {
		n++
	}
	if f&FlagMonitor != 0 {
		n++
	}
	if f&FlagReset != 0 {
		n++
	}
	return n
}

// Caller carries the identity a CONNECT call runs as: the UID its quota
// account binds to, and whether it holds administrative capability in the
// domain's user namespace (spec §4.5: "only a caller with administrative
// capability ... may claim names").
type Caller struct {
	UID   uint32
	Admin bool
}

// ConnectParams is the CONNECT argument block spec §4.5 and the GLOSSARY
// describe: a flag word, the desired pool size, and a trailing blob of
// zero-terminated names.
type ConnectParams struct {
	Flags    ConnectFlags
	PoolSize uint64
	Names    []string // already split on the zero terminators
	Caller   Caller
}

// ConnectResult carries the QUERY/RESET out-parameter: the peer's current
// pool size, valid whenever the call succeeds.
type ConnectResult struct {
	PoolSize uint64
}

// Peer is the stable outer handle. Mu gates connect/reset/teardown
// (writers) against send/receive/slice-release (readers), per spec §3.
type Peer struct {
	Mu    syncutil.RWMutex
	WaitQ *activeref.WaitQueue
	Active *activeref.Ref

	dom   *domain.Domain
	users *user.Registry

	id   uint64
	info *peerinfo.Info // nil iff Active is New or Dead
	names *peername.Name
	user *user.User
}

// New allocates an unlinked, NEW peer (spec §4.4).
func New(dom *domain.Domain, users *user.Registry) *Peer {
	return &Peer{
		WaitQ:  activeref.NewWaitQueue(),
		Active: activeref.New(),
		dom:    dom,
		users:  users,
	}
}

// ID returns the peer's domain-scoped id (implements domain.PeerRef).
func (p *Peer) ID() uint64 { return p.id }

// IsActive implements domain.PeerRef.
func (p *Peer) IsActive() bool { return p.Active.IsActive() }

// AcquireInfo pins the peer's active-ref and returns its current
// PeerInfo (implements domain.PeerRef, consumed by bus1/transaction).
func (p *Peer) AcquireInfo() (*peerinfo.Info, func(), bool) {
	tok, ok := p.Active.Acquire()
	if !ok {
		return nil, nil, false
	}
	p.Mu.RLock()
	info := p.info
	p.Mu.RUnlock()
	if info == nil {
		p.Active.Release(tok, p.WaitQ)
		return nil, nil, false
	}
	return info, func() { p.Active.Release(tok, p.WaitQ) }, true
}

// Dereference returns the current info pointer; the caller must already
// hold an active-ref (spec §4.4). The returned pointer is only valid for
// the lifetime of that active-ref — a concurrent Reset may swap it out
// from under a cached copy, so any code that caches a handle id alongside
// the info it was read from must re-validate the id at every observable
// step (spec §4.4).
func (p *Peer) Dereference() (*peerinfo.Info, bool) {
	p.Mu.RLock()
	defer p.Mu.RUnlock()
	return p.info, p.info != nil
}

// Wake wakes the peer's poll wait set.
func (p *Peer) Wake() { p.WaitQ.Wake() }

// Connect runs one of new-connect, reset, or query under the peer's
// write-lock and the domain's active-ref (spec §4.5). The caller must
// already hold a domain active-ref token; Connect does not acquire one.
func (p *Peer) Connect(params ConnectParams) (ConnectResult, error) {
	if params.Flags.modeBits() > 1 {
		return ConnectResult{}, errors.Wrap(errs.InvalidArg, "peer: at most one of PEER, MONITOR, RESET may be set")
	}

	p.Mu.Lock()
	defer p.Mu.Unlock()

	var (
		res ConnectResult
		err error
	)

	switch {
	case params.Flags&(FlagPeer|FlagMonitor) != 0:
		res, err = p.newConnectLocked(params)
	case params.Flags&FlagReset != 0:
		res, err = p.resetLocked(params)
	default:
		res, err = p.queryLocked(params)
	}
	if err != nil {
		// res is empty on every error except AlreadyConnected, which
		// reports the existing pool size.
		return res, err
	}

	// Spec §4.5: "After success, if QUERY is set, pool_size is copied
	// back to user space" — every sub-operation above already reports
	// the current pool size in res, so combining with QUERY needs no
	// extra work here.
	return res, nil
}

// newConnectLocked implements spec §4.5's new-connect sub-operation.
// Called with Mu held for write.
func (p *Peer) newConnectLocked(params ConnectParams) (ConnectResult, error) {
	if !p.Active.IsNew() {
		if p.info != nil && p.info.Pool.Size() == params.PoolSize && p.CheckNames(params.Names) {
			return ConnectResult{PoolSize: p.info.Pool.Size()}, errors.Wrap(errs.AlreadyConnected, "peer: already connected with matching parameters")
		}
		return ConnectResult{}, errors.Wrap(errs.RemoteChanged, "peer: already connected with different parameters")
	}

	if len(params.Names) > 0 && !params.Caller.Admin {
		return ConnectResult{}, errors.Wrap(errs.NotPermitted, "peer: claiming names requires administrative capability")
	}

	info, err := peerinfo.New(int(params.PoolSize))
	if err != nil {
		return ConnectResult{}, err
	}

	u := p.users.AcquireByUID(params.Caller.UID)
	info.User = u

	names, err := buildNamesLocked(params.Names, p)
	if err != nil {
		p.users.Release(u)
		return ConnectResult{}, err
	}

	p.dom.Mu.Lock()
	p.dom.Seq.BeginWrite()
	inserted := make([]*peername.Name, 0, len(names))
	var insertErr error
	for _, n := range names {
		if insertErr = n.Add(p.dom); insertErr != nil {
			break
		}
		inserted = append(inserted, n)
	}
	if insertErr != nil {
		for _, n := range inserted {
			n.Remove(p.dom)
		}
		p.dom.Seq.EndWrite()
		p.dom.Mu.Unlock()
		p.users.Release(u)
		return ConnectResult{}, insertErr
	}

	p.id = p.dom.NextPeerID()
	p.dom.AddPeer(p)
	p.dom.Seq.EndWrite()
	p.dom.Mu.Unlock()

	p.info = info
	p.user = u
	p.names = linkNames(names)
	p.Active.Activate()

	return ConnectResult{PoolSize: info.Pool.Size()}, nil
}

// resetLocked implements spec §4.5's reset sub-operation. Called with Mu
// held for write.
func (p *Peer) resetLocked(params ConnectParams) (ConnectResult, error) {
	if p.Active.IsNew() {
		return ConnectResult{}, errors.Wrap(errs.NotConnected, "peer: not connected")
	}
	if params.PoolSize != 0 || len(params.Names) > 0 {
		return ConnectResult{}, errors.Wrap(errs.InvalidArg, "peer: RESET takes no pool_size or names")
	}

	size := p.info.Pool.Size()
	p.info.Reset()

	// A reset re-identifies the peer with a fresh domain-scoped id.
	p.dom.Mu.Lock()
	p.dom.Seq.BeginWrite()
	p.dom.RemovePeer(p.id)
	p.id = p.dom.NextPeerID()
	p.dom.AddPeer(p)
	p.dom.Seq.EndWrite()
	p.dom.Mu.Unlock()

	return ConnectResult{PoolSize: size}, nil
}

// queryLocked implements spec §4.5's query sub-operation. Called with Mu
// held for write (matching the "all three sub-operations run with ...
// the peer's write-lock held" rule).
func (p *Peer) queryLocked(params ConnectParams) (ConnectResult, error) {
	if p.Active.IsNew() {
		return ConnectResult{}, errors.Wrap(errs.NotConnected, "peer: not connected")
	}
	return ConnectResult{PoolSize: p.info.Pool.Size()}, nil
}

// CheckNames implements the original's two-phase
// bus1_peer_names_check/bus1_peer_name_check: rather than a set-equality
// shortcut, it walks p.names (head to tail) once per submitted name and
// additionally requires that one of the submitted names land on the
// list's tail node — the peer's oldest stored name, since new-connect
// always prepends freshly parsed names onto the head of the list (see
// linkNames). The caller must hold Mu.
func (p *Peer) CheckNames(submitted []string) bool {
	if len(submitted) == 0 {
		return p.names == nil
	}

	var total int // length of p.names, learned only from the tail match
	for _, want := range submitted {
		found, isTail, count := checkName(p.names, want)
		if !found {
			return false
		}
		if isTail {
			total = count
		}
	}
	return total == len(submitted)
}

// checkName walks head looking for want, reporting whether it was found,
// whether it was found at the tail node (next == nil), and if so the
// total number of nodes walked to reach it (i.e. len(head list)).
func checkName(head *peername.Name, want string) (found, isTail bool, count int) {
	n := 0
	for cur := head; cur != nil; cur = cur.Next {
		n++
		if cur.Value == want {
			return true, cur.Next == nil, n
		}
	}
	return false, false, 0
}

const nameMax = 255

func buildNamesLocked(raw []string, owner *Peer) ([]*peername.Name, error) {
	names := make([]*peername.Name, 0, len(raw))
	for _, v := range raw {
		if strings.IndexByte(v, 0) >= 0 {
			return nil, errors.Wrap(errs.InvalidArg, "peer: embedded NUL in name")
		}
		n, err := peername.New(v, owner, nameMax)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

// linkNames builds the peer's singly linked name list in reverse order,
// so that the last name parsed from the trailing blob ends up at the
// head — matching spec §4.5's "build PeerName objects in reverse order
// (insertion order at the head of the list)".
func linkNames(names []*peername.Name) *peername.Name {
	var head *peername.Name
	for _, n := range names {
		n.Next = head
		head = n
	}
	return head
}

// Teardown implements spec §4.9's peer teardown (DISCONNECT): deactivate,
// drain in-flight send/receive/query callers, then run the one-shot
// cleanup under the domain mutex and seqcount, and finally free the
// detached info outside all locks. Returns AlreadyShutDown if the peer
// was already torn down.
func (p *Peer) Teardown() error {
	p.Mu.Lock()
	p.Active.Deactivate()
	p.Mu.Unlock()

	p.Active.Drain(p.WaitQ)

	p.Mu.Lock()
	p.dom.Mu.Lock()
	p.dom.Seq.BeginWrite()

	var freedInfo *peerinfo.Info
	fired := p.Active.Cleanup(nil, func(*activeref.Ref, interface{}) {
		freedInfo = p.cleanupLocked()
	}, nil)

	p.dom.Seq.EndWrite()
	p.dom.Mu.Unlock()
	p.Mu.Unlock()

	if !fired {
		return errors.Wrap(errs.AlreadyShutDown, "peer: already torn down")
	}
	if freedInfo != nil {
		freedInfo.Reset()
		freedInfo.Free()
	}
	return nil
}

// cleanupLocked is the cleanup callback body from spec §4.9: remove every
// PeerName from the domain index and the peer's own list, release the
// user binding, unlink the peer from the domain list, decrement
// domain.n_peers. Called with Mu, the domain mutex, and the domain
// seqcount's write section all held. Returns the detached info so the
// caller can Free it outside the locks.
func (p *Peer) cleanupLocked() *peerinfo.Info {
	for n := p.names; n != nil; {
		next := n.Next
		n.Remove(p.dom)
		n = next
	}
	p.names = nil

	if p.user != nil {
		p.users.Release(p.user)
		p.user = nil
	}

	p.dom.RemovePeer(p.id)

	info := p.info
	p.info = nil
	return info
}

// DomainAssistedTeardown runs cleanup for a peer the domain itself is
// tearing down in bulk (spec §4.9: "domain-assisted teardown"). The
// domain must have already deactivated and drained this peer; the caller
// holds the domain mutex and seqcount already. Unlike Teardown, this does
// not touch the domain's peer list — the domain resets that list itself.
// Idempotent: a second call is a no-op and returns nil.
func (p *Peer) DomainAssistedTeardown() *peerinfo.Info {
	p.Mu.Lock()
	defer p.Mu.Unlock()

	var freedInfo *peerinfo.Info
	p.Active.Cleanup(nil, func(*activeref.Ref, interface{}) {
		for n := p.names; n != nil; {
			next := n.Next
			n.Remove(p.dom)
			n = next
		}
		p.names = nil

		if p.user != nil {
			p.users.Release(p.user)
			p.user = nil
		}

		freedInfo = p.info
		p.info = nil
	}, nil)
	return freedInfo
}

// Free requires NEW or DEAD, not linked in any domain, no names, no info
// (spec §4.4). It is a precondition check only; actual destruction in Go
// is left to the garbage collector once the last reference is dropped.
func (p *Peer) Free() error {
	p.Mu.Lock()
	defer p.Mu.Unlock()
	if p.Active.IsActive() || p.Active.State() == activeref.StateDeactivating {
		return errors.Wrap(errs.NotPermitted, "peer: cannot free a still-active peer")
	}
	if p.info != nil || p.names != nil {
		return errors.Wrap(errs.NotPermitted, "peer: cannot free a peer with live info or names")
	}
	return nil
}

// Package peername implements PeerName (spec §4.2): an immutable
// (name, owning-peer) node linked into both the owning peer's private name
// list and the domain's ordered name index.
package peername

import (
	"github.com/pkg/errors"

	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/errs"
)

// Name is one claimed name belonging to a peer. Next threads the owning
// peer's singly linked name list (spec §3's "names").
type Name struct {
	Value string
	Peer  domain.PeerRef
	Next  *Name
}

// New validates and constructs a Name. It rejects names shorter than 1
// byte or longer than maxLen (NAME_MAX).
func New(value string, peer domain.PeerRef, maxLen int) (*Name, error) {
	if len(value) < 1 {
		return nil, errors.Wrap(errs.InvalidArg, "peername: name must be non-empty")
	}
	if len(value) > maxLen {
		return nil, errors.Wrapf(errs.MsgTooBig, "peername: name %q exceeds %d bytes", value, maxLen)
	}
	return &Name{Value: value, Peer: peer}, nil
}

// Add inserts the name into dom's ordered index. Must be called with the
// domain mutex held and the domain seqcount in write mode (spec §4.2).
func (n *Name) Add(dom *domain.Domain) error {
	return dom.InsertName(n.Value, n.Peer)
}

// Remove detaches the name from dom's index. Idempotent. Must be called
// with the domain mutex held and the domain seqcount in write mode.
func (n *Name) Remove(dom *domain.Domain) {
	dom.RemoveName(n.Value)
}

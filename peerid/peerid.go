// Package peerid resolves the Open Question in spec §9: a peer's
// externally visible id is a domain-scoped monotonic counter, allocated
// fresh each time new-connect or reset runs on a peer (spec §4.5), so an
// id cached before a reset no longer names the reset peer. Late commits
// into a reset peer's queue are dropped by the queue's unlinked-node
// check, not by comparing ids.
package peerid

import "sync/atomic"

// Allocator mints domain-scoped monotonic peer ids.
type Allocator struct {
	next uint64
}

// Next returns the next id, starting from 1 (0 is reserved to mean
// "never assigned").
func (a *Allocator) Next() uint64 {
	return atomic.AddUint64(&a.next, 1)
}

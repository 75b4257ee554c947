// Package activeref implements the ActiveRef contract from spec §4.1: a
// drain-able reference count with a NEW/ACTIVE/DEACTIVATING/DEAD lifecycle
// and a cleanup callback that Cleanup runs exactly once, after the ref has
// been deactivated and its last in-flight reference released.
//
// The contract leaves the implementation scheme open ("atomic state word +
// counter + condition variable, or equivalent"); this implementation uses a
// mutex-guarded state and count with a sync.Cond for drain, which keeps the
// state-machine transitions trivially easy to reason about under race
// detection — acceptable here since acquire/release are not a
// microsecond-budget hot path in this module the way they are in the
// kernel original.
package activeref

import "sync"

// State classifies where a Ref sits in its lifecycle.
type State int32

const (
	// StateNew is the state of a freshly constructed Ref, before Activate.
	StateNew State = iota
	// StateActive accepts new Acquire calls.
	StateActive
	// StateDeactivating no longer accepts Acquire calls but has not yet
	// drained its in-flight count.
	StateDeactivating
	// StateDead has run its cleanup callback; terminal.
	StateDead
)

// Ref is a drain-able refcount with a one-shot cleanup callback.
type Ref struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State
	count int64
}

// New returns a Ref in state New.
func New() *Ref {
	r := &Ref{state: StateNew}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Token is returned by Acquire and must be passed back to Release.
type Token struct {
	ref *Ref
}

// WaitQueue is a minimal wake-only wait set, standing in for the peer's
// poll wait queue (spec §3's "waitq"). Callers register interest with
// Wait and are notified by a subsequent Wake.
type WaitQueue struct {
	mu   sync.Mutex
	subs []chan struct{}
}

// NewWaitQueue returns an empty WaitQueue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{}
}

// Wait registers a one-shot channel that closes on the next Wake.
func (w *WaitQueue) Wait() <-chan struct{} {
	ch := make(chan struct{})
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

// Wake notifies every channel registered via Wait since the last Wake.
func (w *WaitQueue) Wake() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// IsNew reports whether the ref has never been activated.
func (r *Ref) IsNew() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateNew
}

// IsActive reports whether the ref currently accepts new acquisitions.
func (r *Ref) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateActive
}

// IsDeactivated reports whether Deactivate has been called (Deactivating
// or Dead).
func (r *Ref) IsDeactivated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateDeactivating || r.state == StateDead
}

// State returns the current state.
func (r *Ref) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Activate transitions New -> Active. It is a no-op if called again (the
// transition is irreversible, so a second call finds state already past
// New and does nothing).
func (r *Ref) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateNew {
		r.state = StateActive
	}
}

// Acquire succeeds only in Active, incrementing the in-flight count and
// returning a Token whose Release decrements it.
func (r *Ref) Acquire() (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateActive {
		return Token{}, false
	}
	r.count++
	return Token{ref: r}, true
}

// Release releases a Token acquired from Acquire. On the last release
// after Deactivate, it wakes waitq (if non-nil) and any goroutine blocked
// in Drain.
func (r *Ref) Release(tok Token, waitq *WaitQueue) {
	if tok.ref == nil {
		return
	}
	r.mu.Lock()
	r.count--
	last := r.state == StateDeactivating && r.count == 0
	r.mu.Unlock()
	if last {
		r.cond.Broadcast()
		if waitq != nil {
			waitq.Wake()
		}
	}
}

// Deactivate transitions Active -> Deactivating. Idempotent; new Acquire
// calls fail immediately afterwards.
func (r *Ref) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateActive {
		r.state = StateDeactivating
	}
}

// Drain blocks until the in-flight count reaches zero. waitq is woken
// (if non-nil) once draining completes, so other waiters relying on it
// observe the same event.
func (r *Ref) Drain(waitq *WaitQueue) {
	r.mu.Lock()
	for r.count > 0 {
		r.cond.Wait()
	}
	r.mu.Unlock()
	if waitq != nil {
		waitq.Wake()
	}
}

// Cleanup is once-only: if this call is the first to observe Deactivating
// with a drained count, it transitions to Dead and invokes fn(r,
// userdata), returning true. Every other call (concurrent or subsequent)
// returns false without invoking fn. waitq, if non-nil, is woken after fn
// returns; pass nil when the caller already holds a lock fn must not sleep
// under (see spec §5 and §4.9's teardown, which passes nil to avoid
// sleeping on the peer's waitq while holding the domain mutex).
func (r *Ref) Cleanup(waitq *WaitQueue, fn func(*Ref, interface{}), userdata interface{}) bool {
	r.mu.Lock()
	if r.state == StateDead || r.state != StateDeactivating || r.count > 0 {
		r.mu.Unlock()
		return false
	}
	r.state = StateDead
	r.mu.Unlock()

	fn(r, userdata)

	if waitq != nil {
		waitq.Wake()
	}
	return true
}

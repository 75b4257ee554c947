// Package seqcount implements the single-writer/multi-reader sequence
// counter spec §3 and §5 require for the domain's name index: writers
// bump the counter around their critical section, and readers retry their
// read-side critical section if they observe the counter change (or land
// on an odd value, meaning a writer is mid-update).
package seqcount

import "sync/atomic"

// SeqCount is a sequence counter. The zero value is ready to use.
type SeqCount struct {
	seq uint64
}

// BeginWrite must be called (under the domain mutex, per spec §5) before
// mutating the protected data structure. It makes the counter odd so
// concurrent readers know a write is in progress.
func (s *SeqCount) BeginWrite() {
	atomic.AddUint64(&s.seq, 1)
}

// EndWrite must be called after the mutation completes, still under the
// domain mutex. It makes the counter even again.
func (s *SeqCount) EndWrite() {
	atomic.AddUint64(&s.seq, 1)
}

// ReadBegin snapshots the counter for a read-side critical section.
func (s *SeqCount) ReadBegin() uint64 {
	return atomic.LoadUint64(&s.seq)
}

// ReadRetry reports whether a read-side critical section started at
// snapshot start must be retried: either a writer was in progress when the
// section started (start is odd) or a writer has run since (the counter
// changed).
func (s *SeqCount) ReadRetry(start uint64) bool {
	return start&1 == 1 || atomic.LoadUint64(&s.seq) != start
}

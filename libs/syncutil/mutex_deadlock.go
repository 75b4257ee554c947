//go:build deadlock

package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is sync.Mutex, or deadlock.Mutex when built with -tags deadlock.
// The domain mutex, peer rwlock, and peer-info mutex are all declared with
// this type so that a lock-order violation of spec §5 (domain mutex ▸ peer
// lock ▸ peer-info mutex) is caught by go-deadlock in debug builds instead
// of hanging in CI.
type Mutex = deadlock.Mutex

// RWMutex is sync.RWMutex, or deadlock.RWMutex when built with -tags
// deadlock.
type RWMutex = deadlock.RWMutex

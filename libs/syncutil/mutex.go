//go:build !deadlock

package syncutil

import "sync"

// Mutex is sync.Mutex. Build with -tags deadlock to swap in
// github.com/sasha-s/go-deadlock's lock-order-violation detector.
type Mutex = sync.Mutex

// RWMutex is sync.RWMutex. Build with -tags deadlock to swap in
// github.com/sasha-s/go-deadlock's lock-order-violation detector.
type RWMutex = sync.RWMutex

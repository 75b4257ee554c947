package peerid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsMonotonicAndNeverZero(t *testing.T) {
	var a Allocator
	seen := make(map[uint64]bool)
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		id := a.Next()
		assert.NotZero(t, id)
		assert.Greater(t, id, prev)
		assert.False(t, seen[id])
		seen[id] = true
		prev = id
	}
}

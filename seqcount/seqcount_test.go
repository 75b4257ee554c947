package seqcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadRetryDetectsConcurrentWrite(t *testing.T) {
	var s SeqCount

	start := s.ReadBegin()
	assert.False(t, s.ReadRetry(start), "no writer ran yet, retry must be false")

	s.BeginWrite()
	s.EndWrite()

	assert.True(t, s.ReadRetry(start), "a writer ran since start, retry must be true")
}

func TestReadBeginOddDuringWrite(t *testing.T) {
	var s SeqCount

	s.BeginWrite()
	mid := s.ReadBegin()
	assert.True(t, s.ReadRetry(mid), "observing an odd sequence must always force a retry")
	s.EndWrite()
}

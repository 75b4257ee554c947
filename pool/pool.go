// Package pool implements the "pool" contract spec §1 lists as a consumed
// external collaborator: an mmap-backed slab that payloads are published
// into as offset-addressed Slices. It is deliberately the simplest
// allocator that satisfies spec §4.3/§4.8's needs (allocate, write,
// release, flush-all), not a production slab allocator — see SPEC_FULL.md
// §14.
//
// Pool is not internally synchronized, mirroring the original C
// implementation where peer_info->lock guards all pool access; callers
// (bus1/peerinfo) hold that mutex around every call here.
package pool

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/busd/bus1/errs"
)

// Slice designates a region of the pool holding one published payload.
type Slice struct {
	Offset uint64
	Size   uint64
}

type freeSpan struct {
	offset uint64
	size   uint64
}

// Pool is an mmap-backed slab of exactly Size bytes.
type Pool struct {
	mem  []byte
	free []freeSpan
}

// New maps size bytes of anonymous memory. size must be positive and a
// multiple of the platform page size, matching spec §4.3's
// bus1_peer_info_new validation.
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, errors.Wrap(errs.InvalidArg, "pool: size must be positive")
	}
	pageSize := unix.Getpagesize()
	if size%pageSize != 0 {
		return nil, errors.Wrapf(errs.InvalidArg, "pool: size %d not a multiple of page size %d", size, pageSize)
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(errs.OutOfMemory, "pool: mmap failed: "+err.Error())
	}

	return &Pool{
		mem:  mem,
		free: []freeSpan{{offset: 0, size: uint64(size)}},
	}, nil
}

// Size returns the total mapped size.
func (p *Pool) Size() uint64 {
	return uint64(len(p.mem))
}

// Publish allocates len(payload) bytes, copies payload in, and returns the
// resulting Slice. First-fit over the free-span list.
func (p *Pool) Publish(payload []byte) (Slice, error) {
	need := uint64(len(payload))
	for i, span := range p.free {
		if span.size < need {
			continue
		}
		slice := Slice{Offset: span.offset, Size: need}
		copy(p.mem[span.offset:span.offset+need], payload)

		if span.size == need {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = freeSpan{offset: span.offset + need, size: span.size - need}
		}
		return slice, nil
	}
	return Slice{}, errors.Wrap(errs.OutOfMemory, "pool: no free span large enough")
}

// WriteAt overwrites part of an already-published slice, used by the
// receive path to append the pre-reserved fd numbers to the tail of a
// message's slice (spec §4.8 step 5).
func (p *Pool) WriteAt(offset uint64, payload []byte) error {
	if offset+uint64(len(payload)) > uint64(len(p.mem)) {
		return errors.Wrap(errs.InvalidArg, "pool: write out of bounds")
	}
	copy(p.mem[offset:], payload)
	return nil
}

// ReadAt copies n bytes starting at offset out of the pool, used by tests
// to assert on published message bytes without reaching into the pool's
// unexported memory.
func (p *Pool) ReadAt(offset, n uint64) ([]byte, error) {
	if offset+n > uint64(len(p.mem)) {
		return nil, errors.Wrap(errs.InvalidArg, "pool: read out of bounds")
	}
	out := make([]byte, n)
	copy(out, p.mem[offset:offset+n])
	return out, nil
}

// Release returns a previously published slice's span to the free list,
// coalescing with adjacent spans.
func (p *Pool) Release(s Slice) error {
	if s.Offset+s.Size > uint64(len(p.mem)) {
		return errors.Wrap(errs.InvalidArg, "pool: release out of bounds")
	}
	p.free = append(p.free, freeSpan{offset: s.Offset, size: s.Size})
	p.coalesce()
	return nil
}

// ReleaseOffset releases the size bytes at offset. The pool keeps no
// reverse offset->size index of live slices, so the caller supplies the
// size; dispatch.SliceRelease takes it from SliceReleaseArgs.
func (p *Pool) ReleaseOffset(offset, size uint64) error {
	return p.Release(Slice{Offset: offset, Size: size})
}

// Flush releases every outstanding allocation, returning the pool to a
// single free span covering the whole mapping. Used by PeerInfo.Reset
// (spec §4.3 step 3).
func (p *Pool) Flush() {
	p.free = []freeSpan{{offset: 0, size: uint64(len(p.mem))}}
}

// Destroy unmaps the pool's memory. The Pool must not be used afterwards.
func (p *Pool) Destroy() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

func (p *Pool) coalesce() {
	sort.Slice(p.free, func(i, j int) bool { return p.free[i].offset < p.free[j].offset })
	merged := p.free[:0]
	for _, span := range p.free {
		if n := len(merged); n > 0 && merged[n-1].offset+merged[n-1].size == span.offset {
			merged[n-1].size += span.size
		} else {
			merged = append(merged, span)
		}
	}
	p.free = merged
}

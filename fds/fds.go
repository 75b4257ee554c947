// Package fds implements the close-on-exec file-descriptor pre-reservation
// helper used by the receive path (spec §4.8 step 2): mint a batch of
// fresh, distinct, close-on-exec descriptors before taking the info mutex,
// so a receive never has to fail for FD-table exhaustion while holding it.
//
// Reserve mints each descriptor as the read end of a throwaway pipe via
// golang.org/x/sys/unix.Pipe2(O_CLOEXEC) — a real kernel-assigned,
// close-on-exec descriptor, the direct Go analogue of the original's
// get_unused_fd_flags(O_CLOEXEC).
package fds

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/busd/bus1/errs"
)

// Reserve mints n fresh, distinct, close-on-exec file descriptors. On any
// failure partway through, every descriptor minted so far is released and
// the error is returned.
func Reserve(n int) ([]int, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		var fdpair [2]int
		if err := unix.Pipe2(fdpair[:], unix.O_CLOEXEC); err != nil {
			Release(out)
			return nil, errors.Wrapf(errs.OutOfMemory, "fds: reserve %d/%d: %v", i, n, err)
		}
		// The write end only exists to let the kernel hand us a pipe
		// pair; we only need one distinct descriptor per reservation.
		_ = unix.Close(fdpair[1])
		out = append(out, fdpair[0])
	}
	return out, nil
}

// Release closes every fd in the slice, ignoring already-closed
// descriptors (fd == -1).
func Release(fds []int) {
	for _, fd := range fds {
		if fd < 0 {
			continue
		}
		_ = unix.Close(fd)
	}
}

var (
	installedMu sync.Mutex
	installed   = map[int][]byte{}
)

// Install binds payload to fd as the descriptor's content, completing a
// reservation. There is no real file to install the descriptor *as* in an
// in-process bus (spec §1's non-goals exclude a networked transport, so
// there is never a foreign process to hand the fd to); this records the
// association for tests that want to assert a receive installed the right
// number of descriptors with the right content.
func Install(fd int, payload []byte) error {
	installedMu.Lock()
	defer installedMu.Unlock()
	installed[fd] = payload
	return nil
}

// Installed returns the payload previously bound to fd via Install, and
// whether anything was ever bound.
func Installed(fd int) ([]byte, bool) {
	installedMu.Lock()
	defer installedMu.Unlock()
	p, ok := installed[fd]
	return p, ok
}

// Forget removes fd's installed-payload record, if any. Call this after
// Release so the test registry doesn't leak across test cases sharing a
// process.
func Forget(fd int) {
	installedMu.Lock()
	defer installedMu.Unlock()
	delete(installed, fd)
}

// Package user implements the "user/quota" contract spec §1/§3 lists as a
// consumed external collaborator: UID-keyed accounting shared by every
// peer the same UID owns. Lookup is sharded across buckets selected by
// github.com/minio/highwayhash hashing the UID, so peers owned by
// different UIDs don't contend on the same lock — a concrete use of
// highwayhash the teacher's go.mod already requires.
package user

import (
	"encoding/binary"
	"runtime"

	"github.com/minio/highwayhash"
	"github.com/pkg/errors"

	"github.com/busd/bus1/errs"
	"github.com/busd/bus1/libs/syncutil"
)

// highwayKey is a fixed, arbitrary 32-byte key. highwayhash requires a
// key of exactly this length; since shard selection has no adversarial
// requirement (it's load distribution, not a security boundary — spec §1
// scopes forgery defenses to UID checks alone), a fixed key is
// appropriate.
var highwayKey = [32]byte{
	0x62, 0x75, 0x73, 0x31, 0x2d, 0x71, 0x75, 0x6f,
	0x74, 0x61, 0x2d, 0x73, 0x68, 0x61, 0x72, 0x64,
	0x2d, 0x6b, 0x65, 0x79, 0x2d, 0x76, 0x31, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// User is the per-UID quota account a PeerInfo binds to while connected.
type User struct {
	UID uint32

	mu      syncutil.Mutex
	refs    int
	bytes   uint64
	handles uint64
}

type shard struct {
	mu    syncutil.Mutex
	users map[uint32]*User
}

// Registry tracks all known Users, sharded by UID.
type Registry struct {
	shards []*shard
}

// NewRegistry returns an empty, UID-sharded user registry.
func NewRegistry() *Registry {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{users: make(map[uint32]*User)}
	}
	return &Registry{shards: shards}
}

func (r *Registry) shardFor(uid uint32) *shard {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uid)
	h := highwayhash.Sum64(buf[:], highwayKey[:])
	return r.shards[h%uint64(len(r.shards))]
}

// AcquireByUID returns the User for uid, creating it on first use, and
// increments its reference count. Pair with Release.
func (r *Registry) AcquireByUID(uid uint32) *User {
	sh := r.shardFor(uid)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	u, ok := sh.users[uid]
	if !ok {
		u = &User{UID: uid}
		sh.users[uid] = u
	}
	u.mu.Lock()
	u.refs++
	u.mu.Unlock()
	return u
}

// Release drops a reference acquired via AcquireByUID, evicting the User
// from the registry once its reference count reaches zero. Matches spec
// §4.9's "release the user binding" cleanup step, called with the domain
// mutex held.
func (r *Registry) Release(u *User) {
	if u == nil {
		return
	}
	sh := r.shardFor(u.UID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	u.mu.Lock()
	u.refs--
	empty := u.refs <= 0
	u.mu.Unlock()

	if empty {
		delete(sh.users, u.UID)
	}
}

// ChargeBytes increments the account's byte usage by n, failing with
// OutOfMemory if that would exceed max.
func (u *User) ChargeBytes(n, max uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bytes+n > max {
		return errors.Wrap(errs.OutOfMemory, "user: byte quota exceeded")
	}
	u.bytes += n
	return nil
}

// UnchargeBytes reverses a prior ChargeBytes.
func (u *User) UnchargeBytes(n uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if n > u.bytes {
		u.bytes = 0
		return
	}
	u.bytes -= n
}

// ChargeHandles increments the account's handle usage by n, failing with
// OutOfMemory if that would exceed max.
func (u *User) ChargeHandles(n, max uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handles+n > max {
		return errors.Wrap(errs.OutOfMemory, "user: handle quota exceeded")
	}
	u.handles += n
	return nil
}

// UnchargeHandles reverses a prior ChargeHandles.
func (u *User) UnchargeHandles(n uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if n > u.handles {
		u.handles = 0
		return
	}
	u.handles -= n
}

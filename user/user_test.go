package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busd/bus1/errs"
)

func TestAcquireByUIDSharesAccount(t *testing.T) {
	r := NewRegistry()

	u1 := r.AcquireByUID(42)
	u2 := r.AcquireByUID(42)
	assert.Same(t, u1, u2, "two acquires of the same UID must return the same account")

	r.Release(u1)
	r.Release(u2)
}

func TestReleaseEvictsOnLastRef(t *testing.T) {
	r := NewRegistry()

	u1 := r.AcquireByUID(7)
	r.Release(u1)

	u2 := r.AcquireByUID(7)
	assert.NotSame(t, u1, u2, "account must be evicted once its refcount drains to zero")
	r.Release(u2)
}

func TestChargeBytesEnforcesQuota(t *testing.T) {
	u := &User{UID: 1}

	require.NoError(t, u.ChargeBytes(100, 150))
	err := u.ChargeBytes(100, 150)
	assert.ErrorIs(t, err, errs.OutOfMemory)

	u.UnchargeBytes(100)
	require.NoError(t, u.ChargeBytes(50, 150))
}

func TestChargeHandlesEnforcesQuota(t *testing.T) {
	u := &User{UID: 1}

	require.NoError(t, u.ChargeHandles(10, 10))
	err := u.ChargeHandles(1, 10)
	assert.ErrorIs(t, err, errs.OutOfMemory)

	u.UnchargeHandles(10)
	require.NoError(t, u.ChargeHandles(5, 10))
}

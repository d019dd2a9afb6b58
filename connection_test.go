// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopConn is a transport stub for tests that never touch the wire.
type nopConn struct{}

func (nopConn) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return nil, nil
}

func (nopConn) Close() error { return nil }

func TestCleanupRunsInRegistrationOrder(t *testing.T) {
	conn := NewConnection(nopConn{})

	var order []int
	conn.AddCleanup(func() { order = append(order, 1) })
	conn.AddCleanup(func() { order = append(order, 2) })
	conn.AddCleanup(func() { order = append(order, 3) })

	require.NoError(t, conn.Close())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRemoveCleanupSkipsCallback(t *testing.T) {
	conn := NewConnection(nopConn{})

	var ran []string
	conn.AddCleanup(func() { ran = append(ran, "a") })
	h := conn.AddCleanup(func() { ran = append(ran, "b") })
	conn.AddCleanup(func() { ran = append(ran, "c") })

	assert.True(t, conn.RemoveCleanup(h))
	assert.False(t, conn.RemoveCleanup(h), "stale handle must be rejected")

	require.NoError(t, conn.Close())
	assert.Equal(t, []string{"a", "c"}, ran)
}

func TestRemoveCleanupRejectsZeroHandle(t *testing.T) {
	conn := NewConnection(nopConn{})
	conn.AddCleanup(func() {})
	assert.False(t, conn.RemoveCleanup(CleanupHandle{}))
}

func TestCleanupMayRemoveItselfDuringTeardown(t *testing.T) {
	conn := NewConnection(nopConn{})

	var h CleanupHandle
	var runs int
	h = conn.AddCleanup(func() {
		runs++
		conn.RemoveCleanup(h)
	})

	require.NoError(t, conn.Close())
	assert.Equal(t, 1, runs)
}

func TestCleanupMayRemoveSiblingDuringTeardown(t *testing.T) {
	conn := NewConnection(nopConn{})

	var ran []string
	var later CleanupHandle
	conn.AddCleanup(func() {
		ran = append(ran, "first")
		conn.RemoveCleanup(later)
	})
	later = conn.AddCleanup(func() { ran = append(ran, "second") })

	require.NoError(t, conn.Close())
	assert.Equal(t, []string{"first"}, ran)
}

func TestCloseHooksRunAfterCleanups(t *testing.T) {
	conn := NewConnection(nopConn{})

	var order []string
	conn.AddCloseHook(func() { order = append(order, "hook") })
	conn.AddCleanup(func() { order = append(order, "cleanup") })

	require.NoError(t, conn.Close())
	assert.Equal(t, []string{"cleanup", "hook"}, order)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := NewConnection(nopConn{})

	var runs int32
	conn.AddCleanup(func() { atomic.AddInt32(&runs, 1) })

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.True(t, conn.Closed())
}

func TestAddCleanupAfterCloseRunsImmediately(t *testing.T) {
	conn := NewConnection(nopConn{})
	require.NoError(t, conn.Close())

	ran := false
	h := conn.AddCleanup(func() { ran = true })
	assert.True(t, ran)
	assert.False(t, conn.RemoveCleanup(h))
}

func TestPanickingCleanupDoesNotAbortTeardown(t *testing.T) {
	conn := NewConnection(nopConn{})

	var ran []string
	conn.AddCleanup(func() { panic("hook gone wrong") })
	conn.AddCleanup(func() { ran = append(ran, "survivor") })

	require.NoError(t, conn.Close())
	assert.Equal(t, []string{"survivor"}, ran)
}

func TestInvokeAfterCloseFails(t *testing.T) {
	conn := NewConnection(nopConn{})
	require.NoError(t, conn.Close())

	_, err := conn.invoke(context.Background(), "Iface.method", nil)
	assert.ErrorIs(t, err, ErrConnClosed)
}

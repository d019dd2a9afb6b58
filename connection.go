// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"errors"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"
)

var ErrConnClosed = errors.New("proxy: connection closed")

// Conn is the message transport a Connection owns: one
// send-request-and-await-response primitive plus close. Implementations must
// be safe for concurrent use. wire.go provides the framed stream transport,
// http.go the JSON-RPC bridge.
type Conn interface {
	Invoke(ctx context.Context, method string, payload []byte) ([]byte, error)
	Close() error
}

// ConnOption configures a Connection
type ConnOption func(*Connection)

// WithLogger sets the logger used for teardown and lifecycle reporting.
func WithLogger(log logrus.FieldLogger) ConnOption {
	return func(c *Connection) { c.log = log }
}

// WithCodec sets the codec used to marshal call fields.
func WithCodec(codec Codec) ConnOption {
	return func(c *Connection) { c.codec = codec }
}

// CleanupHandle identifies one registered cleanup callback. The generation
// is validated on removal so a stale handle cannot remove a later
// registration that happens to reuse the same slot.
type CleanupHandle struct {
	index int
	gen   uint64
}

type cleanupEntry struct {
	gen uint64
	fn  func()
}

// Connection represents one established channel between two processes. It
// owns the transport, the registry of pending cleanup callbacks, and close
// hooks. Teardown runs cleanup callbacks in registration order, then close
// hooks, then releases the transport.
type Connection struct {
	id    string
	conn  Conn
	codec Codec
	log   logrus.FieldLogger

	mu       sync.Mutex
	nextGen  uint64
	cleanups []cleanupEntry
	hooks    []func()
	closed   bool
}

// NewConnection wraps an established transport.
func NewConnection(conn Conn, opts ...ConnOption) *Connection {
	c := &Connection{
		id:    shortuuid.New(),
		conn:  conn,
		codec: defaultCodec,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	c.log = c.log.WithField("conn", c.id)
	return c
}

// ID returns the connection's identifier, used in log fields.
func (c *Connection) ID() string { return c.id }

// Codec returns the codec call fields are marshaled with.
func (c *Connection) Codec() Codec { return c.codec }

// Closed reports whether teardown has begun.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AddCleanup registers a callback to run during connection teardown, after
// any previously registered callbacks. If teardown has already begun the
// callback runs immediately.
func (c *Connection) AddCleanup(fn func()) CleanupHandle {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.runHook("cleanup", fn)
		return CleanupHandle{}
	}
	c.nextGen++
	h := CleanupHandle{index: len(c.cleanups), gen: c.nextGen}
	c.cleanups = append(c.cleanups, cleanupEntry{gen: h.gen, fn: fn})
	c.mu.Unlock()
	return h
}

// RemoveCleanup deregisters a callback so teardown will not run it. It
// reports whether the handle was still live; stale or zero handles are
// rejected.
func (c *Connection) RemoveCleanup(h CleanupHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.gen == 0 || h.index >= len(c.cleanups) || c.cleanups[h.index].gen != h.gen {
		return false
	}
	c.cleanups[h.index] = cleanupEntry{}
	return true
}

// AddCloseHook registers a hook to run after all cleanup callbacks during
// teardown. Close hooks are how the side that created a borrowed reference
// learns when the referenced object may be disposed.
func (c *Connection) AddCloseHook(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.runHook("close hook", fn)
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Close tears the connection down: cleanup callbacks run in registration
// order, then close hooks, then the transport is closed. Safe to call more
// than once; later calls are no-ops. Callbacks may remove themselves or
// other entries while teardown iterates.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.log.Debug("connection teardown")

	// Each entry is claimed under the lock before it runs, so a callback
	// that removes itself (or a sibling) mid-iteration sees an already
	// cleared slot rather than racing the iteration.
	for i := 0; ; i++ {
		c.mu.Lock()
		if i >= len(c.cleanups) {
			c.mu.Unlock()
			break
		}
		e := c.cleanups[i]
		c.cleanups[i] = cleanupEntry{}
		c.mu.Unlock()
		if e.fn != nil {
			c.runHook("cleanup", e.fn)
		}
	}

	c.mu.Lock()
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()
	for _, fn := range hooks {
		c.runHook("close hook", fn)
	}

	return c.conn.Close()
}

// runHook runs a teardown callback, reporting a panic instead of letting it
// abort teardown of sibling resources.
func (c *Connection) runHook(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Errorf("%s failed during teardown", kind)
		}
	}()
	fn()
}

// invoke sends one request over the transport and blocks until its response
// arrives or the transport fails.
func (c *Connection) invoke(ctx context.Context, id MethodID, payload []byte) ([]byte, error) {
	if c.Closed() {
		return nil, ErrConnClosed
	}
	return c.conn.Invoke(ctx, id.String(), payload)
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ImplRef ties an implementation object to its ownership mode. The mode is
// fixed at construction: an owned implementation is closed when the server
// proxy wrapping it is destroyed, a borrowed one never is. For borrowed
// references the side that created the reference registers a close hook on
// the connection to learn when disposal is safe, since a plain reference
// cannot clean itself up.
type ImplRef struct {
	impl  any
	owned bool
}

// Owned wraps an implementation the server proxy holds the last reference
// to.
func Owned(impl any) ImplRef { return ImplRef{impl: impl, owned: true} }

// Borrowed wraps an implementation referenced from elsewhere.
func Borrowed(impl any) ImplRef { return ImplRef{impl: impl} }

// Value returns the wrapped implementation.
func (r ImplRef) Value() any { return r.impl }

// IsOwned reports whether the server proxy owns the implementation.
func (r ImplRef) IsOwned() bool { return r.owned }

// release closes an owned implementation. Borrowed implementations are
// never touched.
func (r ImplRef) release() error {
	if !r.owned {
		return nil
	}
	if c, ok := r.impl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ServerContext is the server-side call context handed to method traits'
// dispatch logic. It exposes the held implementation through Server.
type ServerContext struct {
	Context   context.Context
	Server    *ServerProxy
	Requested map[string]bool
}

// ServerProxy is the receiver-side stand-in for an interface: it receives
// incoming calls off the transport, resolves each method's traits, and
// executes them against the wrapped implementation.
type ServerProxy struct {
	iface *Interface
	impl  ImplRef
	ctx   ProxyContext

	destroyOnce sync.Once
	closeOnce   sync.Once
	closeErr    error
}

// NewServerProxy wraps an implementation for the given interface. The
// ownership mode of impl never changes after construction.
func NewServerProxy(iface *Interface, impl ImplRef, conn *Connection) *ServerProxy {
	return &ServerProxy{
		iface: iface,
		impl:  impl,
		ctx:   ProxyContext{Connection: conn},
	}
}

// Context returns the proxy's context data.
func (s *ServerProxy) Context() ProxyContext { return s.ctx }

// Interface returns the interface descriptor this proxy serves.
func (s *ServerProxy) Interface() *Interface { return s.iface }

// Impl returns the wrapped implementation, for traits dispatch.
func (s *ServerProxy) Impl() any { return s.impl.Value() }

// InvokeDestroy runs the destroy lifecycle hook against the held
// implementation. Safe to call at most once; later calls are no-ops.
func (s *ServerProxy) InvokeDestroy() {
	s.destroyOnce.Do(func() {
		m, err := s.iface.Method(HookDestroy)
		if err != nil {
			return
		}
		if _, err := m.Invoke(&ServerContext{Server: s}); err != nil {
			s.ctx.Connection.log.WithError(err).Warnf("destroy hook failed for %s", s.iface.Name)
		}
	})
}

// Close destroys the server proxy, closing the implementation when it is
// owned. Safe to call more than once.
func (s *ServerProxy) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.impl.release()
	})
	return s.closeErr
}

// Handle executes one incoming method request: resolve the method's traits,
// unpack arguments per its field accessors, invoke the bound implementation,
// and pack the result. Dispatch failures are packed as error responses so
// the remote caller sees them as call failures rather than transport
// failures.
func (s *ServerProxy) Handle(ctx context.Context, method string, payload []byte) ([]byte, error) {
	codec := s.ctx.Connection.Codec()

	name := method
	if _, short, ok := MethodID(method).Split(); ok {
		name = short
	}
	m, err := s.iface.Method(name)
	if err != nil {
		return marshalError(codec, err)
	}

	if name == HookDestroy {
		s.InvokeDestroy()
		return marshalResult(codec, m, nil, nil)
	}

	args, requested, err := unmarshalArgs(codec, m, payload)
	if err != nil {
		return marshalError(codec, err)
	}
	if m.server != nil {
		if args, err = m.server.DecodeArgs(m, args); err != nil {
			return marshalError(codec, err)
		}
	}

	sc := &ServerContext{Context: ctx, Server: s, Requested: requested}
	result, err := m.Invoke(sc, args...)
	if err != nil {
		return marshalError(codec, err)
	}

	if m.server != nil {
		if result, err = m.server.EncodeResult(m, result); err != nil {
			return marshalError(codec, err)
		}
	}
	return marshalResult(codec, m, result, requested)
}

// Dispatcher routes incoming calls to server proxies by interface name. It
// is the Handler the stream transport serves from.
type Dispatcher struct {
	mu      sync.RWMutex
	servers map[string]*ServerProxy
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{servers: make(map[string]*ServerProxy)}
}

// Add registers a server proxy under its interface name.
func (d *Dispatcher) Add(sp *ServerProxy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := sp.Interface().Name
	if _, ok := d.servers[name]; ok {
		return fmt.Errorf("proxy: interface %s already served", name)
	}
	d.servers[name] = sp
	return nil
}

// Remove deregisters the server proxy for an interface.
func (d *Dispatcher) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.servers, name)
}

// Handle routes one request to the serving proxy.
func (d *Dispatcher) Handle(ctx context.Context, method string, payload []byte) ([]byte, error) {
	iface, _, ok := MethodID(method).Split()
	if !ok {
		return nil, fmt.Errorf("%w: malformed method %q", ErrMethodNotFound, method)
	}
	d.mu.RLock()
	sp, ok := d.servers[iface]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown interface %q", ErrMethodNotFound, iface)
	}
	return sp.Handle(ctx, method, payload)
}

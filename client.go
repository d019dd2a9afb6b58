// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrProxyClosed = errors.New("proxy: proxy closed")

// ProxyContext is the context data every client and server proxy holds. The
// Connection reference is non-nil for the proxy's lifetime; a proxy must
// deregister before outliving the connection it references.
type ProxyContext struct {
	Connection *Connection
}

// ClientProxy is the local stand-in for a remote interface. It forwards each
// method call through the method's traits to the connection's transport and
// blocks until the response arrives; callers need not know a remote call is
// occurring.
type ClientProxy struct {
	iface       *Interface
	ctx         ProxyContext
	destroyConn bool
	cleanup     CleanupHandle

	mu       sync.Mutex
	detached bool
	closed   bool
}

// NewClientProxy binds a remote interface handle to a connection. When
// destroyConn is set, closing the proxy also tears the connection down. If
// the interface declares a construct hook it is invoked on the remote side
// before the proxy is returned; a failing construct aborts only this proxy.
func NewClientProxy(iface *Interface, conn *Connection, destroyConn bool) (*ClientProxy, error) {
	p := &ClientProxy{
		iface:       iface,
		ctx:         ProxyContext{Connection: conn},
		destroyConn: destroyConn,
	}
	// Registered so the connection can detach this proxy if it is torn
	// down first; removed again on normal Close.
	p.cleanup = conn.AddCleanup(p.detach)

	if iface.Declares(HookConstruct) {
		m, err := iface.Method(HookConstruct)
		if err == nil {
			_, err = p.callMethod(context.Background(), m, nil)
		}
		if err != nil {
			conn.RemoveCleanup(p.cleanup)
			return nil, fmt.Errorf("construct %s: %w", iface.Name, err)
		}
	}
	return p, nil
}

// Context returns the proxy's context data.
func (p *ClientProxy) Context() ProxyContext { return p.ctx }

// Interface returns the interface descriptor this proxy fronts.
func (p *ClientProxy) Interface() *Interface { return p.iface }

// detach is the cleanup callback the connection runs when it is torn down
// before this proxy. The transport is gone at that point, so a later Close
// must skip it.
func (p *ClientProxy) detach() {
	p.mu.Lock()
	p.detached = true
	p.mu.Unlock()
}

// Call invokes a method on the remote implementation. Arguments are packed
// per the method's field accessors, the calling goroutine blocks until the
// response is delivered by the transport's receive path, and the decoded
// result is returned. Transport and remote failures surface as the call's
// error.
func (p *ClientProxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	p.mu.Lock()
	closed, detached := p.closed, p.detached
	p.mu.Unlock()
	if closed {
		return nil, ErrProxyClosed
	}
	if detached {
		return nil, ErrConnClosed
	}

	m, err := p.iface.Method(method)
	if err != nil {
		return nil, err
	}
	return p.callMethod(ctx, m, args)
}

func (p *ClientProxy) callMethod(ctx context.Context, m *Method, args []any) (any, error) {
	if m.client != nil {
		var err error
		if args, err = m.client.EncodeArgs(m, args); err != nil {
			return nil, fmt.Errorf("encode args %s: %w", m.ID, err)
		}
	}

	codec := p.ctx.Connection.Codec()
	payload, err := marshalArgs(codec, m, args, requestedFields(m))
	if err != nil {
		return nil, err
	}

	resp, err := p.ctx.Connection.invoke(ctx, m.ID, payload)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", m.ID, err)
	}

	result, err := unmarshalResult(codec, m, resp)
	if err != nil {
		return nil, err
	}
	if m.client != nil {
		if result, err = m.client.DecodeResult(m, result); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", m.ID, err)
		}
	}
	return result, nil
}

// requestedFields lists the out-fields the caller wants lazily populated.
func requestedFields(m *Method) []string {
	var names []string
	for _, a := range m.Fields {
		if a.Out() && a.Requested() {
			names = append(names, a.Name)
		}
	}
	return names
}

// Close destroys the proxy: the destroy hook is invoked if declared, the
// cleanup callback is deregistered from the connection, and the connection
// itself is torn down when the proxy was constructed with destroyConn set.
// Safe to call more than once, and after the connection tore the proxy down
// first.
func (p *ClientProxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	detached := p.detached
	p.mu.Unlock()

	if detached {
		// The connection ran our cleanup already; the transport is gone.
		return nil
	}

	if p.iface.Declares(HookDestroy) {
		m, err := p.iface.Method(HookDestroy)
		if err == nil {
			_, err = p.callMethod(context.Background(), m, nil)
		}
		if err != nil {
			// A failing destroy hook must not abort the rest of teardown.
			p.ctx.Connection.log.WithError(err).Warnf("destroy hook failed for %s", p.iface.Name)
		}
	}

	p.ctx.Connection.RemoveCleanup(p.cleanup)
	if p.destroyConn {
		return p.ctx.Connection.Close()
	}
	return nil
}

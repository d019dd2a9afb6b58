// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// DialOption configures dialed connections
type DialOption func(*dialOptions)

type dialOptions struct {
	transport string // "stream", "http", "grpc"
	connOpts  []ConnOption
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithConnOptions forwards options to the Connection wrapping the transport.
func WithConnOptions(opts ...ConnOption) DialOption {
	return func(o *dialOptions) { o.connOpts = append(o.connOpts, opts...) }
}

// Dial establishes a channel to a remote peer and wraps it in a Connection
// ready for client proxies to bind to. The stream transport is the default;
// use WithTransport for the JSON-RPC bridge or (with the grpc build tag) a
// gRPC-backed channel.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Connection, error) {
	o := &dialOptions{
		transport: DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	transportsMu.RLock()
	dial, ok := transports[o.transport]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}

	conn, err := dial(ctx, addr, o)
	if err != nil {
		return nil, err
	}
	return NewConnection(conn, o.connOpts...), nil
}

// dialStream opens the default framed stream transport
func dialStream(ctx context.Context, addr string, o *dialOptions) (Conn, error) {
	return DialStream(ctx, addr)
}

// dialHTTP opens the JSON-RPC 2.0 bridge transport
func dialHTTP(ctx context.Context, addr string, o *dialOptions) (Conn, error) {
	uri, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("http dial: %w", err)
	}
	return NewHTTPConn(uri), nil
}

// Listen creates a stream server dispatching incoming calls to handler.
func Listen(addr string, handler Handler) (*StreamServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewStreamServer(listener, handler), nil
}

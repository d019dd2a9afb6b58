// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package proxy is the proxy layer of a cross-process call framework: it
// lets native code on one side of a process boundary invoke methods on an
// interface as if it were a local object, while the actual execution happens
// on the other side of a connection.
//
// # Model
//
// An Interface descriptor lists the methods of one remote-callable surface.
// Generated (or hand-written) setup code binds each method to an
// implementation function, producing Method descriptors that carry the
// method's parameter fields, result type, and dispatch entry point:
//
//	counter := proxy.NewInterface("Counter")
//	counter.MustBind("increment", (*CounterImpl).Increment, "n")
//
// A ClientProxy fronts the interface on the calling side and forwards every
// call through the method's traits to the connection's transport:
//
//	cp, err := proxy.NewClientProxy(counter, conn, false)
//	total, err := cp.Call(ctx, "increment", 5)
//
// A ServerProxy wraps the real implementation on the serving side, with its
// ownership declared at construction:
//
//	sp := proxy.NewServerProxy(counter, proxy.Owned(impl), conn)
//	d := proxy.NewDispatcher()
//	d.Add(sp)
//
// Field accessors govern per-field marshaling: each field's in/out
// direction, optionality, boxing, and lazy population are declared flags the
// generic packing code branches on.
//
// # Lifecycle
//
// Every proxy registers a cleanup callback with its Connection so that
// either side may go first: closing the proxy deregisters the callback,
// while tearing the connection down runs it, detaching the proxy so a later
// Close skips the now-gone transport. The reserved construct and destroy
// methods cross the boundary when an interface declares them and default to
// no-op traits when it does not.
//
// # Transports
//
// Stream is the default transport, a length-prefixed framing over any byte
// stream. Use build tags or WithTransport to select alternatives:
//
//	go build              # stream + JSON-RPC bridge
//	go build -tags grpc   # enable gRPC transport
//
// # Architecture
//
// The package separates concerns:
//
//   - field.go: field descriptors and accessor flags
//   - method.go: method descriptors, traits, interface registry
//   - marshal.go: accessor-driven packing of calls and results
//   - callback.go: adapter for passing function values across the boundary
//   - client.go: client proxy base
//   - server.go: server proxy base, ownership modes, dispatcher
//   - connection.go: connection, cleanup registry, close hooks
//   - wire.go: framed stream transport (default)
//   - http.go: JSON-RPC 2.0 bridge transport
//   - grpc.go: gRPC transport (requires -tags grpc)
//
// Application code depends on Interface, ClientProxy, and ServerProxy;
// transport selection is a deployment decision rather than a code change.
package proxy

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"sync"
)

// Transport types
const (
	TransportStream = "stream" // Length-prefixed frames, default
	TransportHTTP   = "http"   // JSON-RPC 2.0 over HTTP
	TransportGRPC   = "grpc"   // Google RPC, requires build tag
)

// DefaultTransport is the default transport type (stream)
const DefaultTransport = TransportStream

type dialFunc func(ctx context.Context, addr string, o *dialOptions) (Conn, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]dialFunc{
		TransportStream: dialStream,
		TransportHTTP:   dialHTTP,
	}
)

// registerTransport registers a new transport (used by build tags)
func registerTransport(name string, dial dialFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = dial
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}

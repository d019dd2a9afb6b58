//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, dialGRPC)
}

func dialGRPC(ctx context.Context, addr string, o *dialOptions) (Conn, error) {
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &grpcConn{conn: conn}, nil
}

// grpcConn carries packed call payloads over a gRPC channel, one unary
// invoke per call.
type grpcConn struct {
	conn *grpc.ClientConn
}

func (c *grpcConn) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	var resp []byte
	err := c.conn.Invoke(ctx, method, payload, &resp)
	return resp, err
}

func (c *grpcConn) Close() error {
	return c.conn.Close()
}

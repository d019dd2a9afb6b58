// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestStreamRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Create server with an echo handler
	server, err := Listen(":0", HandlerFunc(func(ctx context.Context, method string, payload []byte) ([]byte, error) {
		if method != "echo" {
			return nil, errors.New("unknown method: " + method)
		}
		return payload, nil
	}))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	// Start server in background
	go server.Serve(ctx)

	// Give server time to start
	time.Sleep(10 * time.Millisecond)

	// Connect client
	conn, err := DialStream(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello world")
	resp, err := conn.Invoke(ctx, "echo", payload)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if string(resp) != string(payload) {
		t.Errorf("got %q, want %q", resp, payload)
	}

	// Handler errors come back as frame errors
	if _, err := conn.Invoke(ctx, "nope", nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestStreamPipe(t *testing.T) {
	ctx := context.Background()

	cliEnd, srvEnd := net.Pipe()
	server := NewStreamServer(nil, HandlerFunc(func(ctx context.Context, method string, payload []byte) ([]byte, error) {
		return payload, nil
	}))
	go server.ServeConn(ctx, srvEnd)
	defer server.Close()

	conn := NewStreamConn(cliEnd)
	defer conn.Close()

	resp, err := conn.Invoke(ctx, "echo", []byte("ping"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(resp) != "ping" {
		t.Errorf("got %q, want %q", resp, "ping")
	}
}

func TestStreamClosed(t *testing.T) {
	cliEnd, srvEnd := net.Pipe()
	srvEnd.Close()

	conn := NewStreamConn(cliEnd)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := conn.Invoke(context.Background(), "echo", nil)
	if !errors.Is(err, ErrWireClosed) {
		t.Errorf("got %v, want ErrWireClosed", err)
	}
}

func BenchmarkStreamRoundTrip(b *testing.B) {
	ctx := context.Background()

	server, err := Listen(":0", HandlerFunc(func(ctx context.Context, method string, payload []byte) ([]byte, error) {
		return payload, nil
	}))
	if err != nil {
		b.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	go server.Serve(ctx)
	time.Sleep(10 * time.Millisecond)

	conn, err := DialStream(ctx, server.Addr().String())
	if err != nil {
		b.Fatalf("DialStream: %v", err)
	}
	defer conn.Close()

	payload := make([]byte, 1024)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := conn.Invoke(ctx, "echo", payload)
		if err != nil {
			b.Fatal(err)
		}
	}
}

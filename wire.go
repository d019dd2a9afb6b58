// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrWireClosed  = errors.New("wire: connection closed")
	ErrWireTooBig  = errors.New("wire: frame too large")
	ErrWireInvalid = errors.New("wire: invalid frame")
)

// frameType identifies wire frame types
type frameType uint8

const (
	frameRequest  frameType = 0x01
	frameResponse frameType = 0x02
	frameError    frameType = 0x03
)

const maxFrameSize = 64 * 1024 * 1024 // 64MB

// StreamConn implements Conn over a byte stream with length-prefixed frames
// and request-id correlation. A call may originate on one goroutine and be
// fulfilled by the read loop running on another; each in-flight call waits
// on its own one-shot response channel.
type StreamConn struct {
	conn     net.Conn
	writeMu  sync.Mutex
	pending  sync.Map // requestID -> chan *wireResponse
	nextID   atomic.Uint32
	closed   atomic.Bool
	readDone chan struct{}
}

// wireResponse holds one delivered response
type wireResponse struct {
	Data []byte
	Err  error
}

// NewStreamConn wraps an already established byte stream, e.g. one end of a
// net.Pipe.
func NewStreamConn(conn net.Conn) *StreamConn {
	sc := &StreamConn{
		conn:     conn,
		readDone: make(chan struct{}),
	}
	go sc.readLoop()
	return sc
}

// DialStream connects to a stream server
func DialStream(ctx context.Context, addr string) (*StreamConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire dial: %w", err)
	}
	return NewStreamConn(conn), nil
}

// Invoke sends one request frame and blocks until the matching response
// frame is delivered by the read loop, the context ends, or the stream
// closes.
func (s *StreamConn) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrWireClosed
	}

	requestID := s.nextID.Add(1)
	respCh := make(chan *wireResponse, 1)
	s.pending.Store(requestID, respCh)
	defer s.pending.Delete(requestID)

	// Encode: [4 len][1 type][4 reqID][2 methodLen][method][payload]
	methodBytes := []byte(method)
	msgLen := 1 + 4 + 2 + len(methodBytes) + len(payload)

	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(frameRequest)
	binary.BigEndian.PutUint32(buf[5:9], requestID)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(methodBytes)))
	copy(buf[11:], methodBytes)
	copy(buf[11+len(methodBytes):], payload)

	s.writeMu.Lock()
	_, err := s.conn.Write(buf)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("wire write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Data, nil
	case <-s.readDone:
		return nil, ErrWireClosed
	}
}

func (s *StreamConn) readLoop() {
	defer close(s.readDone)

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(s.conn, header); err != nil {
			return
		}

		msgLen := binary.BigEndian.Uint32(header)
		if msgLen == 0 || msgLen > maxFrameSize {
			return
		}

		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(s.conn, msg); err != nil {
			return
		}

		if len(msg) < 5 {
			continue
		}

		typ := frameType(msg[0])
		requestID := binary.BigEndian.Uint32(msg[1:5])
		payload := msg[5:]

		if ch, ok := s.pending.Load(requestID); ok {
			respCh := ch.(chan *wireResponse)
			switch typ {
			case frameResponse:
				respCh <- &wireResponse{Data: payload}
			case frameError:
				respCh <- &wireResponse{Err: errors.New(string(payload))}
			}
		}
	}
}

// Close closes the stream
func (s *StreamConn) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Handler handles incoming requests on the serving side. The Dispatcher
// satisfies it.
type Handler interface {
	Handle(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, method string, payload []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return f(ctx, method, payload)
}

// StreamServer reads request frames off accepted streams and dispatches
// each to a handler.
type StreamServer struct {
	listener net.Listener
	handler  Handler
	conns    sync.Map
	closed   atomic.Bool
}

// NewStreamServer creates a server for an existing listener. listener may be
// nil when the server is only used through ServeConn.
func NewStreamServer(listener net.Listener, handler Handler) *StreamServer {
	return &StreamServer{
		listener: listener,
		handler:  handler,
	}
}

// Serve accepts streams until the server is closed
func (s *StreamServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			continue
		}
		go s.ServeConn(ctx, conn)
	}
}

// ServeConn serves a single established stream, e.g. one end of a net.Pipe.
// It returns when the stream closes.
func (s *StreamServer) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)

	var writeMu sync.Mutex
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		msgLen := binary.BigEndian.Uint32(header)
		if msgLen == 0 || msgLen > maxFrameSize {
			return
		}

		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(conn, msg); err != nil {
			return
		}

		if len(msg) < 7 || frameType(msg[0]) != frameRequest {
			continue
		}
		requestID := binary.BigEndian.Uint32(msg[1:5])
		methodLen := binary.BigEndian.Uint16(msg[5:7])
		if len(msg) < 7+int(methodLen) {
			continue
		}
		method := string(msg[7 : 7+methodLen])
		payload := msg[7+methodLen:]

		go func() {
			respData, err := s.handler.Handle(ctx, method, payload)
			writeMu.Lock()
			defer writeMu.Unlock()
			sendResponse(conn, requestID, respData, err)
		}()
	}
}

func sendResponse(conn net.Conn, requestID uint32, data []byte, err error) {
	var typ frameType
	var payload []byte
	if err != nil {
		typ = frameError
		payload = []byte(err.Error())
	} else {
		typ = frameResponse
		payload = data
	}

	msgLen := 1 + 4 + len(payload)
	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(typ)
	binary.BigEndian.PutUint32(buf[5:9], requestID)
	copy(buf[9:], payload)

	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	conn.Write(buf)
}

// Close closes the server and all live streams
func (s *StreamServer) Close() error {
	s.closed.Store(true)
	s.conns.Range(func(key, _ interface{}) bool {
		key.(net.Conn).Close()
		return true
	})
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Addr returns the listener address
func (s *StreamServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

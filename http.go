// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rpc "github.com/gorilla/rpc/v2/json2"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
// This avoids EOF errors that can occur with connection pooling in complex
// process hierarchies.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// EOF errors are often transient connection issues
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") {
		return true
	}
	return false
}

// HTTPOption configures the JSON-RPC bridge transport
type HTTPOption func(*httpConn)

// WithHTTPHeader adds a header to every bridged request.
func WithHTTPHeader(key, value string) HTTPOption {
	return func(h *httpConn) { h.headers.Add(key, value) }
}

// WithQueryParam adds a query parameter to every bridged request.
func WithQueryParam(key, value string) HTTPOption {
	return func(h *httpConn) { h.query.Add(key, value) }
}

// httpConn bridges proxy calls onto JSON-RPC 2.0 over HTTP. The packed call
// payload rides as the request params and the response result is handed back
// to the marshaling layer untouched.
type httpConn struct {
	uri     *url.URL
	headers http.Header
	query   url.Values
	log     logrus.FieldLogger
}

// NewHTTPConn creates a Conn that carries calls over JSON-RPC 2.0/HTTP.
func NewHTTPConn(uri *url.URL, opts ...HTTPOption) Conn {
	h := &httpConn{
		uri:     uri,
		headers: make(http.Header),
		query:   make(url.Values),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *httpConn) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	params := json.RawMessage(payload)
	if len(payload) == 0 {
		params = json.RawMessage("null")
	}
	requestBodyBytes, err := rpc.EncodeClientRequest(method, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client params: %w", err)
	}

	uri := *h.uri
	uri.RawQuery = h.query.Encode()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 500ms, 1s, 2s
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// Create fresh request for each attempt (body buffer is consumed)
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			uri.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		request.Header = h.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		client := newHTTPClient()
		resp, err := client.Do(request)
		if err != nil {
			lastErr = err
			if isRetryableError(err) {
				h.log.WithError(err).Debugf("request attempt %d failed, retrying", attempt+1)
				continue
			}
			return nil, fmt.Errorf("failed to issue request: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			CleanlyCloseBody(resp.Body)
			return nil, fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		var reply json.RawMessage
		if err := rpc.DecodeClientResponse(resp.Body, &reply); err != nil {
			CleanlyCloseBody(resp.Body)
			return nil, fmt.Errorf("failed to decode client response: %w", err)
		}
		CleanlyCloseBody(resp.Body)
		return []byte(reply), nil
	}

	return nil, fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}

func (h *httpConn) Close() error { return nil }

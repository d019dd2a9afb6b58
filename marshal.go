// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"errors"
	"fmt"
	"reflect"
)

var ErrMissingField = errors.New("proxy: required field missing")

// RemoteError is a failure reported by the remote side of a call.
type RemoteError struct {
	Method  MethodID
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("proxy: remote %s: %s", e.Method, e.Message)
}

// callRequest is the packed form of a method's in-fields. Field values are
// encoded individually by the connection codec so per-field accessor flags
// can govern their shape.
type callRequest struct {
	Fields    map[string][]byte `json:"fields,omitempty"`
	Requested []string          `json:"requested,omitempty"`
}

// callResponse is the packed form of a method's out-fields, or a remote
// failure.
type callResponse struct {
	Fields map[string][]byte `json:"fields,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// boxType wraps t in a single-field struct so boxed fields are encoded as
// {"value": ...} rather than inlined.
func boxType(t reflect.Type) reflect.Type {
	return reflect.StructOf([]reflect.StructField{{
		Name: "Value",
		Type: t,
		Tag:  `json:"value"`,
	}})
}

func encodeField(c Codec, a Accessor, v any) ([]byte, error) {
	if !a.Boxed() {
		return c.Encode(v)
	}
	bv := reflect.New(boxType(a.Type)).Elem()
	if v != nil {
		bv.Field(0).Set(reflect.ValueOf(v))
	}
	return c.Encode(bv.Interface())
}

func decodeField(c Codec, a Accessor, raw []byte) (any, error) {
	if !a.Boxed() {
		pv := reflect.New(a.Type)
		if err := c.Decode(raw, pv.Interface()); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", a.Name, err)
		}
		return pv.Elem().Interface(), nil
	}
	pv := reflect.New(boxType(a.Type))
	if err := c.Decode(raw, pv.Interface()); err != nil {
		return nil, fmt.Errorf("decode boxed field %s: %w", a.Name, err)
	}
	return pv.Elem().Field(0).Interface(), nil
}

// marshalArgs packs call arguments into a request message. Only in-fields
// are encoded; optional fields that are nil are omitted; requested lists the
// out-fields the caller wants lazily populated.
func marshalArgs(c Codec, m *Method, args []any, requested []string) ([]byte, error) {
	if len(args) != len(m.Params) {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", ErrArgCount, m.ID, len(m.Params), len(args))
	}
	req := callRequest{Requested: requested}
	i := 0
	for _, a := range m.Fields {
		if !a.In() {
			continue
		}
		v := args[i]
		i++
		if v == nil {
			if a.Optional() {
				continue
			}
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, m.ID, a.Name)
		}
		raw, err := encodeField(c, a, v)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", m.ID, a.Name, err)
		}
		if req.Fields == nil {
			req.Fields = make(map[string][]byte)
		}
		req.Fields[a.Name] = raw
	}
	return c.Encode(&req)
}

// unmarshalArgs unpacks a request message into call arguments ordered as the
// method's parameters. Absent optional fields decode to nil.
func unmarshalArgs(c Codec, m *Method, payload []byte) (args []any, requested map[string]bool, err error) {
	var req callRequest
	if len(payload) > 0 {
		if err := c.Decode(payload, &req); err != nil {
			return nil, nil, fmt.Errorf("decode request for %s: %w", m.ID, err)
		}
	}
	if len(req.Requested) > 0 {
		requested = make(map[string]bool, len(req.Requested))
		for _, name := range req.Requested {
			requested[name] = true
		}
	}
	for _, a := range m.Fields {
		if !a.In() {
			continue
		}
		raw, ok := req.Fields[a.Name]
		if !ok {
			if a.Optional() {
				args = append(args, nil)
				continue
			}
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrMissingField, m.ID, a.Name)
		}
		v, err := decodeField(c, a, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", m.ID, err)
		}
		args = append(args, v)
	}
	return args, requested, nil
}

// marshalResult packs an invocation result into a response message.
// Out-fields flagged requested are populated only when the caller asked for
// them.
func marshalResult(c Codec, m *Method, result any, requested map[string]bool) ([]byte, error) {
	resp := callResponse{}
	for _, a := range m.Fields {
		if !a.Out() {
			continue
		}
		if a.Requested() && !requested[a.Name] {
			continue
		}
		if result == nil && a.Optional() {
			continue
		}
		raw, err := encodeField(c, a, result)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", m.ID, a.Name, err)
		}
		if resp.Fields == nil {
			resp.Fields = make(map[string][]byte)
		}
		resp.Fields[a.Name] = raw
	}
	return c.Encode(&resp)
}

// marshalError packs a dispatch failure into a response message.
func marshalError(c Codec, err error) ([]byte, error) {
	return c.Encode(&callResponse{Error: err.Error()})
}

// unmarshalResult unpacks a response message into the method's result value,
// surfacing remote failures as *RemoteError.
func unmarshalResult(c Codec, m *Method, payload []byte) (any, error) {
	var resp callResponse
	if len(payload) > 0 {
		if err := c.Decode(payload, &resp); err != nil {
			return nil, fmt.Errorf("decode response for %s: %w", m.ID, err)
		}
	}
	if resp.Error != "" {
		return nil, &RemoteError{Method: m.ID, Message: resp.Error}
	}
	if m.Result == nil {
		return nil, nil
	}
	for _, a := range m.Fields {
		if !a.Out() {
			continue
		}
		raw, ok := resp.Fields[a.Name]
		if !ok {
			if a.Optional() || a.Requested() {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, m.ID, a.Name)
		}
		v, err := decodeField(c, a, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.ID, err)
		}
		return v, nil
	}
	return nil, nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"fmt"
	"reflect"
)

// Callback wraps a function value behind a single Call operation so it can
// be referenced, passed across the boundary as an opaque handle, and invoked
// from the remote side. The adapter holds no transport logic; it is the seam
// between a local callable and its serializable reference. Call blocks the
// caller until the underlying invocation completes.
type Callback interface {
	Call(args ...any) (any, error)
}

type funcCallback struct {
	fn     reflect.Value
	hasErr bool
	result reflect.Type
}

// NewCallback adapts an arbitrary non-variadic function value. A trailing
// error return is split off and surfaced as the call error; at most one
// other return value becomes the call result.
func NewCallback(fn any) (Callback, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.IsVariadic() {
		return nil, fmt.Errorf("proxy: callback must be a non-variadic func, got %T", fn)
	}

	cb := &funcCallback{fn: fv}
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errType {
			cb.hasErr = true
		} else {
			cb.result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errType {
			return nil, fmt.Errorf("proxy: callback second return value must be error")
		}
		cb.result = ft.Out(0)
		cb.hasErr = true
	default:
		return nil, fmt.Errorf("proxy: callback has too many return values")
	}
	return cb, nil
}

// MustCallback is NewCallback for statically known signatures; it panics on
// error.
func MustCallback(fn any) Callback {
	cb, err := NewCallback(fn)
	if err != nil {
		panic(err)
	}
	return cb
}

func (c *funcCallback) Call(args ...any) (any, error) {
	ft := c.fn.Type()
	if len(args) != ft.NumIn() {
		return nil, fmt.Errorf("%w: callback takes %d args, got %d", ErrArgCount, ft.NumIn(), len(args))
	}
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		pt := ft.In(i)
		if a == nil {
			in = append(in, reflect.Zero(pt))
			continue
		}
		av := reflect.ValueOf(a)
		if !av.Type().AssignableTo(pt) {
			if !av.Type().ConvertibleTo(pt) {
				return nil, fmt.Errorf("%w: callback arg %d: have %s, want %s", ErrArgType, i, av.Type(), pt)
			}
			av = av.Convert(pt)
		}
		in = append(in, av)
	}

	out := c.fn.Call(in)
	var result any
	if c.result != nil {
		result = out[0].Interface()
	}
	if c.hasErr {
		if ev := out[len(out)-1]; !ev.IsNil() {
			return result, ev.Interface().(error)
		}
	}
	return result, nil
}

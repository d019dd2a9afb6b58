// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"fmt"
	"reflect"
)

// FieldFlags control how a marshaled field is accessed. Flags combine with
// bitwise OR; each flag toggles exactly one facet of the Accessor built
// from it.
type FieldFlags int

const (
	// FieldIn marks a field present in the request message.
	FieldIn FieldFlags = 1 << iota
	// FieldOut marks a field present in the response message.
	FieldOut
	// FieldOptional marks a field that may be absent from its message.
	FieldOptional
	// FieldRequested marks an out-field that is only populated when the
	// caller asked for it.
	FieldRequested
	// FieldBoxed marks a field whose value is wrapped rather than inlined.
	FieldBoxed
)

// Field describes one marshaled field of a method's parameters/results or of
// a data aggregate.
type Field struct {
	Name string
	Type reflect.Type
}

// FieldOf builds a field descriptor for a value of type T.
func FieldOf[T any](name string) Field {
	return Field{Name: name, Type: reflect.TypeOf((*T)(nil)).Elem()}
}

// Accessor decorates a field descriptor with direction/shape flags. It holds
// no runtime state; generic marshaling code branches on its boolean facets
// instead of per-field custom logic.
type Accessor struct {
	Field
	Flags FieldFlags
}

// NewAccessor composes a base field descriptor with access flags.
func NewAccessor(f Field, flags FieldFlags) Accessor {
	return Accessor{Field: f, Flags: flags}
}

// In reports whether the field is present in the request.
func (a Accessor) In() bool { return a.Flags&FieldIn != 0 }

// Out reports whether the field is present in the response.
func (a Accessor) Out() bool { return a.Flags&FieldOut != 0 }

// Optional reports whether the field may be absent.
func (a Accessor) Optional() bool { return a.Flags&FieldOptional != 0 }

// Requested reports whether the field is populated only on request.
func (a Accessor) Requested() bool { return a.Flags&FieldRequested != 0 }

// Boxed reports whether the field value is wrapped rather than inlined.
func (a Accessor) Boxed() bool { return a.Flags&FieldBoxed != 0 }

func (a Accessor) String() string {
	return fmt.Sprintf("%s(%s, flags=%05b)", a.Name, a.Type, a.Flags)
}

// Struct describes a marshaled data aggregate as an ordered list of field
// accessors. Generated code supplies one per wire struct so the marshaling
// path can encode and decode aggregates without reflection over tags.
type Struct struct {
	Name   string
	Fields []Accessor
}

// Accessor returns the accessor for the named field.
func (s *Struct) Accessor(name string) (Accessor, bool) {
	for _, a := range s.Fields {
		if a.Name == name {
			return a, true
		}
	}
	return Accessor{}, false
}

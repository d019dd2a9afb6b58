// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	ErrMethodNotFound = errors.New("proxy: method not found")
	ErrUnbound        = errors.New("proxy: method has no bound implementation")
	ErrArgCount       = errors.New("proxy: wrong argument count")
	ErrArgType        = errors.New("proxy: wrong argument type")
)

// Reserved lifecycle methods. Interfaces that do not declare them fall back
// to default no-op traits.
const (
	HookConstruct = "construct"
	HookDestroy   = "destroy"
)

func isHook(name string) bool {
	return name == HookConstruct || name == HookDestroy
}

// MethodID identifies a method within an interface as "Interface.method".
type MethodID string

// JoinMethod builds a method identity from an interface and method name.
func JoinMethod(iface, method string) MethodID {
	return MethodID(iface + "." + method)
}

// Split separates a method identity into interface and method name.
func (id MethodID) Split() (iface, method string, ok bool) {
	return strings.Cut(string(id), ".")
}

func (id MethodID) String() string { return string(id) }

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Method is the per-method descriptor connecting marshaling to the real
// implementation call. A descriptor with no bound function is valid only for
// the reserved construct/destroy hooks, whose Invoke is a no-op.
type Method struct {
	ID MethodID

	// Params are the ordered parameter fields, excluding the implementation
	// receiver and an optional leading context.Context.
	Params []Field
	// Result is the method's result type, nil for void.
	Result reflect.Type
	// Fields are the marshaled fields: params flagged in, plus the result
	// flagged out when the result type is non-void.
	Fields []Accessor

	impl    reflect.Value
	withCtx bool
	hasErr  bool

	client ClientTraits
	server ServerTraits
}

// MethodOf derives a method descriptor from a bound implementation function.
// fn must be a method expression or equivalent function whose first parameter
// is the implementation receiver, optionally followed by a context.Context,
// then the method parameters. It may return nothing, a single value, an
// error, or a value and an error.
func MethodOf(id MethodID, fn any, paramNames ...string) (*Method, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.IsVariadic() {
		return nil, fmt.Errorf("%w: %s: fn must be a non-variadic func, got %T", ErrUnbound, id, fn)
	}
	if ft.NumIn() < 1 {
		return nil, fmt.Errorf("%w: %s: fn needs an implementation receiver", ErrUnbound, id)
	}

	m := &Method{ID: id, impl: fv}
	first := 1
	if ft.NumIn() > 1 && ft.In(1) == ctxType {
		m.withCtx = true
		first = 2
	}

	n := ft.NumIn() - first
	if len(paramNames) != 0 && len(paramNames) != n {
		return nil, fmt.Errorf("%w: %s: %d param names for %d params", ErrArgCount, id, len(paramNames), n)
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("arg%d", i)
		if len(paramNames) != 0 {
			name = paramNames[i]
		}
		m.Params = append(m.Params, Field{Name: name, Type: ft.In(first + i)})
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errType {
			m.hasErr = true
		} else {
			m.Result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errType {
			return nil, fmt.Errorf("%w: %s: second return value must be error", ErrUnbound, id)
		}
		m.Result = ft.Out(0)
		m.hasErr = true
	default:
		return nil, fmt.Errorf("%w: %s: too many return values", ErrUnbound, id)
	}

	m.Fields = deriveFields(m.Params, m.Result)
	return m, nil
}

// deriveFields lists the marshaled fields of a method: every parameter as an
// in-field, and the result appended as an out-field when non-void (a void
// result contributes no reply field).
func deriveFields(params []Field, result reflect.Type) []Accessor {
	fields := make([]Accessor, 0, len(params)+1)
	for _, p := range params {
		fields = append(fields, NewAccessor(p, FieldIn))
	}
	if result != nil {
		fields = append(fields, NewAccessor(Field{Name: "result", Type: result}, FieldOut))
	}
	return fields
}

// noopMethod is the default traits descriptor: zero parameters, void result,
// no-op invoke. Used exclusively for undeclared construct/destroy hooks.
func noopMethod(id MethodID) *Method {
	return &Method{ID: id}
}

// Bound reports whether the descriptor carries an implementation function.
func (m *Method) Bound() bool { return m.impl.IsValid() }

// SetClientTraits overrides client-side marshaling for this method.
func (m *Method) SetClientTraits(t ClientTraits) { m.client = t }

// SetServerTraits overrides server-side dispatch translation for this method.
func (m *Method) SetServerTraits(t ServerTraits) { m.server = t }

// Invoke calls the bound implementation function on the implementation held
// by the server-side call context. For default (unbound) hook descriptors it
// is a no-op.
func (m *Method) Invoke(sc *ServerContext, args ...any) (any, error) {
	if !m.Bound() {
		return nil, nil
	}
	if len(args) != len(m.Params) {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", ErrArgCount, m.ID, len(m.Params), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+2)
	in = append(in, reflect.ValueOf(sc.Server.Impl()))
	if m.withCtx {
		ctx := sc.Context
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, a := range args {
		pt := m.Params[i].Type
		if a == nil {
			in = append(in, reflect.Zero(pt))
			continue
		}
		av := reflect.ValueOf(a)
		if !av.Type().AssignableTo(pt) {
			if !av.Type().ConvertibleTo(pt) {
				return nil, fmt.Errorf("%w: %s arg %d: have %s, want %s", ErrArgType, m.ID, i, av.Type(), pt)
			}
			av = av.Convert(pt)
		}
		in = append(in, av)
	}

	out := m.impl.Call(in)
	var result any
	if m.Result != nil {
		result = out[0].Interface()
	}
	if m.hasErr {
		if ev := out[len(out)-1]; !ev.IsNil() {
			return result, ev.Interface().(error)
		}
	}
	return result, nil
}

// ClientTraits customizes client-side marshaling for a method, e.g. to
// translate a parameter's local type to a different wire representation
// before encode or after decode. The default is passthrough.
type ClientTraits interface {
	EncodeArgs(m *Method, args []any) ([]any, error)
	DecodeResult(m *Method, result any) (any, error)
}

// ServerTraits customizes server-side dispatch translation for a method,
// independently of the client side. The default is passthrough.
type ServerTraits interface {
	DecodeArgs(m *Method, args []any) ([]any, error)
	EncodeResult(m *Method, result any) (any, error)
}

// Interface describes the remote-callable surface of one interface. Method
// descriptors are registered up front (by generated code), so binding errors
// surface at registration rather than at call time.
type Interface struct {
	Name    string
	methods map[string]*Method
}

// NewInterface creates an empty interface descriptor.
func NewInterface(name string) *Interface {
	return &Interface{Name: name, methods: make(map[string]*Method)}
}

// Bind registers a method bound to an implementation function. Non-hook
// methods must supply a function; only construct/destroy may be declared
// without one.
func (it *Interface) Bind(name string, fn any, paramNames ...string) (*Method, error) {
	if _, ok := it.methods[name]; ok {
		return nil, fmt.Errorf("proxy: method %s.%s already bound", it.Name, name)
	}
	id := JoinMethod(it.Name, name)
	if fn == nil {
		if !isHook(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnbound, id)
		}
		m := noopMethod(id)
		it.methods[name] = m
		return m, nil
	}
	m, err := MethodOf(id, fn, paramNames...)
	if err != nil {
		return nil, err
	}
	it.methods[name] = m
	return m, nil
}

// MustBind is Bind for statically known signatures; it panics on error.
func (it *Interface) MustBind(name string, fn any, paramNames ...string) *Method {
	m, err := it.Bind(name, fn, paramNames...)
	if err != nil {
		panic(err)
	}
	return m
}

// Method resolves the descriptor for a method name. Undeclared construct and
// destroy hooks resolve to the default no-op traits; any other unknown name
// is an error.
func (it *Interface) Method(name string) (*Method, error) {
	if m, ok := it.methods[name]; ok {
		return m, nil
	}
	if isHook(name) {
		return noopMethod(JoinMethod(it.Name, name)), nil
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, it.Name, name)
}

// Declares reports whether the interface explicitly declares the named
// method (hooks left undeclared report false).
func (it *Interface) Declares(name string) bool {
	_, ok := it.methods[name]
	return ok
}

// Registry maps method identities to their descriptors across interfaces.
// It is populated once at startup and read on every dispatch.
type Registry struct {
	mu     sync.RWMutex
	ifaces map[string]*Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ifaces: make(map[string]*Interface)}
}

// Register adds an interface's method table.
func (r *Registry) Register(it *Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ifaces[it.Name]; ok {
		return fmt.Errorf("proxy: interface %s already registered", it.Name)
	}
	r.ifaces[it.Name] = it
	return nil
}

// Lookup resolves a method identity to its descriptor.
func (r *Registry) Lookup(id MethodID) (*Method, error) {
	iface, method, ok := id.Split()
	if !ok {
		return nil, fmt.Errorf("%w: malformed id %q", ErrMethodNotFound, id)
	}
	r.mu.RLock()
	it, ok := r.ifaces[iface]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown interface %q", ErrMethodNotFound, iface)
	}
	return it.Method(method)
}

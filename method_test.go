// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proxy

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mathImpl struct {
	lastA, lastB int
}

func (m *mathImpl) Add(a, b int) int {
	m.lastA, m.lastB = a, b
	return a + b
}

func (m *mathImpl) Reset() {}

func (m *mathImpl) Div(ctx context.Context, a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func serverFor(impl any) *ServerProxy {
	conn := NewConnection(nopConn{})
	return NewServerProxy(NewInterface("Math"), Owned(impl), conn)
}

func TestMethodOfDerivesSignature(t *testing.T) {
	m, err := MethodOf("Math.add", (*mathImpl).Add, "a", "b")
	require.NoError(t, err)

	require.Len(t, m.Params, 2)
	assert.Equal(t, "a", m.Params[0].Name)
	assert.Equal(t, "b", m.Params[1].Name)
	assert.Equal(t, reflect.TypeOf(0), m.Params[0].Type)
	assert.Equal(t, reflect.TypeOf(0), m.Result)

	// params flagged in, result appended as out-field
	require.Len(t, m.Fields, 3)
	assert.True(t, m.Fields[0].In())
	assert.True(t, m.Fields[1].In())
	assert.True(t, m.Fields[2].Out())
	assert.Equal(t, "result", m.Fields[2].Name)
}

func TestMethodOfVoidResult(t *testing.T) {
	m, err := MethodOf("Math.reset", (*mathImpl).Reset)
	require.NoError(t, err)
	assert.Nil(t, m.Result)
	// a void result contributes no reply field
	assert.Empty(t, m.Fields)
}

func TestMethodOfContextAndError(t *testing.T) {
	m, err := MethodOf("Math.div", (*mathImpl).Div, "a", "b")
	require.NoError(t, err)
	require.Len(t, m.Params, 2)
	assert.Equal(t, reflect.TypeOf(0), m.Result)
	assert.True(t, m.withCtx)
	assert.True(t, m.hasErr)
}

func TestMethodOfRejectsBadShapes(t *testing.T) {
	_, err := MethodOf("Math.bad", 42)
	assert.ErrorIs(t, err, ErrUnbound)

	_, err = MethodOf("Math.bad", (*mathImpl).Add, "onlyone")
	assert.ErrorIs(t, err, ErrArgCount)
}

func TestInvokeCallsBoundImplementation(t *testing.T) {
	impl := &mathImpl{}
	sp := serverFor(impl)

	m, err := MethodOf("Math.add", (*mathImpl).Add, "a", "b")
	require.NoError(t, err)

	result, err := m.Invoke(&ServerContext{Server: sp}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, result)
	assert.Equal(t, 2, impl.lastA)
	assert.Equal(t, 3, impl.lastB)
}

func TestInvokeSurfacesImplError(t *testing.T) {
	sp := serverFor(&mathImpl{})

	m, err := MethodOf("Math.div", (*mathImpl).Div, "a", "b")
	require.NoError(t, err)

	_, err = m.Invoke(&ServerContext{Server: sp}, 1, 0)
	require.Error(t, err)
	assert.Equal(t, "division by zero", err.Error())
}

func TestInvokeArgChecks(t *testing.T) {
	sp := serverFor(&mathImpl{})
	m, err := MethodOf("Math.add", (*mathImpl).Add)
	require.NoError(t, err)

	_, err = m.Invoke(&ServerContext{Server: sp}, 1)
	assert.ErrorIs(t, err, ErrArgCount)

	_, err = m.Invoke(&ServerContext{Server: sp}, "x", "y")
	assert.ErrorIs(t, err, ErrArgType)
}

func TestDefaultHookTraitsAreNoop(t *testing.T) {
	it := NewInterface("Plain")

	for _, hook := range []string{HookConstruct, HookDestroy} {
		m, err := it.Method(hook)
		require.NoError(t, err)
		assert.False(t, m.Bound())
		assert.Empty(t, m.Params)
		assert.Nil(t, m.Result)

		result, err := m.Invoke(&ServerContext{})
		require.NoError(t, err)
		assert.Nil(t, result)
	}
}

func TestBindRejectsUnboundNonHook(t *testing.T) {
	it := NewInterface("Plain")
	_, err := it.Bind("frob", nil)
	assert.ErrorIs(t, err, ErrUnbound)

	// hooks may be declared without an implementation
	m, err := it.Bind(HookConstruct, nil)
	require.NoError(t, err)
	assert.False(t, m.Bound())
	assert.True(t, it.Declares(HookConstruct))
}

func TestInterfaceMethodResolution(t *testing.T) {
	it := NewInterface("Math")
	it.MustBind("add", (*mathImpl).Add, "a", "b")

	m, err := it.Method("add")
	require.NoError(t, err)
	assert.Equal(t, MethodID("Math.add"), m.ID)

	_, err = it.Method("missing")
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	it := NewInterface("Math")
	it.MustBind("add", (*mathImpl).Add, "a", "b")
	require.NoError(t, r.Register(it))

	m, err := r.Lookup("Math.add")
	require.NoError(t, err)
	assert.Equal(t, MethodID("Math.add"), m.ID)

	_, err = r.Lookup("Nope.add")
	assert.ErrorIs(t, err, ErrMethodNotFound)

	_, err = r.Lookup("malformed")
	assert.ErrorIs(t, err, ErrMethodNotFound)

	assert.Error(t, r.Register(it))
}

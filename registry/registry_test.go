package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/cmn/cos"
	"github.com/amt-rt/vt/registry"
)

func TestMakeHandlerRoundTripsFields(t *testing.T) {
	h := registry.MakeHandler(registry.KindCollectionMember, 42, registry.Opts{
		Auto:        true,
		Functor:     true,
		Trace:       true,
		BaseDerived: true,
		Control:     7,
	})
	assert.Equal(t, registry.KindCollectionMember, h.Kind())
	assert.Equal(t, uint32(42), h.Index())
	assert.Equal(t, uint32(7), h.Control())
	assert.True(t, h.IsAuto())
	assert.True(t, h.IsFunctor())
	assert.True(t, h.IsTraced())
}

func TestMakeHandlerZeroOptsLeavesFlagsClear(t *testing.T) {
	h := registry.MakeHandler(registry.KindActiveFn, 0, registry.Opts{})
	assert.False(t, h.IsAuto())
	assert.False(t, h.IsFunctor())
	assert.False(t, h.IsTraced())
}

func TestRegisterAndGetRoundTrip(t *testing.T) {
	reg := &registry.Registry{}
	idx := reg.Register(registry.KindActiveFn, "payload-one")
	h := registry.MakeHandler(registry.KindActiveFn, idx, registry.Opts{})

	got, err := reg.Get(h)
	require.NoError(t, err)
	assert.Equal(t, "payload-one", got)
}

func TestRegisterAssignsSequentialIndexesPerKind(t *testing.T) {
	reg := &registry.Registry{}
	i0 := reg.Register(registry.KindActiveFn, "a")
	i1 := reg.Register(registry.KindActiveFn, "b")
	i2 := reg.Register(registry.KindFunctor, "c") // separate table, starts back at 0

	assert.Equal(t, uint32(0), i0)
	assert.Equal(t, uint32(1), i1)
	assert.Equal(t, uint32(0), i2)
}

func TestGetOnNoHandlerReturnsErrNoHandler(t *testing.T) {
	reg := &registry.Registry{}
	_, err := reg.Get(registry.NoHandler)
	assert.ErrorIs(t, err, cos.ErrNoHandler)
}

func TestGetOnUnregisteredIndexReturnsNotFound(t *testing.T) {
	reg := &registry.Registry{}
	h := registry.MakeHandler(registry.KindActiveFn, 99, registry.Opts{})
	_, err := reg.Get(h)
	assert.True(t, cos.IsErrNotFound(err))
}

func TestMakeAutoHandlerSetsAutoFlag(t *testing.T) {
	h := registry.MakeAutoHandler(registry.KindActiveFn, "auto-fn")
	assert.True(t, h.IsAuto())

	got, err := registry.Global().Get(h)
	require.NoError(t, err)
	assert.Equal(t, "auto-fn", got)
}

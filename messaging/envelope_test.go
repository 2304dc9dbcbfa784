package messaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amt-rt/vt/cmn/cos"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/term"
)

func TestEnvelopeInit(t *testing.T) {
	env := messaging.InitEnvelope(messaging.KindEpochTag)
	assert.Equal(t, node.Uninitialized, env.Dest())
	assert.Equal(t, term.NoEpoch, env.Epoch())
	assert.Equal(t, messaging.DefaultGroup, env.Group())
	assert.False(t, env.IsLocked())
	assert.False(t, env.IsBroadcast())
	assert.False(t, env.HasPut())
	assert.Equal(t, int32(0), env.GetRef())
}

func TestEnvelopeSettersAndFlags(t *testing.T) {
	env := messaging.InitEnvelope(messaging.KindShort)
	env.SetDest(3)
	env.SetBroadcast(true)
	env.SetLocked(true)
	env.SetEpoch(term.EpochT(42))
	env.SetPut(16)

	assert.Equal(t, node.T(3), env.Dest())
	assert.True(t, env.IsBroadcast())
	assert.True(t, env.IsLocked())
	assert.Equal(t, term.EpochT(42), env.Epoch())
	assert.True(t, env.HasPut())
	assert.Equal(t, 16, env.PutLen())

	env.SetLocked(false)
	assert.False(t, env.IsLocked())
}

func TestEnvelopeRefCounting(t *testing.T) {
	env := messaging.InitEnvelope(messaging.KindShort)
	assert.Equal(t, int32(1), env.Ref())
	assert.Equal(t, int32(2), env.Ref())
	assert.Equal(t, int32(1), env.Deref())
	assert.Equal(t, int32(0), env.Deref())
}

func TestEnvelopeHandlerFailsBeforeSet(t *testing.T) {
	old := cos.ThrowOnAbort
	cos.ThrowOnAbort = true
	defer func() { cos.ThrowOnAbort = old }()

	env := messaging.InitEnvelope(messaging.KindShort)
	assert.Panics(t, func() { env.Handler() })
}

// registering a handler must be observable via Handler() afterwards.
func TestEnvelopeHandlerRoundTrip(t *testing.T) {
	env := messaging.InitEnvelope(messaging.KindShort)
	h := registry.MakeHandler(registry.KindActiveFn, 7, registry.Opts{})
	env.SetHandler(h)
	assert.Equal(t, h, env.Handler())
}

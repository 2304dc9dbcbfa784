package messaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amt-rt/vt/memsys"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/registry"
)

type pingBody struct{ N int }

func TestMessageRefcountReturnsBufferToPool(t *testing.T) {
	pool := memsys.NewPool(64, 512)
	h := registry.MakeHandler(registry.KindActiveFn, 0, registry.Opts{})

	msg := messaging.NewMessage(pool, messaging.KindShort, h, &pingBody{N: 1}, 8, 0)
	assert.Equal(t, int32(1), msg.Env.GetRef())

	p1 := messaging.Promote[pingBody](msg)
	p2 := p1.Clone()
	assert.Equal(t, int32(2), msg.Env.GetRef())

	before := len(pool.BucketFreeListForTest(0))
	p1.Release()
	assert.Equal(t, int32(1), msg.Env.GetRef())
	p2.Release()
	assert.Equal(t, int32(0), msg.Env.GetRef())
	after := len(pool.BucketFreeListForTest(0))
	assert.Equal(t, before+1, after, "deref to zero must return the buffer to its bucket")
}

func TestMessageBodyRoundTrip(t *testing.T) {
	pool := memsys.NewPool(64, 512)
	h := registry.MakeHandler(registry.KindActiveFn, 1, registry.Opts{})
	msg := messaging.NewMessage(pool, messaging.KindShort, h, &pingBody{N: 9}, 8, 0)
	ptr := messaging.Promote[pingBody](msg)
	assert.Equal(t, 9, ptr.Body().N)
}

func TestRemainingSizeAccountsForUsedBytes(t *testing.T) {
	pool := memsys.NewPool(64, 512)
	h := registry.MakeHandler(registry.KindActiveFn, 2, registry.Opts{})
	msg := messaging.NewMessage(pool, messaging.KindShort, h, &pingBody{}, 8, 0)
	full := msg.RemainingSize(0)
	assert.True(t, full > 0)
	assert.Equal(t, full-8, msg.RemainingSize(8))
}

func TestUnmanagedMessageReleaseIsSafeWithoutPool(t *testing.T) {
	h := registry.MakeHandler(registry.KindActiveFn, 3, registry.Opts{})
	msg := messaging.NewUnmanagedMessage(messaging.KindShort, h, &pingBody{N: 5})
	ptr := messaging.Promote[pingBody](msg)
	ptr.Release()
	assert.Equal(t, int32(0), msg.Env.GetRef())
}

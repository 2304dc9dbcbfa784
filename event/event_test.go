package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amt-rt/vt/event"
)

func TestLeafEventResolvesOnce(t *testing.T) {
	reg := event.NewRegistry()
	ev := reg.NewEvent()
	assert.False(t, ev.IsResolved())

	calls := 0
	ev.AddAction(func() { calls++ })
	ev.Resolve()
	ev.Resolve() // idempotent
	assert.True(t, ev.IsResolved())
	assert.Equal(t, 1, calls)
}

func TestAddActionAfterResolveRunsImmediately(t *testing.T) {
	reg := event.NewRegistry()
	ev := reg.NewEvent()
	ev.Resolve()

	ran := false
	ev.AddAction(func() { ran = true })
	assert.True(t, ran)
}

func TestParentResolvesOnceAllChildrenResolve(t *testing.T) {
	reg := event.NewRegistry()
	c1, c2, c3 := reg.NewEvent(), reg.NewEvent(), reg.NewEvent()
	parent := reg.NewParent(c1, c2, c3)
	assert.False(t, parent.IsResolved())

	c1.Resolve()
	assert.False(t, parent.IsResolved())
	c2.Resolve()
	assert.False(t, parent.IsResolved())
	c3.Resolve()
	assert.True(t, parent.IsResolved())
}

func TestParentWithNoChildrenResolvesImmediately(t *testing.T) {
	reg := event.NewRegistry()
	parent := reg.NewParent()
	assert.True(t, parent.IsResolved())
}

func TestFinalizeDrainsAllOutstanding(t *testing.T) {
	reg := event.NewRegistry()
	a, b := reg.NewEvent(), reg.NewEvent()
	reg.Finalize()
	assert.True(t, a.IsResolved())
	assert.True(t, b.IsResolved())
}

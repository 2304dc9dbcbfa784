package sched_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/event"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/sched"
	"github.com/amt-rt/vt/term"
)

type fakeMessenger struct {
	sent   []any
	from   node.T
	events *event.Registry
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{events: event.NewRegistry()}
}

func (f *fakeMessenger) SendMsg(h registry.HandlerT, dest node.T, body any) (*event.Event, error) {
	f.sent = append(f.sent, body)
	ev := f.events.NewEvent()
	ev.Resolve()
	return ev, nil
}
func (f *fakeMessenger) BroadcastMsg(h registry.HandlerT, body any, inclSelf bool) (*event.Event, error) {
	f.sent = append(f.sent, body)
	ev := f.events.NewEvent()
	ev.Resolve()
	return ev, nil
}
func (f *fakeMessenger) PushEpoch(term.EpochT) {}
func (f *fakeMessenger) PopEpoch()             {}
func (f *fakeMessenger) GetFromNodeCurrentHandler() node.T { return f.from }

func newRunnable(t *testing.T, reg *registry.Registry, fn sched.HandlerFunc, epoch term.EpochT, body any) (*sched.Runnable, *messaging.Message) {
	t.Helper()
	idx := reg.Register(registry.KindActiveFn, fn)
	h := registry.MakeHandler(registry.KindActiveFn, idx, registry.Opts{})
	msg := messaging.NewUnmanagedMessage(messaging.KindShort, h, body)
	ptr := messaging.Promote[any](msg)
	return sched.NewRunnable(h, 0, epoch, ptr), msg
}

func TestRunnableRunInvokesHandlerAndConsumes(t *testing.T) {
	reg := &registry.Registry{}
	det := term.NewDetector(0, 1, 0)
	e := det.MakeEpochCollective(term.UserCategory)

	var gotFrom node.T = -7
	fn := sched.HandlerFunc(func(m sched.Messenger, from node.T, msg *messaging.Message) {
		gotFrom = from
	})
	r, msg := newRunnable(t, reg, fn, e, "payload")
	m := newFakeMessenger()
	m.from = 3

	det.Produce(e, 1)
	r.Run(reg, m, det)

	assert.Equal(t, node.T(0), gotFrom) // Runnable.From, not messenger.from
	assert.Equal(t, int32(0), msg.Env.GetRef(), "Run must release its MsgPtr")
	_, cons := det.Counts(e)
	assert.Equal(t, int64(1), cons, "Run must consume one unit of the epoch")
}

func TestStepBatchRunsPriorityBeforeNormal(t *testing.T) {
	reg := &registry.Registry{}
	det := term.NewDetector(0, 1, 0)
	e := det.MakeEpochCollective(term.UserCategory)

	var order []string
	mk := func(tag string) sched.HandlerFunc {
		return func(m sched.Messenger, from node.T, msg *messaging.Message) { order = append(order, tag) }
	}
	rNormal, _ := newRunnable(t, reg, mk("normal"), e, nil)
	rPriority, _ := newRunnable(t, reg, mk("priority"), e, nil)

	s := sched.NewScheduler(det, 10)
	s.Enqueue(rNormal)
	s.EnqueuePriority(rPriority)

	ran := s.StepBatch(reg, newFakeMessenger())
	require.Equal(t, 2, ran)
	assert.Equal(t, []string{"priority", "normal"}, order)
}

func TestStepBatchRespectsProgressHan(t *testing.T) {
	reg := &registry.Registry{}
	det := term.NewDetector(0, 1, 0)
	e := det.MakeEpochCollective(term.UserCategory)

	fn := sched.HandlerFunc(func(m sched.Messenger, from node.T, msg *messaging.Message) {})
	s := sched.NewScheduler(det, 2)
	for i := 0; i < 5; i++ {
		r, _ := newRunnable(t, reg, fn, e, nil)
		s.Enqueue(r)
	}

	ran := s.StepBatch(reg, newFakeMessenger())
	assert.Equal(t, 2, ran)
	assert.Equal(t, 3, s.Runnables())
}

func TestWakeTagResumesParkedContinuation(t *testing.T) {
	det := term.NewDetector(0, 1, 0)
	s := sched.NewScheduler(det, 10)

	woke := false
	s.SuspendOnTag(5, func() { woke = true })
	s.WakeTag(5)
	assert.True(t, woke)

	// waking an unrelated tag is a no-op
	s.WakeTag(6)
}

func TestSuspendOnEpochFiresOnTermination(t *testing.T) {
	det := term.NewDetector(0, 1, 0)
	s := sched.NewScheduler(det, 10)
	e := det.MakeEpochCollective(term.UserCategory)

	fired := false
	s.SuspendOnEpoch(e, func() { fired = true })
	assert.False(t, fired)

	for i := 0; i < 8 && !det.Terminated(e); i++ {
		det.Poll()
	}
	require.True(t, det.Terminated(e))
	assert.True(t, fired)
}

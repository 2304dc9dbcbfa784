// Package sched is the single-threaded cooperative scheduler (§4.5)
// and the Runnable it dispatches (§4.6).
//
// sched depends on term (to consume epochs) and registry (to look up
// handlers) but never on am: handlers need to call back into the
// ActiveMessenger (to reply, push/pop epochs, etc.), so instead of
// importing the am package directly — which would create an
// am<->sched import cycle, since am.ActiveMessenger.Scheduler()
// returns a *sched.Scheduler — handlers are typed against the
// Messenger interface below. am.ActiveMessenger implements it.
//
// Grounded on the teacher's hk (housekeeper) progress-loop shape
// (rockstar-0000-aistore/hk) for the "drive, dispatch, execute a
// bounded batch, repeat" structure; the pack carries no standalone
// scheduler header, so the ready-queue/progress-bound shape is
// additionally cross-checked against
// original_source/tests/unit/scheduler/test_scheduler_timings.cc, the
// pack's one scheduler-behavior reference.
package sched

import (
	"github.com/amt-rt/vt/cmn/cos"
	"github.com/amt-rt/vt/event"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/term"
)

// HandlerFunc is the call signature every KindActiveFn table entry's
// business logic must satisfy (the am package wraps these in a
// HandlerEntry alongside a body-decoding factory).
type HandlerFunc func(m Messenger, from node.T, msg *messaging.Message)

// Callable makes HandlerFunc itself satisfy Dispatchable, so a bare
// HandlerFunc registered directly (as sched's own tests do) dispatches
// the same way as an am.HandlerEntry-wrapped one.
func (f HandlerFunc) Callable() HandlerFunc { return f }

// Dispatchable is implemented by whatever a registry.KindActiveFn slot
// actually stores (am.HandlerEntry does, and HandlerFunc does too):
// Run needs to pull the callable back out of that slot without sched
// importing am, so it type-asserts against this interface instead of
// a concrete struct.
type Dispatchable interface {
	Callable() HandlerFunc
}

// Messenger is the subset of ActiveMessenger a running handler may
// call back into (§4.4): send a reply, push/pop the epoch stack, or
// read the current dispatch's source rank.
type Messenger interface {
	SendMsg(h registry.HandlerT, dest node.T, body any) (*event.Event, error)
	BroadcastMsg(h registry.HandlerT, body any, inclSelf bool) (*event.Event, error)
	PushEpoch(e term.EpochT)
	PopEpoch()
	GetFromNodeCurrentHandler() node.T
}

// Runnable wraps one received message awaiting dispatch (§4.6): its
// handler id, source rank, epoch, and the MsgPtr that owns the
// message's buffer until Run releases it.
type Runnable struct {
	Handler registry.HandlerT
	From    node.T
	Epoch   term.EpochT
	ptr     messaging.MsgPtr[any]
}

// NewRunnable adopts ptr; Run (or a discard without running) is
// responsible for eventually releasing it exactly once.
func NewRunnable(h registry.HandlerT, from node.T, epoch term.EpochT, ptr messaging.MsgPtr[any]) *Runnable {
	return &Runnable{Handler: h, From: from, Epoch: epoch, ptr: ptr}
}

// Run looks up the handler, pushes epoch on the messenger's stack,
// invokes the callable, pops the epoch, consumes one unit of epoch
// progress, and releases its MsgPtr (§4.6).
func (r *Runnable) Run(reg *registry.Registry, m Messenger, det *term.Detector) {
	raw, err := reg.Get(r.Handler)
	cos.AssertAbort(err == nil, cos.ErrNoHandler, "runnable: handler lookup failed")
	d, ok := raw.(Dispatchable)
	cos.AssertAbort(ok, cos.ErrNoHandler, "runnable: handler table entry has the wrong signature")

	m.PushEpoch(r.Epoch)
	d.Callable()(m, r.From, r.ptr.Get())
	m.PopEpoch()
	det.Consume(r.Epoch, 1)
	r.ptr.Release()
}

// condKey names what a suspended Runnable (or plain continuation) is
// waiting on: a data-receive tag, an event id, or an epoch.
type condKey struct {
	kind string
	id   uint64
}

func dataTagKey(tag int) condKey { return condKey{"tag", uint64(tag)} }

// Scheduler is the per-rank cooperative loop (§4.5): one ready queue
// with a priority override, a table of suspended continuations keyed
// by the condition unblocking them, and a counter of externally
// pending work (outstanding sends/recvs the scheduler shouldn't treat
// as "quiescent" yet).
type Scheduler struct {
	ready    []*Runnable
	priority []*Runnable
	suspended map[condKey][]func()

	inFlight int

	// ProgressHan bounds how many ready Runnables StepBatch executes per
	// call (config vt_sched_progress_han).
	ProgressHan int

	det *term.Detector
}

func NewScheduler(det *term.Detector, progressHan int) *Scheduler {
	if progressHan <= 0 {
		progressHan = 64
	}
	return &Scheduler{
		suspended:   make(map[condKey][]func()),
		ProgressHan: progressHan,
		det:         det,
	}
}

// Enqueue adds a Runnable to the normal ready queue (§4.5 step 2:
// "dispatch immediately as a fresh Runnable").
func (s *Scheduler) Enqueue(r *Runnable) { s.ready = append(s.ready, r) }

// EnqueuePriority adds a Runnable to the priority queue, drained
// ahead of the normal queue. The ActiveMessenger does not use it:
// control frames go straight to the detector and reassembled chunks
// are enqueued with Enqueue.
func (s *Scheduler) EnqueuePriority(r *Runnable) { s.priority = append(s.priority, r) }

// SuspendOnTag parks a continuation until WakeTag(tag) is called
// (§5 Suspension points (a): "posting a tag-receive with a
// continuation").
func (s *Scheduler) SuspendOnTag(tag int, cont func()) {
	k := dataTagKey(tag)
	s.suspended[k] = append(s.suspended[k], cont)
}

// WakeTag resumes every continuation parked on tag.
func (s *Scheduler) WakeTag(tag int) {
	k := dataTagKey(tag)
	conts := s.suspended[k]
	delete(s.suspended, k)
	for _, c := range conts {
		c()
	}
}

// SuspendOnEpoch parks a continuation until the epoch terminates
// (§5 Suspension points (b)). If the epoch is already terminated, the
// continuation runs immediately via the detector's AddAction.
func (s *Scheduler) SuspendOnEpoch(e term.EpochT, cont func()) {
	s.det.AddAction(e, cont)
}

// Runnables reports the number of ready (non-suspended) Runnables.
// Hang detection does not read it; it counts steps where StepBatch
// ran nothing.
func (s *Scheduler) Runnables() int { return len(s.priority) + len(s.ready) }

// StepBatch executes up to ProgressHan ready Runnables (priority queue
// first), returning how many actually ran (§4.5 step 3).
func (s *Scheduler) StepBatch(reg *registry.Registry, m Messenger) int {
	ran := 0
	for ran < s.ProgressHan && len(s.priority) > 0 {
		r := s.priority[0]
		s.priority = s.priority[1:]
		r.Run(reg, m, s.det)
		ran++
	}
	for ran < s.ProgressHan && len(s.ready) > 0 {
		r := s.ready[0]
		s.ready = s.ready[1:]
		r.Run(reg, m, s.det)
		ran++
	}
	if ran > 0 {
		s.det.NotifyProgress()
	}
	return ran
}

// AddInFlight/RemoveInFlight track externally pending work so callers
// can tell "nothing ready" from "truly quiescent". The ActiveMessenger
// does not call them.
func (s *Scheduler) AddInFlight(n int)    { s.inFlight += n }
func (s *Scheduler) RemoveInFlight(n int) { s.inFlight -= n }
func (s *Scheduler) InFlight() int        { return s.inFlight }

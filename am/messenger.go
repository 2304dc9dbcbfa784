// Package am implements the ActiveMessenger (§4.4): the send/receive
// engine tying together the message pool, the handler registry, the
// transport boundary, the scheduler, and the termination detector.
//
// Grounded on original_source's active messenger (the sendMsg /
// broadcastMsg / recvDataMsg contract in spec §4.4) and, for the
// progress-loop shape that drives transport then dispatches Runnables,
// on the teacher's hk housekeeper and transport send/recv pairing
// (rockstar-0000-aistore/transport, rockstar-0000-aistore/hk).
package am

import (
	"sync"
	"sync/atomic"

	"github.com/amt-rt/vt/cmn/cos"
	"github.com/amt-rt/vt/cmn/nlog"
	"github.com/amt-rt/vt/event"
	"github.com/amt-rt/vt/memsys"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/sched"
	"github.com/amt-rt/vt/term"
	"github.com/amt-rt/vt/tree"
	"github.com/amt-rt/vt/xport"
)

// Reserved transport tags (§4.4 "Transport tag is a small integer
// drawn from a private enum"); epoch identity never rides a tag, only
// the envelope, so these three are all this runtime ever needs.
const (
	tagData = iota + 1
	tagChunk
	tagControl
)

// Config bounds the send decision tree (§4.4 step 1). This module
// always sends a serialized body as one eager packet (chunked per
// MaxSendSize when it overflows a single frame); it does not implement
// the rendezvous control-message-then-payload split of §4.4 steps 3-4
// for oversized serializable bodies — see DESIGN.md's am entry.
type Config struct {
	MaxSendSize int // default 1 GiB; beyond this a send is chunked
	ProgressHan int // vt_sched_progress_han
}

func DefaultConfig() Config {
	return Config{
		MaxSendSize: 1 << 30,
		ProgressHan: 64,
	}
}

type reassemblyKey struct {
	from  node.T
	msgID uint64
}

type reassemblyState struct {
	total  uint32
	chunks [][]byte
	got    uint32
}

// ActiveMessenger is the per-rank send/recv/dispatch engine (§4.4). It
// implements sched.Messenger so registered handlers can call back into
// it without sched needing to import this package.
type ActiveMessenger struct {
	self   node.T
	nRanks int
	cfg    Config

	reg    *registry.Registry
	pool   *memsys.Pool
	tr     xport.Transport
	sc     *sched.Scheduler
	det    *term.Detector
	events *event.Registry

	mu          sync.Mutex
	trees       map[messaging.GroupT]*tree.Tree
	epochStack  []term.EpochT
	currentFrom node.T

	nextMsgID  uint64
	reassembly map[reassemblyKey]*reassemblyState
}

// New builds an ActiveMessenger for self among nRanks ranks, wiring
// itself as the Detector's control-message sender (the am<->term
// cycle is avoided by that injection, not by a shared import).
func New(self node.T, nRanks int, pool *memsys.Pool, tr xport.Transport, det *term.Detector, cfg Config) *ActiveMessenger {
	a := &ActiveMessenger{
		self:        self,
		nRanks:      nRanks,
		cfg:         cfg,
		reg:         registry.Global(),
		pool:        pool,
		tr:          tr,
		det:         det,
		events:      event.NewRegistry(),
		trees:       map[messaging.GroupT]*tree.Tree{messaging.DefaultGroup: tree.New(nRanks)},
		currentFrom: node.Uninitialized,
		reassembly:  map[reassemblyKey]*reassemblyState{},
	}
	a.sc = sched.NewScheduler(det, cfg.ProgressHan)
	det.SetSender(a.sendControl)
	return a
}

func (a *ActiveMessenger) Scheduler() *sched.Scheduler { return a.sc }
func (a *ActiveMessenger) Events() *event.Registry     { return a.events }
func (a *ActiveMessenger) Self() node.T                { return a.self }

// GetFromNodeCurrentHandler returns the source rank of the message
// currently being dispatched (§4.4); valid only inside a handler.
func (a *ActiveMessenger) GetFromNodeCurrentHandler() node.T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentFrom
}

// PushEpoch / PopEpoch implement the per-messenger epoch stack (§4.4,
// §4.7): sends consult the top to stamp the envelope.
func (a *ActiveMessenger) PushEpoch(e term.EpochT) {
	a.mu.Lock()
	a.epochStack = append(a.epochStack, e)
	a.mu.Unlock()
}

func (a *ActiveMessenger) PopEpoch() {
	a.mu.Lock()
	n := len(a.epochStack)
	if n > 0 {
		a.epochStack = a.epochStack[:n-1]
	}
	a.mu.Unlock()
}

func (a *ActiveMessenger) currentEpoch() term.EpochT {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.epochStack); n > 0 {
		return a.epochStack[n-1]
	}
	return term.NoEpoch
}

//
// sends (§4.4)
//

// SendMsg is the one-shot point-to-point send: sendMsg<H>(dest, msg) →
// an Event the caller may attach completion continuations to (§3
// "Event: a handle returned by a send").
func (a *ActiveMessenger) SendMsg(h registry.HandlerT, dest node.T, body any) (*event.Event, error) {
	cos.AssertAbort(dest.Valid(), cos.ErrUninitializedDestination, "SendMsg: uninitialized destination")
	ev := a.events.NewEvent()
	if err := a.send(h, dest, body, false); err != nil {
		return ev, err
	}
	ev.Resolve()
	return ev, nil
}

// BroadcastMsg fans out over the default group's spanning tree
// (§4.4, §4.11 Broadcast); inclSelf also dispatches locally. Returns a
// parent Event that resolves once every fanned-out child send has
// resolved (§3, §4.8 "parent events aggregate children").
func (a *ActiveMessenger) BroadcastMsg(h registry.HandlerT, body any, inclSelf bool) (*event.Event, error) {
	t := a.trees[messaging.DefaultGroup]
	var errs cos.Errs
	var children []*event.Event
	t.ForEachChild(a.self, func(c node.T) {
		child := a.events.NewEvent()
		children = append(children, child)
		if err := a.send(h, c, body, true); err != nil {
			errs.Add(err)
		}
		child.Resolve()
	})
	if inclSelf {
		child := a.events.NewEvent()
		children = append(children, child)
		if err := a.send(h, a.self, body, true); err != nil {
			errs.Add(err)
		}
		child.Resolve()
	}
	parent := a.events.NewParent(children...)
	if errs.Cnt() > 0 {
		return parent, &errs
	}
	return parent, nil
}

// forwardBroadcast re-fans a received broadcast to this rank's
// children in the tree before local dispatch (§4.11 "children
// recurse").
func (a *ActiveMessenger) forwardBroadcast(h registry.HandlerT, origin node.T, body any) {
	t := a.trees[messaging.DefaultGroup]
	t.ForEachChild(a.self, func(c node.T) {
		_ = a.send(h, c, body, true)
	})
}

func (a *ActiveMessenger) send(h registry.HandlerT, dest node.T, body any, broadcast bool) error {
	epoch := a.currentEpoch()
	a.det.Produce(epoch, 1)

	if dest == a.self {
		// self-send: no transport involved (§8 scenario 4); the
		// envelope lock is still set and cleared around the local hop.
		a.dispatchLocal(h, a.self, body)
		return nil
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}
	env := messaging.InitEnvelope(messaging.KindEpochTag)
	env.SetHandler(h)
	env.SetDest(dest)
	env.SetSrc(a.self)
	env.SetEpoch(epoch)
	env.SetBroadcast(broadcast)
	env.SetLocked(true)

	wm := &wireMessage{Env: wireEnvelope{
		Kind:    uint8(env.Kind()),
		Dest:    int32(dest),
		Src:     int32(a.self),
		Handler: uint64(h),
		Epoch:   uint64(epoch),
		Group:   uint64(env.Group()),
		Flags:   rawFlags(&env),
		PutLen:  int32(env.PutLen()),
	}, Body: bodyBytes}

	payload, err := encodeWireMessage(wm)
	if err != nil {
		return err
	}
	return a.sendPayload(dest, payload)
}

// sendPayload implements the send decision tree's size split (§4.4
// steps 1-2): a single send when it fits under MaxSendSize, else
// chunked via the private tagChunk reassembly path. Every payload goes
// out eager (§4.4 step 3); the rendezvous control-message-plus-separate
// data-tag-send path of step 4 is not implemented (DESIGN.md, am).
func (a *ActiveMessenger) sendPayload(dest node.T, payload []byte) error {
	if len(payload) <= a.cfg.MaxSendSize {
		return a.tr.Send(dest, tagData, payload)
	}
	msgID := atomic.AddUint64(&a.nextMsgID, 1)
	chunkSize := a.cfg.MaxSendSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	total := (len(payload) + chunkSize - 1) / chunkSize
	for i := 0; i < total; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(payload) {
			hi = len(payload)
		}
		c := &wireChunk{MsgID: msgID, Seq: uint32(i), Total: uint32(total), Data: payload[lo:hi]}
		cb, err := encodeWireChunk(c)
		if err != nil {
			return err
		}
		if err := a.tr.Send(dest, tagChunk, cb); err != nil {
			return err
		}
	}
	return nil
}

// SendMsgBytesWithPut is the low-level send: envelope plus trailing
// bytes, with action invoked once transport completes locally (§4.4).
func (a *ActiveMessenger) SendMsgBytesWithPut(h registry.HandlerT, dest node.T, put []byte, action func()) error {
	epoch := a.currentEpoch()
	a.det.Produce(epoch, 1)

	env := messaging.InitEnvelope(messaging.KindEpochTag)
	env.SetHandler(h)
	env.SetDest(dest)
	env.SetSrc(a.self)
	env.SetEpoch(epoch)
	env.SetPut(len(put))

	wm := &wireMessage{Env: wireEnvelope{
		Kind:    uint8(env.Kind()),
		Dest:    int32(dest),
		Src:     int32(a.self),
		Handler: uint64(h),
		Epoch:   uint64(epoch),
		Group:   uint64(env.Group()),
		Flags:   rawFlags(&env),
		PutLen:  int32(len(put)),
	}, Put: put}
	payload, err := encodeWireMessage(wm)
	if err != nil {
		return err
	}
	if err := a.sendPayload(dest, payload); err != nil {
		return err
	}
	if action != nil {
		action()
	}
	return nil
}

// rawFlags reads an Envelope's flag byte without going through any
// accessor that might assert; used only by the wire encoder.
func rawFlags(e *messaging.Envelope) uint8 {
	var f uint8
	if e.IsBroadcast() {
		f |= 1
	}
	if e.HasPut() {
		f |= 2
	}
	if e.IsLocked() {
		f |= 4
	}
	return f
}

func (a *ActiveMessenger) sendControl(dest node.T, msg term.ControlMsg) {
	wc := &wireControl{
		Kind:  uint8(msg.Kind),
		Epoch: uint64(msg.Epoch),
		Wave:  int64(msg.Wave),
		Prod:  msg.Prod,
		Cons:  msg.Cons,
	}
	b, err := encodeWireControl(wc)
	if err != nil {
		nlog.Errorf("am: encode control message: %v", err)
		return
	}
	if err := a.tr.Send(dest, tagControl, b); err != nil {
		nlog.Errorf("am: send control message to %d: %v", dest, err)
	}
}

// dispatchLocal enqueues a Runnable for a message already carrying a
// native Go body (used for self-sends and for inclSelf broadcast
// delivery): no transport round trip, but the envelope lock/unlock
// bracketing still mirrors the remote path.
func (a *ActiveMessenger) dispatchLocal(h registry.HandlerT, from node.T, body any) {
	epoch := a.currentEpoch()
	msg := messaging.NewUnmanagedMessage(messaging.KindEpochTag, h, body)
	msg.Env.SetLocked(true)
	ptr := messaging.Promote[any](msg)
	msg.Env.SetLocked(false)

	a.mu.Lock()
	a.currentFrom = from
	a.mu.Unlock()

	r := sched.NewRunnable(h, from, epoch, ptr)
	a.sc.Enqueue(r)
}

//
// receive path (§4.4, §4.5 "Scheduler progress step 1: poll transport")
//

// Progress drains the transport and runs one scheduler batch: it is
// the one call a runtime loop repeats until every local epoch of
// interest has terminated (§4.5, §4.7 "driven by the scheduler's
// progress loop"). An idle batch also checks for a hang (§4.7,
// §8 scenario 6) so the installed onHang callback actually fires from
// the running system rather than only in isolation.
func (a *ActiveMessenger) Progress() int {
	for _, f := range a.tr.Poll() {
		a.recvFrame(f)
	}
	ran := a.sc.StepBatch(a.reg, a)
	a.det.Poll()
	if ran == 0 {
		a.det.NotifyIdleLoop()
		a.det.CheckHang()
	}
	return ran
}

func (a *ActiveMessenger) recvFrame(f xport.Frame) {
	switch f.Tag {
	case tagControl:
		wc, err := decodeWireControl(f.Payload)
		if err != nil {
			nlog.Errorf("am: decode control frame from %d: %v", f.From, err)
			return
		}
		a.det.HandleControl(f.From, term.ControlMsg{
			Kind:  term.CtrlKind(wc.Kind),
			Epoch: term.EpochT(wc.Epoch),
			Wave:  int(wc.Wave),
			Prod:  wc.Prod,
			Cons:  wc.Cons,
		})
	case tagChunk:
		a.recvChunk(f)
	case tagData:
		a.recvDataMsg(f.From, f.Payload)
	default:
		nlog.Warningf("am: frame from %d on unknown tag %d dropped", f.From, f.Tag)
	}
}

func (a *ActiveMessenger) recvChunk(f xport.Frame) {
	c, err := decodeWireChunk(f.Payload)
	if err != nil {
		nlog.Errorf("am: decode chunk frame from %d: %v", f.From, err)
		return
	}
	key := reassemblyKey{from: f.From, msgID: c.MsgID}
	a.mu.Lock()
	st, ok := a.reassembly[key]
	if !ok {
		st = &reassemblyState{total: c.Total, chunks: make([][]byte, c.Total)}
		a.reassembly[key] = st
	}
	if int(c.Seq) < len(st.chunks) && st.chunks[c.Seq] == nil {
		st.chunks[c.Seq] = c.Data
		st.got++
	}
	complete := st.got >= st.total
	if complete {
		delete(a.reassembly, key)
	}
	a.mu.Unlock()
	if !complete {
		return
	}
	var full []byte
	for _, part := range st.chunks {
		full = append(full, part...)
	}
	a.recvDataMsg(f.From, full)
}

// recvDataMsg decodes a wireMessage and enqueues its Runnable (§4.4
// receive path): the handler table entry supplies both the callable
// and the factory for a fresh body to jsoniter.Unmarshal into.
func (a *ActiveMessenger) recvDataMsg(from node.T, payload []byte) {
	wm, err := decodeWireMessage(payload)
	if err != nil {
		nlog.Errorf("am: decode message from %d: %v", from, err)
		return
	}
	h := registry.HandlerT(wm.Env.Handler)
	raw, err := a.reg.Get(h)
	if err != nil {
		nlog.Errorf("am: unknown handler %#x from %d: %v", h, from, err)
		return
	}
	entry, ok := raw.(HandlerEntry)
	cos.AssertAbort(ok, cos.ErrNoHandler, "recvDataMsg: handler table entry has the wrong shape")

	body := entry.NewBody()
	if len(wm.Body) > 0 {
		if err := json.Unmarshal(wm.Body, body); err != nil {
			nlog.Errorf("am: unmarshal body for handler %#x from %d: %v", h, from, err)
			return
		}
	}

	epoch := term.EpochT(wm.Env.Epoch)

	var msg *messaging.Message
	if len(wm.Put) > 0 && a.pool != nil {
		// pool-backed: the inline put payload gets a slab buffer sized
		// to hold it, returned to the pool once the Runnable releases
		// its MsgPtr (§4.1, §4.2 over-allocation for the put payload).
		msg = messaging.NewMessage(a.pool, messaging.KindEpochTag, h, body, len(wm.Put), 0)
		msg.SetPutPayload(wm.Put)
	} else {
		msg = messaging.NewUnmanagedMessage(messaging.KindEpochTag, h, body)
	}
	msg.Env.SetEpoch(epoch)
	msg.Env.SetSrc(from)
	ptr := messaging.Promote[any](msg)

	if wm.Env.Flags&1 != 0 { // flagBroadcast bit; see rawFlags
		a.forwardBroadcast(h, from, body)
	}

	a.mu.Lock()
	a.currentFrom = from
	a.mu.Unlock()

	r := sched.NewRunnable(h, from, epoch, ptr)
	a.sc.Enqueue(r)
}

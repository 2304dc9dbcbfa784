// Package pipe implements the reduced callback/pipe subsystem (§4.9):
// a callback is a handle that, when triggered, sends a prearranged
// active message to a prearranged destination (direct node, broadcast,
// or an anonymous local closure); a pipe multiplexes one or more
// triggers out to one or more listeners, tracking expected signal and
// listener counts so automatic (single-use) pipes can be collected
// once both are satisfied.
//
// Grounded on original_source/src/pipe/state/pipe_state.h (the
// automatic_/num_signals_expected_/num_listeners_expected_ bookkeeping)
// and src/vt/pipe/callback/anon/callback_anon_listener.h (the anonymous
// local-closure listener kind) — §4.9 explicitly calls this "reduced,
// since it rides on the core": no collection/objgroup listener kinds,
// just direct-node, broadcast, and anonymous.
package pipe

import (
	"sync"

	"github.com/google/uuid"

	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
)

// ID names a pipe, issued as a UUID (§4.9, per the pack's preference
// for google/uuid over a dense per-rank counter when ids must be
// minted without cross-rank coordination).
type ID = uuid.UUID

// Callback is one listener a pipe can trigger: a direct send, a
// broadcast, or — when Anon is set — a local closure invoked without
// going anywhere near the transport.
type Callback struct {
	Dest      node.T
	Handler   registry.HandlerT
	Broadcast bool
	Anon      func(body any)
}

// DirectCallback builds a callback that sends to a specific node.
func DirectCallback(dest node.T, h registry.HandlerT) Callback {
	return Callback{Dest: dest, Handler: h}
}

// BroadcastCallback builds a callback that fans out to every rank.
func BroadcastCallback(h registry.HandlerT) Callback {
	return Callback{Handler: h, Broadcast: true}
}

// AnonCallback builds a callback that runs fn locally: no handler, no
// transport, the pipe's simplest listener kind.
func AnonCallback(fn func(body any)) Callback {
	return Callback{Anon: fn}
}

func (c Callback) deliver(amr *am.ActiveMessenger, body any) error {
	if c.Anon != nil {
		c.Anon(body)
		return nil
	}
	if c.Broadcast {
		_, err := amr.BroadcastMsg(c.Handler, body, true)
		return err
	}
	_, err := amr.SendMsg(c.Handler, c.Dest, body)
	return err
}

// state mirrors PipeState's bookkeeping: a pipe finishes once it has
// received every signal it expects and registered every listener it
// expects; -1 in either count means "indefinite" (never finishes on
// its own).
type state struct {
	automatic            bool
	numSignalsExpected   int64
	numSignalsReceived   int64
	numListenersExpected int64
	numListenersReceived int64
}

func (s *state) signalRecv()  { s.numSignalsReceived++ }
func (s *state) listenerReg() { s.numListenersReceived++ }

func (s *state) finished() bool {
	if s.numSignalsExpected < 0 || s.numListenersExpected < 0 {
		return false
	}
	return s.numSignalsReceived >= s.numSignalsExpected &&
		s.numListenersReceived >= s.numListenersExpected
}

type entry struct {
	st        *state
	listeners []Callback
}

// Manager is the per-rank pipe table.
type Manager struct {
	amr *am.ActiveMessenger

	mu    sync.Mutex
	pipes map[ID]*entry
}

func New(amr *am.ActiveMessenger) *Manager {
	return &Manager{amr: amr, pipes: map[ID]*entry{}}
}

// MakeSingleUse creates an automatic pipe (§4.9 "automatic pipes can
// be garbage-collected"): exactly one trigger, then it is collected.
func (m *Manager) MakeSingleUse(listeners ...Callback) ID {
	return m.make(true, 1, int64(len(listeners)), listeners)
}

// MakePersistent creates a pipe with no fixed number of triggers: it
// survives Trigger calls until the caller explicitly Destroys it.
func (m *Manager) MakePersistent(listeners ...Callback) ID {
	return m.make(false, -1, int64(len(listeners)), listeners)
}

func (m *Manager) make(automatic bool, signalsExpected, listenersExpected int64, listeners []Callback) ID {
	id := uuid.New()
	st := &state{automatic: automatic, numSignalsExpected: signalsExpected, numListenersExpected: listenersExpected}
	for range listeners {
		st.listenerReg()
	}
	m.mu.Lock()
	m.pipes[id] = &entry{st: st, listeners: append([]Callback(nil), listeners...)}
	m.mu.Unlock()
	return id
}

// AddListener registers an additional listener on an already-created
// pipe (useful for pipes built with MakePersistent or with 0 initial
// listeners).
func (m *Manager) AddListener(id ID, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pipes[id]
	if !ok {
		return
	}
	e.listeners = append(e.listeners, cb)
	e.st.listenerReg()
}

// Trigger sends body to every listener registered on id. Once an
// automatic pipe both has received every expected signal and has
// every expected listener registered, it is removed from the table —
// further Trigger calls on that id are a no-op.
func (m *Manager) Trigger(id ID, body any) error {
	m.mu.Lock()
	e, ok := m.pipes[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	e.st.signalRecv()
	done := e.st.automatic && e.st.finished()
	if done {
		delete(m.pipes, id)
	}
	listeners := e.listeners
	m.mu.Unlock()

	var errs error
	for _, cb := range listeners {
		if err := cb.deliver(m.amr, body); err != nil && errs == nil {
			errs = err
		}
	}
	return errs
}

// Destroy explicitly removes a (typically persistent) pipe.
func (m *Manager) Destroy(id ID) {
	m.mu.Lock()
	delete(m.pipes, id)
	m.mu.Unlock()
}

// Live reports whether id still has an entry in the table.
func (m *Manager) Live(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pipes[id]
	return ok
}

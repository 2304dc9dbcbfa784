package coll

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/sched"
)

var collJSON = jsoniter.ConfigCompatibleWithStandardLibrary

type reduceMsg struct {
	Scope uint64
	Seq   uint64
	Data  []byte
}

// reduceState is the type-erased per-(scope,seq) accumulator: Reduce[T]
// closes over the concrete T in combine/decode/deliver so the single
// process-wide reduceHandler can drive it without knowing T itself.
type reduceState struct {
	childCount int
	reported   int
	value      any
	combine    func(a, b any) any
	decode     func([]byte) (any, error)
	encode     func(any) ([]byte, error)
	deliver    func(any)
	parent     node.T
}

var reduceHandlerID = am.RegisterHandler(
	func() any { return new(reduceMsg) },
	func(msgr sched.Messenger, from node.T, msg *messaging.Message) {
		rm := msg.Body.(*reduceMsg)
		mgr := managerFor(msgr)
		if mgr == nil {
			return
		}
		mgr.handleReduce(rm)
	},
)

// Reduce combines local across every rank in scope using combine
// (assumed associative; §4.11 "Reduce correctness"), delivering the
// fully-combined result to deliver on (and only on) scope's root.
// Every rank must call Reduce for a given logical reduction at a
// matching point in program order (mirrors the epoch-minting
// assumption in §4.7).
func Reduce[T any](mgr *Manager, scope messaging.GroupT, local T, combine func(a, b T) T, deliver func(result T)) {
	seq := mgr.nextSequence()
	t := mgr.treeFor(scope)
	st := &reduceState{
		childCount: len(t.Children(mgr.self)),
		value:      local,
		parent:     t.Parent(mgr.self),
		combine:    func(a, b any) any { return combine(a.(T), b.(T)) },
		decode: func(b []byte) (any, error) {
			var v T
			err := collJSON.Unmarshal(b, &v)
			return v, err
		},
		encode: func(v any) ([]byte, error) { return collJSON.Marshal(v.(T)) },
		deliver: func(v any) {
			if deliver != nil {
				deliver(v.(T))
			}
		},
	}
	key := opKey{scope, seq}
	mgr.mu.Lock()
	mgr.reduces[key] = st
	mgr.mu.Unlock()

	if st.childCount == 0 {
		mgr.reduceAdvance(scope, seq, st)
	}
}

func (m *Manager) handleReduce(rm *reduceMsg) {
	key := opKey{messaging.GroupT(rm.Scope), rm.Seq}
	m.mu.Lock()
	st, ok := m.reduces[key]
	m.mu.Unlock()
	if !ok {
		// every rank is expected to have already called Reduce for this
		// (scope, seq) by the time a child's partial arrives; a report
		// with nothing to fold into is a protocol violation upstream.
		return
	}

	v, err := st.decode(rm.Data)
	if err != nil {
		return
	}

	m.mu.Lock()
	st.value = st.combine(st.value, v)
	st.reported++
	done := st.reported >= st.childCount
	m.mu.Unlock()

	if done {
		m.reduceAdvance(messaging.GroupT(rm.Scope), rm.Seq, st)
	}
}

// reduceAdvance runs once a rank's local value and every child's
// report have been folded in: the root delivers, everyone else
// forwards the partial up one level (§4.11 Reduce).
func (m *Manager) reduceAdvance(scope messaging.GroupT, seq uint64, st *reduceState) {
	if st.parent == node.Uninitialized {
		key := opKey{scope, seq}
		m.mu.Lock()
		delete(m.reduces, key)
		m.mu.Unlock()
		st.deliver(st.value)
		return
	}
	data, err := st.encode(st.value)
	key := opKey{scope, seq}
	m.mu.Lock()
	delete(m.reduces, key)
	m.mu.Unlock()
	if err != nil {
		return
	}
	_, _ = m.amr.SendMsg(reduceHandlerID, st.parent, &reduceMsg{Scope: uint64(scope), Seq: seq, Data: data})
}

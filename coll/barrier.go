package coll

import (
	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/sched"
)

type barrierPhase uint8

const (
	barrierUpPhase barrierPhase = iota
	barrierDownPhase
)

type barrierMsg struct {
	Scope uint64
	Seq   uint64
	Phase uint8
}

type barrierState struct {
	childCount int
	upReported int
	parent     node.T
	done       func()
}

var barrierHandlerID = am.RegisterHandler(
	func() any { return new(barrierMsg) },
	func(msgr sched.Messenger, from node.T, msg *messaging.Message) {
		bm := msg.Body.(*barrierMsg)
		mgr := managerFor(msgr)
		if mgr == nil {
			return
		}
		mgr.handleBarrier(bm)
	},
)

// Barrier blocks logically until every rank in scope has called
// Barrier: an up-phase collects at the root, then a down-phase
// releases every rank (§4.11 "Barrier: up-phase then down-phase").
// done runs once this rank is released; every rank must call Barrier
// at a matching logical point.
func Barrier(mgr *Manager, scope messaging.GroupT, done func()) {
	seq := mgr.nextSequence()
	t := mgr.treeFor(scope)
	st := &barrierState{
		childCount: len(t.Children(mgr.self)),
		parent:     t.Parent(mgr.self),
		done:       done,
	}
	key := opKey{scope, seq}
	mgr.mu.Lock()
	mgr.barriers[key] = st
	mgr.mu.Unlock()

	if st.childCount == 0 {
		mgr.barrierUpComplete(scope, seq, st)
	}
}

func (m *Manager) handleBarrier(bm *barrierMsg) {
	key := opKey{messaging.GroupT(bm.Scope), bm.Seq}
	m.mu.Lock()
	st, ok := m.barriers[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch barrierPhase(bm.Phase) {
	case barrierUpPhase:
		m.mu.Lock()
		st.upReported++
		complete := st.upReported >= st.childCount
		m.mu.Unlock()
		if complete {
			m.barrierUpComplete(messaging.GroupT(bm.Scope), bm.Seq, st)
		}
	case barrierDownPhase:
		m.barrierDown(messaging.GroupT(bm.Scope), bm.Seq, st)
	}
}

// barrierUpComplete runs once a rank's own arrival plus every child's
// up-phase report is in: the root starts the down-phase, everyone
// else reports up one level.
func (m *Manager) barrierUpComplete(scope messaging.GroupT, seq uint64, st *barrierState) {
	if st.parent == node.Uninitialized {
		m.barrierDown(scope, seq, st)
		return
	}
	_, _ = m.amr.SendMsg(barrierHandlerID, st.parent, &barrierMsg{Scope: uint64(scope), Seq: seq, Phase: uint8(barrierUpPhase)})
}

// barrierDown fans the release out to children and then releases this
// rank (§4.11 "down-phase ... sync messages").
func (m *Manager) barrierDown(scope messaging.GroupT, seq uint64, st *barrierState) {
	t := m.treeFor(scope)
	t.ForEachChild(m.self, func(c node.T) {
		_, _ = m.amr.SendMsg(barrierHandlerID, c, &barrierMsg{Scope: uint64(scope), Seq: seq, Phase: uint8(barrierDownPhase)})
	})
	key := opKey{scope, seq}
	m.mu.Lock()
	delete(m.barriers, key)
	m.mu.Unlock()
	if st.done != nil {
		st.done()
	}
}

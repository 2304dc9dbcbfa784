// Package coll implements the spanning-tree collective algorithms
// (§4.11): broadcast (a thin pass-through to am.ActiveMessenger's own
// tree fan-out, since §4.11's broadcast rule is already exactly what
// am.BroadcastMsg does), reduce, and barrier.
//
// Every collective call assumes the same calling convention epoch
// minting already relies on (§4.7 "every rank calling this at the same
// logical point"): all ranks invoke Reduce/Barrier for a given
// collective at matching logical points and in matching order, so a
// per-rank sequence counter mints the same correlation id everywhere
// without a handshake. Grounded on tree.Tree (§4.10) for fan-out shape
// and on original_source/src/vt/collective/reduce/reduce.cc and
// original_source/src/vt/collective/reduce/reduce_state.h for the
// up-combine/down-broadcast structure of reduce and barrier alike.
package coll

import (
	"sync"
	"sync/atomic"

	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/sched"
	"github.com/amt-rt/vt/tree"
)

type opKey struct {
	scope messaging.GroupT
	seq   uint64
}

// Manager is the per-rank collective-operation table: one per
// ActiveMessenger, registered so the process-wide reduce/barrier
// handlers (shared across every rank's registry entry, per §4.3) can
// find the right rank's pending state.
type Manager struct {
	amr    *am.ActiveMessenger
	self   node.T
	nRanks int

	mu       sync.Mutex
	trees    map[messaging.GroupT]*tree.Tree
	reduces  map[opKey]*reduceState
	barriers map[opKey]*barrierState
	nextSeq  uint64
}

var managers sync.Map // sched.Messenger (am.ActiveMessenger identity) -> *Manager

// New builds a Manager bound to amr and registers it so the shared
// reduce/barrier handlers can route incoming messages back to it.
func New(amr *am.ActiveMessenger, nRanks int) *Manager {
	mgr := &Manager{
		amr:      amr,
		self:     amr.Self(),
		nRanks:   nRanks,
		trees:    map[messaging.GroupT]*tree.Tree{messaging.DefaultGroup: tree.New(nRanks)},
		reduces:  map[opKey]*reduceState{},
		barriers: map[opKey]*barrierState{},
	}
	managers.Store(sched.Messenger(amr), mgr)
	return mgr
}

func (m *Manager) treeFor(scope messaging.GroupT) *tree.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trees[scope]; ok {
		return t
	}
	t := tree.New(m.nRanks)
	m.trees[scope] = t
	return t
}

func (m *Manager) nextSequence() uint64 { return atomic.AddUint64(&m.nextSeq, 1) }

func managerFor(msgr sched.Messenger) *Manager {
	v, ok := managers.Load(msgr)
	if !ok {
		return nil
	}
	return v.(*Manager)
}

// Broadcast is a thin convenience wrapper: §4.11's broadcast rule
// ("send to each child; children recurse") is already exactly what
// am.ActiveMessenger.BroadcastMsg implements, so coll does not
// duplicate that fan-out logic — it just names the call under the
// collectives package for symmetry with Reduce and Barrier.
func Broadcast(amr *am.ActiveMessenger, h registry.HandlerT, body any, inclSelf bool) error {
	_, err := amr.BroadcastMsg(h, body, inclSelf)
	return err
}

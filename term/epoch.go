// Package term implements epoch identity (EpochManip) and the
// four-counter distributed termination detector (§4.7), grounded on
// original_source/src/vt/epoch/epoch_manip.cc and
// original_source/src/vt/termination/term_state.h.
package term

import (
	"sync"
	"sync/atomic"

	"github.com/amt-rt/vt/bits"
	"github.com/amt-rt/vt/node"
)

// EpochT is the 64-bit opaque epoch identifier (§3): bit-packed from
// {is-rooted, is-user, has-category, category, root-node, sequence}.
type EpochT uint64

// Category distinguishes epoch provenance (user code vs. internal
// collective machinery); NoCategory means "unset".
type Category uint8

const (
	NoCategory Category = iota
	UserCategory
	InsertCategory
	RuntimeCategory
)

// NoEpoch means "inherits the sentinel" (§4.1 setEpoch). TermSentinel
// is the global "any" epoch (§3 distinguished values).
const (
	NoEpoch      EpochT = 0
	TermSentinel EpochT = ^EpochT(0)
)

var (
	fIsRooted    = bits.Field{Start: 0, Len: 1}
	fIsUser      = bits.Field{Start: 1, Len: 1}
	fHasCategory = bits.Field{Start: 2, Len: 1}
	fCategory    = bits.Field{Start: 3, Len: 5}
	fRootNode    = bits.Field{Start: 8, Len: 20}
	fSeq         = bits.Field{Start: 28, Len: 36}
)

func IsRooted(e EpochT) bool { return bits.GetBool(uint64(e), fIsRooted) }
func IsUser(e EpochT) bool   { return bits.GetBool(uint64(e), fIsUser) }

func HasCategory(e EpochT) bool { return bits.GetBool(uint64(e), fHasCategory) }
func GetCategory(e EpochT) Category {
	return Category(bits.GetField(uint64(e), fCategory))
}

// RootNode returns the root-node field, which is 0 (it does not panic)
// if e is not rooted; callers must check IsRooted first.
func RootNode(e EpochT) node.T {
	return node.T(bits.GetField(uint64(e), fRootNode))
}

func Seq(e EpochT) uint64 { return bits.GetField(uint64(e), fSeq) }

// Archetype zeroes the sequence field, the "kind of epoch" this one is
// (used to key the per-archetype sequence-allocation window).
func Archetype(e EpochT) EpochT {
	w := uint64(e)
	bits.SetField(&w, fSeq, 0)
	return EpochT(w)
}

func setSeq(e *EpochT, seq uint64) {
	w := uint64(*e)
	bits.SetField(&w, fSeq, seq)
	*e = EpochT(w)
}

// generate builds the archetype (sequence=0) for a rooted or
// collective epoch in the given category.
func generate(isRooted, isUser bool, root node.T, cat Category) EpochT {
	var w uint64
	bits.SetBool(&w, fIsRooted, isRooted)
	bits.SetBool(&w, fIsUser, isUser)
	if cat != NoCategory {
		bits.SetBool(&w, fHasCategory, true)
		bits.SetField(&w, fCategory, uint64(cat))
	}
	if isRooted {
		bits.SetField(&w, fRootNode, uint64(root))
	}
	return EpochT(w)
}

// Manip allocates fresh sequence numbers per archetype, mirroring
// EpochManip's terminated_epochs_ map of per-archetype EpochWindow
// counters.
type Manip struct {
	mu      sync.Mutex
	seqs    map[EpochT]*uint64
	self    node.T
}

func NewManip(self node.T) *Manip {
	return &Manip{self: self, seqs: make(map[EpochT]*uint64)}
}

func (m *Manip) nextSeq(arch EpochT) uint64 {
	m.mu.Lock()
	ctr, ok := m.seqs[arch]
	if !ok {
		var zero uint64
		ctr = &zero
		m.seqs[arch] = ctr
	}
	m.mu.Unlock()
	return atomic.AddUint64(ctr, 1)
}

// NextCollectiveEpoch mints the next sequence for a collective epoch
// archetype; every rank calling this at the same logical point gets
// the same EpochT (§4.7 epoch creation).
func (m *Manip) NextCollectiveEpoch(cat Category) EpochT {
	arch := generate(false, cat == UserCategory, node.Uninitialized, cat)
	seq := m.nextSeq(arch)
	e := arch
	setSeq(&e, seq)
	return e
}

// NextRootedEpoch mints the next sequence for an epoch rooted at m's
// own rank; only the root may mint sequences (§3 invariant).
func (m *Manip) NextRootedEpoch(cat Category) EpochT {
	arch := generate(true, cat == UserCategory, m.self, cat)
	seq := m.nextSeq(arch)
	e := arch
	setSeq(&e, seq)
	return e
}

// Package registry is the handler registry and identity scheme (§4.3):
// at static-init time each Register call appends a callable to a
// per-kind table and returns its index; MakeHandler bit-packs a stable,
// globally-identifiable HandlerT from {kind, flags, index, control}.
//
// Grounded on original_source/src/vt/registry/registry.cc and
// auto_registry_impl.h: one table per handler kind, looked up by
// decomposing the bit-packed id.
package registry

import (
	"sync"

	"github.com/amt-rt/vt/bits"
	"github.com/amt-rt/vt/cmn/cos"
)

// HandlerT is the 64-bit opaque handler identifier (§3). Equal
// HandlerT values on different ranks refer to the same callable
// provided registration order is identical on every rank (§4.3
// invariant).
type HandlerT uint64

// Kind selects which table (and therefore which call signature) a
// handler belongs to (§4.3).
type Kind uint8

const (
	KindActiveFn Kind = iota
	KindFunctor
	KindCollectionMember
	KindObjgroupMember
	KindScatter
	KindMap
	KindSeedMap
	KindIndexGen
	numKinds
)

// bit layout: kind(4) | auto(1) | functor(1) | trace(1) | baseDerived(1) | index(32) | control(24)
var (
	fKind        = bits.Field{Start: 0, Len: 4}
	fAuto        = bits.Field{Start: 4, Len: 1}
	fFunctor     = bits.Field{Start: 5, Len: 1}
	fTrace       = bits.Field{Start: 6, Len: 1}
	fBaseDerived = bits.Field{Start: 7, Len: 1}
	fIndex       = bits.Field{Start: 8, Len: 32}
	fControl     = bits.Field{Start: 40, Len: 24}
)

// Opts carries the non-index bits MakeHandler packs; zero value is a
// plain, non-auto, non-functor, non-traced, non-base-derived handler.
type Opts struct {
	Auto        bool
	Functor     bool
	Trace       bool
	BaseDerived bool
	Control     uint32
}

// MakeHandler bit-packs a HandlerT from kind, an index previously
// returned by Register, and the optional flag/control bits.
func MakeHandler(kind Kind, index uint32, opts Opts) HandlerT {
	var w uint64
	bits.SetField(&w, fKind, uint64(kind))
	bits.SetBool(&w, fAuto, opts.Auto)
	bits.SetBool(&w, fFunctor, opts.Functor)
	bits.SetBool(&w, fTrace, opts.Trace)
	bits.SetBool(&w, fBaseDerived, opts.BaseDerived)
	bits.SetField(&w, fIndex, uint64(index))
	bits.SetField(&w, fControl, uint64(opts.Control))
	return HandlerT(w)
}

func (h HandlerT) Kind() Kind      { return Kind(bits.GetField(uint64(h), fKind)) }
func (h HandlerT) Index() uint32   { return uint32(bits.GetField(uint64(h), fIndex)) }
func (h HandlerT) Control() uint32 { return uint32(bits.GetField(uint64(h), fControl)) }
func (h HandlerT) IsAuto() bool    { return bits.GetBool(uint64(h), fAuto) }
func (h HandlerT) IsFunctor() bool { return bits.GetBool(uint64(h), fFunctor) }
func (h HandlerT) IsTraced() bool  { return bits.GetBool(uint64(h), fTrace) }

// NoHandler is the zero value: reading it before a real handler was
// set is a usage error (§4.1 Failure).
const NoHandler HandlerT = 0

// Registry holds one table per Kind. Registration happens at
// static-init time (process startup, before any rank sends); the
// invariant that identical registration order across ranks yields
// identical HandlerT values is the caller's responsibility (the
// `register_all` pattern from DESIGN NOTES).
type Registry struct {
	mu     sync.RWMutex
	tables [numKinds][]any
}

var global = &Registry{}

// Global returns the process-wide registry used by the package-level
// Register/MakeAutoHandler/Get helpers.
func Global() *Registry { return global }

// Register appends fn to kind's table and returns its index. Intended
// to be called from an init() func or an explicit register-all routine
// so that every rank builds the same table in the same order.
func (r *Registry) Register(kind Kind, fn any) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := uint32(len(r.tables[kind]))
	r.tables[kind] = append(r.tables[kind], fn)
	return idx
}

// Get decomposes h and returns the registered callable, or an error if
// nothing is registered at that slot (a corrupt or cross-version id).
func (r *Registry) Get(h HandlerT) (any, error) {
	if h == NoHandler {
		return nil, cos.ErrNoHandler
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind := h.Kind()
	idx := h.Index()
	if int(kind) >= len(r.tables) || int(idx) >= len(r.tables[kind]) {
		return nil, cos.NewErrNotFound("handler %#x (kind=%d idx=%d)", uint64(h), kind, idx)
	}
	return r.tables[kind][idx], nil
}

// MakeAutoHandler registers fn in the global registry (every call
// appends a new entry; there is no check for an earlier registration
// of the same fn) and returns a HandlerT with the auto-flag set; equal fn registered in equal order on every rank
// yields an equal HandlerT (§8 Handler identity property).
func MakeAutoHandler(kind Kind, fn any) HandlerT {
	idx := global.Register(kind, fn)
	return MakeHandler(kind, idx, Opts{Auto: true})
}

// Package messaging implements the fixed-layout message envelope, the
// ref-counted Message it prefixes, and the MsgPtr smart pointer that
// keeps a Message's refcount and pool-backed buffer in sync (§4.1).
//
// Grounded on original_source/src/messaging/message/{message.h,
// smart_ptr.h,shared_message.h} for envelope/refcount semantics, and on
// the teacher's transport.ObjHdr (rockstar-0000-aistore/transport/api.go)
// for the flat-header-plus-opaque-bytes wire shape.
package messaging

import (
	"sync/atomic"

	"github.com/amt-rt/vt/cmn/cos"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/term"
)

// Kind picks which envelope variant a message carries (§4.1: "short"
// vs. "epoch-tag"). Both share this one Go struct; Kind only gates
// which fields serialization includes.
type Kind uint8

const (
	KindShort Kind = iota
	KindEpochTag
)

type flag uint8

const (
	flagBroadcast flag = 1 << iota
	flagPutPresent
	flagLocked
)

// GroupT names a spanning-tree group; DefaultGroup is "the full world"
// (§4.1 setGroup/getGroup).
type GroupT uint64

const DefaultGroup GroupT = 0

// Envelope is the fixed-layout header prepended to every message
// (§4.1). It is always reached through a *Message; never copy it by
// value once it is live — the refcount is the one authoritative join
// between transport ownership and every outstanding MsgPtr.
type Envelope struct {
	kind    Kind
	dest    node.T
	src     node.T
	handler registry.HandlerT
	ref     int32 // atomic
	epoch   term.EpochT
	group   GroupT
	flags   uint8
	putLen  int32
}

// InitEnvelope zero-initializes an envelope per §4.1 init(kind): no
// refcount, no handler, no epoch, no group, dest unset.
func InitEnvelope(kind Kind) Envelope {
	return Envelope{
		kind:  kind,
		dest:  node.Uninitialized,
		src:   node.Uninitialized,
		epoch: term.NoEpoch,
		group: DefaultGroup,
	}
}

func (e *Envelope) Kind() Kind { return e.kind }

func (e *Envelope) SetHandler(h registry.HandlerT) { e.handler = h }

// Handler reads the handler id. Reading one before it was set is a
// fatal process error (§4.1 Failure: "envelopes are not self-healing").
func (e *Envelope) Handler() registry.HandlerT {
	cos.AssertAbort(e.handler != registry.NoHandler, cos.ErrNoHandler, "envelope: handler read before set")
	return e.handler
}

func (e *Envelope) SetDest(n node.T) { e.dest = n }
func (e *Envelope) Dest() node.T     { return e.dest }

func (e *Envelope) SetSrc(n node.T) { e.src = n }
func (e *Envelope) Src() node.T     { return e.src }

func (e *Envelope) SetBroadcast(b bool) { e.setFlag(flagBroadcast, b) }
func (e *Envelope) IsBroadcast() bool   { return e.hasFlag(flagBroadcast) }

func (e *Envelope) SetEpoch(ep term.EpochT) { e.epoch = ep }
func (e *Envelope) Epoch() term.EpochT      { return e.epoch }

func (e *Envelope) SetGroup(g GroupT) { e.group = g }
func (e *Envelope) Group() GroupT     { return e.group }

func (e *Envelope) SetLocked(b bool) { e.setFlag(flagLocked, b) }
func (e *Envelope) IsLocked() bool   { return e.hasFlag(flagLocked) }

// SetPut records an out-of-band inline-payload length (§4.1 setPut);
// the payload bytes themselves live alongside the envelope in Message.
func (e *Envelope) SetPut(nbytes int) {
	e.putLen = int32(nbytes)
	e.setFlag(flagPutPresent, nbytes > 0)
}
func (e *Envelope) HasPut() bool { return e.hasFlag(flagPutPresent) }
func (e *Envelope) PutLen() int  { return int(e.putLen) }

func (e *Envelope) setFlag(f flag, v bool) {
	if v {
		e.flags |= uint8(f)
	} else {
		e.flags &^= uint8(f)
	}
}
func (e *Envelope) hasFlag(f flag) bool { return e.flags&uint8(f) != 0 }

// Ref/Deref/GetRef implement the ref-count join described in the
// design's Ownership summary: transport and every live MsgPtr each
// hold one ref (§4.1 ref()/deref()/getRef()).
func (e *Envelope) Ref() int32   { return atomic.AddInt32(&e.ref, 1) }
func (e *Envelope) Deref() int32 { return atomic.AddInt32(&e.ref, -1) }
func (e *Envelope) GetRef() int32 { return atomic.LoadInt32(&e.ref) }

// setRefInit is used once, by NewMessage, to seed the refcount at 1
// (makeSharedMessage's envelopeSetRef(msg->env, 1)).
func (e *Envelope) setRefInit(n int32) { atomic.StoreInt32(&e.ref, n) }

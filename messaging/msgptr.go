package messaging

import "github.com/amt-rt/vt/cmn/debug"

// MsgPtr is the intrusive ref-counted smart pointer over a Message
// (§8 "Intrusive smart pointer": "reserve one word per message for a
// refcount ... ensure every code path uses the smart pointer"),
// grounded on original_source/src/messaging/message/smart_ptr.h's
// MsgSharedPtr<T>. T names the expected dynamic type of Message.Body.
type MsgPtr[T any] struct {
	msg *Message
}

// Promote adopts a freshly built Message (refcount already 1 from
// NewMessage/NewUnmanagedMessage) without bumping it — the Go mirror of
// promoteMsg()/MsgSharedPtr's MsgInitOwnerTag constructor.
func Promote[T any](msg *Message) MsgPtr[T] {
	debug.Assert(msg.Env.GetRef() > 0, "promote: message must already have ref > 0")
	return MsgPtr[T]{msg: msg}
}

// Nil is the zero-value MsgPtr, equivalent to MsgSharedPtr(nullptr).
func Nil[T any]() MsgPtr[T] { return MsgPtr[T]{} }

func (p MsgPtr[T]) Valid() bool { return p.msg != nil }

// Get returns the underlying Message, or nil for an invalid MsgPtr.
func (p MsgPtr[T]) Get() *Message { return p.msg }

// Body type-asserts the message's payload to *T.
func (p MsgPtr[T]) Body() *T {
	if p.msg == nil {
		return nil
	}
	b, _ := p.msg.Body.(*T)
	return b
}

// Clone bumps the refcount and returns a new MsgPtr sharing the same
// Message (MsgSharedPtr's copy constructor: "ptr_(in.ptr_) { ref(); }").
func (p MsgPtr[T]) Clone() MsgPtr[T] {
	if p.msg != nil {
		p.msg.ref()
	}
	return p
}

// Release derefs the Message, returning its buffer to the pool once
// the last holder has released it (MsgSharedPtr::clear()).
func (p *MsgPtr[T]) Release() {
	if p.msg == nil {
		return
	}
	p.msg.deref()
	p.msg = nil
}

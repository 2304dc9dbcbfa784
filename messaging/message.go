package messaging

import (
	"github.com/amt-rt/vt/memsys"
	"github.com/amt-rt/vt/registry"
)

// Message is an envelope followed by a user payload and, optionally,
// an inline "put" payload (§3 Message, §4.1). A Message built by
// NewMessage is pool-backed: it draws its Buffer from a memsys.Pool
// sized to fit body+put, and the refcount reaching zero returns that
// buffer. NewUnmanagedMessage builds one with no pool backing.
type Message struct {
	Env Envelope
	Body any
	Put  []byte

	buf  *memsys.Buffer
	pool *memsys.Pool
}

// NewMessage allocates a pool-backed Message carrying body, seeding
// its refcount at 1 (original_source's makeSharedMessage:
// envelopeSetRef(msg->env, 1)). over reserves extra slab capacity for
// an inline put payload decided later via RemainingSize.
func NewMessage(pool *memsys.Pool, kind Kind, handler registry.HandlerT, body any, bodySize, over int) *Message {
	buf := pool.Alloc(bodySize, over)
	env := InitEnvelope(kind)
	env.SetHandler(handler)
	env.setRefInit(1)
	return &Message{Env: env, Body: body, buf: buf, pool: pool}
}

// NewUnmanagedMessage builds a Message with no pool backing (§3
// messageSetUnmanaged): used for control messages and tests where
// slab accounting doesn't matter. Its refcount still starts at 1 so
// MsgPtr bookkeeping is uniform.
func NewUnmanagedMessage(kind Kind, handler registry.HandlerT, body any) *Message {
	env := InitEnvelope(kind)
	env.SetHandler(handler)
	env.setRefInit(1)
	return &Message{Env: env, Body: body}
}

// RemainingSize is the free slab capacity left after `used` bytes
// (envelope + body already serialized) have been written; a zero
// result (or a nil buf, for unmanaged messages) means no inline put
// fits and a separate payload send is required (§4.2, §4.4 decision
// tree step 4).
func (m *Message) RemainingSize(used int) int {
	if m.buf == nil || m.pool == nil {
		return 0
	}
	return m.pool.RemainingSize(m.buf, used)
}

// SetPutPayload attaches an inline put payload and records its length
// on the envelope (§4.1 setPut).
func (m *Message) SetPutPayload(p []byte) {
	m.Put = p
	m.Env.SetPut(len(p))
}

// ref/deref implement the intrusive-refcount discipline of §3's
// Ownership summary: when the last holder derefs, the backing buffer
// (if any) returns to its pool.
func (m *Message) ref() int32 { return m.Env.Ref() }

func (m *Message) deref() int32 {
	n := m.Env.Deref()
	if n == 0 && m.buf != nil && m.pool != nil {
		m.pool.Dealloc(m.buf)
		m.buf = nil
	}
	return n
}

package am

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"github.com/tinylib/msgp/msgp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireEnvelope is the on-the-wire projection of messaging.Envelope:
// every field is a plain fixed-width number, hand-encoded against
// msgp.Writer/Reader the way generated msgp code would (§4.4 "Wire
// format: envelope (fixed size)"). A POD header like this is exactly
// what msgp's manual Writer/Reader primitives are for — no codegen
// needed since there's no nested/variadic structure to derive.
type wireEnvelope struct {
	Kind    uint8
	Dest    int32
	Src     int32
	Handler uint64
	Epoch   uint64
	Group   uint64
	Flags   uint8
	PutLen  int32
}

func (z *wireEnvelope) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteUint8(z.Kind); err != nil {
		return
	}
	if err = en.WriteInt32(z.Dest); err != nil {
		return
	}
	if err = en.WriteInt32(z.Src); err != nil {
		return
	}
	if err = en.WriteUint64(z.Handler); err != nil {
		return
	}
	if err = en.WriteUint64(z.Epoch); err != nil {
		return
	}
	if err = en.WriteUint64(z.Group); err != nil {
		return
	}
	if err = en.WriteUint8(z.Flags); err != nil {
		return
	}
	err = en.WriteInt32(z.PutLen)
	return
}

func (z *wireEnvelope) DecodeMsg(dc *msgp.Reader) (err error) {
	if z.Kind, err = dc.ReadUint8(); err != nil {
		return
	}
	if z.Dest, err = dc.ReadInt32(); err != nil {
		return
	}
	if z.Src, err = dc.ReadInt32(); err != nil {
		return
	}
	if z.Handler, err = dc.ReadUint64(); err != nil {
		return
	}
	if z.Epoch, err = dc.ReadUint64(); err != nil {
		return
	}
	if z.Group, err = dc.ReadUint64(); err != nil {
		return
	}
	if z.Flags, err = dc.ReadUint8(); err != nil {
		return
	}
	z.PutLen, err = dc.ReadInt32()
	return
}

// wireMessage is envelope ∥ body ∥ optional inline put (§4.4 Wire
// format); Body is a jsoniter-encoded user payload — the reflective
// codec standing in for "serializable" messages generically, since
// msgp's struct codec requires per-type codegen this module cannot run.
type wireMessage struct {
	Env  wireEnvelope
	Body []byte
	Put  []byte
}

func encodeWireMessage(wm *wireMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriterBuf(&buf, nil)
	if err := wm.Env.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(wm.Body); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(wm.Put); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWireMessage(payload []byte) (*wireMessage, error) {
	r := msgp.NewReaderBuf(bytes.NewReader(payload), nil)
	wm := &wireMessage{}
	if err := wm.Env.DecodeMsg(r); err != nil {
		return nil, err
	}
	var err error
	if wm.Body, err = r.ReadBytes(nil); err != nil {
		return nil, err
	}
	if wm.Put, err = r.ReadBytes(nil); err != nil {
		return nil, err
	}
	return wm, nil
}

// wireChunk frames one piece of a chunked send (§4.4 decision tree
// step 2): reassembly keys on (From, MsgID); the first chunk's Total
// is the number of chunks in the whole message.
type wireChunk struct {
	MsgID uint64
	Seq   uint32
	Total uint32
	Data  []byte
}

func (z *wireChunk) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteUint64(z.MsgID); err != nil {
		return
	}
	if err = en.WriteUint32(z.Seq); err != nil {
		return
	}
	if err = en.WriteUint32(z.Total); err != nil {
		return
	}
	err = en.WriteBytes(z.Data)
	return
}

func (z *wireChunk) DecodeMsg(dc *msgp.Reader) (err error) {
	if z.MsgID, err = dc.ReadUint64(); err != nil {
		return
	}
	if z.Seq, err = dc.ReadUint32(); err != nil {
		return
	}
	if z.Total, err = dc.ReadUint32(); err != nil {
		return
	}
	z.Data, err = dc.ReadBytes(nil)
	return
}

func encodeWireChunk(c *wireChunk) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriterBuf(&buf, nil)
	if err := c.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWireChunk(payload []byte) (*wireChunk, error) {
	r := msgp.NewReaderBuf(bytes.NewReader(payload), nil)
	c := &wireChunk{}
	if err := c.DecodeMsg(r); err != nil {
		return nil, err
	}
	return c, nil
}

// wireControl frames term.ControlMsg for the consensus protocol
// (§4.7); it travels on its own reserved tag, bypassing the handler
// registry entirely since it is runtime-internal, not a user active
// message.
type wireControl struct {
	Kind  uint8
	Epoch uint64
	Wave  int64
	Prod  int64
	Cons  int64
}

func (z *wireControl) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteUint8(z.Kind); err != nil {
		return
	}
	if err = en.WriteUint64(z.Epoch); err != nil {
		return
	}
	if err = en.WriteInt64(z.Wave); err != nil {
		return
	}
	if err = en.WriteInt64(z.Prod); err != nil {
		return
	}
	err = en.WriteInt64(z.Cons)
	return
}

func (z *wireControl) DecodeMsg(dc *msgp.Reader) (err error) {
	if z.Kind, err = dc.ReadUint8(); err != nil {
		return
	}
	if z.Epoch, err = dc.ReadUint64(); err != nil {
		return
	}
	if z.Wave, err = dc.ReadInt64(); err != nil {
		return
	}
	if z.Prod, err = dc.ReadInt64(); err != nil {
		return
	}
	z.Cons, err = dc.ReadInt64()
	return
}

func encodeWireControl(c *wireControl) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriterBuf(&buf, nil)
	if err := c.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWireControl(payload []byte) (*wireControl, error) {
	r := msgp.NewReaderBuf(bytes.NewReader(payload), nil)
	c := &wireControl{}
	if err := c.DecodeMsg(r); err != nil {
		return nil, err
	}
	return c, nil
}

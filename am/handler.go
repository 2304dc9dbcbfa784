package am

import (
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/sched"
)

// HandlerEntry is what am registers in registry.Global() for each
// active function (§4.3 "plain active function" kind): the business
// callback plus a factory for a fresh, zero-valued Body instance so
// the receive path has somewhere to jsoniter.Unmarshal into.
type HandlerEntry struct {
	NewBody func() any
	Fn      sched.HandlerFunc
}

// Callable satisfies sched.Dispatchable so Runnable.Run can pull the
// business callback back out of a registry.KindActiveFn slot without
// sched importing am.
func (h HandlerEntry) Callable() sched.HandlerFunc { return h.Fn }

// RegisterHandler registers fn under registry.KindActiveFn and returns
// its stable HandlerT (§4.3 register/makeHandler). newBody must return
// a pointer to a fresh zero value of the type fn expects as the
// message body (e.g. func() any { return new(PingMsg) }).
func RegisterHandler(newBody func() any, fn sched.HandlerFunc) registry.HandlerT {
	idx := registry.Global().Register(registry.KindActiveFn, HandlerEntry{NewBody: newBody, Fn: fn})
	return registry.MakeHandler(registry.KindActiveFn, idx, registry.Opts{Auto: true})
}

// Package xport defines the two-sided point-to-point transport
// boundary the ActiveMessenger sends and polls through (§4.4 wire
// format, §5 "inherited ordering from transport"). It deliberately
// knows nothing about envelopes, handlers, or epochs — just ranks,
// small integer tags, and byte frames — so a real MPI/UCX binding
// could implement it without touching the rest of the runtime.
//
// The only implementation shipped here is xport/local, an in-process
// loopback fabric (see that package's doc comment for why it, and not
// a third-party dependency, backs this interface).
package xport

import "github.com/amt-rt/vt/node"

// Frame is one received unit: a byte payload tagged with a small
// integer and the sender's rank.
type Frame struct {
	From    node.T
	Tag     int
	Payload []byte
}

// Transport is the per-rank endpoint into the fabric.
type Transport interface {
	Self() node.T
	NumRanks() int

	// Send hands payload to dest under tag. A transport that cannot
	// guarantee ordered, reliable delivery is out of scope. A failed Send
	// returns an error; the ActiveMessenger does not abort or retry on
	// it: it returns the error to the sending caller, or logs it for a
	// control frame.
	Send(dest node.T, tag int, payload []byte) error

	// Poll drains every frame that has arrived for this rank since the
	// last call, without blocking (§4.5 Scheduler progress step 1).
	Poll() []Frame
}

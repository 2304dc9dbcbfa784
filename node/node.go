// Package node defines NodeT, the stable integer rank identity shared
// by every component in the runtime.
package node

// T is a process rank, stable for the process lifetime.
type T int32

// Uninitialized is the sentinel destination: sending to it is a usage
// error (§4.4, §7).
const Uninitialized T = -1

func (n T) Valid() bool { return n != Uninitialized }

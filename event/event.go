// Package event implements the per-send completion handles described
// in §4.8: every transport-completing send gets an Event; broadcasts
// get a parent Event aggregating one child per fanned-out send so the
// whole broadcast completes exactly once, when the last child does.
//
// Grounded on original_source's event subsystem (referenced from
// message/shared_message.h's completion-callback discipline) and on
// the teacher's transport.ObjSentCB / refcounted completion pattern
// (rockstar-0000-aistore/transport/api.go: Obj.prc + doCmpl).
package event

import "sync"

// ID identifies an Event within this rank's process lifetime.
type ID uint64

// Event tracks one in-flight (or already resolved) transport
// completion. A parent Event is not itself "resolved" by transport;
// it resolves when its pending child count reaches zero (§4.8
// "parent events aggregate children").
type Event struct {
	mu       sync.Mutex
	id       ID
	resolved bool
	pending  int // outstanding children; 0 for a leaf event until Resolve
	actions  []func()
}

// Registry hands out Event ids and owns the live set, mirroring
// theEvent() in the original design.
type Registry struct {
	mu     sync.Mutex
	nextID ID
	events map[ID]*Event
}

func NewRegistry() *Registry {
	return &Registry{events: make(map[ID]*Event)}
}

// NewEvent allocates a fresh, unresolved leaf event.
func (r *Registry) NewEvent() *Event {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()
	ev := &Event{id: id}
	r.mu.Lock()
	r.events[id] = ev
	r.mu.Unlock()
	return ev
}

// NewParent allocates an Event that resolves only once every one of
// children has resolved (§4.8, used for broadcast-wide acks).
func (r *Registry) NewParent(children ...*Event) *Event {
	parent := r.NewEvent()
	if len(children) == 0 {
		parent.Resolve()
		return parent
	}
	parent.mu.Lock()
	parent.pending = len(children)
	parent.mu.Unlock()
	for _, c := range children {
		c.AddAction(func() { parent.childResolved() })
	}
	return parent
}

func (e *Event) ID() ID { return e.id }

// Resolve marks a leaf event's transport send complete, firing any
// queued actions; safe to call more than once.
func (e *Event) Resolve() {
	e.mu.Lock()
	if e.resolved {
		e.mu.Unlock()
		return
	}
	e.resolved = true
	actions := e.actions
	e.actions = nil
	e.mu.Unlock()
	for _, fn := range actions {
		fn()
	}
}

func (e *Event) childResolved() {
	e.mu.Lock()
	if e.pending > 0 {
		e.pending--
	}
	done := e.pending == 0
	e.mu.Unlock()
	if done {
		e.Resolve()
	}
}

// IsResolved reports whether this event (leaf or parent) has completed.
func (e *Event) IsResolved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolved
}

// AddAction queues a continuation; it runs synchronously now if the
// event already resolved, else when it eventually does (§4.8 "User
// code may addAction(event, fn)").
func (e *Event) AddAction(fn func()) {
	e.mu.Lock()
	if e.resolved {
		e.mu.Unlock()
		fn()
		return
	}
	e.actions = append(e.actions, fn)
	e.mu.Unlock()
}

// Finalize drains every still-unresolved event in the registry by
// force-resolving it, mirroring theEvent()->finalize() used at
// runtime teardown.
func (r *Registry) Finalize() {
	r.mu.Lock()
	pending := make([]*Event, 0, len(r.events))
	for _, ev := range r.events {
		if !ev.IsResolved() {
			pending = append(pending, ev)
		}
	}
	r.mu.Unlock()
	for _, ev := range pending {
		ev.Resolve()
	}
}

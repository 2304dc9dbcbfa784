// Package worker is the optional worker-thread extension (§5:
// "historical... orthogonal to the core and may be omitted"): a small
// pool of goroutines drains a side queue of work submitted off the
// scheduler thread, handing finished Runnables back to the single
// cooperative Scheduler over a concurrent queue — the Go analogue of
// §5's "concurrent MPMC deque" for cross-thread hand-off.
//
// Everything the core scheduler (package sched) does stays
// single-threaded; this package exists only to let a caller offload
// genuinely blocking or CPU-heavy work (e.g. a big local reduce
// combine, a compression pass) without stalling the rank's main loop,
// then rejoin the cooperative model by handing the result back as an
// ordinary Runnable.
//
// Grounded on the teacher's worker-pool-over-errgroup idiom
// (golang.org/x/sync/errgroup coordinating a fixed goroutine count
// draining a channel) and on §5's description of the side queue.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/amt-rt/vt/sched"
)

// Task is a unit of side-queue work: it runs off the scheduler thread
// and returns the Runnable that should be enqueued back once it's
// done (or false if nothing should be enqueued).
type Task func() (*sched.Runnable, bool)

// Pool is a small, fixed-size worker-thread extension bound to one
// Scheduler. Submit is safe to call from any goroutine (including
// from inside another worker); Drain must only be called from the
// scheduler's own thread, typically once per Progress tick.
type Pool struct {
	sc *sched.Scheduler

	tasks   chan Task
	handoff chan *sched.Runnable

	g      *errgroup.Group
	cancel context.CancelFunc
}

// NewPool starts n worker goroutines draining a side queue feeding
// results back toward sc. queueDepth bounds how much submitted work
// can be buffered before Submit blocks.
func NewPool(sc *sched.Scheduler, n, queueDepth int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		sc:      sc,
		tasks:   make(chan Task, queueDepth),
		handoff: make(chan *sched.Runnable, queueDepth),
		g:       g,
		cancel:  cancel,
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p.run(ctx)
			return nil
		})
	}
	return p
}

func (p *Pool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if r, enqueue := task(); enqueue {
				select {
				case p.handoff <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Submit pushes fn onto the side queue for a worker goroutine to run.
func (p *Pool) Submit(fn Task) {
	p.tasks <- fn
}

// Drain moves every Runnable currently waiting in the hand-off queue
// onto the scheduler's own ready queue. It never blocks: it returns as
// soon as the hand-off queue runs dry.
func (p *Pool) Drain() int {
	n := 0
	for {
		select {
		case r := <-p.handoff:
			p.sc.Enqueue(r)
			n++
		default:
			return n
		}
	}
}

// Close stops accepting new work, waits for in-flight tasks to finish,
// and drains any Runnables left in the hand-off queue.
func (p *Pool) Close() error {
	close(p.tasks)
	err := p.g.Wait()
	p.cancel()
	p.Drain()
	return err
}

package worker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/registry"
	"github.com/amt-rt/vt/sched"
	"github.com/amt-rt/vt/sched/worker"
	"github.com/amt-rt/vt/term"
)

func TestSubmitRunsOffThreadAndDrainEnqueuesResult(t *testing.T) {
	det := term.NewDetector(node.T(0), 1, 0)
	sc := sched.NewScheduler(det, 8)
	p := worker.NewPool(sc, 2, 4)
	defer p.Close()

	p.Submit(func() (*sched.Runnable, bool) {
		r := sched.NewRunnable(registry.HandlerT(1), node.T(0), term.NoEpoch, messaging.Nil[any]())
		return r, true
	})

	deadline := time.Now().Add(time.Second)
	for sc.Runnables() == 0 && time.Now().Before(deadline) {
		p.Drain()
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, 1, sc.Runnables())
}

func TestSubmitCanDeclineToEnqueue(t *testing.T) {
	det := term.NewDetector(node.T(0), 1, 0)
	sc := sched.NewScheduler(det, 8)
	p := worker.NewPool(sc, 1, 4)
	defer p.Close()

	done := make(chan struct{})
	p.Submit(func() (*sched.Runnable, bool) {
		close(done)
		return nil, false
	})
	<-done

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, p.Drain())
	assert.Equal(t, 0, sc.Runnables())
}

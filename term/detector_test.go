package term_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/term"
)

// wireLoopback connects two in-process Detectors so each one's Sender
// calls straight into the other's HandleControl, as if an
// ActiveMessenger had delivered the control message instantly.
func wireLoopback(t *testing.T, ds ...*term.Detector) {
	t.Helper()
	for i, d := range ds {
		i, d := i, d
		d.SetSender(func(dest node.T, msg term.ControlMsg) {
			require.True(t, int(dest) < len(ds), "dest out of range")
			ds[dest].HandleControl(node.T(i), msg)
		})
	}
}

func pollUntilTerminated(t *testing.T, e term.EpochT, limit int, ds ...*term.Detector) {
	t.Helper()
	for i := 0; i < limit; i++ {
		for _, d := range ds {
			d.Poll()
		}
		if ds[0].Terminated(e) {
			return
		}
	}
	t.Fatalf("epoch %#x did not terminate within %d polls", uint64(e), limit)
}

func TestSingleNodeTermination(t *testing.T) {
	d := term.NewDetector(0, 1, 0)
	wireLoopback(t, d)

	e := d.MakeEpochCollective(term.UserCategory)
	assert.False(t, d.Terminated(e))

	pollUntilTerminated(t, e, 8, d)
	assert.True(t, d.Terminated(e))
}

func TestPingPongTermination(t *testing.T) {
	d0 := term.NewDetector(0, 2, 0)
	d1 := term.NewDetector(1, 2, 0)
	wireLoopback(t, d0, d1)

	e := d0.MakeEpochCollective(term.UserCategory)
	d1.LearnRootedEpoch(e) // harmless for collective epochs; exercises the lazy-learn path

	// rank0 sends to rank1, rank1 handles it and replies, rank0 handles
	// the reply. Both produce/consume counts balance out.
	d0.Produce(e, 1)
	d1.Consume(e, 1)
	d1.Produce(e, 1)
	d0.Consume(e, 1)

	fired := false
	d0.AddAction(e, func() { fired = true })

	pollUntilTerminated(t, e, 16, d0, d1)
	assert.True(t, d0.Terminated(e))
	assert.True(t, fired)
}

func TestTerminationDoesNotFireEarly(t *testing.T) {
	d0 := term.NewDetector(0, 2, 0)
	d1 := term.NewDetector(1, 2, 0)
	wireLoopback(t, d0, d1)

	e := d0.MakeEpochCollective(term.UserCategory)
	d0.Produce(e, 1) // message still "in flight" to rank1, never consumed

	for i := 0; i < 6; i++ {
		d0.Poll()
		d1.Poll()
		assert.False(t, d0.Terminated(e), "must not terminate while prod != cons")
	}

	d1.Consume(e, 1)
	pollUntilTerminated(t, e, 8, d0, d1)
	assert.True(t, d0.Terminated(e))
}

func TestAddActionRunsImmediatelyAfterTermination(t *testing.T) {
	d := term.NewDetector(0, 1, 0)
	wireLoopback(t, d)
	e := d.MakeEpochCollective(term.UserCategory)
	pollUntilTerminated(t, e, 8, d)

	ran := false
	d.AddAction(e, func() { ran = true })
	assert.True(t, ran)
}

func TestHangDetection(t *testing.T) {
	d := term.NewDetector(0, 2, 3)
	other := term.NewDetector(1, 2, 3)
	wireLoopback(t, d, other)

	e := d.MakeEpochCollective(term.UserCategory)
	d.Produce(e, 1) // never consumed by rank1: the epoch can never converge

	var stuckEpochs []term.EpochT
	d.SetHangHandler(func(ep term.EpochT) { stuckEpochs = append(stuckEpochs, ep) })

	for i := 0; i < 3; i++ {
		d.NotifyIdleLoop()
	}
	got := d.CheckHang()
	require.Len(t, got, 1)
	assert.Equal(t, e, got[0])
	assert.Equal(t, []term.EpochT{e}, stuckEpochs)
}

func TestEpochMonotonicity(t *testing.T) {
	d := term.NewDetector(0, 1, 0)
	a := d.MakeEpochCollective(term.UserCategory)
	b := d.MakeEpochCollective(term.UserCategory)
	assert.NotEqual(t, a, b)
	assert.Less(t, term.Seq(a), term.Seq(b))
}

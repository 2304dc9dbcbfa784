package am_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/memsys"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/sched"
	"github.com/amt-rt/vt/term"
	"github.com/amt-rt/vt/xport/local"
)

type pingBody struct {
	N int
}

// ring wires n ActiveMessengers over one shared in-process fabric, each
// with its own Detector. pump drains one Progress round on every rank
// per call, standing in for a cooperative multi-rank run without real
// OS threads or a real network (§8's scenarios all run this way).
type ring struct {
	ams []*am.ActiveMessenger
	det []*term.Detector
}

func buildRing(t *testing.T, n int, hangFreq int) *ring {
	t.Helper()
	fab := local.NewFabric(n)
	r := &ring{ams: make([]*am.ActiveMessenger, n), det: make([]*term.Detector, n)}
	for i := 0; i < n; i++ {
		det := term.NewDetector(node.T(i), n, hangFreq)
		pool := memsys.NewPool(memsys.DefaultSmall, memsys.DefaultMedium)
		ep := fab.Endpoint(node.T(i))
		r.det[i] = det
		r.ams[i] = am.New(node.T(i), n, pool, ep, det, am.DefaultConfig())
	}
	return r
}

func (r *ring) pump(rounds int) {
	for i := 0; i < rounds; i++ {
		for _, a := range r.ams {
			a.Progress()
		}
	}
}

func TestSendMsgDeliversAcrossRanks(t *testing.T) {
	var gotN int
	var gotFrom node.T
	h := am.RegisterHandler(
		func() any { return new(pingBody) },
		func(m sched.Messenger, from node.T, msg *messaging.Message) {
			gotFrom = from
			gotN = msg.Body.(*pingBody).N
		},
	)

	r := buildRing(t, 2, 0)
	ev, err := r.ams[0].SendMsg(h, 1, &pingBody{N: 42})
	require.NoError(t, err)
	assert.NotNil(t, ev)

	r.pump(4)

	assert.Equal(t, 42, gotN)
	assert.Equal(t, node.T(0), gotFrom)
}

func TestSelfSendDispatchesWithoutTransport(t *testing.T) {
	var ran bool
	h := am.RegisterHandler(
		func() any { return new(pingBody) },
		func(m sched.Messenger, from node.T, msg *messaging.Message) { ran = true },
	)

	r := buildRing(t, 1, 0)
	_, err := r.ams[0].SendMsg(h, 0, &pingBody{N: 1})
	require.NoError(t, err)
	r.pump(2)

	assert.True(t, ran)
}

func TestBroadcastMsgReachesEveryRank(t *testing.T) {
	const n = 4
	var ranCount int
	h := am.RegisterHandler(
		func() any { return new(pingBody) },
		func(m sched.Messenger, from node.T, msg *messaging.Message) {
			ranCount++
		},
	)

	r := buildRing(t, n, 0)
	ev, err := r.ams[0].BroadcastMsg(h, &pingBody{N: 7}, true)
	require.NoError(t, err)
	assert.NotNil(t, ev)
	r.pump(6)

	assert.Equal(t, n, ranCount, "every rank, including the origin, should run the broadcast handler exactly once")
}

func TestChunkedSendReassemblesLargePayload(t *testing.T) {
	var gotLen int
	h := am.RegisterHandler(
		func() any { return new(pingBody) },
		func(m sched.Messenger, from node.T, msg *messaging.Message) {
			gotLen = len(msg.Put)
		},
	)

	fab := local.NewFabric(2)
	det0 := term.NewDetector(0, 2, 0)
	det1 := term.NewDetector(1, 2, 0)
	small := am.Config{MaxSendSize: 16, ProgressHan: 64}
	a0 := am.New(0, 2, memsys.NewPool(memsys.DefaultSmall), fab.Endpoint(0), det0, small)
	a1 := am.New(1, 2, memsys.NewPool(memsys.DefaultSmall), fab.Endpoint(1), det1, small)

	big := []byte(strings.Repeat("x", 100))
	require.NoError(t, a0.SendMsgBytesWithPut(h, 1, big, nil))

	for i := 0; i < 10; i++ {
		a0.Progress()
		a1.Progress()
	}
	assert.Equal(t, len(big), gotLen)
}

func TestTerminationDetectorConvergesAcrossTwoRanks(t *testing.T) {
	r := buildRing(t, 2, 0)
	e := r.det[0].MakeEpochCollective(term.UserCategory)
	r.det[1].LearnRootedEpoch(e)

	done := false
	r.det[0].AddAction(e, func() { done = true })

	for i := 0; i < 20 && !done; i++ {
		r.pump(1)
	}
	assert.True(t, done)
}

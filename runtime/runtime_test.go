package runtime_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/messaging"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/runtime"
	"github.com/amt-rt/vt/sched"
	"github.com/amt-rt/vt/xport/local"
)

func TestInitializeWiresEveryComponentAndFinalizeTearsDown(t *testing.T) {
	dir := t.TempDir()
	fab := local.NewFabric(1)
	ep := fab.Endpoint(node.T(0))

	argv := []string{
		"--vt_diag_enable",
		"--vt_diag_print_summary",
		"--vt_diag_summary_file=" + filepath.Join(dir, "summary.txt"),
		"--vt_lb_data",
		"--vt_lb_data_dir=" + dir,
		"positional-arg",
	}

	rt, rest, err := runtime.Initialize(argv, node.T(0), 1, ep)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, []string{"positional-arg"}, rest)
	assert.NotNil(t, rt.AM)
	assert.NotNil(t, rt.Coll)
	assert.NotNil(t, rt.Pipe)
	assert.NotNil(t, rt.LB)

	ranCount := 0
	h := am.RegisterHandler(
		func() any { return new(struct{ N int }) },
		func(m sched.Messenger, from node.T, msg *messaging.Message) { ranCount++ },
	)
	_, err = rt.AM.SendMsg(h, node.T(0), &struct{ N int }{N: 1})
	require.NoError(t, err)
	for i := 0; i < 5 && ranCount == 0; i++ {
		rt.Progress()
	}
	assert.Equal(t, 1, ranCount)

	require.NoError(t, rt.Finalize())
}

func TestInitializeHelpExitsCleanly(t *testing.T) {
	t.Skip("vt_help calls os.Exit(0) in cmn/config.Load; exercised by cmd/vtrun instead of in-process")
}

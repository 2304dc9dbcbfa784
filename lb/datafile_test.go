package lb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/cmn/config"
	"github.com/amt-rt/vt/lb"
)

func TestPathForExpandsRankToken(t *testing.T) {
	cfg := config.Default()
	cfg.LBDataDir = "/tmp/lbdata"
	cfg.LBDataFile = "lb_data.%p.json"

	assert.Equal(t, filepath.Join("/tmp/lbdata", "lb_data.3.json"), lb.PathFor(cfg, 3))
}

func TestWriteThenReadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lb_data.0.json")

	w, err := lb.CreateWriter(path)
	require.NoError(t, err)

	for phaseID := int64(0); phaseID < 3; phaseID++ {
		rec := lb.Record{
			Phases: []lb.Phase{{
				ID: phaseID,
				Tasks: []lb.TaskRecord{
					{Entity: 1, Time: 0.5},
					{Entity: 2, Time: 1.5},
				},
				Communications: []lb.CommRecord{{From: 1, To: 2, Bytes: 128}},
			}},
			Metadata: lb.Metadata{Type: "LBDatafile", Rank: 0},
		}
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Close())

	records, err := lb.ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(2), records[2].Phases[0].ID)
	assert.Equal(t, "LBDatafile", records[0].Metadata.Type)
	assert.Len(t, records[0].Phases[0].Tasks, 2)
}

func TestRetainKeepsOnlyMostRecentN(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		w, err := lb.CreateWriter(filepath.Join(dir, "lb_data.0.json."+string(rune('a'+i))))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	require.NoError(t, lb.Retain(dir, "lb_data.0.json.*", 2))

	matches, err := filepath.Glob(filepath.Join(dir, "lb_data.0.json.*"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

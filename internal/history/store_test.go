package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(id string, started time.Time) *types.RunReport {
	return &types.RunReport{
		ID:       id,
		Scenario: "health",
		Started:  started,
		Ended:    started.Add(time.Second),
		Duration: time.Second,
		Passed:   true,
		Metrics: map[string]types.MetricSummary{
			"http_reqs": {Type: "counter", Values: map[string]float64{"count": 4}},
		},
		Thresholds: []types.ThresholdResult{{Metric: "http_reqs", Expression: "count>0", Observed: 4, Passed: true}},
	}
}

func TestStore_SaveGet(t *testing.T) {
	s := openStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.Save(report("a", now)))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "health", got.Scenario)
	assert.True(t, got.Started.Equal(now))
	assert.Equal(t, 4.0, got.Metrics["http_reqs"].Values["count"])
	assert.Len(t, got.Thresholds, 1)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Now().UTC()

	require.NoError(t, s.Save(report("old", base.Add(-2*time.Hour))))
	require.NoError(t, s.Save(report("new", base)))
	require.NoError(t, s.Save(report("mid", base.Add(-time.Hour))))

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestStore_DeleteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	require.NoError(t, s.Save(report("keep", time.Now())))
	require.NoError(t, s.Save(report("drop", time.Now())))
	require.NoError(t, s.Delete("drop"))
	assert.ErrorIs(t, s.Delete("drop"), ErrNotFound)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].ID)
}

func TestStore_SaveRequiresID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(&types.RunReport{}))
}

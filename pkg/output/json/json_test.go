package json

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

func TestOutput_WritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.ndjson")
	out, err := output.Create("json", output.Params{ConfigArgument: path, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Contains(t, out.Description(), path)
	require.NoError(t, out.Start())

	reg := metrics.NewRegistry()
	dur := reg.MustNewMetric("http_req_duration", metrics.Trend, metrics.Time)
	now := time.Now()
	out.AddMetricSamples([]metrics.SampleContainer{
		metrics.Samples{
			{Metric: dur, Time: now, Value: 12.5, Tags: map[string]string{"name": "login"}},
			{Metric: dur, Time: now, Value: 30},
		},
	})

	out.SetRunStatus(output.RunStatus{
		Status: output.StatusCompleted,
		Report: &types.RunReport{ID: "run-1", Passed: true},
	})
	require.NoError(t, out.Stop())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 3)

	assert.Equal(t, "Point", lines[0]["type"])
	assert.Equal(t, "http_req_duration", lines[0]["metric"])
	data := lines[0]["data"].(map[string]any)
	assert.Equal(t, 12.5, data["value"])
	assert.Equal(t, "login", data["tags"].(map[string]any)["name"])

	assert.Equal(t, "Summary", lines[2]["type"])
	assert.Equal(t, "run-1", lines[2]["data"].(map[string]any)["id"])
}

func TestOutput_StartFailsOnBadPath(t *testing.T) {
	out, err := New(output.Params{ConfigArgument: filepath.Join(t.TempDir(), "missing", "x.ndjson"), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Error(t, out.Start())
	assert.NoError(t, out.Stop())
}

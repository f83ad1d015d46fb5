package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/mockapi"
	"yqhp/load-engine/pkg/types"
)

func startMock(t *testing.T) (*mockapi.Server, string) {
	t.Helper()
	srv := mockapi.New(mockapi.Options{})
	baseURL, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, baseURL
}

// execute runs the CLI with args and returns stdout and the command error.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	if ctx == nil {
		ctx = context.Background()
	}
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRun_Passes(t *testing.T) {
	srv, baseURL := startMock(t)
	dir := t.TempDir()
	summary := filepath.Join(dir, "summary.json")

	_, err := execute(t, nil, "run", "--quiet",
		"--base-url", baseURL,
		"-u", "2", "-d", "300ms",
		"--threshold", "http_req_failed=rate<0.01",
		"--threshold", "http_req_duration=p(95)<1000",
		"--history", filepath.Join(dir, "history.db"),
		"--summary-export", summary,
		"health")
	require.NoError(t, err)
	assert.Equal(t, types.ExitOK, ExitCodeOf(err))
	assert.Positive(t, srv.Hits(mockapi.RouteHealth))

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var report types.RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "health", report.Scenario)
	assert.Len(t, report.Thresholds, 2)
	assert.True(t, report.Passed)
}

func TestRun_PrintsBannerAndSummary(t *testing.T) {
	_, baseURL := startMock(t)

	out, err := execute(t, nil, "run",
		"--base-url", baseURL,
		"-u", "1", "-i", "3",
		"--out", "console=0",
		"--history", "",
		"health")
	require.NoError(t, err)
	assert.Contains(t, out, "Load Engine "+Version)
	assert.Contains(t, out, "iterations:   3")
	assert.Contains(t, out, "result: PASSED")
}

func TestRun_ThresholdsFailed(t *testing.T) {
	_, baseURL := startMock(t)

	_, err := execute(t, nil, "run", "--quiet",
		"--base-url", baseURL,
		"-u", "1", "-d", "200ms",
		"--threshold", "http_reqs=count<1",
		"--history", "",
		"health")
	require.Error(t, err)
	assert.Equal(t, types.ExitThresholdsFailed, ExitCodeOf(err))
	assert.Contains(t, err.Error(), "thresholds failed: 1/1")
}

func TestRun_ConfigErrors(t *testing.T) {
	srv, baseURL := startMock(t)

	tests := map[string][]string{
		"negative vus":      {"-u", "-1", "-d", "1s"},
		"bad stages":        {"--stages", "10s"},
		"stages and vus":    {"--stages", "1s:2", "-u", "2"},
		"bad threshold":     {"-u", "1", "-d", "1s", "--threshold", "http_reqs=count ~ 1"},
		"unknown scenario":  {"-u", "1", "-d", "1s", "-s", "nope"},
		"no schedule":       {},
		"zero duration":     {"--stages", "0s:5"},
		"bad duration":      {"-u", "1", "-d", "soon"},
		"missing yaml file": {"-u", "1", "-d", "1s", "--config", "/does/not/exist.yaml"},
		"var without value": {"-u", "1", "-d", "1s", "--var", "email"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			args := append([]string{"run", "--quiet", "--base-url", baseURL, "--history", ""}, args...)
			_, err := execute(t, nil, args...)
			require.Error(t, err)
			assert.Equal(t, types.ExitConfigError, ExitCodeOf(err), err.Error())
		})
	}
	assert.Zero(t, srv.Hits(mockapi.RouteHealth))
}

func TestRun_ConfigFileWithOverride(t *testing.T) {
	srv, baseURL := startMock(t)
	dir := t.TempDir()
	summary := filepath.Join(dir, "summary.json")

	cfgPath := filepath.Join(dir, "load.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
base_url: `+baseURL+`
scenario: health
vus: 5
max_iterations: 2
history_path: ""
thresholds:
  http_req_failed:
    - rate<0.01
`), 0o644))

	_, err := execute(t, nil, "--config", cfgPath, "run", "--quiet", "-u", "1", "--summary-export", summary)
	require.NoError(t, err)
	assert.Equal(t, int64(2), srv.Hits(mockapi.RouteHealth))

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var report types.RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.MaxVUs)
	assert.Len(t, report.Thresholds, 1)
}

func TestApplyVars_KeepsCommasInValues(t *testing.T) {
	cfg, err := loadConfig("", map[string]string{"vus": "1", "duration": "1s"},
		[]string{"tags=a,b", "query=x=1", "email=a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tags": "a,b", "query": "x=1", "email": "a@b.c"}, cfg.Vars)

	_, err = loadConfig("", map[string]string{"vus": "1", "duration": "1s"}, []string{"=x"})
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
}

func TestHistory_ListShowDelete(t *testing.T) {
	_, baseURL := startMock(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	summary := filepath.Join(dir, "summary.json")

	_, err := execute(t, nil, "run", "--quiet", "--base-url", baseURL,
		"-u", "1", "-i", "1", "--history", db, "--summary-export", summary, "health")
	require.NoError(t, err)

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var report types.RunReport
	require.NoError(t, json.Unmarshal(data, &report))

	out, err := execute(t, nil, "history", "list", "--history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "SCENARIO")
	assert.Contains(t, out, report.ID)
	assert.Contains(t, out, "passed")

	out, err = execute(t, nil, "history", "show", report.ID, "--history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "result: PASSED")

	out, err = execute(t, nil, "history", "show", report.ID, "--json", "--history", db)
	require.NoError(t, err)
	var shown types.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, report.ID, shown.ID)

	_, err = execute(t, nil, "history", "delete", report.ID, "--history", db)
	require.NoError(t, err)

	_, err = execute(t, nil, "history", "show", report.ID, "--history", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, types.ExitGeneric, ExitCodeOf(err))
}

func TestHistory_EmptyPathIsConfigError(t *testing.T) {
	_, err := execute(t, nil, "history", "list", "--history", "")
	require.Error(t, err)
	assert.Equal(t, types.ExitConfigError, ExitCodeOf(err))
}

func TestScenarios(t *testing.T) {
	out, err := execute(t, nil, "scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "health")
	assert.Contains(t, out, "lifecycle")

	out, err = execute(t, nil, "scenarios", "validate", "lifecycle")
	require.NoError(t, err)
	assert.Contains(t, out, "POST /auth/login")
	assert.Contains(t, out, "requires")

	_, err = execute(t, nil, "scenarios", "validate", "missing")
	require.Error(t, err)
	assert.Equal(t, types.ExitConfigError, ExitCodeOf(err))
}

func TestMock_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := execute(t, ctx, "mock", "--addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "listening on http://127.0.0.1:")
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, types.ExitOK, ExitCodeOf(nil))
	assert.Equal(t, types.ExitGeneric, ExitCodeOf(errors.New("boom")))
	assert.Equal(t, types.ExitConfigError, ExitCodeOf(types.NewConfigError("bad", nil)))
	assert.Equal(t, types.ExitThresholdAbort, ExitCodeOf(&ExitError{Code: types.ExitThresholdAbort}))

	wrapped := &ExitError{Code: types.ExitThresholdsFailed, Err: errors.New("thresholds failed")}
	assert.Equal(t, "thresholds failed", wrapped.Error())
	assert.Equal(t, "exit status 99", (&ExitError{Code: 99}).Error())
}

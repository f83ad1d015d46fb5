package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

type pushRecord struct {
	method string
	path   string
	body   string
}

func newGateway(t *testing.T) (*httptest.Server, func() []pushRecord) {
	var mu sync.Mutex
	var pushes []pushRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		pushes = append(pushes, pushRecord{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []pushRecord {
		mu.Lock()
		defer mu.Unlock()
		return append([]pushRecord(nil), pushes...)
	}
}

func TestOutput_PushesFinalAggregates(t *testing.T) {
	srv, pushes := newGateway(t)

	out, err := output.Create("prometheus", output.Params{
		ConfigArgument: srv.URL,
		RunID:          "run-42",
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, out.Start())

	reg := metrics.NewRegistry()
	bm := metrics.RegisterBuiltinMetrics(reg)
	out.AddMetricSamples([]metrics.SampleContainer{metrics.Samples{{Metric: bm.HTTPReqs, Value: 1}}})

	out.SetRunStatus(output.RunStatus{
		Status: output.StatusCompleted,
		Report: &types.RunReport{
			ID:     "run-42",
			Passed: true,
			Metrics: map[string]types.MetricSummary{
				"http_req_duration": {Type: "trend", Values: map[string]float64{"p(95)": 42}},
			},
			Thresholds: []types.ThresholdResult{{Metric: "http_req_duration", Expression: "p(95)<500", Passed: true}},
		},
	})
	require.NoError(t, out.Stop())

	got := pushes()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, http.MethodPut, last.method)
	assert.Equal(t, "/metrics/job/"+JobName+"/run_id/run-42", last.path)
	for _, want := range []string{"load_metric", "http_req_duration", "p(95)", "load_threshold_passed", "load_samples_total", "load_run_passed"} {
		assert.Contains(t, last.body, want)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(output.Params{})
	assert.Error(t, err)
}

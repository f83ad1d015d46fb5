package threshold

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		agg     string
		op      Operator
		value   float64
		wantErr bool
	}{
		{expr: "rate<0.01", agg: "rate", op: OpLess, value: 0.01},
		{expr: "p(95) < 500", agg: "p(95)", op: OpLess, value: 500},
		{expr: "p(99.9)<=1500", agg: "p(99.9)", op: OpLessEqual, value: 1500},
		{expr: "count>=10", agg: "count", op: OpGreaterEqual, value: 10},
		{expr: "avg > 1e2", agg: "avg", op: OpGreater, value: 100},
		{expr: "value==0", agg: "value", op: OpEqual, value: 0},
		{expr: "max!=3", agg: "max", op: OpNotEqual, value: 3},
		{expr: "", wantErr: true},
		{expr: "rate 0.01", wantErr: true},
		{expr: "p95<500", wantErr: true},
		{expr: "p(101)<500", wantErr: true},
		{expr: "rate<abc", wantErr: true},
		{expr: "<5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.agg, e.Aggregation)
			assert.Equal(t, tt.op, e.Operator)
			assert.Equal(t, tt.value, e.Value)
		})
	}
}

func TestCompile_ConfigError(t *testing.T) {
	_, err := Compile(map[string][]types.ThresholdDecl{
		"http_req_failed": {{Expression: "rate<0.01"}, {Expression: "rate<<1"}},
	})
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))

	_, err = Compile(map[string][]types.ThresholdDecl{"bad{": {{Expression: "rate<1"}}})
	assert.True(t, types.IsConfigError(err))
}

func newSnapshot(t *testing.T, fill func(*metrics.Recorder, *metrics.BuiltinMetrics)) map[string]metrics.MetricSnapshot {
	t.Helper()
	reg := metrics.NewRegistry()
	bm := metrics.RegisterBuiltinMetrics(reg)
	rec := metrics.NewRecorder(reg)
	fill(rec, bm)
	return rec.Snapshot()
}

func TestEvaluate_PercentileReference(t *testing.T) {
	snap := newSnapshot(t, func(rec *metrics.Recorder, bm *metrics.BuiltinMetrics) {
		for _, v := range []float64{100, 200, 300, 9000} {
			rec.RecordValue(bm.HTTPReqDuration, v, nil)
		}
	})
	set, err := Compile(map[string][]types.ThresholdDecl{
		"http_req_duration": {{Expression: "p(95)<500"}, {Expression: "p(50)<500"}},
	})
	require.NoError(t, err)

	results := Evaluate(set, snap)
	require.Len(t, results, 2)

	assert.False(t, results[0].Passed)
	assert.InDelta(t, 7695.0, results[0].Observed, 1e-9)
	assert.True(t, results[1].Passed)
	assert.InDelta(t, 250.0, results[1].Observed, 1e-9)
	assert.False(t, AllPassed(results))
}

func TestEvaluate_MetricNotFound(t *testing.T) {
	snap := newSnapshot(t, func(rec *metrics.Recorder, bm *metrics.BuiltinMetrics) {
		rec.RecordValue(bm.HTTPReqFailed, 0, nil)
	})
	set, err := Compile(map[string][]types.ThresholdDecl{
		"no_such_metric":  {{Expression: "rate<0.01"}},
		"http_req_failed": {{Expression: "rate<0.01"}, {Expression: "p(95)<1"}},
	})
	require.NoError(t, err)

	results := Evaluate(set, snap)
	require.Len(t, results, 3)

	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Equal(t, types.ReasonAggregationNotFound, results[1].Reason)
	assert.Equal(t, "no_such_metric", results[2].Metric)
	assert.False(t, results[2].Passed)
	assert.Equal(t, types.ReasonMetricNotFound, results[2].Reason)
}

func TestEvaluate_SubmetricSelectorOrder(t *testing.T) {
	reg := metrics.NewRegistry()
	bm := metrics.RegisterBuiltinMetrics(reg)
	_, err := reg.AddSubmetric("http_reqs{name:login,method:POST}")
	require.NoError(t, err)
	rec := metrics.NewRecorder(reg)
	rec.RecordValue(bm.HTTPReqs, 1, map[string]string{"name": "login", "method": "POST"})

	set, err := Compile(map[string][]types.ThresholdDecl{
		"http_reqs{method:POST,name:login}": {{Expression: "count==1"}},
	})
	require.NoError(t, err)
	assert.True(t, AllPassed(Evaluate(set, rec.Snapshot())))
}

func TestAllPassed_Empty(t *testing.T) {
	assert.True(t, AllPassed(nil))
	assert.True(t, AllPassed(Evaluate(nil, nil)))
}

func TestEvaluateDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same snapshot yields same results", prop.ForAll(
		func(values []float64, limit float64) bool {
			snap := newSnapshot(t, func(rec *metrics.Recorder, bm *metrics.BuiltinMetrics) {
				for _, v := range values {
					rec.RecordValue(bm.HTTPReqDuration, v, nil)
					rec.RecordValue(bm.HTTPReqFailed, float64(int(v)%2), nil)
				}
			})
			set, err := Compile(map[string][]types.ThresholdDecl{
				"http_req_duration": {{Expression: "p(95)<500"}, {Expression: "avg<=300"}},
				"http_req_failed":   {{Expression: "rate<0.5"}},
			})
			if err != nil {
				return false
			}
			a := Evaluate(set, snap)
			b := Evaluate(set, snap)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return AllPassed(a) == AllPassed(b)
		},
		gen.SliceOf(gen.Float64Range(0, 2000)),
		gen.Float64Range(0, 1000),
	))

	properties.TestingRun(t)
}

func TestEvaluator_AbortOnFail(t *testing.T) {
	reg := metrics.NewRegistry()
	bm := metrics.RegisterBuiltinMetrics(reg)
	rec := metrics.NewRecorder(reg)
	rec.RecordValue(bm.HTTPReqFailed, 1, nil)

	set, err := Compile(map[string][]types.ThresholdDecl{
		"http_req_failed": {{Expression: "rate<0.01", AbortOnFail: true}},
	})
	require.NoError(t, err)

	ev := NewEvaluator(set, 10*time.Millisecond, zap.NewNop())
	aborted := make(chan error, 2)
	stop := ev.Start(context.Background(), rec.Snapshot, func(err error) { aborted <- err })
	defer stop()

	select {
	case err := <-aborted:
		var ae *AbortError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, []string{"http_req_failed"}, ae.Metrics)
	case <-time.After(2 * time.Second):
		t.Fatal("evaluator did not abort")
	}
	assert.True(t, ev.Aborted())
	assert.Equal(t, uint32(1), ev.Breached())
}

func TestEvaluator_NoAbortWithoutFlag(t *testing.T) {
	reg := metrics.NewRegistry()
	bm := metrics.RegisterBuiltinMetrics(reg)
	rec := metrics.NewRecorder(reg)
	rec.RecordValue(bm.HTTPReqFailed, 1, nil)

	set, err := Compile(map[string][]types.ThresholdDecl{
		"http_req_failed": {{Expression: "rate<0.01"}},
	})
	require.NoError(t, err)

	ev := NewEvaluator(set, 5*time.Millisecond, zap.NewNop())
	stop := ev.Start(context.Background(), rec.Snapshot, func(error) { t.Error("unexpected abort") })
	time.Sleep(50 * time.Millisecond)
	stop()
	assert.False(t, ev.Aborted())
	assert.Equal(t, uint32(1), ev.Breached())
}

func TestEvaluator_IgnoresDeclaredSubmetricWithoutSamples(t *testing.T) {
	reg := metrics.NewRegistry()
	bm := metrics.RegisterBuiltinMetrics(reg)
	_, err := reg.AddSubmetric("checks{name:delete_vpc}")
	require.NoError(t, err)
	rec := metrics.NewRecorder(reg)

	snap := rec.Snapshot()
	require.Contains(t, snap, "checks{name:delete_vpc}")
	assert.True(t, snap["checks{name:delete_vpc}"].Empty)

	set, err := Compile(map[string][]types.ThresholdDecl{
		"checks{name:delete_vpc}": {{Expression: "rate>0.9", AbortOnFail: true}},
	})
	require.NoError(t, err)
	// end-of-run evaluation still fails the empty submetric
	assert.False(t, Evaluate(set, snap)[0].Passed)

	ev := NewEvaluator(set, 10*time.Millisecond, zap.NewNop())
	aborted := make(chan error, 1)
	stop := ev.Start(context.Background(), rec.Snapshot, func(err error) { aborted <- err })
	defer stop()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, ev.Aborted(), "no samples yet")
	assert.Zero(t, ev.Breached())

	rec.RecordValue(bm.Checks, 0, map[string]string{"name": "delete_vpc"})
	select {
	case err := <-aborted:
		var ae *AbortError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, []string{"checks{name:delete_vpc}"}, ae.Metrics)
	case <-time.After(2 * time.Second):
		t.Fatal("evaluator did not abort once the submetric had a failing sample")
	}
}

// Package prometheus pushes run metrics to a Prometheus Pushgateway.
//
// While the run is in progress a per-metric sample counter is pushed
// periodically; on stop the final aggregates of every metric and the
// threshold outcomes are pushed once more.
package prometheus

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
)

func init() {
	output.Register("prometheus", New)
}

const (
	// JobName is the Pushgateway job label.
	JobName = "load_engine"

	pushInterval = 5 * time.Second
)

// Output pushes metrics to a Pushgateway given as the config argument.
type Output struct {
	params output.Params
	url    string

	registry   *prometheus.Registry
	samples    *prometheus.CounterVec
	aggregates *prometheus.GaugeVec
	thresholds *prometheus.GaugeVec
	passed     prometheus.Gauge

	pusher  *push.Pusher
	flusher *output.PeriodicFlusher

	mu        sync.Mutex
	runStatus output.RunStatus
}

// New creates the output. The argument is the Pushgateway base URL.
func New(params output.Params) (output.Output, error) {
	if params.ConfigArgument == "" {
		return nil, fmt.Errorf("prometheus output requires a pushgateway url, e.g. prometheus=http://localhost:9091")
	}

	o := &Output{
		params:   params,
		url:      params.ConfigArgument,
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "load_samples_total",
			Help: "Metric samples recorded during the run",
		}, []string{"metric"}),
		aggregates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "load_metric",
			Help: "Final aggregate value of a run metric",
		}, []string{"metric", "stat"}),
		thresholds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "load_threshold_passed",
			Help: "1 if the threshold passed, 0 otherwise",
		}, []string{"metric", "expression"}),
		passed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_run_passed",
			Help: "1 if every threshold passed",
		}),
	}
	o.registry.MustRegister(o.samples, o.aggregates, o.thresholds, o.passed)

	o.pusher = push.New(o.url, JobName).Gatherer(o.registry)
	if params.RunID != "" {
		o.pusher = o.pusher.Grouping("run_id", params.RunID)
	}
	if params.ScenarioName != "" {
		o.pusher = o.pusher.Grouping("scenario", params.ScenarioName)
	}
	return o, nil
}

// Description returns the output description.
func (o *Output) Description() string {
	return "prometheus (" + o.url + ")"
}

// Start begins periodic pushes.
func (o *Output) Start() error {
	o.flusher = output.NewPeriodicFlusher(pushInterval, o.push)
	return nil
}

// AddMetricSamples counts samples per metric.
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			o.samples.WithLabelValues(sample.Metric.Name).Inc()
		}
	}
}

// SetRunStatus stores the final status for Stop.
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

// Stop publishes the final aggregates.
func (o *Output) Stop() error {
	o.mu.Lock()
	report := o.runStatus.Report
	o.mu.Unlock()

	if report != nil {
		for name, m := range report.Metrics {
			for stat, v := range m.Values {
				o.aggregates.WithLabelValues(name, stat).Set(v)
			}
		}
		for _, t := range report.Thresholds {
			o.thresholds.WithLabelValues(t.Metric, t.Expression).Set(boolGauge(t.Passed))
		}
		o.passed.Set(boolGauge(report.Passed))
	}

	// flusher 停止时执行最后一次推送
	if o.flusher != nil {
		o.flusher.Stop()
		return nil
	}
	return o.pusher.Push()
}

func (o *Output) push() {
	if err := o.pusher.Push(); err != nil {
		o.params.Logger.Warn("push to pushgateway failed", zap.String("url", o.url), zap.Error(err))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ output.Output = (*Output)(nil)

// Package console 在运行期间打印进度，结束时打印汇总报告。
package console

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

func init() {
	output.Register("console", New)
}

const defaultProgressInterval = 2 * time.Second

// Output 控制台输出
type Output struct {
	params    output.Params
	w         io.Writer
	interval  time.Duration
	mu        sync.Mutex
	runStatus output.RunStatus
	flusher   *output.PeriodicFlusher

	// 统计数据
	requests   atomic.Int64
	failures   atomic.Int64
	iterations atomic.Int64
	vus        atomic.Int64
	startTime  time.Time
}

// New 创建控制台输出，参数为进度打印间隔（如 "console=5s"），"0" 表示不打印进度
func New(params output.Params) (output.Output, error) {
	interval := defaultProgressInterval
	if params.ConfigArgument != "" {
		d, err := time.ParseDuration(params.ConfigArgument)
		if err != nil {
			return nil, fmt.Errorf("console output: invalid progress interval %q: %w", params.ConfigArgument, err)
		}
		interval = d
	}
	w := params.Stdout
	if w == nil {
		w = os.Stdout
	}
	return &Output{
		params:   params,
		w:        w,
		interval: interval,
	}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return "console"
}

// Start 启动输出
func (o *Output) Start() error {
	o.startTime = time.Now()
	if o.interval > 0 {
		o.flusher = output.NewPeriodicFlusher(o.interval, o.printProgress)
	}
	return nil
}

// Stop 停止输出并打印最终汇总
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}

	o.mu.Lock()
	status := o.runStatus
	o.mu.Unlock()

	if status.Report != nil {
		WriteSummary(o.w, status.Report)
	} else if status.Error != nil {
		fmt.Fprintf(o.w, "\nrun %s: %v\n", status.Status, status.Error)
	}
	return nil
}

// AddMetricSamples 更新进度统计
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			switch sample.Metric.Name {
			case metrics.HTTPReqsName:
				o.requests.Add(1)
			case metrics.HTTPReqFailedName:
				if sample.Value != 0 {
					o.failures.Add(1)
				}
			case metrics.IterationsName:
				o.iterations.Add(1)
			case metrics.VUsName:
				o.vus.Store(int64(sample.Value))
			}
		}
	}
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

func (o *Output) printProgress() {
	elapsed := time.Since(o.startTime).Truncate(100 * time.Millisecond)
	reqs := o.requests.Load()
	rps := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rps = float64(reqs) / s
	}
	fmt.Fprintf(o.w, "running [%8s] vus=%d iterations=%d reqs=%d (%.1f/s) failed=%d\n",
		elapsed, o.vus.Load(), o.iterations.Load(), reqs, rps, o.failures.Load())
	o.params.Logger.Debug("progress", zap.Int64("reqs", reqs), zap.Int64("iterations", o.iterations.Load()))
}

// summaryKeys 定义每种指标类型汇总时的字段顺序
var summaryKeys = map[string][]string{
	string(metrics.Counter): {"count", "rate"},
	string(metrics.Gauge):   {"value", "min", "max"},
	string(metrics.Rate):    {"rate", "passes", "fails"},
	string(metrics.Trend):   {"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)", "count"},
}

// WriteSummary 打印运行报告：指标按名称排序，随后是阈值结果
func WriteSummary(w io.Writer, report *types.RunReport) {
	fmt.Fprintf(w, "\n========== %s ==========\n", report.Scenario)
	fmt.Fprintf(w, "run id:       %s\n", report.ID)
	fmt.Fprintf(w, "duration:     %s\n", report.Duration.Truncate(time.Millisecond))
	fmt.Fprintf(w, "iterations:   %d\n", report.Iterations)
	fmt.Fprintf(w, "vus max:      %d\n", report.MaxVUs)
	if report.Interrupted {
		fmt.Fprintln(w, "interrupted:  true")
	}
	if !report.Drained {
		fmt.Fprintln(w, "drained:      false (graceful stop expired)")
	}

	names := make([]string, 0, len(report.Metrics))
	width := 0
	for name := range report.Metrics {
		names = append(names, name)
		width = max(width, len(name))
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	for _, name := range names {
		m := report.Metrics[name]
		fmt.Fprintf(w, "  %s%s: %s\n", name, strings.Repeat(".", width-len(name)+2), formatValues(m))
	}

	if len(report.Thresholds) > 0 {
		fmt.Fprintln(w, "\nthresholds:")
		for _, t := range report.Thresholds {
			mark := "✓"
			if !t.Passed {
				mark = "✗"
			}
			line := fmt.Sprintf("  %s %s: %s (observed %.4g)", mark, t.Metric, t.Expression, t.Observed)
			if t.Reason != "" {
				line = fmt.Sprintf("  %s %s: %s [%s]", mark, t.Metric, t.Expression, t.Reason)
			}
			fmt.Fprintln(w, line)
		}
	}

	result := "PASSED"
	if !report.Passed {
		result = "FAILED"
	}
	if report.AbortedByThreshold {
		result += " (aborted by threshold)"
	}
	fmt.Fprintf(w, "\nresult: %s\n", result)
}

func formatValues(m types.MetricSummary) string {
	keys, ok := summaryKeys[m.Type]
	if !ok {
		keys = make([]string, 0, len(m.Values))
		for k := range m.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := m.Values[k]
		if !ok {
			continue
		}
		parts = append(parts, k+"="+formatValue(k, v, m.Contains))
	}
	return strings.Join(parts, " ")
}

func formatValue(key string, v float64, contains string) string {
	switch {
	case key == "count" || key == "passes" || key == "fails":
		return fmt.Sprintf("%d", int64(v))
	case key == "rate" && contains != string(metrics.Time):
		return fmt.Sprintf("%.4g", v)
	case contains == string(metrics.Time):
		return fmt.Sprintf("%.2fms", v)
	case contains == string(metrics.Data):
		return fmt.Sprintf("%.0fB", v)
	default:
		return fmt.Sprintf("%.4g", v)
	}
}

package metrics

// 内置指标名称
const (
	HTTPReqsName          = "http_reqs"
	HTTPReqFailedName     = "http_req_failed"
	HTTPReqDurationName   = "http_req_duration"
	DataSentName          = "data_sent"
	DataReceivedName      = "data_received"
	ChecksName            = "checks"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"
	IterationsAbortedName = "iterations_aborted"
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
)

// BuiltinMetrics 引擎内置指标
type BuiltinMetrics struct {
	HTTPReqs        *Metric
	HTTPReqFailed   *Metric
	HTTPReqDuration *Metric
	DataSent        *Metric
	DataReceived    *Metric

	Checks            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	IterationsAborted *Metric

	VUs    *Metric
	VUsMax *Metric
}

// RegisterBuiltinMetrics 在注册表中注册全部内置指标
func RegisterBuiltinMetrics(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		HTTPReqs:        r.MustNewMetric(HTTPReqsName, Counter, Default),
		HTTPReqFailed:   r.MustNewMetric(HTTPReqFailedName, Rate, Default),
		HTTPReqDuration: r.MustNewMetric(HTTPReqDurationName, Trend, Time),
		DataSent:        r.MustNewMetric(DataSentName, Counter, Data),
		DataReceived:    r.MustNewMetric(DataReceivedName, Counter, Data),

		Checks:            r.MustNewMetric(ChecksName, Rate, Default),
		Iterations:        r.MustNewMetric(IterationsName, Counter, Default),
		IterationDuration: r.MustNewMetric(IterationDurationName, Trend, Time),
		IterationsAborted: r.MustNewMetric(IterationsAbortedName, Counter, Default),

		VUs:    r.MustNewMetric(VUsName, Gauge, Default),
		VUsMax: r.MustNewMetric(VUsMaxName, Gauge, Default),
	}
}

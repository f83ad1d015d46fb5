package types

import "time"

// MetricSummary is the aggregated, read-only view of one metric series.
type MetricSummary struct {
	Type     string             `json:"type"`
	Contains string             `json:"contains,omitempty"`
	Values   map[string]float64 `json:"values"`
}

// ThresholdResult is the outcome of one threshold expression.
type ThresholdResult struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Observed    float64 `json:"observed"`
	Passed      bool    `json:"passed"`
	Reason      string  `json:"reason,omitempty"`
	AbortOnFail bool    `json:"abort_on_fail,omitempty"`
}

// Threshold failure reasons.
const (
	ReasonMetricNotFound      = "MetricNotFound"
	ReasonAggregationNotFound = "AggregationNotFound"
)

// RunReport is the terminal artifact of a run. It is created once at
// shutdown and never modified afterwards.
type RunReport struct {
	ID       string        `json:"id"`
	Scenario string        `json:"scenario"`
	BaseURL  string        `json:"base_url"`
	Started  time.Time     `json:"started_at"`
	Ended    time.Time     `json:"ended_at"`
	Duration time.Duration `json:"duration"`

	Metrics    map[string]MetricSummary `json:"metrics"`
	Thresholds []ThresholdResult        `json:"thresholds"`
	Passed     bool                     `json:"passed"`

	// Interrupted is set when the run was stopped externally.
	Interrupted bool `json:"interrupted,omitempty"`
	// AbortedByThreshold is set when an abort_on_fail threshold ended the run early.
	AbortedByThreshold bool `json:"aborted_by_threshold,omitempty"`
	// Drained is false when graceful stop expired with iterations still in flight.
	Drained bool `json:"drained"`

	MaxVUs     int   `json:"vus_max"`
	Iterations int64 `json:"iterations"`
}

// FailedThresholds returns the results that did not pass.
func (r *RunReport) FailedThresholds() []ThresholdResult {
	var failed []ThresholdResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return failed
}

// Process exit codes.
const (
	ExitOK               = 0
	ExitGeneric          = 1
	ExitThresholdsFailed = 99
	ExitConfigError      = 104
	ExitThresholdAbort   = 105
)

package threshold

import (
	"errors"
	"sort"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Threshold binds an expression to a metric (or tag-qualified submetric).
type Threshold struct {
	Metric      string
	Expr        *Expression
	AbortOnFail bool
}

// Set is an ordered list of thresholds. Order is stable: by metric name,
// then declaration order.
type Set []Threshold

// Compile parses every declaration. Any malformed expression is a ConfigError.
func Compile(decls map[string][]types.ThresholdDecl) (Set, error) {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		set  Set
		errs []error
	)
	for _, name := range names {
		if _, _, err := metrics.ParseMetricName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, d := range decls[name] {
			expr, err := Parse(d.Expression)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			set = append(set, Threshold{Metric: name, Expr: expr, AbortOnFail: d.AbortOnFail})
		}
	}
	if len(errs) > 0 {
		return nil, types.NewConfigError("thresholds", errors.Join(errs...))
	}
	return set, nil
}

// Metrics returns the distinct metric names referenced by the set.
func (s Set) Metrics() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range s {
		if !seen[t.Metric] {
			seen[t.Metric] = true
			out = append(out, t.Metric)
		}
	}
	return out
}

// Evaluate evaluates every threshold against the snapshot. It never panics:
// unknown metrics and aggregations produce failed results with a reason.
func Evaluate(set Set, snapshot map[string]metrics.MetricSnapshot) []types.ThresholdResult {
	results := make([]types.ThresholdResult, 0, len(set))
	for _, t := range set {
		results = append(results, evaluateOne(t, snapshot))
	}
	return results
}

func evaluateOne(t Threshold, snapshot map[string]metrics.MetricSnapshot) types.ThresholdResult {
	res := types.ThresholdResult{
		Metric:      t.Metric,
		Expression:  t.Expr.Source,
		AbortOnFail: t.AbortOnFail,
	}

	snap, ok := snapshot[canonical(t.Metric)]
	if !ok {
		res.Reason = types.ReasonMetricNotFound
		return res
	}

	observed, ok := snap.Value(t.Expr.Aggregation)
	if !ok {
		res.Reason = types.ReasonAggregationNotFound
		return res
	}

	res.Observed = observed
	res.Passed = t.Expr.Compare(observed)
	return res
}

// AllPassed is the logical AND of the results. An empty list passes.
func AllPassed(results []types.ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// canonical normalizes "name{b:2,a:1}" to the registry's sorted form.
func canonical(name string) string {
	base, tags, err := metrics.ParseMetricName(name)
	if err != nil {
		return name
	}
	return metrics.FormatMetricName(base, tags)
}

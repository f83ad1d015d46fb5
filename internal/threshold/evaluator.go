package threshold

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// DefaultInterval is the mid-run evaluation period.
const DefaultInterval = 2 * time.Second

// SnapshotFunc returns the current metric snapshot.
type SnapshotFunc func() map[string]metrics.MetricSnapshot

// Evaluator periodically evaluates a Set while the run is in progress and
// requests an abort when a failing threshold has AbortOnFail.
type Evaluator struct {
	set      Set
	interval time.Duration
	log      *zap.Logger

	breached atomic.Uint32
	aborted  atomic.Bool
}

// NewEvaluator creates a mid-run evaluator. interval <= 0 uses DefaultInterval.
func NewEvaluator(set Set, interval time.Duration, log *zap.Logger) *Evaluator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Evaluator{
		set:      set,
		interval: interval,
		log:      logger.Or(log, "threshold"),
	}
}

// Start runs the evaluation loop until ctx is done or the returned stop
// function is called. onAbort is called at most once.
func (e *Evaluator) Start(ctx context.Context, snapshot SnapshotFunc, onAbort func(error)) (stop func()) {
	if len(e.set) == 0 {
		return func() {}
	}

	done := make(chan struct{})
	quit := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := e.check(snapshot()); err != nil && onAbort != nil && e.aborted.CompareAndSwap(false, true) {
					e.log.Warn("aborting run on threshold", zap.Error(err))
					onAbort(err)
				}
			case <-quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(quit) })
		<-done
	}
}

// Breached returns the number of thresholds failing at the last evaluation.
func (e *Evaluator) Breached() uint32 {
	return e.breached.Load()
}

// Aborted reports whether the evaluator requested an abort.
func (e *Evaluator) Aborted() bool {
	return e.aborted.Load()
}

// check evaluates and returns an error when an abort_on_fail threshold fails.
// Metrics with no samples yet are not considered breached mid-run.
func (e *Evaluator) check(snap map[string]metrics.MetricSnapshot) error {
	results := Evaluate(e.set, snap)

	var breached, abortOn []string
	for _, r := range results {
		if r.Passed || r.Reason == types.ReasonMetricNotFound {
			continue
		}
		if m, ok := snap[canonical(r.Metric)]; ok && m.Empty {
			continue
		}
		breached = append(breached, r.Metric+": "+r.Expression)
		if r.AbortOnFail {
			abortOn = append(abortOn, r.Metric)
		}
	}
	e.breached.Store(uint32(len(breached)))
	if len(breached) > 0 {
		e.log.Debug("thresholds breached", zap.Strings("thresholds", breached))
	}

	if len(abortOn) == 0 {
		return nil
	}
	sort.Strings(abortOn)
	return &AbortError{Metrics: abortOn}
}

// AbortError is returned to onAbort when abort_on_fail thresholds are crossed.
type AbortError struct {
	Metrics []string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("thresholds on metrics '%s' were crossed; abort_on_fail enabled", strings.Join(e.Metrics, ", "))
}

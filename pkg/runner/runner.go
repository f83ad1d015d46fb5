// Package runner is the single execution entry point of a load test.
//
// Pipeline: validate → Recorder → outputs → threshold loop → scheduler
//
//	→ drain → snapshot → thresholds → RunReport → outputs/history/export
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/execution"
	"yqhp/load-engine/internal/history"
	"yqhp/load-engine/internal/httpclient"
	"yqhp/load-engine/internal/scenario"
	"yqhp/load-engine/internal/threshold"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

// RunOptions configures a run.
type RunOptions struct {
	// Config is required and treated as read-only.
	Config *types.TestConfig

	// Scenario overrides Config.Scenario when set.
	Scenario *scenario.Scenario

	// Outputs replaces the outputs created from Config.Outputs when non-nil.
	Outputs []output.Output

	// Stdout is handed to console outputs.
	Stdout io.Writer

	Logger *zap.Logger

	// OnProgress is called every PollInterval with the scheduler state.
	OnProgress func(state *execution.ModeState)

	// PollInterval defaults to 1s.
	PollInterval time.Duration
}

// Run executes a load test and returns its report. A ConfigError is returned
// before any VU starts; otherwise a report is always produced. When an
// abort_on_fail threshold ended the run the error is a *threshold.AbortError.
func Run(ctx context.Context, opts RunOptions) (*types.RunReport, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, types.NewConfigError("test config is required", nil)
	}
	if err := config.ValidateTest(cfg); err != nil {
		return nil, err
	}
	log := logger.Or(opts.Logger, "runner")

	sc := opts.Scenario
	if sc == nil {
		var err error
		if sc, err = scenario.Load(cfg.Scenario); err != nil {
			return nil, err
		}
	}

	set, err := threshold.Compile(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	builtin := metrics.RegisterBuiltinMetrics(registry)
	for _, name := range set.Metrics() {
		if !strings.Contains(name, "{") {
			continue
		}
		if _, err := registry.AddSubmetric(name); err != nil {
			log.Debug("threshold submetric not registered", zap.String("metric", name), zap.Error(err))
		}
	}
	recorder := metrics.NewRecorder(registry)

	client := httpclient.New(recorder, builtin, httpclient.Options{Timeout: cfg.RequestTimeout})
	scRunner, err := scenario.NewRunner(sc, client, recorder, builtin, scenario.Options{
		BaseURL: cfg.BaseURL,
		Vars:    cfg.Vars,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	mode, err := execution.GetMode(cfg.Mode())
	if err != nil {
		return nil, types.NewConfigError("execution mode", err)
	}

	var active, maxActive atomic.Int64
	modeCfg := &execution.ModeConfig{
		VUs:             cfg.VUs,
		Duration:        cfg.Duration,
		Stages:          cfg.EffectiveStages(),
		IterationsPerVU: cfg.MaxIterations,
		GracefulStop:    cfg.GracefulStop,
		IterationFunc:   scRunner.Iterate,
		OnVUStart: func(vuID int) {
			n := active.Add(1)
			recorder.RecordValue(builtin.VUs, float64(n), nil)
			for {
				m := maxActive.Load()
				if n <= m {
					break
				}
				if maxActive.CompareAndSwap(m, n) {
					recorder.RecordValue(builtin.VUsMax, float64(n), nil)
					break
				}
			}
		},
		OnVUStop: func(vuID int) {
			n := active.Add(-1)
			recorder.RecordValue(builtin.VUs, float64(n), nil)
			scRunner.ReleaseVU(vuID)
		},
	}
	if err := execution.ValidateConfig(modeCfg); err != nil {
		return nil, types.NewConfigError("schedule", err)
	}

	runID := newRunID()
	outputs := opts.Outputs
	if outputs == nil {
		outputs, err = output.CreateAll(cfg.Outputs, output.Params{
			Logger:       log.Named("output"),
			Stdout:       opts.Stdout,
			RunID:        runID,
			ScenarioName: sc.Name,
		})
		if err != nil {
			return nil, types.NewConfigError("outputs", err)
		}
	}
	manager := output.NewManager(outputs, log)
	samples := output.NewSamplesChannel(0)
	finishOutputs, err := manager.Start(samples)
	if err != nil {
		return nil, fmt.Errorf("start outputs: %w", err)
	}

	log.Info("run started",
		zap.String("run_id", runID),
		zap.String("scenario", sc.Name),
		zap.String("base_url", cfg.BaseURL),
		zap.String("mode", string(mode.Name())),
		zap.Int("max_vus", cfg.MaxTarget()),
		zap.Duration("duration", cfg.TotalDuration()))

	started := time.Now()
	recorder.Start(started)
	recorder.Attach(samples)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var abortErr atomic.Pointer[threshold.AbortError]
	stopEval := func() {}
	if cfg.ThresholdInterval > 0 {
		ev := threshold.NewEvaluator(set, cfg.ThresholdInterval, log)
		stopEval = ev.Start(runCtx, recorder.Snapshot, func(err error) {
			var ae *threshold.AbortError
			if errors.As(err, &ae) {
				abortErr.Store(ae)
			}
			cancelRun()
		})
	}

	stopProgress := startProgress(runCtx, mode, opts.OnProgress, opts.PollInterval)
	runErr := mode.Run(runCtx, modeCfg)
	stopProgress()
	stopEval()

	ended := time.Now()
	state := mode.GetState()

	recorder.Detach()
	close(samples)

	snapshot := recorder.Snapshot()
	results := threshold.Evaluate(set, snapshot)
	aborted := abortErr.Load()

	report := &types.RunReport{
		ID:                 runID,
		Scenario:           sc.Name,
		BaseURL:            cfg.BaseURL,
		Started:            started,
		Ended:              ended,
		Duration:           ended.Sub(started),
		Metrics:            metrics.Summaries(snapshot),
		Thresholds:         results,
		Passed:             threshold.AllPassed(results) && aborted == nil,
		Interrupted:        ctx.Err() != nil,
		AbortedByThreshold: aborted != nil,
		Drained:            state.Drained,
		MaxVUs:             state.MaxActiveVUs,
		Iterations:         state.CompletedIterations,
	}

	finishOutputs(output.RunStatus{
		Duration:   report.Duration,
		Iterations: report.Iterations,
		VUs:        report.MaxVUs,
		Status:     runStatus(report),
		Report:     report,
	})

	log.Info("run finished",
		zap.String("run_id", runID),
		zap.Bool("passed", report.Passed),
		zap.Int64("iterations", report.Iterations),
		zap.Duration("duration", report.Duration),
		zap.Bool("drained", report.Drained),
		zap.Int("thresholds_failed", len(report.FailedThresholds())))

	if cfg.HistoryPath != "" {
		if err := saveHistory(cfg.HistoryPath, report); err != nil {
			log.Warn("save run history failed", zap.String("path", cfg.HistoryPath), zap.Error(err))
		}
	}
	if cfg.SummaryExport != "" {
		if err := ExportSummary(cfg.SummaryExport, report); err != nil {
			log.Error("export summary failed", zap.String("path", cfg.SummaryExport), zap.Error(err))
		}
	}

	if runErr != nil {
		return report, runErr
	}
	if aborted != nil {
		return report, aborted
	}
	return report, nil
}

// ExitCode maps a run outcome to the process exit status.
func ExitCode(report *types.RunReport, err error) int {
	var abort *threshold.AbortError
	switch {
	case types.IsConfigError(err):
		return types.ExitConfigError
	case errors.As(err, &abort):
		return types.ExitThresholdAbort
	case err != nil, report == nil:
		return types.ExitGeneric
	case !report.Passed:
		return types.ExitThresholdsFailed
	default:
		return types.ExitOK
	}
}

// ExportSummary writes the report as indented JSON.
func ExportSummary(path string, report *types.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func saveHistory(path string, report *types.RunReport) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(report)
}

func runStatus(r *types.RunReport) string {
	switch {
	case r.AbortedByThreshold:
		return output.StatusAborted
	case r.Interrupted:
		return output.StatusInterrupted
	case !r.Passed:
		return output.StatusFailed
	default:
		return output.StatusCompleted
	}
}

// newRunID returns a time-ordered id so history keys sort by start time.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func startProgress(ctx context.Context, mode execution.Mode, fn func(*execution.ModeState), interval time.Duration) (stop func()) {
	if fn == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(mode.GetState())
			case <-quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

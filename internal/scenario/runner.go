package scenario

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/load-engine/internal/httpclient"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Doer executes HTTP requests. *httpclient.Client implements it.
type Doer interface {
	Execute(r httpclient.Request) *httpclient.Response
}

// IterationState is the terminal state of an iteration.
type IterationState string

const (
	StateCompleted IterationState = "Completed"
	StateAborted   IterationState = "Aborted"
)

// StepOutcome is the outcome of a single step.
type StepOutcome string

const (
	StepPassed  StepOutcome = "Passed"
	StepFailed  StepOutcome = "Failed"
	StepSkipped StepOutcome = "Skipped"
	StepNotRun  StepOutcome = "NotRun"
)

// StepResult records what happened in one step.
type StepResult struct {
	Name     string
	Outcome  StepOutcome
	Status   int
	Duration time.Duration
	ErrKind  types.ErrorKind
	Err      error
	Checks   []CheckResult
}

// IterationResult records one iteration.
type IterationResult struct {
	VU        int
	Iteration int
	State     IterationState
	AbortedAt string
	Steps     []StepResult
	Duration  time.Duration
}

// ErrIterationAborted is returned by Runner.Iterate for aborted iterations.
var ErrIterationAborted = errors.New("iteration aborted")

// Options configures a Runner.
type Options struct {
	BaseURL string
	// Vars override the scenario's vars.
	Vars   map[string]string
	Logger *zap.Logger
}

// Runner executes a compiled scenario for any number of virtual users.
// VU state lives in the runner, keyed by VU id, and is dropped by ReleaseVU.
type Runner struct {
	scenario *Scenario
	client   Doer
	recorder *metrics.Recorder
	builtin  *metrics.BuiltinMetrics
	opts     Options
	log      *zap.Logger

	vus sync.Map // int -> *VU
}

// NewRunner creates a runner. The scenario is compiled if needed.
func NewRunner(sc *Scenario, client Doer, recorder *metrics.Recorder, builtin *metrics.BuiltinMetrics, opts Options) (*Runner, error) {
	if err := sc.Compile(); err != nil {
		return nil, err
	}
	return &Runner{
		scenario: sc,
		client:   client,
		recorder: recorder,
		builtin:  builtin,
		opts:     opts,
		log:      logger.Or(opts.Logger, "scenario").With(zap.String("scenario", sc.Name)),
	}, nil
}

// Scenario returns the scenario being run.
func (r *Runner) Scenario() *Scenario {
	return r.scenario
}

// VU returns the state of virtual user id, creating it on first use.
func (r *Runner) VU(id int) *VU {
	if v, ok := r.vus.Load(id); ok {
		return v.(*VU)
	}
	v, _ := r.vus.LoadOrStore(id, &VU{
		ID:      id,
		runner:  r,
		carried: make(map[string]string),
		log:     r.log.With(zap.Int("vu", id)),
	})
	return v.(*VU)
}

// ReleaseVU destroys the state of virtual user id.
func (r *Runner) ReleaseVU(id int) {
	r.vus.Delete(id)
}

// Iterate runs one iteration for VU id. It has the shape of the scheduler's
// iteration function; failures are already recorded as metrics, so only an
// abort is reported as an error.
func (r *Runner) Iterate(ctx context.Context, vuID, iteration int) error {
	res := r.VU(vuID).RunIteration(ctx, iteration)
	if res.State == StateAborted {
		return ErrIterationAborted
	}
	return nil
}

// VU is one virtual user's private state. It is never shared between VUs.
type VU struct {
	ID int

	runner  *Runner
	carried map[string]string
	rt      *goja.Runtime
	log     *zap.Logger
}

// RunIteration executes every step in order and returns once the iteration
// reached Completed or Aborted. Step N+1 never starts before step N's checks
// and extraction are done.
func (vu *VU) RunIteration(ctx context.Context, iteration int) *IterationResult {
	r := vu.runner
	sc := r.scenario
	start := time.Now()

	res := &IterationResult{
		VU:        vu.ID,
		Iteration: iteration,
		State:     StateCompleted,
		Steps:     make([]StepResult, 0, len(sc.Steps)),
	}
	vars := vu.iterationVars(iteration)

	for i, st := range sc.Steps {
		sr, abort := vu.runStep(st, vars)
		res.Steps = append(res.Steps, sr)

		if abort {
			res.State = StateAborted
			res.AbortedAt = st.Name
			for _, rest := range sc.Steps[i+1:] {
				res.Steps = append(res.Steps, StepResult{Name: rest.Name, Outcome: StepNotRun})
			}
			break
		}

		pause := st.Sleep + sc.ThinkTime
		if pause > 0 && sr.Outcome != StepSkipped {
			sleep(ctx, pause)
		}
	}

	for _, name := range sc.Carry {
		if v, ok := vars[name]; ok {
			vu.carried[name] = v
		}
	}

	res.Duration = time.Since(start)
	vu.recordIteration(res, start)
	return res
}

// iterationVars builds the iteration-local variable scope.
func (vu *VU) iterationVars(iteration int) map[string]string {
	r := vu.runner
	builtins := map[string]string{
		"base_url":  strings.TrimRight(r.opts.BaseURL, "/"),
		"vu":        strconv.Itoa(vu.ID),
		"iter":      strconv.Itoa(iteration),
		"uuid":      uuid.NewString(),
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	vars := make(map[string]string, len(builtins)+len(r.scenario.Vars)+len(r.opts.Vars)+len(vu.carried))
	for k, v := range builtins {
		vars[k] = v
	}
	for _, src := range []map[string]string{r.scenario.Vars, r.opts.Vars} {
		for k, v := range src {
			resolved, err := Resolve(v, builtins)
			if err != nil {
				vu.log.Warn("unresolved scenario var", zap.String("var", k), zap.Error(err))
				resolved = v
			}
			vars[k] = resolved
		}
	}
	for k, v := range vu.carried {
		vars[k] = v
	}
	return vars
}

// runStep executes one step. The boolean result is true when the iteration must abort.
func (vu *VU) runStep(st *Step, vars map[string]string) (StepResult, bool) {
	r := vu.runner
	sr := StepResult{Name: st.Name}

	for _, name := range st.Requires {
		if _, ok := vars[name]; !ok {
			sr.Outcome = StepSkipped
			vu.log.Debug("step skipped", zap.String("step", st.Name), zap.String("missing", name))
			return sr, false
		}
	}

	req, err := vu.buildRequest(st, vars)
	if err != nil {
		sr.Outcome = StepFailed
		sr.ErrKind = types.ErrKindCheckFailure
		sr.Err = err
		sr.Checks = []CheckResult{{Name: "request template", Passed: false}}
		vu.recordChecks(st, sr.Checks)
		return sr, st.AbortOnFailure
	}

	httpResp := r.client.Execute(req)
	resp := &response{Response: httpResp}
	sr.Status = httpResp.Status
	sr.Duration = httpResp.Duration
	sr.ErrKind = httpResp.ErrKind
	sr.Err = httpResp.Err

	sr.Checks = vu.runChecks(st, resp, vars)
	passed := httpResp.Err == nil
	for _, c := range sr.Checks {
		passed = passed && c.Passed
	}

	fatal := false
	if passed {
		for i := range st.Extract {
			rule := &st.Extract[i]
			v, err := extract(rule, resp)
			if err != nil {
				passed = false
				sr.Err = err
				sr.ErrKind = types.ErrKindExtractionFailure
				sr.Checks = append(sr.Checks, CheckResult{Name: "extract " + rule.Var, Passed: false})
				if rule.Fatal {
					fatal = true
				}
				continue
			}
			vars[rule.Var] = v
		}
	} else if sr.ErrKind == "" {
		sr.ErrKind = types.ErrKindCheckFailure
	}

	vu.recordChecks(st, sr.Checks)

	if passed {
		sr.Outcome = StepPassed
		return sr, false
	}
	sr.Outcome = StepFailed
	vu.log.Debug("step failed",
		zap.String("step", st.Name),
		zap.Int("status", sr.Status),
		zap.String("kind", string(sr.ErrKind)),
		zap.Error(sr.Err),
	)
	return sr, fatal || st.AbortOnFailure
}

func (vu *VU) buildRequest(st *Step, vars map[string]string) (httpclient.Request, error) {
	spec := st.Request
	url, err := Resolve(spec.URL, vars)
	if err != nil {
		return httpclient.Request{}, err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = vars["base_url"] + "/" + strings.TrimLeft(url, "/")
	}

	body, err := Resolve(spec.Body, vars)
	if err != nil {
		return httpclient.Request{}, err
	}

	var headers map[string]string
	if len(spec.Headers) > 0 {
		headers = make(map[string]string, len(spec.Headers))
		for k, v := range spec.Headers {
			hv, err := Resolve(v, vars)
			if err != nil {
				return httpclient.Request{}, err
			}
			headers[k] = hv
		}
	}

	req := httpclient.Request{
		Method:  spec.Method,
		URL:     url,
		Headers: headers,
		Timeout: spec.Timeout,
		Tags: map[string]string{
			"name":     st.Name,
			"scenario": vu.runner.scenario.Name,
		},
	}
	if body != "" {
		req.Body = []byte(body)
	}
	return req, nil
}

func (vu *VU) recordChecks(st *Step, checks []CheckResult) {
	r := vu.runner
	if len(checks) == 0 {
		return
	}
	now := time.Now()
	samples := make(metrics.Samples, 0, len(checks))
	for _, c := range checks {
		v := 0.0
		if c.Passed {
			v = 1
		}
		samples = append(samples, metrics.Sample{
			Metric: r.builtin.Checks,
			Time:   now,
			Value:  v,
			Tags: map[string]string{
				"check":    c.Name,
				"name":     st.Name,
				"scenario": r.scenario.Name,
			},
		})
	}
	r.recorder.Record(samples)
}

func (vu *VU) recordIteration(res *IterationResult, start time.Time) {
	r := vu.runner
	tags := map[string]string{"scenario": r.scenario.Name}
	samples := metrics.Samples{
		{Metric: r.builtin.Iterations, Time: start, Value: 1, Tags: tags},
		{Metric: r.builtin.IterationDuration, Time: start, Value: float64(res.Duration) / float64(time.Millisecond), Tags: tags},
	}
	if res.State == StateAborted {
		samples = append(samples, metrics.Sample{
			Metric: r.builtin.IterationsAborted,
			Time:   start,
			Value:  1,
			Tags:   map[string]string{"scenario": r.scenario.Name, "name": res.AbortedAt},
		})
	}
	r.recorder.Record(samples)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

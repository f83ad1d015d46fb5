package scenario

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"yqhp/load-engine/internal/httpclient"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string
	Passed bool
}

// response bundles what checks and extraction look at. The body is parsed as
// JSON at most once.
type response struct {
	*httpclient.Response
	parsed  any
	jsonErr error
	decoded bool
}

func (r *response) json() (any, error) {
	if !r.decoded {
		r.decoded = true
		r.parsed, r.jsonErr = parseJSON(r.Body)
	}
	return r.parsed, r.jsonErr
}

// runChecks evaluates every declared check in a fixed order.
func (vu *VU) runChecks(st *Step, resp *response, vars map[string]string) []CheckResult {
	c := st.Checks
	var results []CheckResult

	if len(c.Status) > 0 {
		results = append(results, CheckResult{
			Name:   "status in " + formatInts(c.Status),
			Passed: resp.Err == nil && slices.Contains(c.Status, resp.Status),
		})
	}

	for _, want := range c.BodyContains {
		results = append(results, CheckResult{
			Name:   fmt.Sprintf("body contains %q", want),
			Passed: resp.Err == nil && bytes.Contains(resp.Body, []byte(want)),
		})
	}

	for i, expr := range st.paths {
		passed := false
		if data, err := resp.json(); err == nil {
			passed = len(expr.Get(data)) > 0
		}
		results = append(results, CheckResult{Name: "json " + c.JSONPaths[i] + " exists", Passed: passed})
	}

	if c.MaxDuration > 0 {
		results = append(results, CheckResult{
			Name:   "duration <= " + c.MaxDuration.String(),
			Passed: resp.Err == nil && resp.Duration <= c.MaxDuration,
		})
	}

	if st.program != nil {
		results = append(results, CheckResult{
			Name:   "script",
			Passed: resp.Err == nil && vu.runScript(st, resp, vars),
		})
	}

	return results
}

// runScript evaluates the step's compiled program in the VU's own runtime.
func (vu *VU) runScript(st *Step, resp *response, vars map[string]string) bool {
	rt := vu.runtime()

	obj := rt.NewObject()
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("body", string(resp.Body))
	_ = obj.Set("headers", resp.Headers)
	_ = obj.Set("duration", float64(resp.Duration)/float64(time.Millisecond))
	if data, err := resp.json(); err == nil {
		_ = obj.Set("json", data)
	}
	_ = rt.Set("response", obj)
	_ = rt.Set("vars", vars)

	v, err := rt.RunProgram(st.program)
	if err != nil {
		vu.log.Debug("check script failed", zap.String("step", st.Name), zap.Error(err))
		return false
	}
	return v.ToBoolean()
}

func (vu *VU) runtime() *goja.Runtime {
	if vu.rt == nil {
		vu.rt = goja.New()
	}
	return vu.rt
}

func formatInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

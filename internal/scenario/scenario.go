// Package scenario defines load-test scenarios and runs one virtual user's
// iterations over them: ordered steps, each a request with checks and typed
// value extraction, with per-step abort semantics.
package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/ohler55/ojg/jp"

	"yqhp/load-engine/pkg/types"
)

// Scenario is an ordered list of steps a virtual user repeats each iteration.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Vars are resolved once at the start of every iteration. Values may use
	// the built-in variables (base_url, vu, iter, uuid, timestamp).
	Vars map[string]string `yaml:"vars,omitempty"`
	// Carry lists variables that survive into the same VU's next iteration.
	Carry []string `yaml:"carry,omitempty"`
	// ThinkTime is slept after every completed step.
	ThinkTime time.Duration `yaml:"think_time,omitempty"`

	Steps []*Step `yaml:"steps"`
}

// Step is an immutable step descriptor.
type Step struct {
	Name           string        `yaml:"name"`
	Request        RequestSpec   `yaml:"request"`
	Checks         Checks        `yaml:"checks,omitempty"`
	Extract        []ExtractRule `yaml:"extract,omitempty"`
	AbortOnFailure bool          `yaml:"abort_on_failure,omitempty"`
	// Requires skips the step unless every listed variable is set.
	Requires []string      `yaml:"requires,omitempty"`
	Sleep    time.Duration `yaml:"sleep,omitempty"`

	paths   []jp.Expr
	program *goja.Program
}

// RequestSpec is a request template. ${var} references are substituted at run time.
type RequestSpec struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Body    string            `yaml:"body,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// Checks are the predicates a response must satisfy. All declared checks must pass.
type Checks struct {
	Status       []int         `yaml:"status,omitempty"`
	BodyContains []string      `yaml:"body_contains,omitempty"`
	JSONPaths    []string      `yaml:"json_paths,omitempty"`
	MaxDuration  time.Duration `yaml:"max_duration,omitempty"`
	// Script is a JavaScript expression, or a function body using return,
	// evaluated with `response` and `vars` in scope.
	Script string `yaml:"script,omitempty"`
}

// ValueKind is the expected type of an extracted value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindAny    ValueKind = "any"
)

// ExtractRule pulls one value out of a JSON response body.
type ExtractRule struct {
	Var  string    `yaml:"var"`
	Path string    `yaml:"path"`
	Type ValueKind `yaml:"type,omitempty"`
	// Fatal aborts the iteration when extraction fails, regardless of AbortOnFailure.
	Fatal bool `yaml:"fatal,omitempty"`

	expr jp.Expr
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Compile validates the scenario and prepares JSONPath expressions and
// scripts. It must be called before the scenario is run; errors are ConfigErrors.
func (s *Scenario) Compile() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("scenario name is required"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("scenario has no steps"))
	}

	seen := make(map[string]bool, len(s.Steps))
	for i, st := range s.Steps {
		if st == nil {
			errs = append(errs, fmt.Errorf("steps[%d]: empty step", i))
			continue
		}
		if st.Name == "" {
			errs = append(errs, fmt.Errorf("steps[%d]: name is required", i))
		} else if seen[st.Name] {
			errs = append(errs, fmt.Errorf("steps[%d]: duplicate step name %q", i, st.Name))
		}
		seen[st.Name] = true

		if err := st.compile(); err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", st.Name, err))
		}
	}

	if len(errs) > 0 {
		return types.NewConfigError("scenario "+s.Name, errors.Join(errs...))
	}
	return nil
}

func (st *Step) compile() error {
	st.Request.Method = strings.ToUpper(strings.TrimSpace(st.Request.Method))
	if st.Request.Method == "" {
		st.Request.Method = "GET"
	}
	if !validMethods[st.Request.Method] {
		return fmt.Errorf("unsupported method %q", st.Request.Method)
	}
	if st.Request.URL == "" {
		return errors.New("request url is required")
	}

	st.paths = st.paths[:0]
	for _, p := range st.Checks.JSONPaths {
		expr, err := jp.ParseString(p)
		if err != nil {
			return fmt.Errorf("invalid json path %q: %w", p, err)
		}
		st.paths = append(st.paths, expr)
	}

	for i := range st.Extract {
		r := &st.Extract[i]
		if r.Var == "" {
			return fmt.Errorf("extract[%d]: var is required", i)
		}
		if r.Type == "" {
			r.Type = KindAny
		}
		switch r.Type {
		case KindString, KindNumber, KindBool, KindAny:
		default:
			return fmt.Errorf("extract %q: unknown type %q", r.Var, r.Type)
		}
		expr, err := jp.ParseString(r.Path)
		if err != nil {
			return fmt.Errorf("extract %q: invalid json path %q: %w", r.Var, r.Path, err)
		}
		r.expr = expr
	}

	if st.Checks.Script != "" {
		prog, err := compileScript(st.Name, st.Checks.Script)
		if err != nil {
			return fmt.Errorf("check script: %w", err)
		}
		st.program = prog
	}
	return nil
}

// returnStmt matches a return statement at the start of the source or after
// a statement or block boundary, not identifiers such as `returned`.
var returnStmt = regexp.MustCompile(`(^|[;{}\n])\s*return\b`)

// compileScript wraps the source so both `expr` and `...; return expr` forms work.
func compileScript(name, src string) (*goja.Program, error) {
	body := strings.TrimSpace(src)
	if !returnStmt.MatchString(body) {
		body = "return (" + body + ");"
	}
	return goja.Compile(name+".check.js", "(function(){\n"+body+"\n})()", true)
}

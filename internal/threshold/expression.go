// Package threshold parses threshold expressions and evaluates them against
// metric snapshots, both at the end of a run and periodically while it runs.
package threshold

import (
	"fmt"
	"strconv"
	"strings"

	"yqhp/load-engine/pkg/metrics"
)

// Operator is a comparison operator in a threshold expression.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// two-character operators must be tried first
var operators = []Operator{OpLessEqual, OpGreaterEqual, OpNotEqual, OpEqual, OpLess, OpGreater}

var aggregations = map[string]bool{
	"count":  true,
	"rate":   true,
	"value":  true,
	"min":    true,
	"max":    true,
	"avg":    true,
	"med":    true,
	"passes": true,
	"fails":  true,
}

// Expression is a parsed `aggregation operator literal` expression, e.g. p(95)<500.
type Expression struct {
	Source      string
	Aggregation string
	Operator    Operator
	Value       float64
}

// ParseError reports a malformed threshold expression.
type ParseError struct {
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid threshold %q: %s", e.Expression, e.Reason)
}

// Parse parses a threshold expression.
func Parse(expr string) (*Expression, error) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return nil, &ParseError{Expression: expr, Reason: "empty expression"}
	}

	for _, op := range operators {
		idx := strings.Index(src, string(op))
		if idx < 0 {
			continue
		}
		agg := strings.ReplaceAll(strings.TrimSpace(src[:idx]), " ", "")
		lit := strings.TrimSpace(src[idx+len(op):])

		if !validAggregation(agg) {
			return nil, &ParseError{Expression: expr, Reason: fmt.Sprintf("unknown aggregation %q", agg)}
		}
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, &ParseError{Expression: expr, Reason: fmt.Sprintf("invalid literal %q", lit)}
		}
		return &Expression{Source: src, Aggregation: agg, Operator: op, Value: v}, nil
	}

	return nil, &ParseError{Expression: expr, Reason: "missing comparison operator"}
}

func validAggregation(agg string) bool {
	if aggregations[agg] {
		return true
	}
	_, ok := metrics.ParsePercentile(agg)
	return ok
}

// Compare applies the operator to observed and the literal.
func (e *Expression) Compare(observed float64) bool {
	switch e.Operator {
	case OpLess:
		return observed < e.Value
	case OpLessEqual:
		return observed <= e.Value
	case OpGreater:
		return observed > e.Value
	case OpGreaterEqual:
		return observed >= e.Value
	case OpEqual:
		return observed == e.Value
	case OpNotEqual:
		return observed != e.Value
	}
	return false
}

func (e *Expression) String() string {
	return e.Source
}

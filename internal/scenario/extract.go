package scenario

import (
	"fmt"
	"strconv"

	"github.com/ohler55/ojg/oj"
)

// ExtractionError is raised when a response does not contain the expected
// value, or contains it with the wrong type.
type ExtractionError struct {
	Var    string
	Path   string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s from %s: %s", e.Var, e.Path, e.Reason)
}

func parseJSON(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return oj.Parse(body)
}

// extract applies one rule and returns the value rendered for templates.
func extract(r *ExtractRule, resp *response) (string, error) {
	data, err := resp.json()
	if err != nil {
		return "", &ExtractionError{Var: r.Var, Path: r.Path, Reason: "body is not JSON"}
	}
	results := r.expr.Get(data)
	if len(results) == 0 {
		return "", &ExtractionError{Var: r.Var, Path: r.Path, Reason: "no match"}
	}
	return convert(r, results[0])
}

func convert(r *ExtractRule, v any) (string, error) {
	mismatch := func() error {
		return &ExtractionError{Var: r.Var, Path: r.Path, Reason: fmt.Sprintf("expected %s, got %T", r.Type, v)}
	}

	switch r.Type {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return "", mismatch()
		}
		if s == "" {
			return "", &ExtractionError{Var: r.Var, Path: r.Path, Reason: "empty string"}
		}
		return s, nil
	case KindNumber:
		switch n := v.(type) {
		case int64:
			return strconv.FormatInt(n, 10), nil
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		}
		return "", mismatch()
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return "", mismatch()
		}
		return strconv.FormatBool(b), nil
	default:
		if v == nil {
			return "", &ExtractionError{Var: r.Var, Path: r.Path, Reason: "null value"}
		}
		switch x := v.(type) {
		case string:
			return x, nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
		return oj.JSON(v), nil
	}
}

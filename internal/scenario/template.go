package scenario

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// MissingVariableError reports template references that have no value.
type MissingVariableError struct {
	Names []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("undefined variable(s): %s", strings.Join(e.Names, ", "))
}

// Resolve replaces every ${name} in s with vars[name]. All unresolved names
// are reported together and the result is discarded.
func Resolve(s string, vars map[string]string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	out := variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-1])
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingVariableError{Names: missing}
	}
	return out, nil
}

// References returns the variable names referenced by s.
func References(s string) []string {
	matches := variablePattern.FindAllStringSubmatch(s, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, strings.TrimSpace(m[1]))
	}
	return refs
}

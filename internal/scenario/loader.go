package scenario

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"yqhp/load-engine/pkg/types"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtins returns the names of the embedded scenarios.
func Builtins() []string {
	entries, _ := builtinFS.ReadDir("builtin")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Load resolves ref as a built-in scenario name or a YAML file path, then
// parses and compiles it.
func Load(ref string) (*Scenario, error) {
	if ref == "" {
		return nil, types.NewConfigError("scenario is required", nil)
	}

	var (
		data []byte
		err  error
	)
	if !strings.ContainsAny(ref, `/\.`) {
		data, err = builtinFS.ReadFile("builtin/" + ref + ".yaml")
		if err != nil {
			return nil, types.NewConfigError(fmt.Sprintf("unknown built-in scenario %q (available: %s)", ref, strings.Join(Builtins(), ", ")), nil)
		}
	} else {
		data, err = os.ReadFile(ref)
		if err != nil {
			return nil, types.NewConfigError("read scenario file", err)
		}
	}
	return Parse(data)
}

// Parse decodes and compiles a scenario from YAML. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, types.NewConfigError("parse scenario", err)
	}
	if err := sc.Compile(); err != nil {
		return nil, err
	}
	return &sc, nil
}

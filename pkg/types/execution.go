package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionMode names a VU scheduling strategy.
type ExecutionMode string

const (
	// ModeConstantVUs keeps a fixed number of VUs for a fixed duration.
	ModeConstantVUs ExecutionMode = "constant-vus"
	// ModeRampingVUs adjusts the VU count according to stages.
	ModeRampingVUs ExecutionMode = "ramping-vus"
)

// Stage defines one segment of the VU schedule.
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"` // VU count reached at the end of the stage
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
}

// TestConfig is the immutable configuration of a single run.
// It is built once at startup and shared by pointer with every component.
type TestConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url" env:"LOAD_BASE_URL"`
	Scenario string `yaml:"scenario" json:"scenario" env:"LOAD_SCENARIO"`

	Stages        []Stage       `yaml:"stages,omitempty" json:"stages,omitempty" env:"LOAD_STAGES"`
	VUs           int           `yaml:"vus,omitempty" json:"vus,omitempty" env:"LOAD_VUS"`
	Duration      time.Duration `yaml:"duration,omitempty" json:"duration,omitempty" env:"LOAD_DURATION"`
	MaxIterations int           `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" env:"LOAD_MAX_ITERATIONS"`

	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout" env:"LOAD_REQUEST_TIMEOUT"`
	GracefulStop      time.Duration `yaml:"graceful_stop" json:"graceful_stop" env:"LOAD_GRACEFUL_STOP"`
	ThresholdInterval time.Duration `yaml:"threshold_interval,omitempty" json:"threshold_interval,omitempty" env:"LOAD_THRESHOLD_INTERVAL"`

	Thresholds map[string][]ThresholdDecl `yaml:"thresholds,omitempty" json:"thresholds,omitempty" env:"LOAD_THRESHOLDS"`
	Vars       map[string]string          `yaml:"vars,omitempty" json:"vars,omitempty" env:"LOAD_VARS"`

	Outputs       []string `yaml:"outputs,omitempty" json:"outputs,omitempty" env:"LOAD_OUTPUTS"`
	SummaryExport string   `yaml:"summary_export,omitempty" json:"summary_export,omitempty" env:"LOAD_SUMMARY_EXPORT"`
	HistoryPath   string   `yaml:"history_path,omitempty" json:"history_path,omitempty" env:"LOAD_HISTORY_PATH"`
}

// EffectiveStages returns the stage schedule, expanding the vus/duration
// shorthand into an immediate jump to vus held for duration when no stages
// are declared.
func (c *TestConfig) EffectiveStages() []Stage {
	if len(c.Stages) > 0 {
		return c.Stages
	}
	if c.VUs <= 0 {
		return nil
	}
	stages := []Stage{{Duration: 0, Target: c.VUs, Name: "start"}}
	if c.Duration > 0 {
		stages = append(stages, Stage{Duration: c.Duration, Target: c.VUs, Name: "hold"})
	}
	return stages
}

// Mode returns the execution mode implied by the schedule fields.
func (c *TestConfig) Mode() ExecutionMode {
	if len(c.Stages) > 0 {
		return ModeRampingVUs
	}
	return ModeConstantVUs
}

// MaxTarget returns the highest VU target across all stages.
func (c *TestConfig) MaxTarget() int {
	max := 0
	for _, s := range c.EffectiveStages() {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// TotalDuration returns the summed duration of all stages.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.EffectiveStages() {
		total += s.Duration
	}
	return total
}

// ThresholdDecl is one declared threshold expression on a metric.
// In YAML it is either a plain string or a mapping with abort_on_fail.
type ThresholdDecl struct {
	Expression  string `yaml:"threshold" json:"threshold"`
	AbortOnFail bool   `yaml:"abort_on_fail,omitempty" json:"abort_on_fail,omitempty"`
}

// UnmarshalYAML accepts both `- rate<0.01` and `- {threshold: rate<0.01, abort_on_fail: true}`.
func (t *ThresholdDecl) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		t.Expression = node.Value
		return nil
	case yaml.MappingNode:
		type plain ThresholdDecl
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*t = ThresholdDecl(p)
		return nil
	default:
		return fmt.Errorf("line %d: threshold must be a string or a mapping", node.Line)
	}
}

// MarshalYAML writes the short form when abort_on_fail is unset.
func (t ThresholdDecl) MarshalYAML() (any, error) {
	if !t.AbortOnFail {
		return t.Expression, nil
	}
	type plain ThresholdDecl
	return plain(t), nil
}

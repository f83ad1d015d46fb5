package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.VUs = 2
	cfg.Duration = time.Second
	return cfg
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cfg := DefaultConfig()
	cfg.Stages = []types.Stage{{Duration: 0, Target: 5}}
	cfg.MaxIterations = 1
	assert.NoError(t, cfg.Validate(), "iteration-bounded schedule")

	cfg = DefaultConfig()
	cfg.VUs = 3
	cfg.MaxIterations = 2
	assert.NoError(t, cfg.Validate(), "vus with max_iterations and no duration")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing base url", func(c *Config) { c.BaseURL = "" }, "base_url"},
		{"bad base url", func(c *Config) { c.BaseURL = "localhost:8080" }, "base_url"},
		{"missing scenario", func(c *Config) { c.Scenario = "" }, "scenario"},
		{"negative stage target", func(c *Config) {
			c.VUs, c.Duration = 0, 0
			c.Stages = []types.Stage{{Duration: time.Second, Target: -1}}
		}, "stages[0].target"},
		{"negative stage duration", func(c *Config) {
			c.VUs, c.Duration = 0, 0
			c.Stages = []types.Stage{{Duration: -time.Second, Target: 1}}
		}, "stages[0].duration"},
		{"both schedules", func(c *Config) { c.Stages = []types.Stage{{Duration: time.Second, Target: 1}} }, "stages"},
		{"no schedule", func(c *Config) { c.VUs, c.Duration = 0, 0 }, "stages"},
		{"endless", func(c *Config) { c.Duration = 0 }, "stages"},
		{"request timeout", func(c *Config) { c.RequestTimeout = 0 }, "request_timeout"},
		{"graceful stop", func(c *Config) { c.GracefulStop = -time.Second }, "graceful_stop"},
		{"max iterations", func(c *Config) { c.MaxIterations = -1 }, "max_iterations"},
		{"bad threshold", func(c *Config) {
			c.Thresholds = map[string][]types.ThresholdDecl{"http_req_duration": {{Expression: "p95 < 500"}}}
		}, "thresholds"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"log file path", func(c *Config) { c.Logging.Output = "file" }, "logging.file_path"},
		{"empty output", func(c *Config) { c.Outputs = []string{" "} }, "outputs[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Contains(t, fieldsOf(t, cfg.Validate()), tt.field)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.BaseURL = ""
	cfg.Scenario = ""
	cfg.RequestTimeout = -1

	fields := fieldsOf(t, cfg.Validate())
	assert.ElementsMatch(t, []string{"base_url", "scenario", "request_timeout"}, fields)
	assert.Contains(t, cfg.Validate().Error(), "configuration validation failed")
}

func TestValidateTest(t *testing.T) {
	tc := validConfig().TestConfig
	assert.NoError(t, ValidateTest(&tc))

	tc.Stages = []types.Stage{{Duration: time.Second, Target: -3}}
	tc.VUs, tc.Duration = 0, 0
	err := ValidateTest(&tc)
	assert.True(t, types.IsConfigError(err))
}

package config

import (
	"fmt"
	"net/url"
	"strings"

	"yqhp/load-engine/internal/threshold"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration. A non-nil result is a
// *types.ConfigError wrapping ValidationErrors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateTestConfig(&cfg.TestConfig)
	v.validateLoggingConfig(&cfg.Logging)

	return v.result()
}

// ValidateTest validates only the test section.
func (v *Validator) ValidateTest(cfg *types.TestConfig) error {
	v.errors = make(ValidationErrors, 0)
	v.validateTestConfig(cfg)
	return v.result()
}

func (v *Validator) result() error {
	if v.errors.HasErrors() {
		return types.NewConfigError("invalid configuration", v.errors)
	}
	return nil
}

func (v *Validator) validateTestConfig(cfg *types.TestConfig) {
	if cfg.BaseURL == "" {
		v.addError("base_url", "base url is required")
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError("base_url", fmt.Sprintf("invalid base url %q, expected http(s)://host[:port]", cfg.BaseURL))
	}

	if cfg.Scenario == "" {
		v.addError("scenario", "scenario is required")
	}

	v.validateSchedule(cfg)

	if cfg.RequestTimeout <= 0 {
		v.addError("request_timeout", "request timeout must be positive")
	}
	if cfg.GracefulStop < 0 {
		v.addError("graceful_stop", "graceful stop must be non-negative")
	}
	if cfg.ThresholdInterval < 0 {
		v.addError("threshold_interval", "threshold interval must be non-negative")
	}

	if _, err := threshold.Compile(cfg.Thresholds); err != nil {
		v.addError("thresholds", unwrapConfig(err))
	}

	for i, out := range cfg.Outputs {
		if strings.TrimSpace(out) == "" {
			v.addError(fmt.Sprintf("outputs[%d]", i), "output must not be empty")
		}
	}
}

func (v *Validator) validateSchedule(cfg *types.TestConfig) {
	if len(cfg.Stages) > 0 && (cfg.VUs > 0 || cfg.Duration > 0) {
		v.addError("stages", "use either stages or vus/duration, not both")
	}
	if cfg.VUs < 0 {
		v.addError("vus", "vus must be non-negative")
	}
	if cfg.Duration < 0 {
		v.addError("duration", "duration must be non-negative")
	}
	if cfg.MaxIterations < 0 {
		v.addError("max_iterations", "max iterations must be non-negative")
	}

	for i, s := range cfg.Stages {
		if s.Duration < 0 {
			v.addError(fmt.Sprintf("stages[%d].duration", i), "stage duration must be non-negative")
		}
		if s.Target < 0 {
			v.addError(fmt.Sprintf("stages[%d].target", i), "stage target must be non-negative")
		}
	}

	if len(cfg.EffectiveStages()) == 0 {
		v.addError("stages", "a stage schedule or vus is required")
		return
	}
	if cfg.TotalDuration() == 0 && cfg.MaxIterations == 0 {
		v.addError("stages", "schedule has zero total duration; set a stage duration or max_iterations")
	}
}

func (v *Validator) validateLoggingConfig(cfg *logger.Config) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if cfg.Format != "" && !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stdout", "stderr":
	case "file", "both":
		if cfg.FilePath == "" {
			v.addError("logging.file_path", "file path is required when output is file or both")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, stderr, file, both", cfg.Output))
	}
}

// unwrapConfig strips the ConfigError envelope so nested messages are not repeated.
func unwrapConfig(err error) string {
	if ce, ok := err.(*types.ConfigError); ok && ce.Cause != nil {
		return ce.Cause.Error()
	}
	return err.Error()
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// ValidateTest validates a test configuration.
func ValidateTest(cfg *types.TestConfig) error {
	return NewValidator().ValidateTest(cfg)
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

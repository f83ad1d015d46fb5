package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// Config is the complete configuration of a run: the test itself plus logging.
type Config struct {
	types.TestConfig `yaml:",inline"`

	Logging logger.Config `yaml:"logging"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TestConfig: types.TestConfig{
			BaseURL:           "http://localhost:8080",
			Scenario:          "health",
			RequestTimeout:    10 * time.Second,
			GracefulStop:      30 * time.Second,
			ThresholdInterval: 2 * time.Second,
			HistoryPath:       "load-history.db",
		},
		Logging: logger.DefaultConfig(),
	}
}

// baseURLAlias is honoured when LOAD_BASE_URL is unset.
const baseURLAlias = "BASE_URL"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs:   make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets command-line overrides keyed by YAML path, e.g. "vus" or "logging.level".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// WithEnv replaces the environment lookup.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags.
// Every failure is a *types.ConfigError.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, types.NewConfigError("load config file", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, types.NewConfigError("apply environment overrides", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, types.NewConfigError("apply command-line overrides", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. Unknown keys are rejected.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}
	return decodeYAML(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if _, ok := l.lookupEnv("LOAD_BASE_URL"); !ok {
		if v, ok := l.lookupEnv(baseURLAlias); ok && v != "" {
			cfg.BaseURL = v
		}
	}
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := l.lookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("env %s: %w", envTag, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation YAML path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		name := strings.ReplaceAll(part, "_", "")
		field := v.FieldByNameFunc(func(n string) bool {
			return strings.EqualFold(n, name)
		})
		if !field.IsValid() {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%s is not a section", part)
		}
		v = field
	}
	return nil
}

var (
	durationType   = reflect.TypeOf(time.Duration(0))
	stagesType     = reflect.TypeOf([]types.Stage(nil))
	thresholdsType = reflect.TypeOf(map[string][]types.ThresholdDecl(nil))
)

// setFieldValue sets a reflect.Value from a string value.
// Maps are merged into the existing value; other kinds are replaced.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Type() {
	case durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case stagesType:
		stages, err := ParseStages(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(stages))
		return nil
	case thresholdsType:
		m := field.Interface().(map[string][]types.ThresholdDecl)
		if m == nil {
			m = make(map[string][]types.ThresholdDecl)
		}
		if err := mergeThresholds(m, value); err != nil {
			return err
		}
		field.Set(reflect.ValueOf(m))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		// comma-separated string slices
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	case reflect.Map:
		// key=value,key=value
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type: %s", field.Type())
		}
		m, _ := field.Interface().(map[string]string)
		if m == nil {
			m = make(map[string]string)
		}
		for _, pair := range strings.Split(value, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return fmt.Errorf("invalid key=value pair %q", pair)
			}
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// ParseStages parses "30s:10,1m:10,10s:0" into stages of duration:target.
func ParseStages(value string) ([]types.Stage, error) {
	var stages []types.Stage
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, t, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid stage %q, expected duration:target", part)
		}
		dur, err := time.ParseDuration(strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("invalid stage %q: %w", part, err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("invalid stage %q: %w", part, err)
		}
		stages = append(stages, types.Stage{Duration: dur, Target: target})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("empty stage list")
	}
	return stages, nil
}

// mergeThresholds adds "metric=expr;metric=expr" declarations to m.
func mergeThresholds(m map[string][]types.ThresholdDecl, value string) error {
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, expr, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(expr) == "" {
			return fmt.Errorf("invalid threshold %q, expected metric=expression", part)
		}
		name = strings.TrimSpace(name)
		m[name] = append(m[name], types.ThresholdDecl{Expression: strings.TrimSpace(expr)})
	}
	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := decodeYAML(data, cfg); err != nil {
		return nil, types.NewConfigError("parse config", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Package config loads the run configuration from defaults, a YAML file,
// LOAD_* environment variables and command-line overrides, and validates it.
package config

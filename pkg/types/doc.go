// Package types defines the core data structures shared by the load engine.
//
// This package contains the fundamental types used across the engine,
// including:
//   - Test configuration and stage schedules
//   - Threshold declarations and results
//   - The terminal run report and exit codes
package types

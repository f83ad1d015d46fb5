package execution

import "errors"

var (
	// ErrNilConfig is returned when the configuration is nil.
	ErrNilConfig = errors.New("execution mode config is nil")

	// ErrNilIterationFunc is returned when the iteration function is nil.
	ErrNilIterationFunc = errors.New("iteration function is nil")

	// ErrNoStages is returned when no stages are defined for ramping modes.
	ErrNoStages = errors.New("no stages defined for ramping mode")

	// ErrInvalidStage is returned for negative targets or durations.
	ErrInvalidStage = errors.New("invalid stage: target and duration must be non-negative")

	// ErrEndless is returned when the schedule has no duration and no iteration limit.
	ErrEndless = errors.New("schedule has zero total duration and no iteration limit")

	// ErrModeAlreadyRunning is returned when trying to start a mode that is already running.
	ErrModeAlreadyRunning = errors.New("execution mode is already running")
)

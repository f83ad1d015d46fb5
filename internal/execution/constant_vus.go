package execution

import (
	"context"

	"yqhp/load-engine/pkg/types"
)

// ConstantVUsMode runs a fixed number of VUs for a fixed duration. It is a
// ramping schedule with an immediate jump to VUs followed by a hold stage.
type ConstantVUsMode struct {
	*RampingVUsMode
}

// NewConstantVUsMode creates a new constant VUs mode.
func NewConstantVUsMode() *ConstantVUsMode {
	m := &ConstantVUsMode{RampingVUsMode: NewRampingVUsMode()}
	m.name = types.ModeConstantVUs
	return m
}

// Run expands VUs/Duration into stages and runs them.
func (m *ConstantVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	cfg := *config
	cfg.Stages = []types.Stage{
		{Duration: 0, Target: config.VUs, Name: "start"},
		{Duration: config.Duration, Target: config.VUs, Name: "hold"},
	}
	return m.RampingVUsMode.Run(ctx, &cfg)
}

package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func TestConstantVUsMode_Run(t *testing.T) {
	mode := NewConstantVUsMode()
	assert.Equal(t, types.ModeConstantVUs, mode.Name())

	tracker := newVUTracker()
	config := tracker.hooks(&ModeConfig{
		VUs:      3,
		Duration: 150 * time.Millisecond,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	})

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(3), tracker.max.Load())
	assert.Equal(t, int32(3), tracker.started.Load())
	assert.Zero(t, tracker.current.Load())
}

func TestConstantVUsMode_Run_Errors(t *testing.T) {
	mode := NewConstantVUsMode()
	assert.ErrorIs(t, mode.Run(context.Background(), nil), ErrNilConfig)

	mode = NewConstantVUsMode()
	err := mode.Run(context.Background(), &ModeConfig{VUs: 2, IterationFunc: noopIteration})
	assert.ErrorIs(t, err, ErrEndless)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []types.ExecutionMode{types.ModeConstantVUs, types.ModeRampingVUs}, r.List())

	m, err := r.Get(types.ModeRampingVUs)
	require.NoError(t, err)
	assert.Equal(t, types.ModeRampingVUs, m.Name())

	_, err = r.Get("per-vu-iterations")
	assert.Error(t, err)

	m, err = GetMode(types.ModeConstantVUs)
	require.NoError(t, err)
	assert.IsType(t, &ConstantVUsMode{}, m)
}

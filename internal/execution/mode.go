package execution

import (
	"context"
	"sync"
	"time"

	"yqhp/load-engine/pkg/types"
)

// Mode 定义执行模式的接口。
// 每种模式控制 VU 的管理方式和迭代的执行方式。
type Mode interface {
	// Name 返回执行模式的名称。
	Name() types.ExecutionMode

	// Run 使用给定配置启动执行模式。
	// 阻塞直到调度结束（或收到停止信号）并完成排空。
	Run(ctx context.Context, config *ModeConfig) error

	// Stop 请求停止并等待 Run 返回。不会中断正在执行的迭代。
	Stop(ctx context.Context) error

	// GetState 返回当前执行状态。
	GetState() *ModeState
}

// ModeConfig 包含执行模式的配置。
type ModeConfig struct {
	// VUs 和 Duration 用于 constant-vus 模式。
	VUs      int
	Duration time.Duration

	// Stages 定义执行阶段（用于 ramping-vus 模式）。
	Stages []types.Stage

	// IterationsPerVU 是每个 VU 的最大迭代次数，0 表示不限。
	IterationsPerVU int

	// GracefulStop 是停止时等待进行中迭代的最长时间。
	GracefulStop time.Duration

	// IterationFunc 是每次迭代执行的函数。
	IterationFunc IterationFunc

	// OnVUStart 在 VU 启动时调用。同一 vuID 的 OnVUStart 总在上一次 OnVUStop 之后。
	OnVUStart func(vuID int)

	// OnVUStop 在 VU 停止时调用。
	OnVUStop func(vuID int)

	// OnIterationComplete 在迭代完成时调用。
	OnIterationComplete func(vuID int, iteration int, duration time.Duration, err error)
}

// IterationFunc 是执行单次迭代的函数签名。
// 传入的 ctx 不会因停止信号而取消。
type IterationFunc func(ctx context.Context, vuID int, iteration int) error

// ModeState 表示执行模式的当前状态。
type ModeState struct {
	// ActiveVUs 是当前存活的 VU 数量（包括正在退出、仍在完成迭代的 VU）。
	ActiveVUs int

	// TargetVUs 是当前目标 VU 数量。
	TargetVUs int

	// MaxActiveVUs 是运行期间 ActiveVUs 的最大值。
	MaxActiveVUs int

	// CompletedIterations 是已完成的迭代次数。
	CompletedIterations int64

	// Stage 是当前阶段索引。
	Stage int

	// Running 表示模式是否正在运行。
	Running bool

	// Stopped 表示运行因停止信号或上下文取消而提前结束。
	Stopped bool

	// Drained 表示结束时所有进行中的迭代都在 GracefulStop 内完成。
	Drained bool

	// StartTime 是执行开始时间。
	StartTime time.Time

	// ElapsedTime 是已执行时长。
	ElapsedTime time.Duration
}

// BaseMode 为执行模式提供通用功能。
type BaseMode struct {
	name    types.ExecutionMode
	state   ModeState
	stateMu sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBaseMode 创建一个新的基础模式。
func NewBaseMode(name types.ExecutionMode) *BaseMode {
	return &BaseMode{
		name:   name,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name 返回模式名称。
func (b *BaseMode) Name() types.ExecutionMode {
	return b.name
}

// GetState 返回当前状态的副本。
func (b *BaseMode) GetState() *ModeState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	state := b.state
	if state.Running {
		state.ElapsedTime = time.Since(state.StartTime)
	}
	return &state
}

// SetState 更新状态。
func (b *BaseMode) SetState(fn func(*ModeState)) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	fn(&b.state)
}

// IsStopped 如果已请求停止则返回 true。
func (b *BaseMode) IsStopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop 发送停止信号。
func (b *BaseMode) RequestStop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
}

// SignalDone 发送完成信号。
func (b *BaseMode) SignalDone() {
	select {
	case <-b.doneCh:
	default:
		close(b.doneCh)
	}
}

// WaitDone 等待模式完成。
func (b *BaseMode) WaitDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}

package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/types"
)

// rampTick 是斜坡阶段调整 VU 数量的间隔。
const rampTick = 50 * time.Millisecond

// vuSlot 是一个 VU 执行槽，以 VU id 为索引。
// 同一槽在退役后可以被重新启动，迭代计数跨重启累计。
type vuSlot struct {
	id         int
	retired    bool
	alive      bool
	exhausted  bool
	iterations int
	done       chan struct{}
}

// RampingVUsMode 按阶段计划线性调整并发 VU 数量。
// 每个阶段在 Duration 内从上一阶段的目标线性插值到本阶段目标；
// Duration 为 0 的阶段立即跳到目标。
type RampingVUsMode struct {
	*BaseMode

	runMu   sync.Mutex
	running bool

	config  *ModeConfig
	iterCtx context.Context

	vuMu        sync.Mutex
	slots       []*vuSlot
	alive       int
	maxTarget   int
	quotaSlots  int
	exhaustedCh chan struct{}
	quotaDone   bool
	wg          sync.WaitGroup

	completed atomic.Int64
}

// NewRampingVUsMode 创建一个新的 ramping-vus 模式。
func NewRampingVUsMode() *RampingVUsMode {
	return &RampingVUsMode{
		BaseMode:    NewBaseMode(types.ModeRampingVUs),
		exhaustedCh: make(chan struct{}),
	}
}

// ValidateConfig checks the schedule before any VU starts.
func ValidateConfig(config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if len(config.Stages) == 0 {
		return ErrNoStages
	}
	var total time.Duration
	for _, s := range config.Stages {
		if s.Target < 0 || s.Duration < 0 {
			return ErrInvalidStage
		}
		total += s.Duration
	}
	if config.IterationsPerVU < 0 {
		return ErrInvalidStage
	}
	if total == 0 && config.IterationsPerVU == 0 {
		return ErrEndless
	}
	return nil
}

// Run 执行阶段计划。
// 计划结束、所有 VU 用完迭代配额、收到停止信号或 ctx 取消时进入排空，
// 排空完成（或 GracefulStop 超时）后返回。
func (m *RampingVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if err := ValidateConfig(config); err != nil {
		return err
	}

	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return ErrModeAlreadyRunning
	}
	m.running = true
	m.runMu.Unlock()
	defer m.SignalDone()

	m.config = config
	// 迭代不随停止信号取消，只有排空超时才会放弃等待
	m.iterCtx = context.WithoutCancel(ctx)
	for _, s := range config.Stages {
		if s.Target > m.maxTarget {
			m.maxTarget = s.Target
		}
	}
	m.slots = make([]*vuSlot, m.maxTarget)
	for i := range m.slots {
		m.slots[i] = &vuSlot{id: i}
	}
	m.vuMu.Lock()
	m.quotaSlots = m.maxTarget
	m.checkQuota()
	m.vuMu.Unlock()

	m.SetState(func(s *ModeState) {
		s.Running = true
		s.StartTime = time.Now()
	})

	stopped := m.runStages(ctx)
	if !stopped && m.totalDuration() == 0 {
		// 纯迭代模式：等待最后阶段仍启用的 VU 用完配额，更早退役的槽不计入
		final := config.Stages[len(config.Stages)-1].Target
		m.vuMu.Lock()
		m.quotaSlots = final
		m.checkQuota()
		m.vuMu.Unlock()

		select {
		case <-m.exhaustedCh:
		case <-ctx.Done():
			stopped = true
		case <-m.stopCh:
			stopped = true
		}
	}

	drained := m.drain(config.GracefulStop)

	m.SetState(func(s *ModeState) {
		s.Running = false
		s.Stopped = stopped
		s.Drained = drained
		s.TargetVUs = 0
		s.ElapsedTime = time.Since(s.StartTime)
	})
	return nil
}

// runStages 按阶段推进目标 VU 数，返回是否被提前停止。
func (m *RampingVUsMode) runStages(ctx context.Context) bool {
	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()

	current := 0
	for i, stage := range m.config.Stages {
		m.SetState(func(s *ModeState) { s.Stage = i })

		if stage.Duration == 0 {
			current = stage.Target
			m.adjust(current)
			continue
		}

		from := current
		stageStart := time.Now()
		stageEnd := time.NewTimer(stage.Duration)
		for {
			progress := float64(time.Since(stageStart)) / float64(stage.Duration)
			if progress > 1 {
				progress = 1
			}
			m.adjust(from + int(float64(stage.Target-from)*progress))

			select {
			case <-ctx.Done():
				stageEnd.Stop()
				return true
			case <-m.stopCh:
				stageEnd.Stop()
				return true
			case <-m.exhaustedCh:
				stageEnd.Stop()
				return false
			case <-stageEnd.C:
			case <-ticker.C:
				continue
			}
			break
		}
		current = stage.Target
		m.adjust(current)
	}
	return false
}

func (m *RampingVUsMode) totalDuration() time.Duration {
	var total time.Duration
	for _, s := range m.config.Stages {
		total += s.Duration
	}
	return total
}

// adjust 使目标 VU 数为 target：id < target 的槽处于启用状态，其余退役。
// 退役的 VU 在完成当前迭代后退出。
func (m *RampingVUsMode) adjust(target int) {
	m.vuMu.Lock()
	defer m.vuMu.Unlock()

	if target > m.maxTarget {
		target = m.maxTarget
	}
	for _, slot := range m.slots {
		if slot.id >= target {
			slot.retired = true
			continue
		}
		slot.retired = false
		if slot.alive || slot.exhausted {
			continue
		}
		m.spawn(slot)
	}

	m.SetState(func(s *ModeState) {
		s.TargetVUs = target
		s.ActiveVUs = m.alive
		if m.alive > s.MaxActiveVUs {
			s.MaxActiveVUs = m.alive
		}
	})
}

// spawn 启动槽的 goroutine，调用方必须持有 vuMu。
func (m *RampingVUsMode) spawn(slot *vuSlot) {
	prev := slot.done
	done := make(chan struct{})
	slot.done = done
	slot.alive = true
	m.alive++
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(done)
		// 同一 id 的上一个 goroutine 退出后才开始，保证 OnVUStop 先于 OnVUStart
		if prev != nil {
			<-prev
		}
		m.runVU(slot)
	}()
}

// runVU 是单个 VU 的迭代循环。
func (m *RampingVUsMode) runVU(slot *vuSlot) {
	cfg := m.config
	if cfg.OnVUStart != nil {
		cfg.OnVUStart(slot.id)
	}

	for {
		iteration, ok := m.next(slot)
		if !ok {
			break
		}

		start := time.Now()
		err := cfg.IterationFunc(m.iterCtx, slot.id, iteration)
		m.completed.Add(1)
		m.SetState(func(s *ModeState) { s.CompletedIterations = m.completed.Load() })
		if cfg.OnIterationComplete != nil {
			cfg.OnIterationComplete(slot.id, iteration, time.Since(start), err)
		}
	}

	if cfg.OnVUStop != nil {
		cfg.OnVUStop(slot.id)
	}
}

// next 决定 VU 是否继续下一次迭代；不继续时在同一临界区内把槽标记为退出，
// 这样 adjust 不会漏掉需要重新启动的槽。
func (m *RampingVUsMode) next(slot *vuSlot) (int, bool) {
	m.vuMu.Lock()
	defer m.vuMu.Unlock()

	limit := m.config.IterationsPerVU
	if limit > 0 && slot.iterations >= limit && !slot.exhausted {
		slot.exhausted = true
		m.checkQuota()
	}

	if slot.retired || slot.exhausted {
		slot.alive = false
		m.alive--
		m.SetState(func(s *ModeState) { s.ActiveVUs = m.alive })
		return 0, false
	}

	iteration := slot.iterations
	slot.iterations++
	return iteration, true
}

// checkQuota 在 id < quotaSlots 的槽全部用完配额时关闭 exhaustedCh。
// 调用方必须持有 vuMu。
func (m *RampingVUsMode) checkQuota() {
	if m.quotaDone || m.config.IterationsPerVU <= 0 {
		return
	}
	for _, slot := range m.slots[:min(m.quotaSlots, len(m.slots))] {
		if !slot.exhausted {
			return
		}
	}
	m.quotaDone = true
	close(m.exhaustedCh)
}

// drain 退役所有 VU 并等待进行中的迭代完成。
// grace <= 0 表示无限等待。返回是否在时限内全部完成。
func (m *RampingVUsMode) drain(grace time.Duration) bool {
	m.adjust(0)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	if grace <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Stop 请求停止并等待 Run 完成排空。
func (m *RampingVUsMode) Stop(ctx context.Context) error {
	m.RequestStop()
	m.runMu.Lock()
	running := m.running
	m.runMu.Unlock()
	if !running {
		return nil
	}
	return m.WaitDone(ctx)
}

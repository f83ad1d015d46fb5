package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Recorder 是线程安全的指标累加器。
// Record 按序列加锁写入，Snapshot 可与 Record 并发调用。
type Recorder struct {
	registry *Registry

	start time.Time
	// 最近一次样本时间（UnixNano），用于计算计数器速率，
	// 保证无新样本时两次 Snapshot 结果一致
	last atomic.Int64

	outMu sync.RWMutex
	out   chan<- SampleContainer
}

// NewRecorder 创建记录器
func NewRecorder(registry *Registry) *Recorder {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Recorder{
		registry: registry,
		start:    time.Now(),
	}
}

// Registry 返回指标注册表
func (r *Recorder) Registry() *Registry {
	return r.registry
}

// Start 重置计时起点
func (r *Recorder) Start(t time.Time) {
	r.start = t
	r.last.Store(0)
}

// Attach 将之后的样本转发到 ch（通常是输出管理器的样本通道）
func (r *Recorder) Attach(ch chan<- SampleContainer) {
	r.outMu.Lock()
	r.out = ch
	r.outMu.Unlock()
}

// Detach 停止转发。调用方在关闭通道前必须先 Detach。
func (r *Recorder) Detach() {
	r.outMu.Lock()
	r.out = nil
	r.outMu.Unlock()
}

// Record 写入一组样本
func (r *Recorder) Record(c SampleContainer) {
	samples := c.GetSamples()
	if len(samples) == 0 {
		return
	}

	var latest time.Time
	for i := range samples {
		s := samples[i]
		if s.Metric == nil {
			continue
		}
		if s.Time.IsZero() {
			s.Time = time.Now()
		}
		s.Metric.Sink.Add(s)
		for _, sub := range r.registry.submetrics(s.Metric.Name) {
			if sub.matches(s.Tags) {
				sub.Sink.Add(s)
			}
		}
		if s.Time.After(latest) {
			latest = s.Time
		}
	}
	r.touch(latest)

	r.outMu.RLock()
	if r.out != nil {
		r.out <- c
	}
	r.outMu.RUnlock()
}

// RecordValue 便捷方法：记录单个样本
func (r *Recorder) RecordValue(m *Metric, value float64, tags map[string]string) {
	r.Record(Samples{{Metric: m, Time: time.Now(), Value: value, Tags: tags}})
}

func (r *Recorder) touch(t time.Time) {
	n := t.UnixNano()
	for {
		cur := r.last.Load()
		if n <= cur || r.last.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Elapsed 返回从开始到最近一次样本的时长
func (r *Recorder) Elapsed() time.Duration {
	last := r.last.Load()
	if last == 0 {
		return 0
	}
	d := time.Unix(0, last).Sub(r.start)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot 返回所有非空（或已声明）指标的只读快照
func (r *Recorder) Snapshot() map[string]MetricSnapshot {
	seconds := r.Elapsed().Seconds()
	all := r.registry.All()

	result := make(map[string]MetricSnapshot, len(all))
	for name, m := range all {
		if m.Sink.IsEmpty() && !m.declared {
			continue
		}
		result[name] = newSnapshot(m, seconds)
	}
	return result
}

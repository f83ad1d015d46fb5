package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sink 定义指标聚合器接口。每个 Sink 自带锁，不同序列之间互不阻塞。
type Sink interface {
	// Add 添加一个样本值
	Add(sample Sample)
	// Format 返回格式化的统计结果，duration 单位为秒
	Format(duration float64) map[string]float64
	// IsEmpty 检查是否为空
	IsEmpty() bool
}

// NewSink 根据指标类型创建对应的 Sink
func NewSink(metricType MetricType) Sink {
	switch metricType {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	case Trend:
		return NewTrendSink()
	default:
		return &CounterSink{}
	}
}

// CounterSink 计数器聚合器
type CounterSink struct {
	Value float64
	Count int64
	First time.Time
	mu    sync.Mutex
}

// Add 添加样本
func (c *CounterSink) Add(sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Value += sample.Value
	c.Count++
	if c.First.IsZero() {
		c.First = sample.Time
	}
}

// Format 返回统计结果
func (c *CounterSink) Format(duration float64) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := map[string]float64{
		"count": c.Value,
		"rate":  0,
	}
	if duration > 0 {
		result["rate"] = c.Value / duration
	}
	return result
}

// IsEmpty 检查是否为空
func (c *CounterSink) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Count == 0
}

// GaugeSink 仪表盘聚合器
type GaugeSink struct {
	Value  float64
	Min    float64
	Max    float64
	Count  int64
	minSet bool
	mu     sync.Mutex
}

// Add 添加样本
func (g *GaugeSink) Add(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Value = sample.Value
	g.Count++
	if !g.minSet || sample.Value < g.Min {
		g.Min = sample.Value
		g.minSet = true
	}
	if sample.Value > g.Max {
		g.Max = sample.Value
	}
}

// Format 返回统计结果
func (g *GaugeSink) Format(duration float64) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]float64{
		"value": g.Value,
		"min":   g.Min,
		"max":   g.Max,
	}
}

// IsEmpty 检查是否为空
func (g *GaugeSink) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Count == 0
}

// RateSink 比率聚合器
type RateSink struct {
	Trues int64
	Total int64
	mu    sync.Mutex
}

// Add 添加样本（value != 0 表示 true）
func (r *RateSink) Add(sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Total++
	if sample.Value != 0 {
		r.Trues++
	}
}

// Format 返回统计结果，Total 为 0 时 rate 为 0
func (r *RateSink) Format(duration float64) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := map[string]float64{
		"passes": float64(r.Trues),
		"fails":  float64(r.Total - r.Trues),
		"rate":   0,
	}
	if r.Total > 0 {
		result["rate"] = float64(r.Trues) / float64(r.Total)
	}
	return result
}

// IsEmpty 检查是否为空
func (r *RateSink) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Total == 0
}

const (
	// ExactSampleCapacity 样本数不超过该值时百分位数精确计算（线性插值）
	ExactSampleCapacity = 1024

	// 直方图精度：值乘以 histogramScale 后按整数记录，即保留 3 位小数
	histogramScale   = 1000
	histogramLowest  = 1
	histogramHighest = int64(time.Hour/time.Millisecond) * histogramScale
	histogramSigFigs = 3
)

// TrendSink 趋势聚合器，内存有界：
// 前 ExactSampleCapacity 个样本保存原值用于精确百分位，
// 全部样本同时写入 HdrHistogram，超过容量后丢弃原值只用直方图。
type TrendSink struct {
	Count  int64
	Sum    float64
	Min    float64
	Max    float64
	minSet bool

	exact    []float64
	overflow bool
	hist     *hdrhistogram.Histogram
	mu       sync.Mutex
}

// NewTrendSink 创建趋势聚合器
func NewTrendSink() *TrendSink {
	return &TrendSink{
		exact: make([]float64, 0, 64),
		hist:  hdrhistogram.New(histogramLowest, histogramHighest, histogramSigFigs),
	}
}

// Add 添加样本
func (t *TrendSink) Add(sample Sample) {
	v := sample.Value

	t.mu.Lock()
	defer t.mu.Unlock()

	t.Count++
	t.Sum += v
	if !t.minSet || v < t.Min {
		t.Min = v
		t.minSet = true
	}
	if v > t.Max {
		t.Max = v
	}

	_ = t.hist.RecordValue(toHistogramValue(v))

	if !t.overflow {
		if len(t.exact) < ExactSampleCapacity {
			t.exact = append(t.exact, v)
		} else {
			t.overflow = true
			t.exact = nil
		}
	}
}

// Format 返回统计结果。空序列的所有聚合均为 0。
func (t *TrendSink) Format(duration float64) map[string]float64 {
	return t.Distribution().Format()
}

// Format 返回分布的标准聚合
func (d *Distribution) Format() map[string]float64 {
	result := map[string]float64{
		"count": float64(d.count),
		"min":   d.min,
		"max":   d.max,
		"avg":   0,
		"med":   d.Percentile(50),
		"p(90)": d.Percentile(90),
		"p(95)": d.Percentile(95),
		"p(99)": d.Percentile(99),
	}
	if d.count > 0 {
		result["avg"] = d.sum / float64(d.count)
	}
	return result
}

// IsEmpty 检查是否为空
func (t *TrendSink) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Count == 0
}

// Percentile 计算指定百分位数（公开方法，会加锁）
func (t *TrendSink) Percentile(p float64) float64 {
	return t.Distribution().Percentile(p)
}

// Distribution 返回当前分布的冻结副本，之后的 Add 不影响它
func (t *TrendSink) Distribution() *Distribution {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := &Distribution{
		count: t.Count,
		sum:   t.Sum,
		min:   t.Min,
		max:   t.Max,
	}
	if t.Count == 0 {
		return d
	}
	if !t.overflow {
		d.sorted = make([]float64, len(t.exact))
		copy(d.sorted, t.exact)
		sort.Float64s(d.sorted)
		return d
	}
	d.hist = hdrhistogram.Import(t.hist.Export())
	return d
}

// Distribution 是趋势指标在某一时刻的只读分布
type Distribution struct {
	count         int64
	sum, min, max float64
	sorted        []float64
	hist          *hdrhistogram.Histogram
}

// Count 返回样本数
func (d *Distribution) Count() int64 { return d.count }

// Percentile 返回第 p 百分位（0..100）。
// 精确模式下按 rank=(p/100)*(n-1) 线性插值，否则取直方图分位值并限制在 [min, max]。
func (d *Distribution) Percentile(p float64) float64 {
	if d == nil || d.count == 0 {
		return 0
	}
	if p <= 0 {
		return d.min
	}
	if p >= 100 {
		return d.max
	}
	if d.sorted != nil {
		return percentileSorted(d.sorted, p)
	}
	v := fromHistogramValue(d.hist.ValueAtQuantile(p))
	return math.Min(math.Max(v, d.min), d.max)
}

// percentileSorted 线性插值计算百分位数，sorted 必须已排序且非空
func percentileSorted(sorted []float64, p float64) float64 {
	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func toHistogramValue(v float64) int64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	scaled := v * histogramScale
	if scaled >= float64(histogramHighest) {
		return histogramHighest
	}
	return int64(math.Round(scaled))
}

func fromHistogramValue(v int64) float64 {
	return float64(v) / histogramScale
}

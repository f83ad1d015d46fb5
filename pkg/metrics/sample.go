package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 定义指标类型
type MetricType string

const (
	// Counter 计数器类型，只增不减
	Counter MetricType = "counter"
	// Gauge 仪表盘类型，可增可减
	Gauge MetricType = "gauge"
	// Rate 比率类型，计算非零样本占比
	Rate MetricType = "rate"
	// Trend 趋势类型，计算百分位数等统计值
	Trend MetricType = "trend"
)

// ValueType 定义值的类型
type ValueType string

const (
	// Default 默认值类型
	Default ValueType = "default"
	// Time 时间类型（毫秒）
	Time ValueType = "time"
	// Data 数据量类型（字节）
	Data ValueType = "data"
)

// Metric 定义一个指标。子指标（name{tag:value}）也是 Metric，Parent 指向父指标。
type Metric struct {
	Name     string            `json:"name"`
	Type     MetricType        `json:"type"`
	Contains ValueType         `json:"contains,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Parent   *Metric           `json:"-"`
	Sink     Sink              `json:"-"`

	// declared 的指标即使没有样本也出现在快照中
	declared bool
}

// Sample 表示单个指标样本
type Sample struct {
	Metric *Metric           `json:"-"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// SampleContainer 是可以返回多个样本的接口
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples 是 Sample 切片，实现 SampleContainer 接口
type Samples []Sample

// GetSamples 返回样本切片
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSamples 表示一组相关的样本（如同一个请求的多个指标）
type ConnectedSamples struct {
	Samples []Sample
	Tags    map[string]string
	Time    time.Time
}

// GetSamples 返回样本切片
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}

// Registry 管理所有已注册的指标
type Registry struct {
	metrics map[string]*Metric
	// 父指标名 -> 子指标
	children map[string][]*Metric
	mu       sync.RWMutex
}

// NewRegistry 创建新的指标注册表
func NewRegistry() *Registry {
	return &Registry{
		metrics:  make(map[string]*Metric),
		children: make(map[string][]*Metric),
	}
}

// NewMetric 创建并注册新指标；同名指标已存在且类型一致时直接返回
func (r *Registry) NewMetric(name string, metricType MetricType, contains ValueType) (*Metric, error) {
	if name == "" {
		return nil, fmt.Errorf("metric name is empty")
	}
	if strings.ContainsAny(name, "{}") {
		return nil, fmt.Errorf("metric name %q must not contain braces", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		if m.Type != metricType {
			return nil, fmt.Errorf("metric %q already registered as %s", name, m.Type)
		}
		return m, nil
	}

	m := &Metric{
		Name:     name,
		Type:     metricType,
		Contains: contains,
		Sink:     NewSink(metricType),
	}
	r.metrics[name] = m
	return m, nil
}

// MustNewMetric 同 NewMetric，出错时 panic，用于内置指标
func (r *Registry) MustNewMetric(name string, metricType MetricType, contains ValueType) *Metric {
	m, err := r.NewMetric(name, metricType, contains)
	if err != nil {
		panic(err)
	}
	return m
}

// Get 获取已注册的指标（包括子指标）
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All 返回所有已注册的指标
func (r *Registry) All() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for k, v := range r.metrics {
		result[k] = v
	}
	return result
}

// AddSubmetric 注册形如 "http_req_duration{name:login}" 的子指标。
// 父指标必须已注册。重复注册返回同一个子指标。
func (r *Registry) AddSubmetric(spec string) (*Metric, error) {
	parentName, tags, err := ParseMetricName(spec)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		m := r.Get(parentName)
		if m == nil {
			return nil, fmt.Errorf("metric %q is not registered", parentName)
		}
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.metrics[parentName]
	if !ok {
		return nil, fmt.Errorf("metric %q is not registered", parentName)
	}

	name := FormatMetricName(parentName, tags)
	if m, ok := r.metrics[name]; ok {
		return m, nil
	}

	sub := &Metric{
		Name:     name,
		Type:     parent.Type,
		Contains: parent.Contains,
		Tags:     tags,
		Parent:   parent,
		Sink:     NewSink(parent.Type),
		declared: true,
	}
	r.metrics[name] = sub
	r.children[parentName] = append(r.children[parentName], sub)
	return sub, nil
}

// submetrics 返回父指标的子指标切片（只读）
func (r *Registry) submetrics(parent string) []*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.children[parent]
}

// ParseMetricName 解析 "name{k:v,k2:v2}"
func ParseMetricName(spec string) (string, map[string]string, error) {
	spec = strings.TrimSpace(spec)
	open := strings.IndexByte(spec, '{')
	if open < 0 {
		if strings.ContainsRune(spec, '}') {
			return "", nil, fmt.Errorf("metric %q: unbalanced braces", spec)
		}
		return spec, nil, nil
	}
	if !strings.HasSuffix(spec, "}") {
		return "", nil, fmt.Errorf("metric %q: missing closing brace", spec)
	}
	name := strings.TrimSpace(spec[:open])
	if name == "" {
		return "", nil, fmt.Errorf("metric %q: empty name", spec)
	}
	body := spec[open+1 : len(spec)-1]
	if strings.TrimSpace(body) == "" {
		return "", nil, fmt.Errorf("metric %q: empty tag selector", spec)
	}

	tags := make(map[string]string)
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, ":")
		k, v = strings.TrimSpace(k), strings.Trim(strings.TrimSpace(v), `"'`)
		if !ok || k == "" {
			return "", nil, fmt.Errorf("metric %q: invalid tag selector %q", spec, pair)
		}
		tags[k] = v
	}
	return name, tags, nil
}

// FormatMetricName 生成规范化的子指标名，tag 按 key 排序
func FormatMetricName(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

// matches 检查样本 tag 是否满足子指标的全部 tag
func (m *Metric) matches(tags map[string]string) bool {
	for k, v := range m.Tags {
		if tags[k] != v {
			return false
		}
	}
	return true
}

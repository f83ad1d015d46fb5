package metrics

import (
	"maps"
	"strconv"
	"strings"

	"yqhp/load-engine/pkg/types"
)

// MetricSnapshot 是单个指标在某一时刻的只读聚合结果
type MetricSnapshot struct {
	Name     string
	Type     MetricType
	Contains ValueType
	Values   map[string]float64
	// Empty 表示快照时还没有任何样本（已声明的子指标也会出现在快照中）
	Empty bool

	dist *Distribution
}

func newSnapshot(m *Metric, seconds float64) MetricSnapshot {
	s := MetricSnapshot{
		Name:     m.Name,
		Type:     m.Type,
		Contains: m.Contains,
		Empty:    m.Sink.IsEmpty(),
	}
	if ts, ok := m.Sink.(*TrendSink); ok {
		s.dist = ts.Distribution()
		s.Values = s.dist.Format()
	} else {
		s.Values = m.Sink.Format(seconds)
	}
	return s
}

// Value 返回聚合值，如 "rate"、"p(95)"。
// 趋势指标支持任意 p(N)。
func (s MetricSnapshot) Value(agg string) (float64, bool) {
	if v, ok := s.Values[agg]; ok {
		return v, true
	}
	if s.Type != Trend {
		return 0, false
	}
	if p, ok := ParsePercentile(agg); ok {
		return s.Percentile(p), true
	}
	return 0, false
}

// Percentile 返回趋势指标的百分位数，非趋势指标返回 0
func (s MetricSnapshot) Percentile(p float64) float64 {
	return s.dist.Percentile(p)
}

// Summary 转换为报告使用的结构
func (s MetricSnapshot) Summary() types.MetricSummary {
	return types.MetricSummary{
		Type:     string(s.Type),
		Contains: string(s.Contains),
		Values:   maps.Clone(s.Values),
	}
}

// ParsePercentile 解析 "p(95)"、"p(99.9)"
func ParsePercentile(agg string) (float64, bool) {
	if !strings.HasPrefix(agg, "p(") || !strings.HasSuffix(agg, ")") {
		return 0, false
	}
	p, err := strconv.ParseFloat(agg[2:len(agg)-1], 64)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// Summaries 将快照集合转换为报告结构
func Summaries(snap map[string]MetricSnapshot) map[string]types.MetricSummary {
	out := make(map[string]types.MetricSummary, len(snap))
	for name, s := range snap {
		out[name] = s.Summary()
	}
	return out
}

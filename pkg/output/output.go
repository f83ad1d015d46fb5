// Package output 定义指标输出插件。
// 插件通过 Register 注册，按 "type=argument" 形式的配置创建，
// 由 Manager 批量分发 Recorder 转发的样本。
package output

import (
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Output 定义输出插件接口
type Output interface {
	// Description 返回输出插件的描述
	Description() string

	// Start 启动输出插件
	Start() error

	// Stop 停止输出插件
	Stop() error

	// AddMetricSamples 添加指标样本
	AddMetricSamples(samples []metrics.SampleContainer)

	// SetRunStatus 设置运行状态（用于最终汇总），在 Stop 之前调用
	SetRunStatus(status RunStatus)
}

// 运行状态
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusAborted     = "aborted"
	StatusFailed      = "failed"
)

// RunStatus 表示测试运行状态
type RunStatus struct {
	Duration   time.Duration
	Iterations int64
	VUs        int
	Status     string
	Error      error
	// Report 是最终报告，运行失败时可能为 nil
	Report *types.RunReport
}

// Params 是创建 Output 时的参数
type Params struct {
	// OutputType 输出类型
	OutputType string

	// ConfigArgument 配置参数（如 URL、文件路径等）
	ConfigArgument string

	// Logger 日志记录器
	Logger *zap.Logger

	// Stdout 控制台类输出的写入目标，为空时使用 os.Stdout
	Stdout io.Writer

	// RunID 运行 ID
	RunID string

	// ScenarioName 场景名称
	ScenarioName string

	// Tags 全局标签
	Tags map[string]string
}

// Factory 是创建 Output 的工厂函数类型
type Factory func(params Params) (Output, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册输出工厂
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get 获取输出工厂
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List 列出所有已注册的输出类型
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSpec 拆分 "json=metrics.ndjson" 形式的输出配置
func ParseSpec(spec string) (outputType, arg string) {
	outputType, arg, _ = strings.Cut(strings.TrimSpace(spec), "=")
	return strings.TrimSpace(outputType), strings.TrimSpace(arg)
}

// Create 创建输出实例
func Create(outputType string, params Params) (Output, error) {
	factory, ok := Get(outputType)
	if !ok {
		return nil, &UnknownOutputError{Type: outputType}
	}
	params.OutputType = outputType
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	return factory(params)
}

// CreateAll 根据配置列表创建输出实例
func CreateAll(specs []string, params Params) ([]Output, error) {
	outputs := make([]Output, 0, len(specs))
	for _, spec := range specs {
		outputType, arg := ParseSpec(spec)
		p := params
		p.ConfigArgument = arg
		out, err := Create(outputType, p)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// UnknownOutputError 未知输出类型错误
type UnknownOutputError struct {
	Type string
}

func (e *UnknownOutputError) Error() string {
	return "unknown output type: " + e.Type
}

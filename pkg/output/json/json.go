// Package json 将样本以 NDJSON（每行一个 JSON 对象）写入文件。
package json

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/output"
)

func init() {
	output.Register("json", New)
}

// flushInterval 缓冲样本写入文件的间隔
const flushInterval = 200 * time.Millisecond

// Point 是一行样本记录
type Point struct {
	Type   string    `json:"type"`
	Metric string    `json:"metric"`
	Data   PointData `json:"data"`
}

// PointData 是样本数据
type PointData struct {
	Time  time.Time         `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Output JSON 文件输出
type Output struct {
	output.SampleBuffer

	params    output.Params
	filename  string
	file      *os.File
	writer    *bufio.Writer
	encoder   *json.Encoder
	flusher   *output.PeriodicFlusher
	mu        sync.Mutex
	runStatus output.RunStatus
	written   int64
}

// New 创建 JSON 输出
func New(params output.Params) (output.Output, error) {
	filename := params.ConfigArgument
	if filename == "" {
		filename = fmt.Sprintf("metrics_%s.ndjson", time.Now().Format("20060102_150405"))
	}
	return &Output{
		params:   params,
		filename: filename,
	}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.filename)
}

// Start 启动输出
func (o *Output) Start() error {
	file, err := os.Create(o.filename)
	if err != nil {
		return fmt.Errorf("create json output %s: %w", o.filename, err)
	}

	o.mu.Lock()
	o.file = file
	o.writer = bufio.NewWriter(file)
	o.encoder = json.NewEncoder(o.writer)
	o.mu.Unlock()

	o.flusher = output.NewPeriodicFlusher(flushInterval, o.flush)
	return nil
}

// Stop 写出剩余样本和运行汇总后关闭文件
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	if o.runStatus.Report != nil {
		summary := map[string]any{
			"type":   "Summary",
			"status": o.runStatus.Status,
			"data":   o.runStatus.Report,
		}
		if err := o.encoder.Encode(summary); err != nil {
			o.params.Logger.Error("write json summary failed", zap.Error(err))
		}
	}
	if err := o.writer.Flush(); err != nil {
		_ = o.file.Close()
		return err
	}
	err := o.file.Close()
	o.file = nil
	o.params.Logger.Debug("json output closed", zap.String("file", o.filename), zap.Int64("points", o.written))
	return err
}

// flush 将缓冲的样本写入文件
func (o *Output) flush() {
	containers := o.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.encoder == nil {
		return
	}

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			p := Point{
				Type:   "Point",
				Metric: sample.Metric.Name,
				Data: PointData{
					Time:  sample.Time,
					Value: sample.Value,
					Tags:  sample.Tags,
				},
			}
			if err := o.encoder.Encode(p); err != nil {
				o.params.Logger.Error("write json point failed", zap.Error(err))
				return
			}
			o.written++
		}
	}
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

var _ output.Output = (*Output)(nil)

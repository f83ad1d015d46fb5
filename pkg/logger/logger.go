// Package logger 提供基于 zap 的全局结构化日志
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mu    sync.RWMutex
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" env:"LOAD_LOG_LEVEL"`   // debug, info, warn, error
	Format     string `yaml:"format" env:"LOAD_LOG_FORMAT"` // json, console
	Output     string `yaml:"output" env:"LOAD_LOG_OUTPUT"` // stderr, stdout, file, both
	FilePath   string `yaml:"file_path" env:"LOAD_LOG_FILE"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// DefaultConfig 默认输出到 stderr，stdout 留给测试摘要
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// Init 初始化日志，可重复调用，后一次覆盖前一次
func Init(cfg *Config) {
	l := newLogger(cfg)
	mu.Lock()
	old := log
	log = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

// newLogger 创建日志实例
func newLogger(cfg *Config) *zap.Logger {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}

	level.SetLevel(ParseLevel(cfg.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	switch cfg.Output {
	case "stdout":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	case "", "stderr", "both":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		// 文件固定使用 JSON，便于后续分析
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel 运行时调整日志级别
func SetLevel(s string) {
	level.SetLevel(ParseLevel(s))
}

// IsDebugEnabled 检查是否启用调试日志
func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// L 获取日志实例
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(nil)
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Named 返回带名称的子日志
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Or 返回 l，为 nil 时返回全局日志
func Or(l *zap.Logger, name string) *zap.Logger {
	if l != nil {
		return l
	}
	return Named(name)
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Sync 同步日志
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

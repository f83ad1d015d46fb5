// Package cmd 提供 load-engine CLI 的命令实现
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"

	// 导入所有输出插件
	_ "yqhp/load-engine/pkg/output/all"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
          /\      |‾‾| Load Engine %s
     /\  /  \     |  |
    /  \/    \    |  |
   /          \   |  |
  / __________ \  |__|
`
)

// globalOptions 是所有子命令共享的 flags
type globalOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
	quiet     bool
}

// NewRootCmd 创建根命令，每次调用返回一棵新的命令树
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "load-engine",
		Short: "HTTP 场景压测引擎",
		Long: `load-engine 按阶段调度虚拟用户执行 HTTP 场景，
采集 k6 风格的指标，并在运行中和结束时评估阈值。`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logger.DefaultConfig()
			if opts.logLevel != "" {
				cfg.Level = opts.logLevel
			}
			if opts.logFormat != "" {
				cfg.Format = opts.logFormat
			}
			logger.Init(&cfg)
		},
	}

	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "配置文件路径 (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "日志格式 (console, json)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "静默模式，不打印进度和汇总")

	// 禁用默认的 completion 命令
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	root.AddCommand(
		newRunCmd(opts),
		newMockCmd(opts),
		newHistoryCmd(opts),
		newScenariosCmd(),
	)
	return root
}

// Execute 执行根命令并返回进程退出码
func Execute() int {
	err := NewRootCmd().Execute()
	defer logger.Sync()
	if err == nil {
		return types.ExitOK
	}

	var exit *ExitError
	if !errors.As(err, &exit) || !exit.Silent {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCodeOf(err)
}

// ExitError 携带进程退出码
type ExitError struct {
	Code int
	Err  error
	// Silent 表示结果已经打印过，不需要再输出错误
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCodeOf 把命令返回的错误映射为退出码
func ExitCodeOf(err error) int {
	var exit *ExitError
	switch {
	case err == nil:
		return types.ExitOK
	case errors.As(err, &exit):
		return exit.Code
	case types.IsConfigError(err):
		return types.ExitConfigError
	default:
		return types.ExitGeneric
	}
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/runner"
	"yqhp/load-engine/pkg/types"
)

// runOptions 是 run 命令的 flags
type runOptions struct {
	*globalOptions

	baseURL           string
	scenario          string
	vus               int
	duration          string
	stages            string
	maxIterations     int
	requestTimeout    string
	gracefulStop      string
	thresholdInterval string
	thresholds        []string
	vars              []string
	outputs           []string
	summaryExport     string
	history           string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	o := &runOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "执行压测",
		Long: `执行一次压测。场景可以是内置名称（见 "load-engine scenarios"）或 YAML 文件路径。

配置优先级：默认值 < 配置文件 < 环境变量 (LOAD_*) < 命令行参数。

退出码：
  0    所有阈值通过
  1    运行错误
  99   有阈值未通过
  104  配置错误
  105  abort_on_fail 阈值中止了运行`,
		Example: `  # 对本地服务跑内置健康检查场景
  load-engine run --base-url http://localhost:8080 -u 10 -d 30s health

  # 阶段式加压
  load-engine run --stages 30s:10,1m:10,10s:0 lifecycle

  # 声明阈值并导出汇总
  load-engine run -u 5 -d 1m --threshold "http_req_duration=p(95)<500" \
      --threshold "http_req_failed=rate<0.01" --summary-export summary.json health

  # 多个输出目标
  load-engine run --out json=samples.ndjson --out prometheus=http://localhost:9091 health`,
		Args: cobra.MaximumNArgs(1),
		RunE: o.run,
	}

	f := cmd.Flags()
	f.StringVar(&o.baseURL, "base-url", "", "被测服务地址")
	f.StringVarP(&o.scenario, "scenario", "s", "", "场景名称或文件 (也可以作为位置参数)")
	f.IntVarP(&o.vus, "vus", "u", 0, "虚拟用户数")
	f.StringVarP(&o.duration, "duration", "d", "", "持续时间，如 30s, 5m")
	f.StringVar(&o.stages, "stages", "", "阶段列表 duration:target，如 30s:10,1m:10,10s:0")
	f.IntVarP(&o.maxIterations, "max-iterations", "i", 0, "每个 VU 的最大迭代次数")
	f.StringVar(&o.requestTimeout, "request-timeout", "", "单个请求超时")
	f.StringVar(&o.gracefulStop, "graceful-stop", "", "停止后等待进行中迭代的时间，0 表示一直等待")
	f.StringVar(&o.thresholdInterval, "threshold-interval", "", "运行中阈值评估间隔，0 表示只在结束时评估")
	f.StringArrayVar(&o.thresholds, "threshold", nil, "阈值 metric=expression (可多次指定)")
	f.StringArrayVar(&o.vars, "var", nil, "场景变量 key=value (可多次指定)")
	f.StringArrayVarP(&o.outputs, "out", "o", nil, "指标输出目标 type=arg (可多次指定)")
	f.StringVar(&o.summaryExport, "summary-export", "", "把运行报告写为 JSON 文件")
	f.StringVar(&o.history, "history", "", "运行历史数据库路径，空字符串表示不保存")

	return cmd
}

// cmdArgs 把显式设置的 flags 转换为配置路径覆盖
func (o *runOptions) cmdArgs(cmd *cobra.Command, args []string) map[string]string {
	overrides := make(map[string]string)
	f := cmd.Flags()
	set := func(flag, path, value string) {
		if f.Changed(flag) {
			overrides[path] = value
		}
	}

	set("base-url", "base_url", o.baseURL)
	set("scenario", "scenario", o.scenario)
	set("vus", "vus", strconv.Itoa(o.vus))
	set("duration", "duration", o.duration)
	set("stages", "stages", o.stages)
	set("max-iterations", "max_iterations", strconv.Itoa(o.maxIterations))
	set("request-timeout", "request_timeout", o.requestTimeout)
	set("graceful-stop", "graceful_stop", o.gracefulStop)
	set("threshold-interval", "threshold_interval", o.thresholdInterval)
	set("threshold", "thresholds", strings.Join(o.thresholds, ";"))
	set("out", "outputs", strings.Join(o.outputs, ","))
	set("summary-export", "summary_export", o.summaryExport)
	set("history", "history_path", o.history)

	if len(args) == 1 {
		overrides["scenario"] = args[0]
	}
	if o.logLevel != "" {
		overrides["logging.level"] = o.logLevel
	}
	if o.logFormat != "" {
		overrides["logging.format"] = o.logFormat
	}
	return overrides
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(o.cfgFile, o.cmdArgs(cmd, args), o.vars)
	if err != nil {
		return &ExitError{Code: types.ExitConfigError, Err: err}
	}
	logger.Init(&cfg.Logging)
	log := logger.Named("cli")

	test := cfg.TestConfig
	if !o.quiet && !hasOutput(test.Outputs, "console") {
		test.Outputs = append([]string{"console"}, test.Outputs...)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdout := cmd.OutOrStdout()
	if !o.quiet {
		printRunInfo(stdout, &test)
	}

	report, err := runner.Run(ctx, runner.RunOptions{
		Config: &test,
		Stdout: stdout,
		Logger: logger.Named("runner"),
	})

	code := runner.ExitCode(report, err)
	if code == types.ExitOK {
		return nil
	}
	if err == nil {
		failed := report.FailedThresholds()
		err = fmt.Errorf("thresholds failed: %d/%d", len(failed), len(report.Thresholds))
	}
	if report != nil {
		log.Debug("run ended with non-zero exit", zap.Int("code", code), zap.String("run_id", report.ID))
	}
	return &ExitError{Code: code, Err: err, Silent: report != nil && !o.quiet}
}

// loadConfig 按优先级加载并校验配置
func loadConfig(path string, overrides map[string]string, vars []string) (*config.Config, error) {
	cfg, err := config.NewLoader().
		WithConfigPath(path).
		WithCmdArgs(overrides).
		Load()
	if err != nil {
		return nil, err
	}
	if err := applyVars(cfg, vars); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyVars 逐个合并 --var，值里的逗号和等号原样保留
func applyVars(cfg *config.Config, vars []string) error {
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return types.NewConfigError("vars", fmt.Errorf("invalid key=value pair %q", kv))
		}
		if cfg.Vars == nil {
			cfg.Vars = make(map[string]string)
		}
		cfg.Vars[k] = v
	}
	return nil
}

func hasOutput(specs []string, outputType string) bool {
	for _, spec := range specs {
		if t, _ := output.ParseSpec(spec); t == outputType {
			return true
		}
	}
	return false
}

func printRunInfo(w io.Writer, cfg *types.TestConfig) {
	fmt.Fprintf(w, Banner, Version)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  场景:       %s\n", cfg.Scenario)
	fmt.Fprintf(w, "  目标:       %s\n", cfg.BaseURL)
	fmt.Fprintf(w, "  最大 VU:    %d\n", cfg.MaxTarget())
	if d := cfg.TotalDuration(); d > 0 {
		fmt.Fprintf(w, "  持续时间:   %s\n", d)
	}
	if cfg.MaxIterations > 0 {
		fmt.Fprintf(w, "  迭代次数:   %d / VU\n", cfg.MaxIterations)
	}
	if len(cfg.Stages) > 0 {
		parts := make([]string, 0, len(cfg.Stages))
		for _, s := range cfg.Stages {
			parts = append(parts, fmt.Sprintf("%s→%d", s.Duration, s.Target))
		}
		fmt.Fprintf(w, "  阶段:       %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)
}

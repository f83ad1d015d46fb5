package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/load-engine/internal/mockapi"
	"yqhp/load-engine/pkg/logger"
)

type mockOptions struct {
	*globalOptions

	addr        string
	loginStatus int
	latency     time.Duration
	failEvery   int64
}

func newMockCmd(global *globalOptions) *cobra.Command {
	o := &mockOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "启动本地模拟控制面服务",
		Long: `启动一个实现 /health、/auth 和 /vpcs、/instances 资源接口的模拟服务，
用于在没有真实后端时验证场景和阈值配置。`,
		Example: `  load-engine mock --addr 127.0.0.1:8080
  load-engine mock --latency 20ms --fail-every 50`,
		Args: cobra.NoArgs,
		RunE: o.run,
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "127.0.0.1:8080", "监听地址")
	f.IntVar(&o.loginStatus, "login-status", 200, "登录接口返回的状态码")
	f.DurationVar(&o.latency, "latency", 0, "每个请求附加的延迟")
	f.Int64Var(&o.failEvery, "fail-every", 0, "每 N 个请求返回一次 500，0 表示不注入失败")
	return cmd
}

func (o *mockOptions) run(cmd *cobra.Command, args []string) error {
	log := logger.Named("mock")

	srv := mockapi.New(mockapi.Options{
		LoginStatus: o.loginStatus,
		Latency:     o.latency,
		FailEvery:   o.failEvery,
	})
	baseURL, err := srv.Start(o.addr)
	if err != nil {
		return fmt.Errorf("start mock server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "mock control plane listening on %s\n", baseURL)
	log.Info("mock server started", zap.String("url", baseURL))

	<-ctx.Done()

	vpcs, instances := srv.Live()
	log.Info("mock server stopping",
		zap.Int64("health_hits", srv.Hits(mockapi.RouteHealth)),
		zap.Int("live_vpcs", vpcs),
		zap.Int("live_instances", instances))
	return srv.Shutdown()
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/history"
	"yqhp/load-engine/pkg/output/console"
	"yqhp/load-engine/pkg/types"
)

type historyOptions struct {
	*globalOptions

	path  string
	limit int
	json  bool
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	o := &historyOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看保存的运行报告",
	}
	cmd.PersistentFlags().StringVar(&o.path, "history", "", "运行历史数据库路径 (默认取配置中的 history_path)")

	list := &cobra.Command{
		Use:   "list",
		Short: "按开始时间倒序列出运行",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(store *history.Store) error {
				reports, err := store.List(o.limit)
				if err != nil {
					return err
				}
				if o.json {
					return writeJSON(cmd.OutOrStdout(), reports)
				}
				writeHistoryTable(cmd.OutOrStdout(), reports)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&o.limit, "limit", "n", 20, "最多列出的条数，0 表示全部")
	list.Flags().BoolVar(&o.json, "json", false, "以 JSON 输出")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "打印一次运行的汇总",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(store *history.Store) error {
				report, err := store.Get(args[0])
				if err != nil {
					return notFound(args[0], err)
				}
				if o.json {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				console.WriteSummary(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&o.json, "json", false, "以 JSON 输出")

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "删除一次运行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd, func(store *history.Store) error {
				if err := store.Delete(args[0]); err != nil {
					return notFound(args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

// withStore 打开历史库，flag 优先于配置文件和环境变量
func (o *historyOptions) withStore(cmd *cobra.Command, fn func(*history.Store) error) error {
	path := o.path
	if !cmd.Flags().Changed("history") {
		cfg, err := config.NewLoader().WithConfigPath(o.cfgFile).Load()
		if err != nil {
			return &ExitError{Code: types.ExitConfigError, Err: err}
		}
		path = cfg.HistoryPath
	}
	if path == "" {
		return &ExitError{Code: types.ExitConfigError, Err: types.NewConfigError("history path is empty", nil)}
	}

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func notFound(id string, err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("run %q not found", id)
	}
	return err
}

func writeHistoryTable(w io.Writer, reports []*types.RunReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSCENARIO\tDURATION\tVUS\tITERATIONS\tRESULT")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.Started.Local().Format(time.DateTime),
			r.Scenario,
			r.Duration.Truncate(time.Millisecond),
			r.MaxVUs,
			r.Iterations,
			resultLabel(r))
	}
	_ = tw.Flush()
}

func resultLabel(r *types.RunReport) string {
	switch {
	case r.AbortedByThreshold:
		return "aborted"
	case r.Passed && r.Interrupted:
		return "passed (interrupted)"
	case r.Passed:
		return "passed"
	case r.Interrupted:
		return "failed (interrupted)"
	default:
		return "failed"
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

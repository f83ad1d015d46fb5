package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"yqhp/load-engine/internal/scenario"
)

func newScenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "列出内置场景",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTEPS\tDESCRIPTION")
			for _, name := range scenario.Builtins() {
				sc, err := scenario.Load(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(sc.Steps), oneLine(sc.Description))
			}
			return tw.Flush()
		},
	}

	validate := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "解析并编译场景，打印步骤",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d steps\n", sc.Name, len(sc.Steps))
			for i, st := range sc.Steps {
				line := fmt.Sprintf("  %d. %-16s %s %s", i+1, st.Name, st.Request.Method, st.Request.URL)
				if len(st.Requires) > 0 {
					line += " (requires " + strings.Join(st.Requires, ", ") + ")"
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	cmd.AddCommand(validate)
	return cmd
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [step...]",
	Short: "Show which steps are up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ids, err := s.ids(args)
		if err != nil {
			return err
		}
		states, err := s.runner.Status(cmd.Context(), s.plan.Graph, ids...)
		if err != nil {
			return err
		}

		width := 0
		for _, st := range states {
			width = max(width, len(s.plan.StepName(st.Node)))
		}
		out := cmd.OutOrStdout()
		for _, st := range states {
			_, _ = fmt.Fprintf(out, "%-*s  %s\n", width, s.plan.StepName(st.Node), st.State)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

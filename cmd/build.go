package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [step...]",
	Short: "Build the given steps (default: all) and what they depend on",
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
		rep, err := s.runner.Run(cmd.Context(), s.plan.Graph, ids...)
		if rep != nil {
			out := cmd.OutOrStdout()
			for _, line := range rep.Built {
				_, _ = fmt.Fprintln(out, line)
			}
			_, _ = fmt.Fprintln(out, rep)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

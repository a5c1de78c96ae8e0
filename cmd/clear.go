package cmd

import (
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear [step...]",
	Short: "Forget build state and remove the targets of the given steps (default: all)",
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
		return s.runner.Clear(cmd.Context(), s.plan.Graph, ids...)
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

package cmd

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update an instance's server files via steamcmd",
	Long: `Brings the instance's server files up to date. The server must be
stopped. Update also recovers an instance out of the failed state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		streamProgress(cmd, rt)
		if err := rt.orch.Update(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Instance %q updated.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

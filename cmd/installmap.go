package cmd

import (
	"github.com/spf13/cobra"
)

var installMapCmd = &cobra.Command{
	Use:   "install-map <name> <url|path>",
	Short: "Place a map file under an instance's maps directory",
	Long: `Downloads or copies a .bsp into the instance's game maps directory.
Maps are content, not tracked artifacts; nothing is recorded about them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		dest, err := rt.orch.InstallMap(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		cmd.Printf("Map installed at %s.\n", dest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installMapCmd)
}

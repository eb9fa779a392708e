package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"cs2ctl/internal/steam"
)

var (
	installDir   string
	installLogin bool
)

var installCmd = &cobra.Command{
	Use:   "install <name>",
	Short: "Register an instance and download the server files",
	Long: `Registers a named instance, creates its directory tree and downloads the
dedicated server files via steamcmd. Re-running install resumes an
interrupted download.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		creds := steam.Credentials{}
		if installLogin {
			creds, err = steam.PromptCredentials(os.Stdin, cmd.OutOrStdout())
			if err != nil {
				return err
			}
		}

		streamProgress(cmd, rt)
		if err := rt.orch.Install(cmd.Context(), args[0], installDir, creds); err != nil {
			return err
		}
		cmd.Printf("Instance %q installed.\n", args[0])
		return nil
	},
}

func init() {
	installCmd.Flags().StringVar(&installDir, "dir", "",
		"install root for the instance (default: <servers_dir>/<name>)")
	installCmd.Flags().BoolVar(&installLogin, "login", false,
		"prompt for Steam credentials instead of the anonymous account")
	rootCmd.AddCommand(installCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var restoreForce bool

var backupCmd = &cobra.Command{
	Use:   "backup <name> <label>",
	Short: "Snapshot an instance's configuration under a label",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		b, err := rt.orch.Backup(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		cmd.Printf("Backup %q created for %q (%s).\n", b.Label, args[0], b.ID)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups <name>",
	Short: "List an instance's backups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		backups, err := rt.orch.Backups(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			cmd.Printf("No backups for %q.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tCREATED\tID")
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.Label, b.CreatedAt.Local().Format(time.RFC3339), b.ID)
		}
		return w.Flush()
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name> <label>",
	Short: "Restore an instance's configuration from a backup",
	Long: `Rolls the compiled server.cfg and the overlay settings back to the
snapshot. A running server keeps its loaded config until restarted;
restoring into a running instance therefore requires --force.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		name, label := args[0], args[1]
		if diff, err := rt.orch.DiffBackup(cmd.Context(), name, label); err == nil && diff != "" {
			cmd.Println("Changes that will be rolled back:")
			cmd.Println(diff)
		}

		if err := rt.orch.Restore(cmd.Context(), name, label, restoreForce); err != nil {
			return err
		}
		cmd.Printf("Restored %q from backup %q.\n", name, label)
		return nil
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false,
		"restore even while the server is running")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
}

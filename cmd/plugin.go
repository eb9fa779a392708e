package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage server plugins for an instance",
}

var pluginRecommendedCmd = &cobra.Command{
	Use:   "recommended",
	Short: "Show the catalog of recommended plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tDESCRIPTION")
		for _, p := range rt.orch.PluginRecommended() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Version, p.Description)
		}
		return w.Flush()
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <name> <plugin>",
	Short: "Download a plugin into an instance's game tree",
	Long: `Installs a plugin by catalog id, or by direct URL for plugins the
catalog does not model. Reinstalling a recorded plugin fails; remove it
first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		record, err := rt.orch.PluginInstall(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		cmd.Printf("Plugin %q %s installed for %q.\n", record.PluginID, record.Version, args[0])
		return nil
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list <name>",
	Short: "List an instance's installed plugins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		records, err := rt.orch.PluginList(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			cmd.Printf("No plugins installed for %q.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tINSTALLED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.PluginID, r.Version, r.InstalledAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name> <plugin>",
	Short: "Remove a plugin's artifact and record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		if err := rt.orch.PluginRemove(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		cmd.Printf("Plugin %q removed from %q.\n", args[1], args[0])
		return nil
	},
}

func init() {
	pluginCmd.AddCommand(pluginRecommendedCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
	rootCmd.AddCommand(pluginCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cs2ctl/internal/orchestrator"
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start an instance's server process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		h, err := rt.orch.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.Printf("Instance %q running (pid %d).\n", args[0], h.PID)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop an instance's server process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		if err := rt.orch.Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Instance %q stopped.\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show instance state and process liveness",
	Long: `With a name, reports that instance. With no argument, reports every
registered instance.`,
	Args: cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		if len(args) == 1 {
			report, err := rt.orch.Status(cmd.Context(), args[0])
			if err != nil {
				// A damaged registry may still have produced a report.
				if report.Entry.Name == "" {
					return err
				}
				cmd.PrintErrf("Warning: %v\n", err)
			}
			printReport(cmd, report)
			return nil
		}

		reports, err := rt.orch.List(cmd.Context())
		if err != nil {
			if len(reports) == 0 {
				return err
			}
			cmd.PrintErrf("Warning: %v\n", err)
		}
		if len(reports) == 0 {
			cmd.Println("No instances registered.")
			return nil
		}
		for i, r := range reports {
			if i > 0 {
				cmd.Println()
			}
			printReport(cmd, r)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		reports, err := rt.orch.List(cmd.Context())
		if err != nil {
			if len(reports) == 0 {
				return err
			}
			cmd.PrintErrf("Warning: %v\n", err)
		}
		if len(reports) == 0 {
			cmd.Println("No instances registered.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tPID\tPORT\tROOT")
		for _, r := range reports {
			pid := "-"
			if r.Alive {
				pid = fmt.Sprintf("%d", r.PID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				r.Entry.Name, r.Entry.State, pid, r.Entry.Config.Port, r.Entry.RootPath)
		}
		return w.Flush()
	},
}

func printReport(cmd *cobra.Command, r orchestrator.Report) {
	cmd.Printf("Name:   %s\n", r.Entry.Name)
	cmd.Printf("State:  %s\n", r.Entry.State)
	cmd.Printf("Root:   %s\n", r.Entry.RootPath)
	cmd.Printf("Port:   %d\n", r.Entry.Config.Port)
	if r.Alive {
		cmd.Printf("PID:    %d\n", r.PID)
		if !r.StartedAt.IsZero() {
			cmd.Printf("Uptime: %s\n", time.Since(r.StartedAt).Round(time.Second))
		}
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}

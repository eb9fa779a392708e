package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"cs2ctl/internal/cfgfile"
)

var configCmd = &cobra.Command{
	Use:   "config <name> [key value]",
	Short: "Show or set an instance's overlay configuration",
	Long: `With only a name, prints the instance's overlay settings. With a key and
value, stores the setting and recompiles server.cfg. Unrecognized keys pass
through to the compiled config with a warning.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close(cmd)

		name := args[0]
		if len(args) == 1 {
			cfg, err := rt.orch.GetConfig(cmd.Context(), name)
			if err != nil {
				return err
			}
			cmd.Printf("port %d\n", cfg.Port)
			keys := make([]string, 0, len(cfg.Overlay))
			for k := range cfg.Overlay {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Printf("%s %s\n", k, cfg.Overlay[k])
			}
			return nil
		}
		if len(args) == 2 {
			_ = cmd.Usage()
			return fmt.Errorf("%w: setting %q needs a value", cfgfile.ErrInvalidValue, args[1])
		}

		if _, err := rt.orch.SetConfig(cmd.Context(), name, args[1], args[2]); err != nil {
			return err
		}
		cmd.Printf("Set %s for %q.\n", args[1], name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

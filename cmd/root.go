// Package cmd implements the cs2ctl command line surface. Each subcommand
// maps 1:1 to an orchestrator operation; this package only parses flags,
// wires the runtime and renders results.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cs2ctl/internal/config"
	"cs2ctl/internal/log"
	"cs2ctl/internal/orchestrator"
	"cs2ctl/internal/process"
	"cs2ctl/internal/pubsub"
	"cs2ctl/internal/registry"
	"cs2ctl/internal/statedb"
	"cs2ctl/internal/steam"
	"cs2ctl/internal/tracing"
)

var (
	version   = "dev"
	cfgFile   string
	debugMode bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cs2ctl",
	Short:         "Manage CS2 dedicated server instances",
	Long:          `cs2ctl installs, configures and runs named CS2 dedicated server instances: steamcmd provisioning, config compilation, backups and plugins.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: <user config dir>/cs2ctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"write a debug log under the cs2ctl config dir")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("servers_dir", defaults.ServersDir)
	viper.SetDefault("steam.steamcmd", defaults.Steam.SteamCmd)
	viper.SetDefault("steam.app_id", defaults.Steam.AppID)
	viper.SetDefault("steam.min_disk_gb", defaults.Steam.MinDiskGB)
	viper.SetDefault("process.readiness_window", defaults.Process.ReadinessWindow)
	viper.SetDefault("process.stop_timeout", defaults.Process.StopTimeout)
	viper.SetDefault("locking.wait", defaults.Locking.Wait)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", config.DefaultTracesFilePath())
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	viper.SetEnvPrefix("CS2CTL")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.Dir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(config.Dir(), "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// With no writable config dir the defaults still apply.
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// runtime bundles the wired collaborators for one command invocation.
type runtime struct {
	orch     *orchestrator.Orchestrator
	gateway  *steam.Gateway
	db       *statedb.Store
	provider *tracing.Provider
	cleanups []func()
}

func newRuntime() (*runtime, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	rt := &runtime{}

	if debugMode || os.Getenv("CS2CTL_DEBUG") != "" {
		if err := os.MkdirAll(config.Dir(), 0o750); err == nil {
			if cleanup, err := log.Init(config.LogPath()); err == nil {
				rt.cleanups = append(rt.cleanups, cleanup)
				ctx, cancel := context.WithCancel(context.Background())
				rt.cleanups = append(rt.cleanups, cancel)
				if events := log.Subscribe(ctx); events != nil {
					go echoWarnings(os.Stderr, events)
				}
			}
		}
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	rt.provider = provider

	db, err := statedb.Open(config.StateDBPath())
	if err != nil {
		return nil, err
	}
	rt.db = db

	store := registry.NewStore(config.RegistryPath(), cfg.Locking.Wait)
	rt.gateway = steam.NewGateway(cfg.Steam)
	proc := process.New(cfg.Process.ReadinessWindow, cfg.Process.StopTimeout)
	rt.orch = orchestrator.New(cfg, store, db, rt.gateway, proc, provider.Tracer())
	return rt, nil
}

func (rt *runtime) Close(cmd *cobra.Command) {
	if rt.provider != nil {
		_ = rt.provider.Shutdown(cmd.Context())
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	for _, cleanup := range rt.cleanups {
		cleanup()
	}
}

// echoWarnings forwards warn and error log entries to w until events closes.
// Entries carry their level marker inline, so the filter matches on it.
func echoWarnings(w io.Writer, events <-chan pubsub.Event[string]) {
	for ev := range events {
		if strings.Contains(ev.Payload, "[WARN]") || strings.Contains(ev.Payload, "[ERROR]") {
			fmt.Fprint(w, ev.Payload)
		}
	}
}

// streamProgress echoes steamcmd progress lines until ctx ends.
func streamProgress(cmd *cobra.Command, rt *runtime) {
	events := rt.gateway.Events.Subscribe(cmd.Context())
	go func() {
		for ev := range events {
			cmd.Println(ev.Payload)
		}
	}()
}

// Execute runs the root command and maps the result to an exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCode(err)
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/shipwatch/shipwatch/cmd/config"
	"github.com/shipwatch/shipwatch/cmd/dedup"
	"github.com/shipwatch/shipwatch/cmd/parse"
	"github.com/shipwatch/shipwatch/cmd/ports"
	"github.com/shipwatch/shipwatch/cmd/serve"
	"github.com/shipwatch/shipwatch/cmd/version"
	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "shipwatch",
		Short:         "Ship detection ingestion service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	versionCmd := version.Command(settings)
	subcommands := []*cobra.Command{
		serve.Command(settings),
		parse.Command(settings),
		dedup.Command(settings),
		ports.Command(settings),
		configcmd.Command(settings),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings, configFile)
	}

	return rootCmd
}

// initialize loads the configuration and sets up the global logger. It
// runs before any subcommand, after flags are parsed.
func initialize(settings *conf.Settings, configFile string) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}

	// keep build information set by main
	loaded.Version = settings.Version
	loaded.BuildDate = settings.BuildDate
	if viper.GetBool("debug") {
		loaded.Debug = true
		loaded.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	*settings = *loaded

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if used := conf.ConfigFileUsed(); used != "" {
		logger.Global().Module("main").Debug("configuration loaded", logger.String("path", used))
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVar(configFile, "config", "", "Path to config.yaml (default: search ., ~/.config/shipwatch, /etc/shipwatch)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

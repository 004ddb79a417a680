package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shipwatch/shipwatch/internal/conf"
)

// Command prints the effective configuration, or writes the annotated
// default config file with --init.
func Command(settings *conf.Settings) *cobra.Command {
	var initPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the configuration after defaults, config file and environment overrides are applied. Credentials are masked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initPath != "" {
				if err := conf.WriteDefaultConfig(initPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", initPath)
				return nil
			}

			if used := conf.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
			}
			redacted := settings.Redacted()
			out, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("error encoding configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&initPath, "init", "", "Write the default config.yaml to this path and exit")
	return cmd
}

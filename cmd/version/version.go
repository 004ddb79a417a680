package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/conf"
)

// Command prints build information.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shipwatch %s (built %s, %s %s/%s)\n",
				settings.Version, settings.BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

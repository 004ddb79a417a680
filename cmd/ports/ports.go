package ports

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/datastore"
	"github.com/shipwatch/shipwatch/internal/logger"
)

// Command seeds the ports table from a GeoJSON file and lists the busiest
// ports.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		top      int
		seedFile string
	)

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Seed or list reference ports",
		Long:  "List the ports with the most outflows. With --seed, ports from a GeoJSON file are added first; existing ports are kept.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings, datastore.WithLogger(logger.Global().Module("datastore")))
			if err := store.Open(); err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if err := store.EnsureReady(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if seedFile != "" {
				f, err := os.Open(seedFile)
				if err != nil {
					return fmt.Errorf("error opening seed file: %w", err)
				}
				n, err := store.SeedPorts(ctx, f)
				_ = f.Close()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "seeded %s ports from %s\n", humanize.Comma(int64(n)), seedFile)
			}

			if top <= 0 {
				top = settings.Ports.DefaultNumber
			}
			ports, err := store.ListTopPorts(ctx, top)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LOCODE\tNAME\tCOUNTRY\tOUTFLOWS\tLAT\tLON")
			for _, p := range ports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%.4f\n",
					p.Locode, p.Name, p.Country, humanize.Comma(int64(p.Outflows)), p.Latitude, p.Longitude)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 0, "Number of ports to list (default ports.defaultnumber)")
	cmd.Flags().StringVar(&seedFile, "seed", "", "GeoJSON file of ports to add")
	return cmd
}

package dedup

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/datastore"
	"github.com/shipwatch/shipwatch/internal/logger"
)

// Command runs the duplicate detection sweep on demand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "dedup",
		Short: "Remove duplicate detections",
		Long:  "Delete every detection that shares its exact position with a detection of lower id. Ingestion runs this after each new tile.",
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

			res, err := store.RemoveDuplicateDetections(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s of %s detections\n",
				humanize.Comma(res.Removed), humanize.Comma(res.Total))
			return nil
		},
	}
}

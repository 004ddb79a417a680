package parse

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/result"
)

// Command parses a processed product and prints what would be stored.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "parse [product.zip]",
		Short: "Parse the detection outputs of a processed product",
		Long:  "Read the BEAM-DIMAP metadata and ship detections written next to a product and print the resulting tile. Nothing is stored.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := result.NewParser(result.WithLogger(logger.Global().Module("result")))
			tile, err := parser.Parse(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tile)
			}
			return printTile(cmd.OutOrStdout(), tile, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of detections to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full tile as JSON")
	return cmd
}

func printTile(out io.Writer, tile *detection.Tile, limit int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Dataset:\t%s\n", tile.Dataset)
	fmt.Fprintf(w, "Descriptor:\t%s\n", tile.Descriptor)
	fmt.Fprintf(w, "Orbit:\t%s\n", tile.OrbitType)
	fmt.Fprintf(w, "Image:\t%d x %d px\n", tile.ImageWidth, tile.ImageHeight)
	fmt.Fprintf(w, "Acquired:\t%s (%s)\n", tile.AcquisitionTime.UTC().Format(time.RFC3339Nano), humanize.Time(tile.AcquisitionTime))
	fmt.Fprintf(w, "Top left:\t%.6f, %.6f\n", tile.TopLeftLatitude, tile.TopLeftLongitude)
	fmt.Fprintf(w, "Bottom right:\t%.6f, %.6f\n", tile.BottomRightLatitude, tile.BottomRightLongitude)
	fmt.Fprintf(w, "Detections:\t%s\n", humanize.Comma(int64(len(tile.Detections))))
	if err := w.Flush(); err != nil {
		return err
	}

	if len(tile.Detections) == 0 || limit <= 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "lat\tlon\twidth m\tlength m\tx\ty\t")
	for _, d := range tile.Detections[:min(limit, len(tile.Detections))] {
		fmt.Fprintf(w, "%.5f\t%.5f\t%.1f\t%.1f\t%d\t%d\t\n", d.Latitude, d.Longitude, d.Width, d.Length, d.PixelX, d.PixelY)
	}
	if rest := len(tile.Detections) - limit; rest > 0 {
		fmt.Fprintf(w, "... %d more\t\t\t\t\t\t\n", rest)
	}
	return w.Flush()
}

package detection

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CSVHeader is the column order of the tabular detection export.
var CSVHeader = []string{"id", "tile_dataset", "width", "length", "latitude", "longitude", "pixel_x", "pixel_y"}

// CSVRecord renders the detection in CSVHeader order.
func (d *Detection) CSVRecord() []string {
	return []string{
		strconv.FormatUint(uint64(d.ID), 10),
		d.TileDataset,
		formatFloat(d.Width),
		formatFloat(d.Length),
		formatFloat(d.Latitude),
		formatFloat(d.Longitude),
		strconv.Itoa(d.PixelX),
		strconv.Itoa(d.PixelY),
	}
}

// EncodeCSV writes a header line followed by one line per detection.
// The header is written even when there are no detections.
func EncodeCSV(w io.Writer, detections []Detection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for i := range detections {
		if err := cw.Write(detections[i].CSVRecord()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Feature renders the detection as a GeoJSON point feature with id, width
// and length properties.
func (d *Detection) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Point{d.Longitude, d.Latitude})
	f.Properties["id"] = d.ID
	f.Properties["width"] = d.Width
	f.Properties["length"] = d.Length
	return f
}

// Feature renders the port as a GeoJSON point feature.
func (p *Port) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Point{p.Longitude, p.Latitude})
	f.Properties["locode"] = p.Locode
	f.Properties["country"] = p.Country
	f.Properties["name"] = p.Name
	f.Properties["outflows"] = p.Outflows
	return f
}

// DetectionsGeoJSON builds a feature collection of detections.
func DetectionsGeoJSON(detections []Detection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range detections {
		fc.Append(detections[i].Feature())
	}
	return fc
}

// PortsGeoJSON builds a feature collection of ports.
func PortsGeoJSON(ports []Port) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range ports {
		fc.Append(ports[i].Feature())
	}
	return fc
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

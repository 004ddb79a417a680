package result

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testParser() *Parser {
	return NewParser(WithClock(func() time.Time { return fixedNow }), WithLogger(logger.NewDiscardLogger()))
}

// corners used by writeProduct; every value is distinct so mappings can be told apart
var corners = map[string]string{
	"first_near_lat":  "1.1",
	"first_near_long": "1.2",
	"first_far_lat":   "2.1",
	"first_far_long":  "2.2",
	"last_near_lat":   "3.1",
	"last_near_long":  "3.2",
	"last_far_lat":    "4.1",
	"last_far_long":   "4.2",
}

func dimDocument(attrs map[string]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="ISO-8859-1"?>` + "\n")
	b.WriteString("<Dimap_Document name=\"product.dim\">\n<Dataset_Sources>\n")
	b.WriteString("<MDElem name=\"metadata\">\n<MDElem name=\"Abstracted_Metadata\">\n")
	for name, value := range attrs {
		fmt.Fprintf(&b, "<MDATTR name=%q type=\"ascii\">%s</MDATTR>\n", name, value)
	}
	b.WriteString("</MDElem>\n")
	// attributes nested deeper than MDElem/MDElem are not part of the abstracted metadata
	b.WriteString("<MDElem name=\"Original_Product_Metadata\"><MDElem name=\"x\"><MDElem name=\"y\">")
	b.WriteString("<MDATTR name=\"PRODUCT\">NESTED_SHOULD_BE_IGNORED</MDATTR></MDElem></MDElem></MDElem>\n")
	b.WriteString("</MDElem>\n</Dataset_Sources>\n</Dimap_Document>\n")
	return b.String()
}

func baseAttrs(pass string) map[string]string {
	attrs := map[string]string{
		"PRODUCT":              "S1A_IW_GRDH_1SDV_20221012T224816_20221012T224841_045415_056E4B_7DC8",
		"SPH_DESCRIPTOR":       "Sentinel-1 IW Level-1 GRD Product",
		"PASS":                 pass,
		"num_output_lines":     "16700",
		"num_samples_per_line": "25300",
		"first_line_time":      "12-OCT-2022 22:48:16.000000",
		"last_line_time":       "12-OCT-2022 22:48:41.000000",
		"PROC_TIME":            "13-Oct-2022 00:52:11.123456",
	}
	for k, v := range corners {
		attrs[k] = v
	}
	return attrs
}

const shipCSV = "#sepchar=\\t\n" +
	"#defaultCSS=symbol:pin\n" +
	"org.esa.snap.ShipDetections\tDetected_x:Integer\tDetected_y:Integer\tDetected_lat:Double\tDetected_lon:Double\tDetected_width:Double\tDetected_length:Double\n" +
	"ShipDetections.1\t120\t340\t1.2634\t103.8451\t22.5\t180.0\n" +
	"ShipDetections.2\t4500\t9000\t1.1999\t103.9012\t12.0\t65.5\n"

// writeProduct creates <dir>/<name>.zip placeholders plus the .dim and .data outputs.
func writeProduct(t *testing.T, attrs map[string]string, csvContent *string) string {
	t.Helper()
	dir := t.TempDir()
	product := filepath.Join(dir, "S1A_TEST.zip")
	require.NoError(t, os.WriteFile(product, []byte("zip"), 0o600))
	if attrs != nil {
		require.NoError(t, os.WriteFile(MetadataPath(product), []byte(dimDocument(attrs)), 0o600))
	}
	if csvContent != nil {
		csvPath := ShipDetectionsPath(product)
		require.NoError(t, os.MkdirAll(filepath.Dir(csvPath), 0o750))
		require.NoError(t, os.WriteFile(csvPath, []byte(*csvContent), 0o600))
	}
	return product
}

func ptr(s string) *string { return &s }

func TestPaths(t *testing.T) {
	assert.Equal(t, "/data/S1A.dim", MetadataPath("/data/S1A.zip"))
	assert.Equal(t, filepath.Join("/data/S1A.data", "vector_data", "ShipDetections.csv"), ShipDetectionsPath("/data/S1A.zip"))
}

func TestParseMetadataAscending(t *testing.T) {
	product := writeProduct(t, baseAttrs("ASCENDING"), nil)

	tile, err := testParser().ParseMetadata(product)
	require.NoError(t, err)

	assert.Equal(t, "S1A_IW_GRDH_1SDV_20221012T224816_20221012T224841_045415_056E4B_7DC8", tile.Dataset)
	assert.Equal(t, "Sentinel-1 IW Level-1 GRD Product", tile.Descriptor)
	assert.Equal(t, detection.OrbitAscending, tile.OrbitType)
	assert.Equal(t, product, tile.InputPath)
	assert.Equal(t, 16700, tile.ImageHeight)
	assert.Equal(t, 25300, tile.ImageWidth)

	assert.InDelta(t, 1.1, tile.TopLeftLatitude, 1e-9)
	assert.InDelta(t, 2.2, tile.TopLeftLongitude, 1e-9)
	assert.InDelta(t, 4.1, tile.BottomRightLatitude, 1e-9)
	assert.InDelta(t, 3.2, tile.BottomRightLongitude, 1e-9)

	assert.Equal(t, fixedNow, tile.ProcessedTime)
	assert.Equal(t, time.Date(2022, 10, 13, 0, 52, 11, 123456000, time.UTC), tile.ESAProcessedTime)
}

func TestParseMetadataDescending(t *testing.T) {
	product := writeProduct(t, baseAttrs("DESCENDING"), nil)

	tile, err := testParser().ParseMetadata(product)
	require.NoError(t, err)

	assert.Equal(t, detection.OrbitDescending, tile.OrbitType)
	assert.InDelta(t, 2.1, tile.TopLeftLatitude, 1e-9)
	assert.InDelta(t, 1.2, tile.TopLeftLongitude, 1e-9)
	assert.InDelta(t, 3.1, tile.BottomRightLatitude, 1e-9)
	assert.InDelta(t, 4.2, tile.BottomRightLongitude, 1e-9)
}

func TestParseMetadataUnknownPassDefaultsToAscending(t *testing.T) {
	product := writeProduct(t, baseAttrs("SIDEWAYS"), nil)

	tile, err := testParser().ParseMetadata(product)
	require.NoError(t, err)
	assert.Equal(t, detection.OrbitAscending, tile.OrbitType)
	assert.InDelta(t, 1.1, tile.TopLeftLatitude, 1e-9)
}

func TestAcquisitionTimeIsMidpoint(t *testing.T) {
	product := writeProduct(t, baseAttrs("ASCENDING"), nil)

	tile, err := testParser().ParseMetadata(product)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 10, 12, 22, 48, 28, 500000000, time.UTC), tile.AcquisitionTime)
}

func TestAcquisitionTimeWithFractions(t *testing.T) {
	attrs := baseAttrs("ASCENDING")
	attrs["first_line_time"] = "12-OCT-2022 22:48:16.866898"
	attrs["last_line_time"] = "12-oct-2022 22:48:41.866898"
	product := writeProduct(t, attrs, nil)

	tile, err := testParser().ParseMetadata(product)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 10, 12, 22, 48, 29, 366898000, time.UTC), tile.AcquisitionTime)
}

func TestParseMetadataMissingTimestamp(t *testing.T) {
	for _, missing := range []string{"first_line_time", "last_line_time"} {
		t.Run(missing, func(t *testing.T) {
			attrs := baseAttrs("ASCENDING")
			delete(attrs, missing)
			product := writeProduct(t, attrs, nil)

			_, err := testParser().ParseMetadata(product)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
		})
	}
}

func TestParseMetadataMalformedValues(t *testing.T) {
	tests := map[string]string{
		"first_line_time":  "2022-10-12T22:48:16",
		"num_output_lines": "many",
		"last_far_lat":     "north",
		"PROC_TIME":        "yesterday",
	}
	for attr, value := range tests {
		t.Run(attr, func(t *testing.T) {
			attrs := baseAttrs("ASCENDING")
			attrs[attr] = value
			product := writeProduct(t, attrs, nil)

			_, err := testParser().ParseMetadata(product)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
			assert.Contains(t, err.Error(), attr)
		})
	}
}

func TestParseMetadataMissingCorner(t *testing.T) {
	attrs := baseAttrs("DESCENDING")
	delete(attrs, "first_far_lat")
	product := writeProduct(t, attrs, nil)

	_, err := testParser().ParseMetadata(product)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestParseMetadataNotFound(t *testing.T) {
	product := writeProduct(t, nil, nil)

	_, err := testParser().ParseMetadata(product)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestParseMetadataMalformedXML(t *testing.T) {
	product := writeProduct(t, nil, nil)
	require.NoError(t, os.WriteFile(MetadataPath(product), []byte("<Dimap_Document><Dataset_Sources>"), 0o600))

	_, err := testParser().ParseMetadata(product)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestParseShipPositions(t *testing.T) {
	product := writeProduct(t, nil, ptr(shipCSV))

	positions, err := testParser().ParseShipPositions(product)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, detection.Detection{
		PixelX: 120, PixelY: 340, Latitude: 1.2634, Longitude: 103.8451, Width: 22.5, Length: 180,
	}, positions[0])
	assert.Equal(t, 4500, positions[1].PixelX)
	assert.InDelta(t, 65.5, positions[1].Length, 1e-9)
}

func TestParseShipPositionsEmpty(t *testing.T) {
	headerOnly := "#comment\nDetected_x:Integer\tDetected_y:Integer\tDetected_lat:Double\tDetected_lon:Double\tDetected_width:Double\tDetected_length:Double\n"
	product := writeProduct(t, nil, ptr(headerOnly))

	positions, err := testParser().ParseShipPositions(product)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestParseShipPositionsMalformed(t *testing.T) {
	tests := map[string]string{
		"bad integer": strings.Replace(shipCSV, "\t120\t", "\t12x\t", 1),
		"bad float":   strings.Replace(shipCSV, "103.8451", "east", 1),
		"missing col": strings.Replace(shipCSV, "Detected_length:Double", "Length", 1),
		"short row":   shipCSV + "ShipDetections.3\t1\t2\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			product := writeProduct(t, nil, ptr(content))

			positions, err := testParser().ParseShipPositions(product)
			require.Error(t, err)
			assert.Nil(t, positions, "no partial result")
			assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
		})
	}
}

func TestParseShipPositionsNotFound(t *testing.T) {
	product := writeProduct(t, baseAttrs("ASCENDING"), nil)

	_, err := testParser().ParseShipPositions(product)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestParse(t *testing.T) {
	product := writeProduct(t, baseAttrs("DESCENDING"), ptr(shipCSV))

	tile, err := testParser().Parse(product)
	require.NoError(t, err)
	require.Len(t, tile.Detections, 2)
	for _, d := range tile.Detections {
		assert.Equal(t, tile.Dataset, d.TileDataset)
	}
}

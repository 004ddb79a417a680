package detection

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrbitType(t *testing.T) {
	tests := []struct {
		in    string
		want  OrbitType
		known bool
	}{
		{"DESCENDING", OrbitDescending, true},
		{"descending ", OrbitDescending, true},
		{"ASCENDING", OrbitAscending, true},
		{"", OrbitAscending, false},
		{"LEFT", OrbitAscending, false},
	}
	for _, tt := range tests {
		got, known := ParseOrbitType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.known, known, tt.in)
	}
}

func TestEncodeCSV(t *testing.T) {
	dets := []Detection{
		{ID: 1, TileDataset: "S1A_X", Width: 12.5, Length: 80, Latitude: 59.1, Longitude: 10.25, PixelX: 100, PixelY: 200},
		{ID: 2, TileDataset: "S1A_X", Width: 7, Length: 30.75, Latitude: -1.5, Longitude: 3, PixelX: 5, PixelY: 6},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, dets))

	want := "id,tile_dataset,width,length,latitude,longitude,pixel_x,pixel_y\n" +
		"1,S1A_X,12.5,80,59.1,10.25,100,200\n" +
		"2,S1A_X,7,30.75,-1.5,3,5,6\n"
	assert.Equal(t, want, buf.String())
}

func TestEncodeCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, nil))
	assert.Equal(t, "id,tile_dataset,width,length,latitude,longitude,pixel_x,pixel_y\n", buf.String())
}

func TestDetectionsGeoJSON(t *testing.T) {
	fc := DetectionsGeoJSON([]Detection{{ID: 7, Width: 10, Length: 50, Latitude: 59.5, Longitude: 10.5}})

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]float64 `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "FeatureCollection", decoded.Type)
	require.Len(t, decoded.Features, 1)
	f := decoded.Features[0]
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{10.5, 59.5}, f.Geometry.Coordinates, "coordinates are [lon, lat]")
	assert.Equal(t, map[string]float64{"id": 7, "width": 10, "length": 50}, f.Properties)
}

func TestPortsGeoJSON(t *testing.T) {
	fc := PortsGeoJSON([]Port{{Locode: "NOOSL", Country: "Norway", Name: "Oslo", Outflows: 42, Latitude: 59.9, Longitude: 10.7}})

	require.Len(t, fc.Features, 1)
	props := fc.Features[0].Properties
	assert.Equal(t, "NOOSL", props["locode"])
	assert.Equal(t, 42, props["outflows"])
}

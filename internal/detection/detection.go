// Package detection defines the ship-detection domain records persisted by
// the datastore and their tabular and GeoJSON encodings.
package detection

import (
	"strings"
	"time"
)

// OrbitType is the pass direction of the satellite when the tile was acquired.
type OrbitType string

const (
	OrbitAscending  OrbitType = "ASCENDING"
	OrbitDescending OrbitType = "DESCENDING"
)

// ParseOrbitType maps a PASS metadata value to an orbit type. Anything that
// is not DESCENDING is treated as ascending; known reports whether the value
// was one of the two recognised spellings.
func ParseOrbitType(s string) (orbit OrbitType, known bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(OrbitDescending):
		return OrbitDescending, true
	case string(OrbitAscending):
		return OrbitAscending, true
	default:
		return OrbitAscending, false
	}
}

// Tile is one processed satellite product. Dataset is the product name and
// serves as the idempotency key of an ingestion.
type Tile struct {
	Dataset          string    `gorm:"primaryKey;size:255"`
	InputPath        string    `gorm:"size:1024"`
	Descriptor       string    `gorm:"size:255"`
	OrbitType        OrbitType `gorm:"size:16"`
	ImageWidth       int
	ImageHeight      int
	AcquisitionTime  time.Time `gorm:"index:idx_tiles_acquisition_time"`
	ESAProcessedTime time.Time
	ProcessedTime    time.Time

	TopLeftLatitude      float64
	TopLeftLongitude     float64
	BottomRightLatitude  float64
	BottomRightLongitude float64

	Detections []Detection `gorm:"foreignKey:TileDataset;references:Dataset;constraint:OnDelete:CASCADE"`
}

// TableName pins the table name independent of naming strategy.
func (Tile) TableName() string { return "tiles" }

// Detection is a single ship found in a tile. Width and Length are in meters.
// Detections are written once with their tile and never updated.
type Detection struct {
	ID          uint   `gorm:"primaryKey"`
	TileDataset string `gorm:"size:255;not null;index:idx_detections_tile"`
	Width       float64
	Length      float64
	Latitude    float64 `gorm:"index:idx_detections_position"`
	Longitude   float64 `gorm:"index:idx_detections_position"`
	PixelX      int
	PixelY      int
}

func (Detection) TableName() string { return "detections" }

// Port is a reference port ranked by its outflows.
type Port struct {
	Locode    string `gorm:"primaryKey;size:16"`
	Country   string `gorm:"size:255"`
	Name      string `gorm:"size:255"`
	Outflows  int    `gorm:"index:idx_ports_outflows"`
	Latitude  float64
	Longitude float64
}

func (Port) TableName() string { return "ports" }

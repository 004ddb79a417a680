// Package metrics provides constants used across metric definitions.
package metrics

// Operation names recorded by the datastore and pipeline collectors.
const (
	// OpInsertTile is the transactional tile plus detections insert.
	OpInsertTile = "insert_tile"
	// OpDedup is the duplicate-detection cleanup.
	OpDedup = "dedup"
	// OpListDetections reads detections inside an acquisition window.
	OpListDetections = "list_detections"
	// OpListPorts reads the top ports by outflows.
	OpListPorts = "list_ports"
	// OpSeedPorts loads the reference port list.
	OpSeedPorts = "seed_ports"
	// OpMigrate runs schema migration.
	OpMigrate = "migrate"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Table label values.
const (
	TableTiles      = "tiles"
	TableDetections = "detections"
	TablePorts      = "ports"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	BucketFactor2 = 2

	BucketCount10 = 10
	BucketCount15 = 15
)

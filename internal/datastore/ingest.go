package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// dedupQuery keeps the lowest id of each (latitude, longitude) group. The
// extra derived table lets MySQL delete from the table it selects from.
const dedupQuery = `DELETE FROM detections WHERE id NOT IN (
	SELECT id FROM (
		SELECT MIN(id) AS id FROM detections GROUP BY latitude, longitude
	) AS keep_ids
)`

// InsertTileIfAbsent stores the tile and its detections in one transaction.
// If a tile with the same dataset already exists nothing is written and a
// DuplicateProductError is returned.
func (ds *DataStore) InsertTileIfAbsent(ctx context.Context, tile *detection.Tile) (err error) {
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), "insert_tile", errors.PriorityHigh)
	}
	if tile == nil || tile.Dataset == "" {
		return validationError("tile dataset is required", "dataset", "")
	}
	if err := ds.EnsureReady(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer func() { ds.observe(metrics.OpInsertTile, metrics.TableTiles, start, err) }()

	// SQLite compares times as text, so everything is stored in UTC.
	tile.AcquisitionTime = tile.AcquisitionTime.UTC()
	tile.ESAProcessedTime = tile.ESAProcessedTime.UTC()
	tile.ProcessedTime = tile.ProcessedTime.UTC()
	for i := range tile.Detections {
		tile.Detections[i].TileDataset = tile.Dataset
	}

	txErr := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&detection.Tile{}).Where("dataset = ?", tile.Dataset).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrProductExists
		}
		return tx.Create(tile).Error
	})

	switch {
	case txErr == nil:
		ds.logger.Info("stored tile",
			logger.String("dataset", tile.Dataset),
			logger.Int("detections", len(tile.Detections)),
			logger.Duration("duration", time.Since(start)))
		return nil
	case errors.Is(txErr, ErrProductExists), errors.Is(txErr, gorm.ErrDuplicatedKey):
		// A concurrent run for the same product may win between the check and
		// the insert; the primary key turns that into ErrDuplicatedKey.
		if ds.metrics != nil {
			ds.metrics.RecordDuplicateProduct()
		}
		ds.logger.Info("product already ingested", logger.String("dataset", tile.Dataset))
		return DuplicateProductError(tile.Dataset)
	default:
		return dbError(txErr, "insert_tile", errors.PriorityHigh,
			"dataset", tile.Dataset,
			"detections", len(tile.Detections))
	}
}

// RemoveDuplicateDetections deletes every detection that shares its exact
// position with a detection of lower id.
func (ds *DataStore) RemoveDuplicateDetections(ctx context.Context) (result DedupResult, err error) {
	if ds.DB == nil {
		return result, dbError(errors.NewStd("database connection is not initialized"), "remove_duplicates", errors.PriorityHigh)
	}

	start := time.Now()
	defer func() { ds.observe(metrics.OpDedup, metrics.TableDetections, start, err) }()

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&detection.Detection{}).Count(&result.Total).Error; err != nil {
			return err
		}
		res := tx.Exec(dedupQuery)
		if res.Error != nil {
			return res.Error
		}
		result.Removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return DedupResult{}, dbError(err, "remove_duplicates", errors.PriorityHigh)
	}

	if ds.metrics != nil {
		ds.metrics.RecordDedup(result.Removed, result.Total)
	}
	ds.logger.Info(fmt.Sprintf("Removed %d out of %d detections", result.Removed, result.Total),
		logger.Int64("removed", result.Removed),
		logger.Int64("total", result.Total))
	return result, nil
}

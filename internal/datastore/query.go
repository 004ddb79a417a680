package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// ListDetections returns the detections of every tile acquired strictly
// between start and end, ordered by id.
func (ds *DataStore) ListDetections(ctx context.Context, start, end time.Time) (dets []detection.Detection, err error) {
	if ds.DB == nil {
		return nil, dbError(errors.NewStd("database connection is not initialized"), "list_detections", errors.PriorityHigh)
	}

	began := time.Now()
	defer func() { ds.observe(metrics.OpListDetections, metrics.TableDetections, began, err) }()

	dets = []detection.Detection{}
	err = ds.DB.WithContext(ctx).
		Select("detections.*").
		Joins("JOIN tiles ON tiles.dataset = detections.tile_dataset").
		Where("tiles.acquisition_time > ? AND tiles.acquisition_time < ?", start.UTC(), end.UTC()).
		Order("detections.id").
		Find(&dets).Error
	if err != nil {
		return nil, dbError(err, "list_detections", errors.PriorityMedium,
			"start", start.Format(time.RFC3339),
			"end", end.Format(time.RFC3339))
	}
	return dets, nil
}

// ListTopPorts returns the n ports with the most outflows.
func (ds *DataStore) ListTopPorts(ctx context.Context, n int) (ports []detection.Port, err error) {
	if ds.DB == nil {
		return nil, dbError(errors.NewStd("database connection is not initialized"), "list_ports", errors.PriorityHigh)
	}
	if n <= 0 {
		return nil, validationError("number of ports must be positive", "number", n)
	}

	began := time.Now()
	defer func() { ds.observe(metrics.OpListPorts, metrics.TablePorts, began, err) }()

	ports = []detection.Port{}
	if err = ds.DB.WithContext(ctx).Order("outflows DESC").Order("locode").Limit(n).Find(&ports).Error; err != nil {
		return nil, dbError(err, "list_ports", errors.PriorityMedium, "number", n)
	}
	return ports, nil
}

// GetTile returns a stored tile with its detections.
func (ds *DataStore) GetTile(ctx context.Context, dataset string) (*detection.Tile, error) {
	if ds.DB == nil {
		return nil, dbError(errors.NewStd("database connection is not initialized"), "get_tile", errors.PriorityHigh)
	}

	var tile detection.Tile
	err := ds.DB.WithContext(ctx).
		Preload("Detections", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("dataset = ?", dataset).
		First(&tile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError("datastore", "tile", dataset)
	}
	if err != nil {
		return nil, dbError(err, "get_tile", errors.PriorityMedium, "dataset", dataset)
	}
	return &tile, nil
}

// CountTiles returns the number of stored tiles.
func (ds *DataStore) CountTiles(ctx context.Context) (int64, error) {
	return ds.count(ctx, &detection.Tile{}, "count_tiles")
}

// CountDetections returns the number of stored detections.
func (ds *DataStore) CountDetections(ctx context.Context) (int64, error) {
	return ds.count(ctx, &detection.Detection{}, "count_detections")
}

func (ds *DataStore) count(ctx context.Context, model any, operation string) (int64, error) {
	if ds.DB == nil {
		return 0, dbError(errors.NewStd("database connection is not initialized"), operation, errors.PriorityHigh)
	}
	var n int64
	if err := ds.DB.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, dbError(err, operation, errors.PriorityLow)
	}
	return n, nil
}

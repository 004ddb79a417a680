package datastore

import (
	"context"
	"os"
	"time"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// EnsureReady migrates the schema and, when the ports table is empty, seeds
// it from the configured seed file. Concurrent callers serialize on the
// bootstrap lock; only the first successful call does any work.
func (ds *DataStore) EnsureReady(ctx context.Context) error {
	ds.bootstrapMu.Lock()
	defer ds.bootstrapMu.Unlock()

	if ds.ready {
		return nil
	}
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), "bootstrap", errors.PriorityCritical)
	}

	if err := ds.performAutoMigration(ctx); err != nil {
		return err
	}
	if err := ds.seedPortsIfEmpty(ctx); err != nil {
		return err
	}

	ds.ready = true
	return nil
}

// performAutoMigration creates or updates the tiles, detections and ports tables.
func (ds *DataStore) performAutoMigration(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpMigrate, metrics.TableTiles, start, err) }()

	ds.logger.Debug("starting database migration")
	if err := ds.DB.WithContext(ctx).AutoMigrate(&detection.Tile{}, &detection.Detection{}, &detection.Port{}); err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical)
	}
	ds.logger.Debug("database migration completed",
		logger.Duration("duration", time.Since(start)))
	return nil
}

// seedPortsIfEmpty imports the port seed file on first start. A missing seed
// file only disables the ports listing, so it is logged and skipped.
func (ds *DataStore) seedPortsIfEmpty(ctx context.Context) error {
	seedFile := ds.Settings.Ports.SeedFile
	if seedFile == "" {
		return nil
	}

	var existing int64
	if err := ds.DB.WithContext(ctx).Model(&detection.Port{}).Count(&existing).Error; err != nil {
		return dbError(err, "count_ports", errors.PriorityHigh)
	}
	if existing > 0 {
		ds.logger.Debug("ports already seeded", logger.Int64("ports", existing))
		return nil
	}

	f, err := os.Open(seedFile)
	if os.IsNotExist(err) {
		ds.logger.Warn("port seed file not found, ports listing will be empty",
			logger.String("path", seedFile))
		return nil
	}
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("path", seedFile).
			Build()
	}
	defer f.Close()

	n, err := ds.SeedPorts(ctx, f)
	if err != nil {
		return err
	}
	ds.logger.Info("seeded ports",
		logger.String("path", seedFile),
		logger.Int("ports", n))
	return nil
}

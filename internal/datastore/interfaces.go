// Package datastore persists tiles, detections and reference ports with gorm
// over SQLite or MySQL.
package datastore

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation and defines the
// operations the ingestion pipeline, the API and the CLI rely on.
type Interface interface {
	Open() error
	Close() error
	// EnsureReady migrates the schema and seeds the ports table. It runs at
	// most once successfully per store; a failed attempt is retried on the
	// next call.
	EnsureReady(ctx context.Context) error
	InsertTileIfAbsent(ctx context.Context, tile *detection.Tile) error
	RemoveDuplicateDetections(ctx context.Context) (DedupResult, error)
	ListDetections(ctx context.Context, start, end time.Time) ([]detection.Detection, error)
	ListTopPorts(ctx context.Context, n int) ([]detection.Port, error)
	SeedPorts(ctx context.Context, r io.Reader) (int, error)
	GetTile(ctx context.Context, dataset string) (*detection.Tile, error)
	CountTiles(ctx context.Context) (int64, error)
	CountDetections(ctx context.Context) (int64, error)
}

// DedupResult reports the outcome of a dedup sweep.
type DedupResult struct {
	Removed int64 // detections deleted
	Total   int64 // detections present before the sweep
}

// DataStore implements the database independent part of Interface.
// Backends embed it and provide Open.
type DataStore struct {
	DB       *gorm.DB
	Settings *conf.Settings

	logger  logger.Logger
	metrics *metrics.DatastoreMetrics

	bootstrapMu sync.Mutex
	ready       bool
}

// Option configures a store created by New.
type Option func(*DataStore)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(ds *DataStore) { ds.logger = l }
}

// WithMetrics attaches datastore metrics.
func WithMetrics(m *metrics.DatastoreMetrics) Option {
	return func(ds *DataStore) { ds.metrics = m }
}

// New creates a store for the configured database type. The connection is
// not opened until Open is called.
func New(settings *conf.Settings, opts ...Option) Interface {
	var (
		store Interface
		ds    *DataStore
		typ   string
	)
	switch strings.ToLower(settings.Database.Type) {
	case "mysql":
		s := &MySQLStore{}
		store, ds, typ = s, &s.DataStore, "mysql"
	default:
		s := &SQLiteStore{}
		store, ds, typ = s, &s.DataStore, "sqlite"
	}

	ds.Settings = settings
	for _, opt := range opts {
		opt(ds)
	}
	if ds.logger == nil {
		ds.logger = logger.Global().Module("datastore")
	}
	ds.logger = ds.logger.With(logger.String("db_type", typ))
	return store
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "get_sql_db", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}

// gormConfig returns the gorm configuration shared by all backends.
func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(ds.logger.Module("gorm"), ds.Settings.Database.SlowQueryThreshold),
		TranslateError: true,
	}
}

// observe records operation metrics when metrics are attached.
func (ds *DataStore) observe(operation, table string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	ds.metrics.RecordDbOperation(operation, table, status)
	ds.metrics.RecordDbOperationDuration(operation, table, time.Since(start).Seconds())
}

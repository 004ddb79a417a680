package datastore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

const portSeed = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [10.73, 59.91]},
     "properties": {"LOCODE": "NOOSL", "Country": "Norway", "NameWoDiac": "Oslo", "outflows": 120}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [4.40, 51.22]},
     "properties": {"LOCODE": "BEANR", "Country": "Belgium", "NameWoDiac": "Antwerpen", "outflows": 900}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [5.32, 60.39]},
     "properties": {"LOCODE": "NOBGO", "Country": "Norway", "NameWoDiac": "Bergen", "outflows": 300}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]},
     "properties": {"Country": "Nowhere"}}
  ]
}`

// createDatabase opens a migrated SQLite store in a temp dir.
func createDatabase(t *testing.T, seedFile string, opts ...Option) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.Type = "sqlite"
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	settings.Ports.SeedFile = seedFile

	opts = append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)
	store := New(settings, opts...)
	require.NoError(t, store.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, store.Close(), "Failed to close datastore")
	})
	require.NoError(t, store.EnsureReady(t.Context()))
	return store
}

func newTile(dataset string, acquired time.Time, positions ...[2]float64) *detection.Tile {
	tile := &detection.Tile{
		Dataset:         dataset,
		OrbitType:       detection.OrbitAscending,
		AcquisitionTime: acquired,
		ProcessedTime:   acquired.Add(time.Hour),
	}
	for i, p := range positions {
		tile.Detections = append(tile.Detections, detection.Detection{
			Latitude:  p[0],
			Longitude: p[1],
			Width:     10,
			Length:    50,
			PixelX:    i,
			PixelY:    i * 2,
		})
	}
	return tile
}

func TestMySQLDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Database.MySQL.Username = "ship"
	settings.Database.MySQL.Password = "secret"
	settings.Database.MySQL.Host = "db"
	settings.Database.MySQL.Port = "3306"
	settings.Database.MySQL.Database = "shipwatch"

	settings.Database.Type = "mysql"
	store := New(settings, WithLogger(logger.NewDiscardLogger()))
	dsn := store.(*MySQLStore).mysqlDSN()

	assert.True(t, strings.HasPrefix(dsn, "ship:secret@tcp(db:3306)/shipwatch?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestInsertTileIfAbsentIsIdempotent(t *testing.T) {
	store := createDatabase(t, "")
	ctx := t.Context()
	acquired := time.Date(2022, 10, 12, 22, 48, 28, 500_000_000, time.UTC)

	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("S1A_IW_GRDH_1", acquired, [2]float64{1, 1}, [2]float64{2, 2}, [2]float64{3, 3})))

	err := store.InsertTileIfAbsent(ctx, newTile("S1A_IW_GRDH_1", acquired, [2]float64{9, 9}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProductExists)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	assert.Equal(t, "product already exists in database", err.Error())

	tiles, err := store.CountTiles(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tiles)

	dets, err := store.CountDetections(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, dets, "the duplicate insert must not write detections")

	tile, err := store.GetTile(ctx, "S1A_IW_GRDH_1")
	require.NoError(t, err)
	require.Len(t, tile.Detections, 3)
	assert.Equal(t, "S1A_IW_GRDH_1", tile.Detections[0].TileDataset)
	assert.True(t, acquired.Equal(tile.AcquisitionTime))
}

func TestInsertTileIfAbsentConcurrent(t *testing.T) {
	store := createDatabase(t, "")
	ctx := t.Context()
	acquired := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Go(func() {
			errs[i] = store.InsertTileIfAbsent(ctx, newTile("S1B_RACE", acquired, [2]float64{1, 2}))
		})
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrProductExists)
	}
	assert.Equal(t, 1, succeeded)

	dets, err := store.CountDetections(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dets)
}

func TestInsertTileRequiresDataset(t *testing.T) {
	store := createDatabase(t, "")
	err := store.InsertTileIfAbsent(t.Context(), &detection.Tile{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRemoveDuplicateDetections(t *testing.T) {
	store := createDatabase(t, "")
	ctx := t.Context()
	acquired := time.Date(2022, 10, 12, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("T1", acquired, [2]float64{1, 1}, [2]float64{1, 1}, [2]float64{2, 2})))

	res, err := store.RemoveDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, DedupResult{Removed: 1, Total: 3}, res)

	tile, err := store.GetTile(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, tile.Detections, 2)
	assert.Equal(t, 0, tile.Detections[0].PixelX, "the lowest id of a duplicate group is kept")
	assert.InDelta(t, 2.0, tile.Detections[1].Latitude, 0)

	res, err = store.RemoveDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, DedupResult{Removed: 0, Total: 2}, res)
}

func TestRemoveDuplicateDetectionsAcrossTiles(t *testing.T) {
	store := createDatabase(t, "")
	ctx := t.Context()
	acquired := time.Date(2022, 10, 12, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("A", acquired, [2]float64{5, 5})))
	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("B", acquired.Add(time.Hour), [2]float64{5, 5}, [2]float64{6, 6})))

	res, err := store.RemoveDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, DedupResult{Removed: 1, Total: 3}, res)

	b, err := store.GetTile(ctx, "B")
	require.NoError(t, err)
	require.Len(t, b.Detections, 1)
	assert.InDelta(t, 6.0, b.Detections[0].Latitude, 0)
}

func TestRemoveDuplicateDetectionsRecordsMetrics(t *testing.T) {
	m, err := metrics.NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	store := createDatabase(t, "", WithMetrics(m))
	ctx := t.Context()

	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("M", time.Now(), [2]float64{1, 1}, [2]float64{1, 1})))
	require.Error(t, store.InsertTileIfAbsent(ctx, newTile("M", time.Now())))
	res, err := store.RemoveDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Removed)
}

func TestListDetectionsWindowIsExclusive(t *testing.T) {
	store := createDatabase(t, "")
	ctx := t.Context()
	day := time.Date(2022, 10, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("early", day, [2]float64{1, 1})))
	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("middle", day.Add(24*time.Hour), [2]float64{2, 2}, [2]float64{3, 3})))
	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("late", day.Add(48*time.Hour), [2]float64{4, 4})))

	dets, err := store.ListDetections(ctx, day, day.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "middle", dets[0].TileDataset)
	assert.Less(t, dets[0].ID, dets[1].ID)

	dets, err = store.ListDetections(ctx, day.Add(-time.Second), day.Add(48*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Len(t, dets, 4)

	dets, err = store.ListDetections(ctx, day.Add(72*time.Hour), day.Add(96*time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestSeedPortsAndListTop(t *testing.T) {
	store := createDatabase(t, "")
	ctx := t.Context()

	n, err := store.SeedPorts(ctx, strings.NewReader(portSeed))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "features without LOCODE are skipped")

	ports, err := store.ListTopPorts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "BEANR", ports[0].Locode)
	assert.Equal(t, "NOBGO", ports[1].Locode)
	assert.Equal(t, "Bergen", ports[1].Name)
	assert.InDelta(t, 60.39, ports[1].Latitude, 1e-9)
	assert.InDelta(t, 5.32, ports[1].Longitude, 1e-9)

	// seeding again does not duplicate rows
	_, err = store.SeedPorts(ctx, strings.NewReader(portSeed))
	require.NoError(t, err)
	ports, err = store.ListTopPorts(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, ports, 3)

	_, err = store.ListTopPorts(ctx, 0)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestSeedPortsMalformed(t *testing.T) {
	store := createDatabase(t, "")
	_, err := store.SeedPorts(t.Context(), strings.NewReader("{not geojson"))
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestEnsureReadySeedsFromFile(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "ports.geojson")
	require.NoError(t, os.WriteFile(seed, []byte(portSeed), 0o600))

	store := createDatabase(t, seed)
	ports, err := store.ListTopPorts(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, ports, 3)

	// a second call is a no-op
	require.NoError(t, store.EnsureReady(t.Context()))
}

func TestEnsureReadyMissingSeedFile(t *testing.T) {
	store := createDatabase(t, filepath.Join(t.TempDir(), "absent.geojson"))
	ports, err := store.ListTopPorts(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestEnsureReadyRetriesAfterFailure(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "ports.geojson")
	require.NoError(t, os.WriteFile(seed, []byte("broken"), 0o600))

	settings := &conf.Settings{}
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	settings.Ports.SeedFile = seed
	store := New(settings, WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	require.Error(t, store.EnsureReady(t.Context()))

	require.NoError(t, os.WriteFile(seed, []byte(portSeed), 0o600))
	require.NoError(t, store.EnsureReady(t.Context()))

	ports, err := store.ListTopPorts(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, ports, 3)
}

func TestEnsureReadyConcurrent(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "ports.geojson")
	require.NoError(t, os.WriteFile(seed, []byte(portSeed), 0o600))

	settings := &conf.Settings{}
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	settings.Ports.SeedFile = seed
	store := New(settings, WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			assert.NoError(t, store.EnsureReady(t.Context()))
		})
	}
	wg.Wait()

	ports, err := store.ListTopPorts(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, ports, 3)
}

func TestGetTileNotFound(t *testing.T) {
	store := createDatabase(t, "")
	_, err := store.GetTile(t.Context(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestOperationsBeforeOpen(t *testing.T) {
	store := New(&conf.Settings{}, WithLogger(logger.NewDiscardLogger()))
	_, err := store.RemoveDuplicateDetections(t.Context())
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.NoError(t, store.Close())
}

func TestNewSelectsBackend(t *testing.T) {
	m, err := metrics.NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	tests := []struct {
		dbType string
		check  func(t *testing.T, store Interface) *DataStore
	}{
		{"sqlite", func(t *testing.T, store Interface) *DataStore {
			s, ok := store.(*SQLiteStore)
			require.True(t, ok, "expected *SQLiteStore, got %T", store)
			return &s.DataStore
		}},
		{"", func(t *testing.T, store Interface) *DataStore {
			s, ok := store.(*SQLiteStore)
			require.True(t, ok, "expected *SQLiteStore, got %T", store)
			return &s.DataStore
		}},
		{"MySQL", func(t *testing.T, store Interface) *DataStore {
			s, ok := store.(*MySQLStore)
			require.True(t, ok, "expected *MySQLStore, got %T", store)
			return &s.DataStore
		}},
	}

	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			settings := &conf.Settings{}
			settings.Database.Type = tt.dbType

			ds := tt.check(t, New(settings, WithLogger(logger.NewDiscardLogger()), WithMetrics(m)))
			assert.Same(t, settings, ds.Settings)
			assert.Same(t, m, ds.metrics)
			assert.NotNil(t, ds.logger)
			assert.Nil(t, ds.DB, "New does not connect")
		})
	}
}

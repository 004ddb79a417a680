//go:build integration

package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/logger"
)

// Run with: go test -tags integration ./internal/datastore/...
func TestMySQLStoreIngestAndDedup(t *testing.T) {
	ctx := t.Context()

	container, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("shipwatch"),
		tcmysql.WithUsername("shipwatch"),
		tcmysql.WithPassword("shipwatch"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Database.Type = "mysql"
	settings.Database.MySQL.Host = host
	settings.Database.MySQL.Port = port.Port()
	settings.Database.MySQL.Database = "shipwatch"
	settings.Database.MySQL.Username = "shipwatch"
	settings.Database.MySQL.Password = "shipwatch"

	store := New(settings, WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	require.NoError(t, store.EnsureReady(ctx))

	acquired := time.Date(2022, 10, 12, 22, 48, 28, 0, time.UTC)
	require.NoError(t, store.InsertTileIfAbsent(ctx, newTile("S1A_MYSQL", acquired, [2]float64{1, 1}, [2]float64{1, 1}, [2]float64{2, 2})))
	assert.ErrorIs(t, store.InsertTileIfAbsent(ctx, newTile("S1A_MYSQL", acquired)), ErrProductExists)

	res, err := store.RemoveDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, DedupResult{Removed: 1, Total: 3}, res)

	dets, err := store.ListDetections(ctx, acquired.Add(-time.Minute), acquired.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, dets, 2)
}

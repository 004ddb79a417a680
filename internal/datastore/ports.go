package datastore

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm/clause"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

const seedBatchSize = 500

// Property names of the port seed GeoJSON.
const (
	propLocode   = "LOCODE"
	propCountry  = "Country"
	propName     = "NameWoDiac"
	propOutflows = "outflows"
)

// SeedPorts imports ports from a GeoJSON feature collection of points.
// Features without a LOCODE or a point geometry are skipped; ports that are
// already stored are left untouched. It returns the number of ports read.
func (ds *DataStore) SeedPorts(ctx context.Context, r io.Reader) (n int, err error) {
	if ds.DB == nil {
		return 0, dbError(errors.NewStd("database connection is not initialized"), "seed_ports", errors.PriorityHigh)
	}

	start := time.Now()
	defer func() { ds.observe(metrics.OpSeedPorts, metrics.TablePorts, start, err) }()

	ports, err := decodePorts(r, ds.logger)
	if err != nil {
		return 0, err
	}
	if len(ports) == 0 {
		return 0, nil
	}

	err = ds.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&ports, seedBatchSize).Error
	if err != nil {
		return 0, dbError(err, "seed_ports", errors.PriorityHigh, "ports", len(ports))
	}
	return len(ports), nil
}

func decodePorts(r io.Reader, log logger.Logger) ([]detection.Port, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryFileIO).Build()
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_port_seed").
			Build()
	}

	ports := make([]detection.Port, 0, len(fc.Features))
	seen := make(map[string]struct{}, len(fc.Features))
	for i, f := range fc.Features {
		locode := strings.TrimSpace(f.Properties.MustString(propLocode, ""))
		point, ok := f.Geometry.(orb.Point)
		if locode == "" || !ok {
			log.Debug("skipping port feature", logger.Int("index", i), logger.String("locode", locode))
			continue
		}
		if _, dup := seen[locode]; dup {
			continue
		}
		seen[locode] = struct{}{}

		ports = append(ports, detection.Port{
			Locode:    locode,
			Country:   f.Properties.MustString(propCountry, ""),
			Name:      f.Properties.MustString(propName, ""),
			Outflows:  f.Properties.MustInt(propOutflows, 0),
			Longitude: point.Lon(),
			Latitude:  point.Lat(),
		})
	}
	return ports, nil
}

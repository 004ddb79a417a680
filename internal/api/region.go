package api

import (
	"bytes"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/shipwatch/shipwatch/internal/errors"
)

// parseRegion decodes a submitted search region. It accepts a GeoJSON
// FeatureCollection, a single Feature or a bare geometry. A collection
// with several features becomes an orb.Collection, an empty one a nil
// geometry.
func parseRegion(body []byte) (orb.Geometry, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.ValidationError("request body must be a GeoJSON object")
	}
	if !json.Valid(body) {
		return nil, errors.ValidationError("request body is not valid JSON")
	}

	switch kind := json.Get(body, "type").ToString(); kind {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, regionError(err, kind)
		}
		return featuresGeometry(fc.Features), nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(body)
		if err != nil {
			return nil, regionError(err, kind)
		}
		return f.Geometry, nil
	case "":
		return nil, errors.ValidationError("GeoJSON object has no type")
	default:
		g, err := geojson.UnmarshalGeometry(body)
		if err != nil {
			return nil, regionError(err, kind)
		}
		return g.Geometry(), nil
	}
}

func featuresGeometry(features []*geojson.Feature) orb.Geometry {
	geoms := make(orb.Collection, 0, len(features))
	for _, f := range features {
		if f != nil && f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	switch len(geoms) {
	case 0:
		return nil
	case 1:
		return geoms[0]
	default:
		return geoms
	}
}

func regionError(err error, kind string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryValidation).
		Context("geojson_type", kind).
		Build()
}

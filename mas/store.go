// Package mas holds the metadata stores serving EO records to the OWS
// handlers: Postgres, an in-memory store built from the service config,
// and a caching decorator.
package mas

import (
	"context"
	"time"

	"github.com/nci/eows/coverages"
)

// Query selects records by spatio-temporal intersection. Zero times and a
// nil BBox leave that dimension unbounded.
type Query struct {
	Begin time.Time
	End   time.Time
	// BBox is minx, miny, maxx, maxy in EPSG:4326.
	BBox  *[4]float64
	Kinds []string
	Limit int
}

// Store is a source of EO records.
type Store interface {
	// Record returns the record of id, or nil when there is none.
	Record(ctx context.Context, id string) (*coverages.Record, error)
	// Identifiers lists the identifiers of records of the given kinds (all
	// kinds when empty) in identifier order.
	Identifiers(ctx context.Context, kinds ...string) ([]string, error)
	// Intersects returns the identifiers of records matching q ordered by
	// begin time.
	Intersects(ctx context.Context, q Query) ([]string, error)
}

func kindSet(kinds []string) map[string]bool {
	if len(kinds) == 0 {
		return nil
	}
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// recordBBox returns the EPSG:4326 bbox indexed for a record: its footprint,
// else its grid extent reprojected to EPSG:4326.
func recordBBox(r *coverages.Record) ([4]float64, bool) {
	if len(r.Footprint) > 0 {
		fp, err := coverages.ParseFootprint(r.Footprint, 4326)
		if err == nil {
			return fp.BBox, true
		}
	}
	if r.Extent == [4]float64{} {
		return [4]float64{}, false
	}
	bbox, err := coverages.TransformBBox(r.Extent, r.SRID, 4326)
	if err != nil {
		return [4]float64{}, false
	}
	return bbox, true
}

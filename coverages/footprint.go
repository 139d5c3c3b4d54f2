package coverages

import (
	"encoding/json"
	"fmt"
	"math"

	geo "github.com/nci/geometry"
)

type Ring [][2]float64

// Polygon is an outer ring followed by its holes.
type Polygon []Ring

// Footprint is a multi polygon with an SRID and a cached bounding box
// (minx, miny, maxx, maxy).
type Footprint struct {
	SRID     int
	Polygons []Polygon
	BBox     [4]float64
}

// ParseFootprint reads a GeoJSON Feature or bare Polygon/MultiPolygon
// geometry.
func ParseFootprint(geojson string, srid int) (*Footprint, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(geojson), &probe); err != nil {
		return nil, fmt.Errorf("invalid footprint GeoJSON: %v", err)
	}
	raw := []byte(geojson)
	if probe.Type != "Feature" {
		raw = []byte(fmt.Sprintf(`{"type":"Feature","geometry":%s,"properties":{}}`, geojson))
	}

	var feat geo.Feature
	if err := json.Unmarshal(raw, &feat); err != nil {
		return nil, fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
	}

	var polygons []Polygon
	switch geom := feat.Geometry.(type) {
	case *geo.Polygon:
		var p Polygon
		if err := coordinatesOf(geom, &p); err != nil {
			return nil, err
		}
		polygons = []Polygon{p}
	case *geo.MultiPolygon:
		if err := coordinatesOf(geom, &polygons); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("footprint must be a Polygon or MultiPolygon, got %T", geom)
	}

	f := &Footprint{SRID: srid, Polygons: polygons}
	if srid == 0 {
		f.SRID = 4326
	}
	if err := f.computeBBox(); err != nil {
		return nil, err
	}
	return f, nil
}

// coordinatesOf round trips a geometry through its GeoJSON encoding to
// read the coordinate arrays.
func coordinatesOf(geom geo.Geometry, dst interface{}) error {
	b, err := json.Marshal(geom)
	if err != nil {
		return err
	}
	var g struct {
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err = json.Unmarshal(b, &g); err != nil {
		return err
	}
	return json.Unmarshal(g.Coordinates, dst)
}

func (f *Footprint) computeBBox() error {
	bbox := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	n := 0
	for _, p := range f.Polygons {
		for _, r := range p {
			for _, pt := range r {
				bbox[0] = math.Min(bbox[0], pt[0])
				bbox[1] = math.Min(bbox[1], pt[1])
				bbox[2] = math.Max(bbox[2], pt[0])
				bbox[3] = math.Max(bbox[3], pt[1])
				n++
			}
		}
	}
	if n == 0 {
		return fmt.Errorf("footprint has no coordinates")
	}
	f.BBox = bbox
	return nil
}

// BBoxFootprint returns a rectangular footprint.
func BBoxFootprint(bbox [4]float64, srid int) *Footprint {
	return &Footprint{
		SRID:     srid,
		Polygons: []Polygon{{BBoxRing(bbox)}},
		BBox:     bbox,
	}
}

// BBoxRing returns the closed counter clockwise ring of a bbox.
func BBoxRing(b [4]float64) Ring {
	return Ring{
		{b[0], b[1]}, {b[2], b[1]}, {b[2], b[3]}, {b[0], b[3]}, {b[0], b[1]},
	}
}

// GeoJSON encodes the footprint as a GeoJSON Feature with nci/geometry.
func (f *Footprint) GeoJSON() ([]byte, error) {
	coords, err := json.Marshal(f.Polygons)
	if err != nil {
		return nil, err
	}
	var feat geo.Feature
	raw := fmt.Sprintf(`{"type":"Feature","geometry":{"type":"MultiPolygon","coordinates":%s},"properties":{}}`, coords)
	if err = json.Unmarshal([]byte(raw), &feat); err != nil {
		return nil, err
	}
	return json.Marshal(&geo.Feature{Type: "Feature", Geometry: feat.Geometry})
}

// Union returns the bbox enclosing a and b.
func Union(a, b [4]float64) [4]float64 {
	return [4]float64{
		math.Min(a[0], b[0]), math.Min(a[1], b[1]),
		math.Max(a[2], b[2]), math.Max(a[3], b[3]),
	}
}

// Intersects reports whether two closed boxes share at least one point.
func Intersects(a, b [4]float64) bool {
	return a[0] <= b[2] && b[0] <= a[2] && a[1] <= b[3] && b[1] <= a[3]
}

// Within reports whether a lies inside the closed box b.
func Within(a, b [4]float64) bool {
	return a[0] >= b[0] && a[2] <= b[2] && a[1] >= b[1] && a[3] <= b[3]
}

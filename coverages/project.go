package coverages

import (
	"fmt"
	"math"

	"github.com/wroge/wgs84"
)

// edgeSteps is the number of segments each ring edge is split into before
// projection, so that edges curving in the target CRS keep their extent.
const edgeSteps = 16

// TransformFunc maps a coordinate pair between two reference systems.
type TransformFunc func(x, y float64) (float64, float64)

// Transformer returns the coordinate transformation between two EPSG
// codes. Zero codes stand for EPSG:4326.
func Transformer(from, to int) (TransformFunc, error) {
	if from == 0 {
		from = 4326
	}
	if to == 0 {
		to = 4326
	}
	if from == to {
		return func(x, y float64) (float64, float64) { return x, y }, nil
	}
	repo := wgs84.EPSG()
	src, dst := repo.Code(from), repo.Code(to)
	if src == nil || dst == nil {
		return nil, fmt.Errorf("no transformation from EPSG:%d to EPSG:%d: %v", from, to, wgs84.ErrNoCoordinateReferenceSystem)
	}
	f := wgs84.Transform(src, dst)
	return func(x, y float64) (float64, float64) {
		x2, y2, _ := f(x, y, 0)
		return x2, y2
	}, nil
}

// densify inserts edgeSteps-1 points on every edge of r.
func densify(r Ring) Ring {
	if len(r) < 2 {
		return r
	}
	out := make(Ring, 0, (len(r)-1)*edgeSteps+1)
	for i := 0; i+1 < len(r); i++ {
		a, b := r[i], r[i+1]
		for s := 0; s < edgeSteps; s++ {
			t := float64(s) / edgeSteps
			out = append(out, [2]float64{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t})
		}
	}
	return append(out, r[len(r)-1])
}

// Transform returns f reprojected into srid. Ring edges are densified so
// the result keeps the covered area when straight lines become curves.
func (f *Footprint) Transform(srid int) (*Footprint, error) {
	if srid == 0 {
		srid = 4326
	}
	from := f.SRID
	if from == 0 {
		from = 4326
	}
	if from == srid {
		return f, nil
	}
	tf, err := Transformer(from, srid)
	if err != nil {
		return nil, err
	}

	out := &Footprint{SRID: srid, Polygons: make([]Polygon, 0, len(f.Polygons))}
	for _, p := range f.Polygons {
		poly := make(Polygon, 0, len(p))
		for _, r := range p {
			dense := densify(r)
			ring := make(Ring, len(dense))
			for i, pt := range dense {
				x, y := tf(pt[0], pt[1])
				if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
					return nil, fmt.Errorf("footprint point (%g, %g) has no position in EPSG:%d", pt[0], pt[1], srid)
				}
				ring[i] = [2]float64{x, y}
			}
			poly = append(poly, ring)
		}
		out.Polygons = append(out.Polygons, poly)
	}
	if err = out.computeBBox(); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformBBox returns the bbox enclosing bbox reprojected from one SRID
// into another.
func TransformBBox(bbox [4]float64, from, to int) ([4]float64, error) {
	f, err := BBoxFootprint(bbox, from).Transform(to)
	if err != nil {
		return [4]float64{}, err
	}
	return f.BBox, nil
}

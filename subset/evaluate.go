package subset

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/utils"
)

type Containment int

const (
	Overlaps Containment = iota
	Contains
)

func (c Containment) String() string {
	if c == Contains {
		return "contains"
	}
	return "overlaps"
}

// ParseContainment defaults to Overlaps for an empty value.
func ParseContainment(s string) (Containment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overlaps":
		return Overlaps, nil
	case "contains":
		return Contains, nil
	}
	return Overlaps, utils.InvalidParameterValue("containment", fmt.Sprintf("Unknown containment mode '%s'.", s))
}

// Subsets is the validated set of subsets of one request: at most one
// subset per axis and a single CRS for the spatial ones.
type Subsets struct {
	items []Subset
	crs   CRS
}

// New validates items. Temporal subsets must use the Gregorian UTC
// reference system.
func New(items []Subset) (*Subsets, error) {
	s := &Subsets{}
	seen := map[Axis]bool{}
	spatialCRS := ""
	haveSpatial := false

	for _, it := range items {
		axis := it.Axis()
		if seen[axis] {
			return nil, utils.InvalidSubsetting("subset", multipleMsg[axis])
		}
		seen[axis] = true

		if axis == AxisTime {
			if crs := it.Crs(); len(crs) > 0 && crs != TemporalCRS {
				return nil, utils.UnknownCRS(crs)
			}
			s.items = append(s.items, it)
			continue
		}

		if haveSpatial && it.Crs() != spatialCRS {
			return nil, utils.InvalidSubsetting("subset", "CRSs for multiple spatial subsets must be the same.")
		}
		crs, err := ParseCRS(it.Crs())
		if err != nil {
			return nil, err
		}
		haveSpatial = true
		spatialCRS = it.Crs()
		s.crs = crs
		s.items = append(s.items, it)
	}
	return s, nil
}

var multipleMsg = map[Axis]string{
	AxisTime: "Multiple definitions for time subsetting.",
	AxisX:    "Multiple definitions for first spatial axis subsetting.",
	AxisY:    "Multiple definitions for second spatial axis subsetting.",
}

func (s *Subsets) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Subsets) Items() []Subset {
	if s == nil {
		return nil
	}
	return s.items
}

// CRS returns the CRS shared by the spatial subsets.
func (s *Subsets) CRS() CRS {
	if s == nil {
		return CRS{}
	}
	return s.crs
}

// Get returns the subset on axis or nil.
func (s *Subsets) Get(axis Axis) Subset {
	if s == nil {
		return nil
	}
	for _, it := range s.items {
		if it.Axis() == axis {
			return it
		}
	}
	return nil
}

// HasSlices reports whether any subset reduces a dimension.
func (s *Subsets) HasSlices() bool {
	for _, it := range s.Items() {
		if _, ok := it.(*Slice); ok {
			return true
		}
	}
	return false
}

// Matches tests o against all subsets. Omitted trim bounds resolve
// against outer, the collection o was reached through, or against o
// itself when outer is nil.
func (s *Subsets) Matches(o coverages.Object, containment Containment, outer coverages.Object) (bool, error) {
	if s.Len() == 0 {
		return true, nil
	}
	if outer == nil {
		outer = o
	}

	ok, err := s.matchesTime(o, containment, outer)
	if !ok || err != nil {
		return ok, err
	}
	return s.matchesSpace(o, containment, outer)
}

func (s *Subsets) matchesTime(o coverages.Object, containment Containment, outer coverages.Object) (bool, error) {
	sub := s.Get(AxisTime)
	if sub == nil {
		return true, nil
	}
	begin, end, ok := timeExtent(o)
	if !ok {
		return false, nil
	}

	switch t := sub.(type) {
	case *Slice:
		p := t.Point.Time
		return !begin.After(p) && !end.Before(p), nil

	case *Trim:
		low, high, ok := timeExtent(outer)
		if !ok {
			low, high = begin, end
		}
		if t.Low != nil {
			low = t.Low.Time
		}
		if t.High != nil {
			high = t.High.Time
		}
		if containment == Contains {
			return !begin.Before(low) && !end.After(high), nil
		}
		return !begin.After(high) && !end.Before(low), nil
	}
	return false, utils.InternalError("unknown subset type %T", sub)
}

func (s *Subsets) matchesSpace(o coverages.Object, containment Containment, outer coverages.Object) (bool, error) {
	if s.Get(AxisX) == nil && s.Get(AxisY) == nil {
		return true, nil
	}

	if s.crs.Image {
		return s.matchesImageSlices(o), nil
	}

	// without a CRS the bounds are in the units of the stored footprint
	bbox, ok, err := footprintBBox(o, s.crs.SRID)
	if !ok || err != nil {
		return false, err
	}

	haveTrim := false
	for _, it := range s.items {
		switch t := it.(type) {
		case *Slice:
			if t.axis == AxisTime {
				continue
			}
			lo, hi := 0, 2
			if t.axis == AxisY {
				lo, hi = 1, 3
			}
			if t.Point.Value < bbox[lo] || t.Point.Value > bbox[hi] {
				return false, nil
			}
		case *Trim:
			if t.axis != AxisTime {
				haveTrim = true
			}
		}
	}
	if !haveTrim {
		return true, nil
	}

	def, ok, err := footprintBBox(outer, s.crs.SRID)
	if err != nil {
		return false, err
	}
	if !ok {
		def = bbox
	}
	area := s.SpatialBBox(def)
	if containment == Contains {
		return coverages.Within(bbox, area), nil
	}
	return coverages.Intersects(bbox, area), nil
}

// matchesImageSlices tests pixel slices against the grid size. Trims in
// pixel space cannot filter anything.
func (s *Subsets) matchesImageSlices(o coverages.Object) bool {
	hg, ok := o.(coverages.HasGrid)
	if !ok {
		return true
	}
	g := hg.Grid()
	for _, it := range s.items {
		sl, ok := it.(*Slice)
		if !ok || sl.axis == AxisTime {
			continue
		}
		size := g.Size[0]
		if sl.axis == AxisY {
			size = g.Size[1]
		}
		if sl.Point.Value < 0 || sl.Point.Value >= float64(size) {
			return false
		}
	}
	return true
}

func timeExtent(o coverages.Object) (time.Time, time.Time, bool) {
	te, ok := o.(coverages.HasTemporalExtent)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	b, e := te.TimeExtent()
	if b.IsZero() && e.IsZero() {
		return b, e, false
	}
	return b, e, true
}

// footprintBBox returns the bbox of the footprint of o in srid, or in the
// footprint's own SRID when srid is zero.
func footprintBBox(o coverages.Object, srid int) ([4]float64, bool, error) {
	fp, ok := o.(coverages.HasFootprint)
	if !ok || fp.Footprint() == nil {
		return [4]float64{}, false, nil
	}
	f := fp.Footprint()
	if srid == 0 {
		return f.BBox, true, nil
	}
	f, err := footprintIn(f, srid)
	if err != nil {
		return [4]float64{}, false, err
	}
	return f.BBox, true, nil
}

func footprintIn(f *coverages.Footprint, srid int) (*coverages.Footprint, error) {
	t, err := f.Transform(srid)
	if err != nil {
		return nil, utils.OptionNotSupported("subset", fmt.Sprintf("Cannot transform footprints to EPSG:%d: %v.", srid, err))
	}
	return t, nil
}

// Filter returns the objects matching all subsets in their original
// order. An error while testing any object aborts the whole evaluation.
func (s *Subsets) Filter(objs []coverages.Object, containment Containment, outer coverages.Object) ([]coverages.Object, error) {
	var out []coverages.Object
	for _, o := range objs {
		ok, err := s.Matches(o, containment, outer)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// Collect walks the children of a composite and returns the matching
// coverages, depth first in storage order. Each child is tested with the
// composite as outer collection. A composite failing a slice contributes
// nothing.
func (s *Subsets) Collect(composite coverages.Object, containment Containment) ([]coverages.Object, error) {
	ok, err := s.matchesSlices(composite)
	if err != nil || !ok {
		return nil, err
	}
	parent, isComposite := composite.(coverages.HasChildDatasets)
	if !isComposite {
		return nil, nil
	}

	var out []coverages.Object
	for _, child := range parent.Children() {
		matched, err := s.Matches(child, containment, composite)
		if err != nil {
			return nil, err
		}
		if matched && coverages.IsCoverage(child) {
			out = append(out, child)
		}
		if _, nested := child.(coverages.HasChildDatasets); nested {
			sub, err := s.Collect(child, containment)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

// matchesSlices tests only the slices of s against o.
func (s *Subsets) matchesSlices(o coverages.Object) (bool, error) {
	if !s.HasSlices() {
		return true, nil
	}
	var slices []Subset
	for _, it := range s.items {
		if _, ok := it.(*Slice); ok {
			slices = append(slices, it)
		}
	}
	return (&Subsets{items: slices, crs: s.crs}).Matches(o, Overlaps, nil)
}

// SpatialBBox returns the bbox of the spatial trims, with omitted bounds
// taken from def.
func (s *Subsets) SpatialBBox(def [4]float64) [4]float64 {
	bbox := def
	for _, it := range s.Items() {
		t, ok := it.(*Trim)
		if !ok || t.axis == AxisTime {
			continue
		}
		lo, hi := 0, 2
		if t.axis == AxisY {
			lo, hi = 1, 3
		}
		if t.Low != nil {
			bbox[lo] = t.Low.Value
		}
		if t.High != nil {
			bbox[hi] = t.High.Value
		}
	}
	return bbox
}

// BoundingPolygon returns the footprint of cov clipped by the spatial
// trims. Without a CRS, or with imageCRS, trim bounds are pixel indices
// of the grid mapped onto the grid extent and the result is in the grid
// SRID. Otherwise the footprint is transformed into the subset CRS and
// its bbox is intersected with the trims.
func (s *Subsets) BoundingPolygon(cov coverages.Object) (*coverages.Footprint, error) {
	hg, ok := cov.(coverages.HasGrid)
	if !ok {
		return nil, utils.InternalError("'%s' has no grid", cov.Identifier())
	}
	g := hg.Grid()

	if s.crs.IsZero() || s.crs.Image {
		ext := g.Extent
		bbox := ext
		sx, sy := float64(g.Size[0]), float64(g.Size[1])
		if sx == 0 || sy == 0 {
			return nil, utils.InternalError("'%s' has an empty grid", cov.Identifier())
		}
		w, h := ext[2]-ext[0], ext[3]-ext[1]
		for _, it := range s.Items() {
			t, ok := it.(*Trim)
			if !ok || t.axis == AxisTime {
				continue
			}
			switch t.axis {
			case AxisX:
				if t.Low != nil {
					bbox[0] = ext[0] + ratio(t.Low.Value, sx)*w
				}
				if t.High != nil {
					bbox[2] = ext[0] + ratio(t.High.Value, sx)*w
				}
			case AxisY:
				// pixel rows count down from the top of the extent
				if t.Low != nil {
					bbox[3] = ext[3] - ratio(t.Low.Value, sy)*h
				}
				if t.High != nil {
					bbox[1] = ext[3] - ratio(t.High.Value, sy)*h
				}
			}
		}
		return coverages.BBoxFootprint(bbox, g.SRID), nil
	}

	// coverages without a footprint are bounded by their grid
	foot := coverages.BBoxFootprint(g.Extent, g.SRID)
	if fp, ok := cov.(coverages.HasFootprint); ok && fp.Footprint() != nil {
		foot = fp.Footprint()
	}
	f, err := footprintIn(foot, s.crs.SRID)
	if err != nil {
		return nil, err
	}
	bbox := f.BBox
	for _, it := range s.Items() {
		t, ok := it.(*Trim)
		if !ok || t.axis == AxisTime {
			continue
		}
		lo, hi := 0, 2
		if t.axis == AxisY {
			lo, hi = 1, 3
		}
		if t.Low != nil {
			bbox[lo] = math.Max(t.Low.Value, bbox[lo])
		}
		if t.High != nil {
			bbox[hi] = math.Min(t.High.Value, bbox[hi])
		}
	}
	return coverages.BBoxFootprint(bbox, s.crs.SRID), nil
}

// ratio is the position of pixel index v on an axis of n pixels, clamped
// to the grid.
func ratio(v, n float64) float64 {
	return math.Min(math.Max(v/n, 0), 1)
}

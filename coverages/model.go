// Package coverages holds the read-only views of EO coverages and dataset
// series served by the OWS handlers.
package coverages

import (
	"fmt"
	"time"
)

// Object is one of *RectifiedDataset, *ReferenceableDataset,
// *RectifiedStitchedMosaic or *DatasetSeries.
type Object interface {
	Identifier() string
	EOIdentifier() string
	eoObject()
}

type HasTemporalExtent interface {
	TimeExtent() (begin, end time.Time)
}

type HasFootprint interface {
	Footprint() *Footprint
}

type HasGrid interface {
	Grid() *Grid
}

type HasRangeType interface {
	RangeType() *RangeType
}

type HasChildDatasets interface {
	Children() []Object
}

// EOMetadata is shared by all object kinds.
type EOMetadata struct {
	ID        string
	EOID      string
	BeginTime time.Time
	EndTime   time.Time
	Foot      *Footprint
	// Raw holds a stored eop:EarthObservation document, if any.
	Raw []byte
}

func (m *EOMetadata) Identifier() string { return m.ID }

func (m *EOMetadata) EOIdentifier() string {
	if len(m.EOID) > 0 {
		return m.EOID
	}
	return m.ID
}

func (m *EOMetadata) TimeExtent() (time.Time, time.Time) { return m.BeginTime, m.EndTime }

func (m *EOMetadata) Footprint() *Footprint { return m.Foot }

// Grid describes the raster grid of a coverage. Extent is minx, miny,
// maxx, maxy in the grid's SRID.
type Grid struct {
	SRID       int
	Size       [2]int
	Extent     [4]float64
	AxisLabels []string
}

// Projected reports whether the grid uses a projected rather than a
// geographic CRS. Only EPSG:4326 and its relatives are treated as
// geographic.
func (g *Grid) Projected() bool {
	switch g.SRID {
	case 4326, 4258, 4283, 4269, 4019:
		return false
	}
	return true
}

func (g *Grid) Labels() []string {
	if len(g.AxisLabels) == 2 {
		return g.AxisLabels
	}
	if g.Projected() {
		return []string{"x", "y"}
	}
	return []string{"long", "lat"}
}

func (g *Grid) Origin() [2]float64 {
	return [2]float64{g.Extent[0], g.Extent[3]}
}

// Offsets returns the x and y offset vectors.
func (g *Grid) Offsets() [2][2]float64 {
	if g.Size[0] == 0 || g.Size[1] == 0 {
		return [2][2]float64{}
	}
	return [2][2]float64{
		{(g.Extent[2] - g.Extent[0]) / float64(g.Size[0]), 0},
		{0, (g.Extent[1] - g.Extent[3]) / float64(g.Size[1])},
	}
}

// Resolution returns the absolute pixel sizes along x and y.
func (g *Grid) Resolution() (float64, float64) {
	o := g.Offsets()
	rx, ry := o[0][0], o[1][1]
	if ry < 0 {
		ry = -ry
	}
	return rx, ry
}

type NilValue struct {
	Value  string `json:"value" yaml:"value"`
	Reason string `json:"reason" yaml:"reason"`
}

// Channel is one band of a range type. Derived channels have an
// Expression over other channel names and no data of their own.
type Channel struct {
	Name               string
	Identifier         string
	Description        string
	Definition         string
	UOM                string
	DataType           string
	NilValues          []NilValue
	AllowedValues      [2]float64
	SignificantFigures int
	Expression         string
}

type RangeType struct {
	Name     string
	Channels []Channel
}

// Index returns the position of the named channel or -1.
func (r *RangeType) Index(name string) int {
	for i := range r.Channels {
		if r.Channels[i].Name == name || r.Channels[i].Identifier == name {
			return i
		}
	}
	return -1
}

type RectifiedDataset struct {
	EOMetadata
	GridDef Grid
	Range   *RangeType
	Files   []string
}

type ReferenceableDataset struct {
	EOMetadata
	GridDef Grid
	Range   *RangeType
	Files   []string
}

type RectifiedStitchedMosaic struct {
	EOMetadata
	GridDef  Grid
	Range    *RangeType
	Datasets []Object
}

type DatasetSeries struct {
	EOMetadata
	Members []Object
}

func (*RectifiedDataset) eoObject()        {}
func (*ReferenceableDataset) eoObject()    {}
func (*RectifiedStitchedMosaic) eoObject() {}
func (*DatasetSeries) eoObject()           {}

func (c *RectifiedDataset) Grid() *Grid { return &c.GridDef }

func (c *RectifiedDataset) RangeType() *RangeType { return c.Range }

func (c *ReferenceableDataset) Grid() *Grid { return &c.GridDef }

func (c *ReferenceableDataset) RangeType() *RangeType { return c.Range }

func (c *RectifiedStitchedMosaic) Grid() *Grid { return &c.GridDef }

func (c *RectifiedStitchedMosaic) RangeType() *RangeType { return c.Range }

func (c *RectifiedStitchedMosaic) Children() []Object { return c.Datasets }

func (s *DatasetSeries) Children() []Object { return s.Members }

// Subtype returns the EO-WCS coverage subtype name.
func Subtype(o Object) string {
	switch o.(type) {
	case *RectifiedDataset:
		return "RectifiedDataset"
	case *ReferenceableDataset:
		return "ReferenceableDataset"
	case *RectifiedStitchedMosaic:
		return "RectifiedStitchedMosaic"
	case *DatasetSeries:
		return "DatasetSeries"
	}
	panic(fmt.Sprintf("unknown EO object type %T", o))
}

// IsCoverage reports whether o can be described and retrieved as a
// coverage.
func IsCoverage(o Object) bool {
	switch o.(type) {
	case *RectifiedDataset, *ReferenceableDataset, *RectifiedStitchedMosaic:
		return true
	case *DatasetSeries:
		return false
	}
	panic(fmt.Sprintf("unknown EO object type %T", o))
}

// DataFiles returns the files backing a single file coverage.
func DataFiles(o Object) []string {
	switch c := o.(type) {
	case *RectifiedDataset:
		return c.Files
	case *ReferenceableDataset:
		return c.Files
	case *RectifiedStitchedMosaic, *DatasetSeries:
		return nil
	}
	panic(fmt.Sprintf("unknown EO object type %T", o))
}

package coverages

import (
	"fmt"
	"strings"
)

// Record kinds.
const (
	KindRectifiedDataset        = "RectifiedDataset"
	KindReferenceableDataset    = "ReferenceableDataset"
	KindRectifiedStitchedMosaic = "RectifiedStitchedMosaic"
	KindDatasetSeries           = "DatasetSeries"
)

// Record is the serialised form of an EO object as stored in Postgres,
// the caches, the service config and the crawler output. Members lists
// the identifiers of the datasets contained in a mosaic or series.
type Record struct {
	Kind         string       `json:"kind" yaml:"kind"`
	Identifier   string       `json:"identifier" yaml:"identifier"`
	EOIdentifier string       `json:"eo_id,omitempty" yaml:"eo_id,omitempty"`
	BeginTime    string       `json:"begin_time" yaml:"begin_time"`
	EndTime      string       `json:"end_time" yaml:"end_time"`
	Footprint    string       `json:"footprint" yaml:"footprint"`
	SRID         int          `json:"srid,omitempty" yaml:"srid,omitempty"`
	Size         [2]int       `json:"size,omitempty" yaml:"size,omitempty"`
	Extent       [4]float64   `json:"extent,omitempty" yaml:"extent,omitempty"`
	AxisLabels   []string     `json:"axis_labels,omitempty" yaml:"axis_labels,omitempty"`
	RangeType    string       `json:"range_type,omitempty" yaml:"range_type,omitempty"`
	Bands        []BandRecord `json:"bands,omitempty" yaml:"bands,omitempty"`
	Files        []string     `json:"files,omitempty" yaml:"files,omitempty"`
	Members      []string     `json:"members,omitempty" yaml:"members,omitempty"`
	EOMetadata   string       `json:"eo_metadata,omitempty" yaml:"eo_metadata,omitempty"`
}

type BandRecord struct {
	Name               string     `json:"name" yaml:"name"`
	Identifier         string     `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	Definition         string     `json:"definition,omitempty" yaml:"definition,omitempty"`
	UOM                string     `json:"uom,omitempty" yaml:"uom,omitempty"`
	DataType           string     `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	NilValues          []NilValue `json:"nil_values,omitempty" yaml:"nil_values,omitempty"`
	AllowedValues      [2]float64 `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	SignificantFigures int        `json:"significant_figures,omitempty" yaml:"significant_figures,omitempty"`
	Expression         string     `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// IsComposite reports whether the record references member records.
func (r *Record) IsComposite() bool {
	return r.Kind == KindRectifiedStitchedMosaic || r.Kind == KindDatasetSeries
}

func (r *Record) metadata() (EOMetadata, error) {
	m := EOMetadata{ID: r.Identifier, EOID: r.EOIdentifier, Raw: []byte(r.EOMetadata)}
	if len(r.Identifier) == 0 {
		return m, fmt.Errorf("record without identifier")
	}

	var err error
	if len(r.BeginTime) > 0 {
		if m.BeginTime, err = ParseTime(r.BeginTime); err != nil {
			return m, fmt.Errorf("%s: begin_time: %v", r.Identifier, err)
		}
	}
	if len(r.EndTime) > 0 {
		if m.EndTime, err = ParseTime(r.EndTime); err != nil {
			return m, fmt.Errorf("%s: end_time: %v", r.Identifier, err)
		}
	} else {
		m.EndTime = m.BeginTime
	}
	if m.EndTime.Before(m.BeginTime) {
		return m, fmt.Errorf("%s: end_time before begin_time", r.Identifier)
	}

	if len(strings.TrimSpace(r.Footprint)) > 0 {
		if m.Foot, err = ParseFootprint(r.Footprint, 4326); err != nil {
			return m, fmt.Errorf("%s: %v", r.Identifier, err)
		}
	}
	if len(m.Raw) == 0 {
		m.Raw = nil
	}
	return m, nil
}

func (r *Record) grid() Grid {
	g := Grid{SRID: r.SRID, Size: r.Size, Extent: r.Extent, AxisLabels: r.AxisLabels}
	if g.SRID == 0 {
		g.SRID = 4326
	}
	return g
}

func (r *Record) rangeType() *RangeType {
	rt := &RangeType{Name: r.RangeType}
	for _, b := range r.Bands {
		rt.Channels = append(rt.Channels, Channel{
			Name:               b.Name,
			Identifier:         b.Identifier,
			Description:        b.Description,
			Definition:         b.Definition,
			UOM:                b.UOM,
			DataType:           b.DataType,
			NilValues:          b.NilValues,
			AllowedValues:      b.AllowedValues,
			SignificantFigures: b.SignificantFigures,
			Expression:         b.Expression,
		})
	}
	return rt
}

// ToObject builds the view of a single record. Members of composites are
// resolved through lookup, which returns false for unknown identifiers.
func (r *Record) ToObject(lookup func(id string) (Object, bool)) (Object, error) {
	meta, err := r.metadata()
	if err != nil {
		return nil, err
	}

	members := func() ([]Object, error) {
		var out []Object
		for _, id := range r.Members {
			o, ok := lookup(id)
			if !ok {
				return nil, fmt.Errorf("%s: unknown member '%s'", r.Identifier, id)
			}
			out = append(out, o)
		}
		return out, nil
	}

	switch r.Kind {
	case KindRectifiedDataset, "":
		if meta.Foot == nil {
			g := r.grid()
			if meta.Foot, err = BBoxFootprint(g.Extent, g.SRID).Transform(4326); err != nil {
				return nil, fmt.Errorf("%s: extent footprint: %v", r.Identifier, err)
			}
		}
		return &RectifiedDataset{EOMetadata: meta, GridDef: r.grid(), Range: r.rangeType(), Files: r.Files}, nil

	case KindReferenceableDataset:
		return &ReferenceableDataset{EOMetadata: meta, GridDef: r.grid(), Range: r.rangeType(), Files: r.Files}, nil

	case KindRectifiedStitchedMosaic:
		ms, err := members()
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			if _, ok := m.(*RectifiedDataset); !ok {
				return nil, fmt.Errorf("%s: mosaic member '%s' is a %s", r.Identifier, m.Identifier(), Subtype(m))
			}
		}
		if err = fillCompositeExtent(&meta, ms); err != nil {
			return nil, fmt.Errorf("%s: %v", r.Identifier, err)
		}
		return &RectifiedStitchedMosaic{EOMetadata: meta, GridDef: r.grid(), Range: r.rangeType(), Datasets: ms}, nil

	case KindDatasetSeries:
		ms, err := members()
		if err != nil {
			return nil, err
		}
		if err = fillCompositeExtent(&meta, ms); err != nil {
			return nil, fmt.Errorf("%s: %v", r.Identifier, err)
		}
		return &DatasetSeries{EOMetadata: meta, Members: ms}, nil
	}
	return nil, fmt.Errorf("%s: unknown record kind '%s'", r.Identifier, r.Kind)
}

// fillCompositeExtent derives missing time and footprint extents of a
// composite from its members. The derived footprint is the EPSG:4326 box
// around the members having one.
func fillCompositeExtent(meta *EOMetadata, members []Object) error {
	if len(members) == 0 {
		return nil
	}
	needTime := meta.BeginTime.IsZero() && meta.EndTime.IsZero()
	needFoot := meta.Foot == nil

	var (
		bbox    [4]float64
		hasFoot bool
	)
	for i, m := range members {
		b, e := m.(HasTemporalExtent).TimeExtent()
		if needTime {
			if i == 0 || b.Before(meta.BeginTime) {
				meta.BeginTime = b
			}
			if i == 0 || e.After(meta.EndTime) {
				meta.EndTime = e
			}
		}

		f := m.(HasFootprint).Footprint()
		if !needFoot || f == nil {
			continue
		}
		f, err := f.Transform(4326)
		if err != nil {
			return fmt.Errorf("member '%s': %v", m.Identifier(), err)
		}
		if !hasFoot {
			bbox, hasFoot = f.BBox, true
		} else {
			bbox = Union(bbox, f.BBox)
		}
	}
	if needFoot && hasFoot {
		meta.Foot = BBoxFootprint(bbox, 4326)
	}
	return nil
}

// Resolve builds the views of a set of records in their declaration order.
// Composite records may reference records declared anywhere in the set.
func Resolve(records []Record) ([]Object, error) {
	byID := make(map[string]*Record, len(records))
	for i := range records {
		id := records[i].Identifier
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate record identifier '%s'", id)
		}
		byID[id] = &records[i]
	}

	built := make(map[string]Object, len(records))
	visiting := make(map[string]bool)
	var build func(id string) (Object, error)
	build = func(id string) (Object, error) {
		if o, ok := built[id]; ok {
			return o, nil
		}
		rec, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown record '%s'", id)
		}
		if visiting[id] {
			return nil, fmt.Errorf("record '%s' contains itself", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		var firstErr error
		o, err := rec.ToObject(func(mid string) (Object, bool) {
			m, err := build(mid)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return nil, false
			}
			return m, true
		})
		if firstErr != nil {
			return nil, firstErr
		}
		if err != nil {
			return nil, err
		}
		built[id] = o
		return o, nil
	}

	out := make([]Object, 0, len(records))
	for i := range records {
		o, err := build(records[i].Identifier)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

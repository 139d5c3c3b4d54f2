package encoder

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/nci/eows/coverages"
)

// GMLID makes an identifier usable as gml:id.
func GMLID(id string) string {
	if len(id) > 0 && unicode.IsDigit(rune(id[0])) {
		return "gmlid_" + id
	}
	return id
}

func crsURL(srid int) string {
	return fmt.Sprintf("http://www.opengis.net/def/crs/EPSG/0/%d", srid)
}

func projected(srid int) bool {
	g := coverages.Grid{SRID: srid}
	return g.Projected()
}

// pair formats a coordinate pair in the axis order of srid. Geographic
// CRSs are latitude first.
func pair(srid int, x, y float64) string {
	if projected(srid) {
		return fmt.Sprintf("%.3f %.3f", x, y)
	}
	return fmt.Sprintf("%.8f %.8f", y, x)
}

func axisLabels(g *coverages.Grid) string {
	l := g.Labels()
	if projected(g.SRID) || len(g.AxisLabels) == 2 {
		return l[0] + " " + l[1]
	}
	return l[1] + " " + l[0]
}

// BoundedBy encodes a gml:boundedBy envelope slightly larger than bbox so
// that the envelope encloses the data.
func BoundedBy(bbox [4]float64, srid int) Node {
	eps, labels, uoms := 0.000000005, "lat long", "deg deg"
	if projected(srid) {
		eps, labels, uoms = 0.0005, "x y", "m m"
	}
	return N("gml", "boundedBy",
		N("gml", "Envelope",
			Attr("", "srsName", crsURL(srid)),
			Attr("", "axisLabels", labels),
			Attr("", "uomLabels", uoms),
			Attr("", "srsDimension", "2"),
			N("gml", "lowerCorner", pair(srid, bbox[0]-eps, bbox[1]-eps)),
			N("gml", "upperCorner", pair(srid, bbox[2]+eps, bbox[3]+eps)),
		),
	)
}

func gridEnvelope(g *coverages.Grid) Node {
	return N("gml", "limits",
		N("gml", "GridEnvelope",
			N("gml", "low", "0 0"),
			N("gml", "high", fmt.Sprintf("%d %d", g.Size[0]-1, g.Size[1]-1)),
		),
	)
}

func RectifiedGrid(g *coverages.Grid, name string) Node {
	srs := crsURL(g.SRID)
	origin := g.Origin()
	off := g.Offsets()
	return N("gml", "RectifiedGrid",
		Attr("gml", "id", GMLID(name)),
		Attr("", "dimension", "2"),
		gridEnvelope(g),
		N("gml", "axisLabels", axisLabels(g)),
		N("gml", "origin",
			N("gml", "Point",
				Attr("gml", "id", GMLID(name+"_origin")),
				Attr("", "srsName", srs),
				N("gml", "pos", pair(g.SRID, origin[0], origin[1])),
			),
		),
		N("gml", "offsetVector", Attr("", "srsName", srs), pair(g.SRID, off[0][0], off[0][1])),
		N("gml", "offsetVector", Attr("", "srsName", srs), pair(g.SRID, off[1][0], off[1][1])),
	)
}

func ReferenceableGrid(g *coverages.Grid, name string) Node {
	return N("gml", "ReferenceableGrid",
		Attr("gml", "id", GMLID(name)),
		Attr("", "dimension", "2"),
		gridEnvelope(g),
		N("gml", "axisLabels", axisLabels(g)),
	)
}

// DomainSet encodes the grid of a coverage.
func DomainSet(o coverages.Object) Node {
	name := o.Identifier() + "_grid"
	switch c := o.(type) {
	case *coverages.ReferenceableDataset:
		return N("gml", "domainSet", ReferenceableGrid(c.Grid(), name))
	case coverages.HasGrid:
		return N("gml", "domainSet", RectifiedGrid(c.Grid(), name))
	}
	return N("gml", "domainSet")
}

func field(c coverages.Channel) Node {
	quantity := []interface{}{}
	if len(c.Definition) > 0 {
		quantity = append(quantity, Attr("", "definition", c.Definition))
	}
	quantity = append(quantity, N("swe", "description", c.Description))

	if len(c.NilValues) > 0 {
		var nils []Node
		for _, nv := range c.NilValues {
			nils = append(nils, N("swe", "nilValue", Attr("", "reason", nv.Reason), nv.Value))
		}
		quantity = append(quantity, N("swe", "nilValues", N("swe", "NilValues", nils)))
	}

	uom := c.UOM
	if len(uom) == 0 {
		uom = "W.m-2.Sr-1"
	}
	quantity = append(quantity,
		N("swe", "uom", Attr("", "code", uom)),
		N("swe", "constraint",
			N("swe", "AllowedValues",
				N("swe", "interval", fmt.Sprintf("%v %v", c.AllowedValues[0], c.AllowedValues[1])),
				N("swe", "significantFigures", c.SignificantFigures),
			),
		),
	)

	name := c.Name
	if len(c.Identifier) > 0 {
		name = c.Identifier
	}
	return N("swe", "field", Attr("", "name", name), N("swe", "Quantity", quantity...))
}

// RangeType encodes the channels as a swe:DataRecord.
func RangeType(rt *coverages.RangeType) Node {
	var fields []Node
	if rt != nil {
		for _, c := range rt.Channels {
			fields = append(fields, field(c))
		}
	}
	return N("gmlcov", "rangeType", N("swe", "DataRecord", fields))
}

func timePeriod(id string, o coverages.Object) Node {
	var begin, end string
	if te, ok := o.(coverages.HasTemporalExtent); ok {
		b, e := te.TimeExtent()
		begin, end = coverages.FormatTime(b), coverages.FormatTime(e)
	}
	return N("gml", "TimePeriod",
		Attr("gml", "id", GMLID(id)),
		N("gml", "beginPosition", begin),
		N("gml", "endPosition", end),
	)
}

func posList(r coverages.Ring, srid int) string {
	parts := make([]string, len(r))
	for i, p := range r {
		parts[i] = pair(srid, p[0], p[1])
	}
	return strings.Join(parts, " ")
}

// FootprintNode encodes an eop:Footprint.
func FootprintNode(fp *coverages.Footprint, id string) Node {
	var members []Node
	for i, poly := range fp.Polygons {
		if len(poly) == 0 {
			continue
		}
		surface := []interface{}{
			Attr("gml", "id", GMLID(fmt.Sprintf("polygon_%s_%d", id, i+1))),
			N("gml", "exterior", N("gml", "LinearRing", N("gml", "posList", posList(poly[0], fp.SRID)))),
		}
		for _, hole := range poly[1:] {
			surface = append(surface, N("gml", "interior", N("gml", "LinearRing", N("gml", "posList", posList(hole, fp.SRID)))))
		}
		members = append(members, N("gml", "surfaceMember", N("gml", "Polygon", surface...)))
	}
	srid := fp.SRID
	if srid == 0 {
		srid = 4326
	}
	return N("eop", "Footprint",
		Attr("gml", "id", GMLID("footprint_"+id)),
		N("eop", "multiExtentOf",
			N("gml", "MultiSurface",
				Attr("gml", "id", GMLID("multisurface_"+id)),
				Attr("", "srsName", fmt.Sprintf("EPSG:%d", srid)),
				members,
			),
		),
	)
}

// EarthObservation returns the EO metadata of o. A stored document is
// returned as parsed fragment, otherwise one is generated. A non-nil clip
// replaces the footprint by its intersection with the clip bbox.
func EarthObservation(o coverages.Object, clip *coverages.Footprint) (interface{}, error) {
	fp := o.(coverages.HasFootprint).Footprint()
	if fp != nil && clip != nil {
		cut, ok, err := clipFootprint(fp, clip)
		if err != nil {
			return nil, fmt.Errorf("clipping footprint of '%s': %v", o.Identifier(), err)
		}
		if ok {
			fp = cut
		}
	}
	id := o.Identifier()

	if raw := storedMetadata(o); len(raw) > 0 {
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(raw); err != nil {
			return nil, fmt.Errorf("stored EO metadata of '%s': %v", id, err)
		}
		root := doc.Root()
		if root == nil {
			return nil, fmt.Errorf("stored EO metadata of '%s' is empty", id)
		}
		if clip != nil && fp != nil {
			if foi := root.FindElement("./om:featureOfInterest"); foi != nil {
				for _, c := range foi.ChildElements() {
					foi.RemoveChild(c)
				}
				el, err := EOWCS.Build(FootprintNode(fp, id))
				if err != nil {
					return nil, err
				}
				foi.AddChild(el)
			}
		}
		return root, nil
	}

	var foi interface{}
	if fp != nil {
		foi = FootprintNode(fp, id)
	}
	_, end := o.(coverages.HasTemporalExtent).TimeExtent()
	return N("eop", "EarthObservation",
		Attr("gml", "id", GMLID("eop_"+id)),
		N("om", "phenomenonTime", timePeriod("phen_time_"+id, o)),
		N("om", "resultTime",
			N("gml", "TimeInstant",
				Attr("gml", "id", GMLID("res_time_"+id)),
				N("gml", "timePosition", coverages.FormatTime(end)),
			),
		),
		N("om", "procedure"),
		N("om", "observedProperty"),
		N("om", "featureOfInterest", foi),
		N("om", "result"),
		N("eop", "metaDataProperty",
			N("eop", "EarthObservationMetaData",
				N("eop", "identifier", o.EOIdentifier()),
				N("eop", "acquisitionType", "NOMINAL"),
				N("eop", "status", "ARCHIVED"),
			),
		),
	), nil
}

func storedMetadata(o coverages.Object) []byte {
	switch c := o.(type) {
	case *coverages.RectifiedDataset:
		return c.Raw
	case *coverages.ReferenceableDataset:
		return c.Raw
	case *coverages.RectifiedStitchedMosaic:
		return c.Raw
	case *coverages.DatasetSeries:
		return c.Raw
	}
	return nil
}

// clipFootprint cuts fp to the bbox of clip, reprojected into the SRID of
// fp. It returns false when they do not intersect.
func clipFootprint(fp, clip *coverages.Footprint) (*coverages.Footprint, bool, error) {
	c, err := clip.Transform(fp.SRID)
	if err != nil {
		return nil, false, err
	}
	if !coverages.Intersects(fp.BBox, c.BBox) {
		return nil, false, nil
	}
	return coverages.BBoxFootprint(intersection(fp.BBox, c.BBox), fp.SRID), true, nil
}

func intersection(a, b [4]float64) [4]float64 {
	out := a
	if b[0] > out[0] {
		out[0] = b[0]
	}
	if b[1] > out[1] {
		out[1] = b[1]
	}
	if b[2] < out[2] {
		out[2] = b[2]
	}
	if b[3] < out[3] {
		out[3] = b[3]
	}
	return out
}

// EOMetadata wraps the EO metadata of o for use in coverage
// descriptions.
func EOMetadata(o coverages.Object, clip *coverages.Footprint, lineage ...interface{}) (Node, error) {
	eo, err := EarthObservation(o, clip)
	if err != nil {
		return Node{}, err
	}
	content := append([]interface{}{eo}, lineage...)
	return N("gmlcov", "metadata", N("gmlcov", "Extension", N("wcseo", "EOMetadata", content...))), nil
}

func coverageBBox(o coverages.Object) ([4]float64, int) {
	if hg, ok := o.(coverages.HasGrid); ok {
		g := hg.Grid()
		return g.Extent, g.SRID
	}
	if fp := o.(coverages.HasFootprint).Footprint(); fp != nil {
		return fp.BBox, fp.SRID
	}
	return [4]float64{}, 4326
}

// CoverageDescription encodes a wcs:CoverageDescription with EO metadata.
func CoverageDescription(o coverages.Object, nativeFormat string) (Node, error) {
	meta, err := EOMetadata(o, nil)
	if err != nil {
		return Node{}, err
	}
	bbox, srid := coverageBBox(o)
	var rt *coverages.RangeType
	if hr, ok := o.(coverages.HasRangeType); ok {
		rt = hr.RangeType()
	}
	return N("wcs", "CoverageDescription",
		Attr("gml", "id", GMLID(o.Identifier())),
		BoundedBy(bbox, srid),
		N("wcs", "CoverageId", o.Identifier()),
		meta,
		DomainSet(o),
		RangeType(rt),
		N("wcs", "ServiceParameters",
			N("wcs", "CoverageSubtype", coverages.Subtype(o)),
			N("wcs", "nativeFormat", nativeFormat),
		),
	), nil
}

func CoverageDescriptions(covs []coverages.Object, nativeFormat string) (Node, error) {
	var descs []Node
	for _, c := range covs {
		d, err := CoverageDescription(c, nativeFormat)
		if err != nil {
			return Node{}, err
		}
		descs = append(descs, d)
	}
	return N("wcs", "CoverageDescriptions", descs), nil
}

func seriesBBox(o coverages.Object) [4]float64 {
	if fp := o.(coverages.HasFootprint).Footprint(); fp != nil {
		return fp.BBox
	}
	return [4]float64{}
}

func DatasetSeriesDescription(s coverages.Object) Node {
	return N("wcseo", "DatasetSeriesDescription",
		Attr("gml", "id", GMLID(s.Identifier())),
		BoundedBy(seriesBBox(s), 4326),
		N("wcseo", "DatasetSeriesId", s.Identifier()),
		timePeriod(s.Identifier()+"_timeperiod", s),
	)
}

// EOCoverageSetDescription is the DescribeEOCoverageSet response. Empty
// lists are omitted.
func EOCoverageSetDescription(covs, series []coverages.Object, matched, returned int, nativeFormat string) (Node, error) {
	content := []interface{}{
		Attr("", "numberMatched", fmt.Sprint(matched)),
		Attr("", "numberReturned", fmt.Sprint(returned)),
	}
	if len(covs) > 0 {
		descs, err := CoverageDescriptions(covs, nativeFormat)
		if err != nil {
			return Node{}, err
		}
		content = append(content, descs)
	}
	if len(series) > 0 {
		var descs []Node
		for _, s := range series {
			descs = append(descs, DatasetSeriesDescription(s))
		}
		content = append(content, N("wcseo", "DatasetSeriesDescriptions", descs))
	}
	return N("wcseo", "EOCoverageSetDescription", content...), nil
}

// RangeSet references the file delivered with a multipart coverage.
func RangeSet(reference, mimeType string) Node {
	return N("gml", "rangeSet",
		N("gml", "File",
			N("gml", "rangeParameters",
				Attr("xlink", "arcrole", "fileReference"),
				Attr("xlink", "href", reference),
				Attr("xlink", "role", mimeType),
			),
			N("gml", "fileReference", reference),
			N("gml", "fileStructure"),
			N("gml", "mimeType", mimeType),
		),
	)
}

// ContributingDatasets lists the datasets of a mosaic whose footprints
// intersect clip, with their footprints cut to clip.
func ContributingDatasets(m *coverages.RectifiedStitchedMosaic, clip *coverages.Footprint) (Node, error) {
	var datasets []Node
	for _, d := range m.Children() {
		fp := d.(coverages.HasFootprint).Footprint()
		if fp == nil {
			continue
		}
		contrib := fp
		if clip != nil {
			cut, ok, err := clipFootprint(fp, clip)
			if err != nil {
				return Node{}, fmt.Errorf("clipping footprint of '%s': %v", d.Identifier(), err)
			}
			if !ok {
				continue
			}
			contrib = cut
		}
		datasets = append(datasets, N("wcseo", "dataset",
			N("wcs", "CoverageId", d.Identifier()),
			N("wcseo", "contributingFootprint", FootprintNode(contrib, d.Identifier())),
		))
	}
	return N("wcseo", "datasets", datasets), nil
}

// CoverageDocument is the GML part of a multipart GetCoverage response.
func CoverageDocument(o coverages.Object, clip *coverages.Footprint, reference, mimeType string) (Node, error) {
	meta, err := EOMetadata(o, clip)
	if err != nil {
		return Node{}, err
	}
	bbox, srid := coverageBBox(o)
	if clip != nil {
		bbox, srid = clip.BBox, clip.SRID
	}
	var rt *coverages.RangeType
	if hr, ok := o.(coverages.HasRangeType); ok {
		rt = hr.RangeType()
	}
	content := []interface{}{
		Attr("gml", "id", GMLID(o.Identifier())),
		BoundedBy(bbox, srid),
		DomainSet(o),
		RangeSet(reference, mimeType),
		RangeType(rt),
		meta,
	}
	if m, ok := o.(*coverages.RectifiedStitchedMosaic); ok {
		contrib, err := ContributingDatasets(m, clip)
		if err != nil {
			return Node{}, err
		}
		content = append(content, contrib)
	}
	return N("wcseo", coverages.Subtype(o), content...), nil
}

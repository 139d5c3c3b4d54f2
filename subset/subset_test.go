package subset

import (
	"testing"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/decoder"
	"github.com/nci/eows/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testObjects(t *testing.T) map[string]coverages.Object {
	recs := []coverages.Record{
		{
			Kind:       coverages.KindDatasetSeries,
			Identifier: "series",
			Members:    []string{"march", "april"},
		},
		{
			Kind:       coverages.KindRectifiedDataset,
			Identifier: "march",
			BeginTime:  "2008-03-10T00:00:00Z",
			EndTime:    "2008-03-15T00:00:00Z",
			Size:       [2]int{100, 100},
			Extent:     [4]float64{0, 0, 10, 10},
		},
		{
			Kind:       coverages.KindRectifiedDataset,
			Identifier: "april",
			BeginTime:  "2008-04-01T00:00:00Z",
			EndTime:    "2008-04-02T00:00:00Z",
			Size:       [2]int{100, 100},
			Extent:     [4]float64{20, 20, 30, 30},
		},
	}
	objs, err := coverages.Resolve(recs)
	require.NoError(t, err)
	out := map[string]coverages.Object{}
	for _, o := range objs {
		out[o.Identifier()] = o
	}
	return out
}

func mustSubsets(t *testing.T, exprs ...string) *Subsets {
	items, err := ParseKVP(exprs)
	require.NoError(t, err)
	s, err := New(items)
	require.NoError(t, err)
	return s
}

func kindOf(err error) utils.ErrorKind {
	return utils.AsOWSError(err).Kind
}

func TestParseKVP(t *testing.T) {
	items, err := ParseKVP([]string{
		`Lat,http://www.opengis.net/def/crs/EPSG/0/4326(32,47)`,
		`phenomenonTime("2006-08-01","2006-08-22T09:22:00Z")`,
		`x(12.5)`,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	lat := items[0].(*Trim)
	assert.Equal(t, AxisY, lat.Axis())
	assert.Equal(t, "http://www.opengis.net/def/crs/EPSG/0/4326", lat.CRS)
	assert.Equal(t, 32.0, lat.Low.Value)
	assert.Equal(t, 47.0, lat.High.Value)

	tm := items[1].(*Trim)
	assert.Equal(t, time.Date(2006, 8, 22, 9, 22, 0, 0, time.UTC), tm.High.Time)

	x := items[2].(*Slice)
	assert.Equal(t, 12.5, x.Point.Value)

	open, err := ParseKVP([]string{`t(*,"2008-03-13T10:00:15Z")`})
	require.NoError(t, err)
	assert.Nil(t, open[0].(*Trim).Low)
}

func TestParseKVPErrors(t *testing.T) {
	cases := []struct {
		expr string
		kind utils.ErrorKind
	}{
		{`z(1,2)`, utils.KindInvalidAxisLabel},
		{`height(1)`, utils.KindInvalidAxisLabel},
		{`time(2008-03-13,2008-03-14)`, utils.KindInvalidSubsetting},
		{`x(a,b)`, utils.KindInvalidSubsetting},
		{`x(5,1)`, utils.KindInvalidSubsetting},
		{`x[1,2]`, utils.KindInvalidSubsetting},
		{`x()`, utils.KindInvalidSubsetting},
	}
	for _, c := range cases {
		_, err := ParseKVP([]string{c.expr})
		require.Error(t, err, c.expr)
		assert.Equal(t, c.kind, kindOf(err), c.expr)
	}
}

func TestNewValidation(t *testing.T) {
	items, err := ParseKVP([]string{`x(1,2)`, `long(3,4)`})
	require.NoError(t, err)
	_, err = New(items)
	assert.Equal(t, utils.KindInvalidSubsetting, kindOf(err), "two subsets on one axis")

	items, err = ParseKVP([]string{`x,http://www.opengis.net/def/crs/EPSG/0/4326(1,2)`, `y,http://www.opengis.net/def/crs/EPSG/0/3857(1,2)`})
	require.NoError(t, err)
	_, err = New(items)
	assert.Equal(t, utils.KindInvalidSubsetting, kindOf(err), "mixed spatial CRSs")

	items, err = ParseKVP([]string{`x,http://example.com/crs/unknown(1,2)`})
	require.NoError(t, err)
	_, err = New(items)
	assert.Equal(t, utils.KindUnknownCRS, kindOf(err))

	items, err = ParseKVP([]string{`time,http://www.opengis.net/def/trs/ISO-8601/0/Julian("2008-01-01",)`})
	require.NoError(t, err)
	_, err = New(items)
	assert.Equal(t, utils.KindUnknownCRS, kindOf(err))
}

func TestParseCRS(t *testing.T) {
	for in, srid := range map[string]int{
		"http://www.opengis.net/def/crs/EPSG/0/4326": 4326,
		"urn:ogc:def:crs:EPSG::32633":                32633,
		"urn:ogc:def:crs:EPSG:6.3:4326":              4326,
		"EPSG:3857":                                  3857,
	} {
		c, err := ParseCRS(in)
		require.NoError(t, err, in)
		assert.Equal(t, srid, c.SRID, in)
	}
	c, err := ParseCRS(ImageCRS)
	require.NoError(t, err)
	assert.True(t, c.Image)
}

func TestTemporalContainment(t *testing.T) {
	objs := testObjects(t)
	s := mustSubsets(t, `time(*,"2008-03-13T10:00:15Z")`)

	ok, err := s.Matches(objs["march"], Overlaps, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Matches(objs["march"], Contains, nil)
	require.NoError(t, err)
	assert.False(t, ok, "dataset extends past the upper bound")

	slice := mustSubsets(t, `t("2008-03-12")`)
	ok, err = slice.Matches(objs["march"], Overlaps, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = slice.Matches(objs["april"], Overlaps, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOmittedBoundsUseOuterCollection(t *testing.T) {
	objs := testObjects(t)
	series := objs["series"]

	// the lower bound defaults to the series begin, so march is contained
	s := mustSubsets(t, `time(,"2008-03-20")`)
	ok, err := s.Matches(objs["march"], Contains, series)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Matches(objs["april"], Contains, series)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpatialFilter(t *testing.T) {
	objs := testObjects(t)
	list := []coverages.Object{objs["march"], objs["april"]}

	s := mustSubsets(t, `x(5,25)`, `y(5,25)`)
	got, err := s.Filter(list, Overlaps, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Filter(list, Contains, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	s = mustSubsets(t, `Long,http://www.opengis.net/def/crs/EPSG/0/4326(-1,11)`)
	got, err = s.Filter(list, Contains, objs["series"])
	require.NoError(t, err)
	require.Len(t, got, 1, "omitted y bounds default to the series footprint")
	assert.Equal(t, "march", got[0].Identifier())

	s = mustSubsets(t, `lat(25)`)
	got, err = s.Filter(list, Overlaps, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "april", got[0].Identifier())
}

func TestInvalidAxisRegardlessOfContainment(t *testing.T) {
	for _, c := range []string{"overlaps", "contains"} {
		_, err := ParseContainment(c)
		require.NoError(t, err)
		_, err = ParseKVP([]string{`z(0,1)`})
		assert.Equal(t, utils.KindInvalidAxisLabel, kindOf(err), c)
	}
	_, err := ParseContainment("touches")
	assert.Equal(t, utils.KindInvalidParameterValue, kindOf(err))
}

func TestCollect(t *testing.T) {
	objs := testObjects(t)

	got, err := mustSubsets(t).Collect(objs["series"], Overlaps)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "march", got[0].Identifier(), "storage order is kept")

	got, err = mustSubsets(t, `time("2008-04-01T12:00:00Z",)`).Collect(objs["series"], Overlaps)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "april", got[0].Identifier())

	got, err = mustSubsets(t, `t("2009-01-01")`).Collect(objs["series"], Overlaps)
	require.NoError(t, err)
	assert.Empty(t, got, "a failing slice on the series short-circuits")
}

func TestBoundingPolygon(t *testing.T) {
	objs := testObjects(t)
	march := objs["march"]

	fp, err := mustSubsets(t, `x(10,50)`, `y(20,40)`).BoundingPolygon(march)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 6, 5, 8}, fp.BBox[:], 1e-9)
	require.Len(t, fp.Polygons[0][0], 5)
	assert.Equal(t, fp.Polygons[0][0][0], fp.Polygons[0][0][4], "ring is closed")

	fp, err = mustSubsets(t, `x(10,50)`).BoundingPolygon(march)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0, 5, 10}, fp.BBox[:], 1e-9, "y stays unclipped")

	fp, err = mustSubsets(t, `x,EPSG:4326(2,20)`, `y,EPSG:4326(-5,3)`).BoundingPolygon(march)
	require.NoError(t, err)
	assert.Equal(t, [4]float64{2, 0, 10, 3}, fp.BBox)
}

func TestParseXML(t *testing.T) {
	doc, err := decoder.ParseDocument([]byte(`<wcs:GetCoverage xmlns:wcs="http://www.opengis.net/wcs/2.0" service="WCS" version="2.0.1">
  <wcs:CoverageId>march</wcs:CoverageId>
  <wcs:DimensionTrim>
    <wcs:Dimension crs="http://www.opengis.net/def/crs/EPSG/0/4326">Long</wcs:Dimension>
    <wcs:TrimLow>1</wcs:TrimLow>
    <wcs:TrimHigh>4</wcs:TrimHigh>
  </wcs:DimensionTrim>
  <wcs:DimensionSlice>
    <wcs:Dimension>phenomenonTime</wcs:Dimension>
    <wcs:SlicePoint>2008-03-12T00:00:00Z</wcs:SlicePoint>
  </wcs:DimensionSlice>
</wcs:GetCoverage>`))
	require.NoError(t, err)
	nodes, err := decoder.MustCompilePath("/{*}*").Select(decoder.RootNode(doc))
	require.NoError(t, err)

	var subsetNodes []decoder.Node
	for _, n := range nodes {
		if n.LocalName() == "DimensionTrim" || n.LocalName() == "DimensionSlice" {
			subsetNodes = append(subsetNodes, n)
		}
	}
	items, err := ParseXML(subsetNodes)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, AxisX, items[0].Axis())
	assert.Equal(t, "http://www.opengis.net/def/crs/EPSG/0/4326", items[0].Crs())
	assert.Equal(t, time.Date(2008, 3, 12, 0, 0, 0, 0, time.UTC), items[1].(*Slice).Point.Time)
}

func projectedObjects(t *testing.T) map[string]coverages.Object {
	recs := []coverages.Record{
		{Kind: coverages.KindDatasetSeries, Identifier: "mixed", Members: []string{"utm", "geo"}},
		{
			Kind:       coverages.KindRectifiedDataset,
			Identifier: "utm",
			BeginTime:  "2020-01-01T00:00:00Z",
			SRID:       32755,
			Size:       [2]int{100, 100},
			Extent:     [4]float64{500000, 6000000, 600000, 6100000},
		},
		{
			Kind:       coverages.KindRectifiedDataset,
			Identifier: "geo",
			BeginTime:  "2020-02-01T00:00:00Z",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{140, -40, 141, -39},
		},
	}
	objs, err := coverages.Resolve(recs)
	require.NoError(t, err)
	out := map[string]coverages.Object{}
	for _, o := range objs {
		out[o.Identifier()] = o
	}
	return out
}

func TestCollectProjectedMembers(t *testing.T) {
	objs := projectedObjects(t)

	s := mustSubsets(t, `Lat,http://www.opengis.net/def/crs/EPSG/0/4326(-40,-30)`, `Long,http://www.opengis.net/def/crs/EPSG/0/4326(140,150)`)
	got, err := s.Collect(objs["mixed"], Overlaps)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "utm", got[0].Identifier())
	assert.Equal(t, "geo", got[1].Identifier())

	got, err = mustSubsets(t, `Long,EPSG:4326(147.5,150)`).Collect(objs["mixed"], Overlaps)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "utm", got[0].Identifier())

	got, err = mustSubsets(t, `Long,EPSG:4326(146,150)`).Collect(objs["mixed"], Contains)
	require.NoError(t, err)
	require.Len(t, got, 1, "omitted lat bounds come from the series footprint")
	assert.Equal(t, "utm", got[0].Identifier())
}

func TestFilterInProjectedCRS(t *testing.T) {
	objs := projectedObjects(t)
	list := []coverages.Object{objs["utm"], objs["geo"]}

	got, err := mustSubsets(t, `x,EPSG:32755(500000,550000)`).Filter(list, Overlaps, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "utm", got[0].Identifier())

	_, err = mustSubsets(t, `x,EPSG:999999(0,1)`).Filter(list, Overlaps, nil)
	assert.Equal(t, utils.KindOptionNotSupported, kindOf(err))
}

func TestBoundingPolygonClampsPixels(t *testing.T) {
	march := testObjects(t)["march"]

	fp, err := mustSubsets(t, `x(0,200)`).BoundingPolygon(march)
	require.NoError(t, err)
	assert.Equal(t, [4]float64{0, 0, 10, 10}, fp.BBox)

	fp, err = mustSubsets(t, `x(-50,50)`, `y(-10,300)`).BoundingPolygon(march)
	require.NoError(t, err)
	assert.Equal(t, [4]float64{0, 0, 5, 10}, fp.BBox)
}

func TestBoundingPolygonProjected(t *testing.T) {
	utm := projectedObjects(t)["utm"]

	fp, err := mustSubsets(t, `Long,EPSG:4326(147.5,150)`).BoundingPolygon(utm)
	require.NoError(t, err)
	assert.Equal(t, 4326, fp.SRID)
	assert.Equal(t, 147.5, fp.BBox[0])
	assert.InDelta(t, 148.1, fp.BBox[2], 0.1)
	assert.InDelta(t, -36.14, fp.BBox[1], 0.1)

	fp, err = mustSubsets(t, `x,EPSG:32755(520000,530000)`).BoundingPolygon(utm)
	require.NoError(t, err)
	assert.Equal(t, 32755, fp.SRID)
	assert.Equal(t, 520000.0, fp.BBox[0])
	assert.Equal(t, 530000.0, fp.BBox[2])
	assert.InDelta(t, 6000000, fp.BBox[1], 10)
	assert.InDelta(t, 6100000, fp.BBox[3], 10)
}

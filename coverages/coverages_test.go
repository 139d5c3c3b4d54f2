package coverages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareFootprint = `{"type":"Polygon","coordinates":[[[11,32],[28,32],[28,46],[11,46],[11,32]]]}`

func testRecords() []Record {
	return []Record{
		{
			Kind:       KindDatasetSeries,
			Identifier: "MER_FRS_1P",
			Members:    []string{"mosaic", "scene_b"},
		},
		{
			Kind:       KindRectifiedStitchedMosaic,
			Identifier: "mosaic",
			Members:    []string{"scene_a"},
			Size:       [2]int{100, 100},
			Extent:     [4]float64{11, 32, 28, 46},
		},
		{
			Kind:       KindRectifiedDataset,
			Identifier: "scene_a",
			BeginTime:  "2006-08-16T09:09:29Z",
			EndTime:    "2006-08-16T09:12:46Z",
			Footprint:  squareFootprint,
			Size:       [2]int{541, 449},
			Extent:     [4]float64{11, 32, 28, 46},
			Bands:      []BandRecord{{Name: "red"}, {Name: "nir"}, {Name: "ndvi", Expression: "(nir - red) / (nir + red)"}},
			Files:      []string{"/data/scene_a.tif"},
		},
		{
			Kind:       KindRectifiedDataset,
			Identifier: "scene_b",
			BeginTime:  "2006-08-30",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{0, 0, 10, 10},
		},
	}
}

func TestResolve(t *testing.T) {
	objs, err := Resolve(testRecords())
	require.NoError(t, err)
	require.Len(t, objs, 4)

	series, ok := objs[0].(*DatasetSeries)
	require.True(t, ok)
	require.Len(t, series.Children(), 2)
	assert.Equal(t, "mosaic", series.Children()[0].Identifier())

	begin, end := series.TimeExtent()
	assert.Equal(t, time.Date(2006, 8, 16, 9, 9, 29, 0, time.UTC), begin)
	assert.Equal(t, time.Date(2006, 8, 30, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, [4]float64{0, 0, 28, 46}, series.Footprint().BBox)

	scene := objs[2].(*RectifiedDataset)
	assert.Equal(t, [4]float64{11, 32, 28, 46}, scene.Footprint().BBox)
	assert.Equal(t, 2, scene.RangeType().Index("ndvi"))
	assert.Equal(t, "RectifiedStitchedMosaic", Subtype(objs[1]))
	assert.False(t, IsCoverage(series))

	b := objs[3].(*RectifiedDataset)
	bb, be := b.TimeExtent()
	assert.Equal(t, bb, be, "missing end time defaults to begin time")
	assert.Equal(t, [4]float64{0, 0, 10, 10}, b.Footprint().BBox, "grid extent is the default footprint")
}

func TestResolveErrors(t *testing.T) {
	recs := testRecords()
	recs[0].Members = append(recs[0].Members, "missing")
	_, err := Resolve(recs)
	assert.Error(t, err)

	recs = testRecords()
	recs[1].Members = []string{"MER_FRS_1P"}
	_, err = Resolve(recs)
	assert.Error(t, err, "mosaics may only hold rectified datasets")

	recs = testRecords()
	recs = append(recs, recs[3])
	_, err = Resolve(recs)
	assert.Error(t, err, "duplicate identifiers")
}

func TestParseFootprint(t *testing.T) {
	f, err := ParseFootprint(`{"type":"Feature","geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[2,0],[2,1],[0,0]]],[[[5,5],[6,5],[6,7],[5,5]]]]},"properties":{}}`, 4326)
	require.NoError(t, err)
	assert.Len(t, f.Polygons, 2)
	assert.Equal(t, [4]float64{0, 0, 6, 7}, f.BBox)

	_, err = ParseFootprint(`{"type":"Point","coordinates":[1,2]}`, 4326)
	assert.Error(t, err)

	_, err = ParseFootprint(`not json`, 4326)
	assert.Error(t, err)
}

func TestBBoxPredicates(t *testing.T) {
	a := [4]float64{0, 0, 10, 10}
	assert.True(t, Intersects(a, [4]float64{10, 10, 20, 20}), "touching boxes intersect")
	assert.False(t, Intersects(a, [4]float64{10.1, 0, 20, 10}))
	assert.True(t, Within([4]float64{1, 1, 9, 9}, a))
	assert.False(t, Within([4]float64{1, 1, 11, 9}, a))
}

func TestGridGeometry(t *testing.T) {
	g := Grid{SRID: 4326, Size: [2]int{100, 50}, Extent: [4]float64{0, 0, 10, 5}}
	assert.Equal(t, [2]float64{0, 5}, g.Origin())
	assert.Equal(t, [2][2]float64{{0.1, 0}, {0, -0.1}}, g.Offsets())
	assert.Equal(t, []string{"long", "lat"}, g.Labels())

	utm := Grid{SRID: 32633}
	assert.True(t, utm.Projected())
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2008-03-13T10:00:15Z", "2008-03-13T12:00:15+02:00", "2008-03-13T10:00:15", "2008-03-13T10:00:15.000Z"} {
		tm, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.Date(2008, 3, 13, 10, 0, 15, 0, time.UTC), tm, s)
	}
	_, err := ParseTime("13/03/2008")
	assert.Error(t, err)
}

// utmScene covers eastings 500 to 600 km and northings 6000 to 6100 km of
// UTM zone 55 south, west edge on the 147°E central meridian.
func utmScene(id string) Record {
	return Record{
		Kind:       KindRectifiedDataset,
		Identifier: id,
		BeginTime:  "2020-01-01T00:00:00Z",
		SRID:       32755,
		Size:       [2]int{100, 100},
		Extent:     [4]float64{500000, 6000000, 600000, 6100000},
	}
}

func TestProjectedExtentFootprint(t *testing.T) {
	objs, err := Resolve([]Record{utmScene("utm")})
	require.NoError(t, err)

	scene := objs[0].(*RectifiedDataset)
	assert.Equal(t, 32755, scene.Grid().SRID)
	fp := scene.Footprint()
	require.NotNil(t, fp)
	assert.Equal(t, 4326, fp.SRID)
	assert.InDelta(t, 147.0, fp.BBox[0], 0.01)
	assert.InDelta(t, 148.1, fp.BBox[2], 0.1)
	assert.InDelta(t, -36.14, fp.BBox[1], 0.1)
	assert.InDelta(t, -35.24, fp.BBox[3], 0.1)
}

func TestCompositeFootprintAcrossCRSs(t *testing.T) {
	recs := []Record{
		{Kind: KindDatasetSeries, Identifier: "mixed", Members: []string{"utm", "geo"}},
		utmScene("utm"),
		{
			Kind:       KindRectifiedDataset,
			Identifier: "geo",
			BeginTime:  "2020-02-01T00:00:00Z",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{140, -40, 141, -39},
		},
	}
	objs, err := Resolve(recs)
	require.NoError(t, err)

	fp := objs[0].(*DatasetSeries).Footprint()
	require.NotNil(t, fp)
	assert.Equal(t, 4326, fp.SRID)
	assert.Equal(t, 140.0, fp.BBox[0])
	assert.Equal(t, -40.0, fp.BBox[1])
	assert.InDelta(t, 148.1, fp.BBox[2], 0.1)
	assert.InDelta(t, -35.24, fp.BBox[3], 0.1)
}

func TestCompositeFootprintSkipsMembersWithout(t *testing.T) {
	recs := []Record{
		{Kind: KindDatasetSeries, Identifier: "series", Members: []string{"swath", "scene"}},
		{Kind: KindReferenceableDataset, Identifier: "swath", BeginTime: "2020-01-01T00:00:00Z"},
		{
			Kind:       KindRectifiedDataset,
			Identifier: "scene",
			BeginTime:  "2020-01-02T00:00:00Z",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{10, 10, 20, 20},
		},
	}
	objs, err := Resolve(recs)
	require.NoError(t, err)
	assert.Nil(t, objs[1].(*ReferenceableDataset).Footprint())
	assert.Equal(t, [4]float64{10, 10, 20, 20}, objs[0].(*DatasetSeries).Footprint().BBox, "the origin is not part of the union")

	objs, err = Resolve(recs[:2])
	require.NoError(t, err)
	assert.Nil(t, objs[0].(*DatasetSeries).Footprint())
}

func TestFootprintTransform(t *testing.T) {
	fp := BBoxFootprint([4]float64{10, 40, 12, 42}, 4326)
	same, err := fp.Transform(0)
	require.NoError(t, err)
	assert.Same(t, fp, same)

	merc, err := fp.Transform(3857)
	require.NoError(t, err)
	assert.Equal(t, 3857, merc.SRID)
	assert.InDelta(t, 1113194.9, merc.BBox[0], 1)
	assert.InDelta(t, 1335833.9, merc.BBox[2], 1)
	assert.Len(t, merc.Polygons[0][0], 4*edgeSteps+1, "edges are densified")

	back, err := merc.Transform(4326)
	require.NoError(t, err)
	assert.InDeltaSlice(t, fp.BBox[:], back.BBox[:], 1e-6)

	_, err = fp.Transform(999999)
	assert.Error(t, err)

	_, err = Resolve([]Record{{Identifier: "odd", SRID: 999999, Size: [2]int{1, 1}, Extent: [4]float64{0, 0, 1, 1}}})
	assert.Error(t, err, "extents in unknown CRSs have no footprint")
}

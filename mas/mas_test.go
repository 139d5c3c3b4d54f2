package mas

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []coverages.Record {
	return []coverages.Record{
		{
			Kind:       coverages.KindDatasetSeries,
			Identifier: "series",
			Members:    []string{"mosaic", "scene_c"},
		},
		{
			Kind:       coverages.KindRectifiedStitchedMosaic,
			Identifier: "mosaic",
			Members:    []string{"scene_a", "scene_b"},
			Size:       [2]int{100, 100},
			Extent:     [4]float64{0, 0, 20, 10},
		},
		{
			Identifier: "scene_a",
			BeginTime:  "2008-03-01T00:00:00Z",
			EndTime:    "2008-03-02T00:00:00Z",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{0, 0, 10, 10},
		},
		{
			Identifier: "scene_b",
			BeginTime:  "2008-03-05T00:00:00Z",
			EndTime:    "2008-03-06T00:00:00Z",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{10, 0, 20, 10},
		},
		{
			Identifier: "scene_c",
			BeginTime:  "2008-04-01T00:00:00Z",
			Size:       [2]int{10, 10},
			Extent:     [4]float64{100, 40, 110, 50},
		},
	}
}

func date(s string) time.Time {
	t, err := coverages.ParseTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(testRecords())
	require.NoError(t, err)

	r, err := s.Record(ctx, "scene_a")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "scene_a", r.Identifier)

	r, err = s.Record(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, r)

	ids, err := s.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mosaic", "scene_a", "scene_b", "scene_c", "series"}, ids)

	ids, err = s.Identifiers(ctx, coverages.KindDatasetSeries, coverages.KindRectifiedStitchedMosaic)
	require.NoError(t, err)
	assert.Equal(t, []string{"mosaic", "series"}, ids)

	ids, err = s.Intersects(ctx, Query{
		Begin: date("2008-03-04"),
		End:   date("2008-03-31"),
		Kinds: []string{coverages.KindRectifiedDataset},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_b"}, ids)

	ids, err = s.Intersects(ctx, Query{BBox: &[4]float64{5, 5, 12, 6}, Kinds: []string{coverages.KindRectifiedDataset}})
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_a", "scene_b"}, ids)

	ids, err = s.Intersects(ctx, Query{Kinds: []string{coverages.KindRectifiedDataset}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_a"}, ids)
}

func TestMemoryStoreRejectsDanglingMembers(t *testing.T) {
	_, err := NewMemoryStore([]coverages.Record{{Kind: coverages.KindDatasetSeries, Identifier: "s", Members: []string{"nope"}}})
	assert.Error(t, err)
}

func TestCatalogue(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(testRecords())
	require.NoError(t, err)
	c := NewCatalogue(s)

	o, ok, err := c.Lookup(ctx, "series")
	require.NoError(t, err)
	require.True(t, ok)
	series := o.(*coverages.DatasetSeries)
	require.Len(t, series.Children(), 2)
	mosaic := series.Children()[0].(*coverages.RectifiedStitchedMosaic)
	assert.Len(t, mosaic.Children(), 2)

	_, ok, err = c.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.LookupKind(ctx, "series", coverages.KindRectifiedDataset)
	require.NoError(t, err)
	assert.False(t, ok)

	o, ok, err = c.LookupKind(ctx, "scene_a", coverages.KindRectifiedDataset, coverages.KindReferenceableDataset)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "scene_a", o.Identifier())

	objs, err := c.List(ctx, coverages.KindDatasetSeries)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "series", objs[0].Identifier())
}

type countingStore struct {
	Store
	calls int64
	delay time.Duration
}

func (s *countingStore) Record(ctx context.Context, id string) (*coverages.Record, error) {
	atomic.AddInt64(&s.calls, 1)
	time.Sleep(s.delay)
	return s.Store.Record(ctx, id)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	mem, err := NewMemoryStore(testRecords())
	require.NoError(t, err)
	counting := &countingStore{Store: mem, delay: 20 * time.Millisecond}

	c, err := NewCachedStore(counting, 16, nil, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Record(ctx, "scene_a")
			assert.NoError(t, err)
			if assert.NotNil(t, r) {
				assert.Equal(t, "scene_a", r.Identifier)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&counting.calls), int64(8))

	before := atomic.LoadInt64(&counting.calls)
	r, err := c.Record(ctx, "scene_a")
	require.NoError(t, err)
	r.Identifier = "mutated"
	r, err = c.Record(ctx, "scene_a")
	require.NoError(t, err)
	assert.Equal(t, "scene_a", r.Identifier, "cached records are copied")
	assert.Equal(t, before, atomic.LoadInt64(&counting.calls))

	r, err = c.Record(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, r)

	ids, err := c.Intersects(ctx, Query{Kinds: []string{coverages.KindRectifiedDataset}})
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_a", "scene_b", "scene_c"}, ids)

	c.Purge()
	_, err = c.Record(ctx, "scene_a")
	require.NoError(t, err)
	assert.Equal(t, before+1, atomic.LoadInt64(&counting.calls))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("EOWS_TEST_POSTGRES_DSN")
	if len(dsn) == 0 {
		t.Skip("EOWS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(dsn, 2, 4)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateSchema(ctx))
	require.NoError(t, s.Upsert(ctx, testRecords()))

	r, err := s.Record(ctx, "scene_b")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, [4]float64{10, 0, 20, 10}, r.Extent)

	ids, err := s.Intersects(ctx, Query{
		Begin: date("2008-03-04"),
		End:   date("2008-03-31"),
		BBox:  &[4]float64{0, 0, 50, 50},
		Kinds: []string{coverages.KindRectifiedDataset},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"scene_b"}, ids)

	o, ok, err := NewCatalogue(s).Lookup(ctx, "series")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, coverages.KindDatasetSeries, coverages.Subtype(o))
}

func TestProjectedRecordsAreIndexedInLonLat(t *testing.T) {
	utm := coverages.Record{
		Identifier: "utm",
		BeginTime:  "2020-01-01T00:00:00Z",
		SRID:       32755,
		Size:       [2]int{100, 100},
		Extent:     [4]float64{500000, 6000000, 600000, 6100000},
	}
	bbox, ok := recordBBox(&utm)
	require.True(t, ok)
	assert.InDelta(t, 147.0, bbox[0], 0.01)
	assert.InDelta(t, -36.14, bbox[1], 0.1)

	s, err := NewMemoryStore([]coverages.Record{utm})
	require.NoError(t, err)
	ids, err := s.Intersects(context.Background(), Query{BBox: &[4]float64{147.5, -36, 148, -35.5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"utm"}, ids)

	_, ok = recordBBox(&coverages.Record{Identifier: "odd", SRID: 999999, Extent: [4]float64{0, 0, 1, 1}})
	assert.False(t, ok)
}

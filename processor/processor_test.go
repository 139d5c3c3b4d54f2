package processor

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func testRangeType() *coverages.RangeType {
	return &coverages.RangeType{Channels: []coverages.Channel{
		{Name: "red", DataType: "Int16", NilValues: []coverages.NilValue{{Value: "-999"}}},
		{Name: "nir", DataType: "Int16"},
		{Name: "ndvi", Expression: "(nir - red) / (nir + red)"},
	}}
}

func TestParseBandExpressions(t *testing.T) {
	rt := testRangeType()

	be, err := ParseBandExpressions(rt, []string{"ndvi", "red"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ndvi", "red"}, be.ExprNames)
	assert.Equal(t, []string{"nir", "red"}, be.VarList)

	out, err := be.Evaluate(map[string]float64{"red": 1, "nir": 3})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out[0], 1e-9)
	assert.InDelta(t, 1, out[1], 1e-9)

	all, err := ParseBandExpressions(rt, nil)
	require.NoError(t, err)
	assert.Len(t, all.ExprNames, 3)

	_, err = ParseBandExpressions(rt, []string{"blue"})
	assert.Error(t, err)

	bad := &coverages.RangeType{Channels: []coverages.Channel{{Name: "a"}, {Name: "b", Expression: "a + zz"}}}
	_, err = ParseBandExpressions(bad, []string{"b"})
	assert.Error(t, err)
}

func TestWindowFromBBox(t *testing.T) {
	g := &coverages.Grid{SRID: 4326, Size: [2]int{100, 50}, Extent: [4]float64{0, 0, 10, 5}}

	w, err := WindowFromBBox(g, [4]float64{1, 1, 2.05, 4})
	require.NoError(t, err)
	assert.Equal(t, Window{10, 10, 11, 30}, w)

	w, err = WindowFromBBox(g, [4]float64{-5, -5, 50, 50})
	require.NoError(t, err)
	assert.Equal(t, Window{0, 0, 100, 50}, w)
	assert.Equal(t, g.Extent, w.BBox(g))

	_, err = WindowFromBBox(g, [4]float64{20, 20, 30, 30})
	assert.Equal(t, ErrEmptyWindow, err)
}

func testMosaic() *coverages.RectifiedStitchedMosaic {
	rt := testRangeType()
	a := &coverages.RectifiedDataset{
		EOMetadata: coverages.EOMetadata{ID: "a"},
		GridDef:    coverages.Grid{SRID: 4326, Size: [2]int{10, 10}, Extent: [4]float64{0, 0, 10, 10}},
		Range:      rt,
		Files:      []string{"/data/a.tif"},
	}
	b := &coverages.RectifiedDataset{
		EOMetadata: coverages.EOMetadata{ID: "b"},
		GridDef:    coverages.Grid{SRID: 4326, Size: [2]int{10, 10}, Extent: [4]float64{10, 0, 20, 10}},
		Range:      rt,
		Files:      []string{"/data/b.tif"},
	}
	return &coverages.RectifiedStitchedMosaic{
		EOMetadata: coverages.EOMetadata{ID: "m"},
		GridDef:    coverages.Grid{SRID: 4326, Size: [2]int{20, 10}, Extent: [4]float64{0, 0, 20, 10}},
		Range:      rt,
		Datasets:   []coverages.Object{a, b},
	}
}

func TestNewLayer(t *testing.T) {
	m := testMosaic()
	be, err := ParseBandExpressions(m.Range, []string{"ndvi"})
	require.NoError(t, err)

	l, err := NewLayer(m, Window{5, 0, 10, 10}, be)
	require.NoError(t, err)
	require.Len(t, l.Sources, 2)
	assert.Equal(t, LayerSource{File: "/data/a.tif", SrcRect: Window{5, 0, 5, 10}, DstRect: Window{0, 0, 5, 10}}, l.Sources[0])
	assert.Equal(t, LayerSource{File: "/data/b.tif", SrcRect: Window{0, 0, 5, 10}, DstRect: Window{5, 0, 5, 10}}, l.Sources[1])
	require.Len(t, l.Bands, 2)
	assert.Equal(t, 2, l.Bands[0].Index)
	assert.Equal(t, "-999", l.Bands[1].NoData)

	l, err = NewLayer(m.Datasets[0], Window{0, 0, 2, 2}, be)
	require.NoError(t, err)
	assert.Len(t, l.Sources, 1)

	noFiles := *m.Datasets[0].(*coverages.RectifiedDataset)
	noFiles.Files = []string{"x", "y"}
	_, err = NewLayer(&noFiles, Window{0, 0, 2, 2}, be)
	assert.Error(t, err)
}

func TestLayerTemplate(t *testing.T) {
	m := testMosaic()
	be, err := ParseBandExpressions(m.Range, []string{"red"})
	require.NoError(t, err)
	l, err := NewLayer(m, Window{0, 0, 20, 10}, be)
	require.NoError(t, err)

	tmpl, err := NewLayerTemplate("")
	require.NoError(t, err)
	require.NoError(t, tmpl.Render(l))

	assert.Contains(t, l.Description, `<VRTDataset rasterXSize="20" rasterYSize="10">`)
	assert.Contains(t, l.Description, "<SourceFilename relativeToVRT=\"0\">/data/b.tif</SourceFilename>")
	assert.Contains(t, l.Description, `<DstRect xOff="10" yOff="0" xSize="10" ySize="10"/>`)
	assert.Contains(t, l.Description, "<NoDataValue>-999</NoDataValue>")
	assert.Equal(t, 2, strings.Count(l.Description, "<SimpleSource>"))
}

type fakeRenderer struct {
	mu       sync.Mutex
	requests []*structpb.Struct
}

func (f *fakeRenderer) Render(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.GetFields()["format"].GetStringValue() == "image/bogus" {
		return EncodeResult(&RenderResult{Status: 3, Message: "unsupported format"})
	}
	return EncodeResult(&RenderResult{MediaType: "image/tiff", Data: []byte{0x49, 0x49, 0x2a, 0x00}})
}

func startRenderer(t *testing.T, srv RenderServer) *bufconn.Listener {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterRenderServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)
	return lis
}

func TestRenderClient(t *testing.T) {
	fake := &fakeRenderer{}
	lis := startRenderer(t, fake)
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})

	c, err := NewRenderClient([]string{"passthrough:///renderer-a", "passthrough:///renderer-b"}, 0, 2, dialer)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := &Layer{Coverage: "a", OutWidth: 4, OutHeight: 2, Format: "image/tiff", Bands: []LayerBand{{Name: "red"}}}
	res, err := c.Render(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, "image/tiff", res.MediaType)
	assert.Equal(t, []byte{0x49, 0x49, 0x2a, 0x00}, res.Data)

	fake.mu.Lock()
	require.Len(t, fake.requests, 1)
	f := fake.requests[0].GetFields()
	fake.mu.Unlock()
	assert.Equal(t, "a", f["coverage"].GetStringValue())
	assert.Equal(t, float64(4), f["width"].GetNumberValue())
	assert.Equal(t, "red", f["bands"].GetListValue().GetValues()[0].GetStringValue())

	l.Format = "image/bogus"
	_, err = c.Render(ctx, l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestConcLimiterAcquire(t *testing.T) {
	l := NewConcLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx))

	l.Decrease()
	require.NoError(t, l.Acquire(context.Background()))
	l.Decrease()
	l.Wait()
}

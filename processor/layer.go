package processor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/edisonguo/jet"
	"github.com/nci/eows/coverages"
)

// ErrEmptyWindow is returned for subsets that do not intersect a grid.
var ErrEmptyWindow = errors.New("subset does not intersect the coverage")

// Window is a pixel rectangle: x offset, y offset, x size, y size.
type Window [4]int

// WindowFromBBox returns the pixels of g covering bbox, given in the SRID
// of g, clamped to the grid.
func WindowFromBBox(g *coverages.Grid, bbox [4]float64) (Window, error) {
	rx, ry := g.Resolution()
	if rx == 0 || ry == 0 {
		return Window{}, fmt.Errorf("grid without resolution")
	}
	x0 := clamp(int(math.Floor((bbox[0]-g.Extent[0])/rx+1e-9)), 0, g.Size[0])
	x1 := clamp(int(math.Ceil((bbox[2]-g.Extent[0])/rx-1e-9)), 0, g.Size[0])
	y0 := clamp(int(math.Floor((g.Extent[3]-bbox[3])/ry+1e-9)), 0, g.Size[1])
	y1 := clamp(int(math.Ceil((g.Extent[3]-bbox[1])/ry-1e-9)), 0, g.Size[1])
	if x1 <= x0 || y1 <= y0 {
		return Window{}, ErrEmptyWindow
	}
	return Window{x0, y0, x1 - x0, y1 - y0}, nil
}

// BBox returns the extent of w on g.
func (w Window) BBox(g *coverages.Grid) [4]float64 {
	rx, ry := g.Resolution()
	return [4]float64{
		g.Extent[0] + float64(w[0])*rx,
		g.Extent[3] - float64(w[1]+w[3])*ry,
		g.Extent[0] + float64(w[0]+w[2])*rx,
		g.Extent[3] - float64(w[1])*ry,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LayerSource is one file contributing to a layer. SrcRect is read from
// the file and written to DstRect of the layer.
type LayerSource struct {
	File    string
	SrcRect Window
	DstRect Window
}

type LayerBand struct {
	Name     string
	Index    int
	DataType string
	NoData   string
}

// Layer describes one rendering request.
type Layer struct {
	Coverage      string
	SRID          int
	Width         int
	Height        int
	GeoTransform  [6]float64
	BBox          [4]float64
	Sources       []LayerSource
	Bands         []LayerBand
	Expressions   []string
	ExprNames     []string
	OutWidth      int
	OutHeight     int
	OutputSRID    int
	// OutputBBox is the requested extent in OutputSRID, if it differs
	// from BBox.
	OutputBBox    [4]float64
	Interpolation string
	Format        string
	// Description is the rendered layer template.
	Description   string
}

func sourceBand(rt *coverages.RangeType, name string) (LayerBand, error) {
	pos := 0
	for _, c := range rt.Channels {
		if len(c.Expression) > 0 {
			continue
		}
		pos++
		if c.Name == name || c.Identifier == name {
			b := LayerBand{Name: c.Name, Index: pos, DataType: c.DataType}
			if len(b.DataType) == 0 {
				b.DataType = "Float32"
			}
			if len(c.NilValues) > 0 {
				b.NoData = c.NilValues[0].Value
			}
			return b, nil
		}
	}
	return LayerBand{}, fmt.Errorf("no source band '%s'", name)
}

// singleFile returns the one file backing a dataset.
func singleFile(o coverages.Object) (string, error) {
	files := coverages.DataFiles(o)
	if len(files) != 1 {
		return "", fmt.Errorf("coverage '%s' resolves to %d files, expected one", o.Identifier(), len(files))
	}
	return files[0], nil
}

// NewLayer builds the layer reading window w of cov for the channels of be.
// Mosaics read every contributing dataset overlapping the window.
func NewLayer(cov coverages.Object, w Window, be *BandExpressions) (*Layer, error) {
	hg, ok := cov.(coverages.HasGrid)
	if !ok {
		return nil, fmt.Errorf("'%s' is not a coverage", cov.Identifier())
	}
	g := hg.Grid()
	rx, ry := g.Resolution()
	bbox := w.BBox(g)

	l := &Layer{
		Coverage:     cov.Identifier(),
		SRID:         g.SRID,
		Width:        w[2],
		Height:       w[3],
		GeoTransform: [6]float64{bbox[0], rx, 0, bbox[3], 0, -ry},
		BBox:         bbox,
		Expressions:  be.ExprText,
		ExprNames:    be.ExprNames,
		OutWidth:     w[2],
		OutHeight:    w[3],
	}

	rt := cov.(coverages.HasRangeType).RangeType()
	for _, v := range be.VarList {
		b, err := sourceBand(rt, v)
		if err != nil {
			return nil, err
		}
		l.Bands = append(l.Bands, b)
	}

	switch c := cov.(type) {
	case *coverages.RectifiedDataset, *coverages.ReferenceableDataset:
		file, err := singleFile(c)
		if err != nil {
			return nil, err
		}
		l.Sources = append(l.Sources, LayerSource{File: file, SrcRect: w, DstRect: Window{0, 0, w[2], w[3]}})

	case *coverages.RectifiedStitchedMosaic:
		for _, child := range c.Children() {
			cg := child.(coverages.HasGrid).Grid()
			if cg.SRID != g.SRID || !coverages.Intersects(cg.Extent, bbox) {
				continue
			}
			src, err := WindowFromBBox(cg, bbox)
			if err == ErrEmptyWindow {
				continue
			}
			if err != nil {
				return nil, err
			}
			file, err := singleFile(child)
			if err != nil {
				return nil, err
			}
			sb := src.BBox(cg)
			dst := Window{
				int(math.Round((sb[0] - bbox[0]) / rx)),
				int(math.Round((bbox[3] - sb[3]) / ry)),
				int(math.Round((sb[2] - sb[0]) / rx)),
				int(math.Round((sb[3] - sb[1]) / ry)),
			}
			l.Sources = append(l.Sources, LayerSource{File: file, SrcRect: src, DstRect: dst})
		}
		if len(l.Sources) == 0 {
			return nil, ErrEmptyWindow
		}

	default:
		return nil, fmt.Errorf("'%s' is not a coverage", cov.Identifier())
	}
	return l, nil
}

// DefaultLayerTemplate renders a layer as GDAL VRT.
const DefaultLayerTemplate = `{{ layer := . }}<VRTDataset rasterXSize="{{ layer.Width }}" rasterYSize="{{ layer.Height }}">
  <SRS>EPSG:{{ layer.SRID }}</SRS>
  <GeoTransform>{{ geotransform(layer.GeoTransform) }}</GeoTransform>
{{ range i, band := layer.Bands }}  <VRTRasterBand dataType="{{ band.DataType }}" band="{{ i + 1 }}">
    <Description>{{ band.Name }}</Description>
{{ if band.NoData != "" }}    <NoDataValue>{{ band.NoData }}</NoDataValue>
{{ end }}{{ range j, src := layer.Sources }}    <SimpleSource>
      <SourceFilename relativeToVRT="0">{{ src.File }}</SourceFilename>
      <SourceBand>{{ band.Index }}</SourceBand>
      <SrcRect xOff="{{ src.SrcRect[0] }}" yOff="{{ src.SrcRect[1] }}" xSize="{{ src.SrcRect[2] }}" ySize="{{ src.SrcRect[3] }}"/>
      <DstRect xOff="{{ src.DstRect[0] }}" yOff="{{ src.DstRect[1] }}" xSize="{{ src.DstRect[2] }}" ySize="{{ src.DstRect[3] }}"/>
    </SimpleSource>
{{ end }}  </VRTRasterBand>
{{ end }}</VRTDataset>
`

// LayerTemplate renders layer descriptions with jet.
type LayerTemplate struct {
	template *jet.Template
}

func geotransform(gt [6]float64) string {
	parts := make([]string, len(gt))
	for i, v := range gt {
		parts[i] = fmt.Sprintf("%.12g", v)
	}
	return strings.Join(parts, ", ")
}

// NewLayerTemplate loads the template at path, or the default template
// when path is empty.
func NewLayerTemplate(path string) (*LayerTemplate, error) {
	content := DefaultLayerTemplate
	name := "default_layer.vrt"
	if len(path) > 0 {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		content = string(b)
		name = path
	}

	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), "/")
	view.AddGlobal("geotransform", geotransform)

	t, err := view.LoadTemplate(name, content)
	if err != nil {
		return nil, fmt.Errorf("layer template: %v", err)
	}
	return &LayerTemplate{template: t}, nil
}

// Render fills l.Description.
func (t *LayerTemplate) Render(l *Layer) error {
	var buf bytes.Buffer
	if err := t.template.Execute(&buf, make(jet.VarMap), l); err != nil {
		return fmt.Errorf("layer template: %v", err)
	}
	l.Description = buf.String()
	return nil
}

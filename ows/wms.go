package ows

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/decoder"
	"github.com/nci/eows/encoder"
	"github.com/nci/eows/processor"
	"github.com/nci/eows/subset"
	"github.com/nci/eows/utils"
)

var getMapSchema = decoder.CommonSchema.MustExtend(
	decoder.Field{Key: "layers", KVPType: "stringlist"},
	decoder.Field{Key: "styles", KVPType: "string[0:1]"},
	decoder.Field{Key: "bbox", KVPType: "floatlist"},
	decoder.Field{Key: "crs", KVPType: "string[0:1]"},
	decoder.Field{Key: "srs", KVPType: "string[0:1]"},
	decoder.Field{Key: "width", KVPType: "int"},
	decoder.Field{Key: "height", KVPType: "int"},
	decoder.Field{Key: "format", KVPType: "string"},
	decoder.Field{Key: "time", KVPType: "string[0:1]"},
	decoder.Field{Key: "transparent", KVPType: "string[0:1]"},
)

func wmsGetCapabilities(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	covs, series, err := env.listCoverages(ctx)
	if err != nil {
		return nil, err
	}
	layers := append(append([]coverages.Object{}, covs...), series...)

	info := env.serviceInfo([]string{req.Version})
	doc := encoder.CapabilitiesWMS(info, req.Version, layers)
	return encodeXML(encoder.Legacy, doc, xmlContentType)
}

// mapRequest holds the validated parameters of a GetMap request.
type mapRequest struct {
	layer  string
	srid   int
	bbox   [4]float64
	width  int
	height int
	format string
	time   subset.Subset
}

func parseMapRequest(env *Env, req *decoder.Request) (*mapRequest, error) {
	mr := &mapRequest{}

	layers, err := req.Strings("layers")
	if err != nil {
		return nil, err
	}
	if len(layers) != 1 {
		return nil, utils.InvalidParameterValue("layers", "Exactly one layer must be requested.")
	}
	mr.layer = layers[0]

	crsKey := "crs"
	if req.Version == "1.1.1" {
		crsKey = "srs"
	}
	rawCRS, err := req.String(crsKey)
	if err != nil {
		return nil, err
	}
	if len(rawCRS) == 0 {
		return nil, utils.MissingParameter(crsKey)
	}
	crs, err := subset.ParseCRS(rawCRS)
	if err != nil || crs.Image {
		return nil, &utils.OWSError{Kind: utils.KindInvalidParameterValue, Code: "InvalidCRS", Locator: crsKey,
			Message: fmt.Sprintf("CRS '%s' is not supported.", rawCRS)}
	}
	mr.srid = crs.SRID

	bbox, err := req.Floats("bbox")
	if err != nil {
		return nil, err
	}
	if len(bbox) != 4 {
		return nil, utils.InvalidParameterValue("bbox", "BBOX must have four values.")
	}
	// WMS 1.3.0 orders EPSG:4326 as lat,lon.
	if req.Version == "1.3.0" && mr.srid == subset.DefaultSRID {
		bbox = []float64{bbox[1], bbox[0], bbox[3], bbox[2]}
	}
	copy(mr.bbox[:], bbox)
	if mr.bbox[0] >= mr.bbox[2] || mr.bbox[1] >= mr.bbox[3] {
		return nil, utils.InvalidParameterValue("bbox", "BBOX minimum is not below its maximum.")
	}

	if mr.width, _, err = req.Int("width"); err != nil {
		return nil, err
	}
	if mr.height, _, err = req.Int("height"); err != nil {
		return nil, err
	}
	limit := env.Config.MaxImageSize
	if mr.width <= 0 || mr.height <= 0 || mr.width > limit || mr.height > limit {
		return nil, utils.InvalidParameterValue("width", fmt.Sprintf("Image size %dx%d is outside of 1 to %d pixels.", mr.width, mr.height, limit))
	}

	format, err := req.String("format")
	if err != nil {
		return nil, err
	}
	if mr.format, err = env.checkFormat(format); err != nil {
		return nil, err
	}

	rawTime, err := req.String("time")
	if err != nil {
		return nil, err
	}
	if len(rawTime) > 0 {
		if parts := strings.SplitN(rawTime, "/", 2); len(parts) == 2 {
			mr.time, err = subset.NewTrim("time", "", parts[0], parts[1], false)
		} else {
			mr.time, err = subset.NewTrim("time", "", rawTime, rawTime, false)
		}
		if err != nil {
			return nil, utils.InvalidParameterValue("time", fmt.Sprintf("Invalid time '%s'.", rawTime))
		}
	}
	return mr, nil
}

// mapCoverage picks the coverage rendered for the request: the layer
// itself, or the most recent matching member of a series. ok is false if
// nothing matches.
func mapCoverage(o coverages.Object, mr *mapRequest) (coverages.Object, bool, error) {
	var items []subset.Subset
	if mr.time != nil {
		items = append(items, mr.time)
	}
	subs, err := subset.New(items)
	if err != nil {
		return nil, false, err
	}

	candidates := []coverages.Object{o}
	if _, composite := o.(coverages.HasChildDatasets); composite && !coverages.IsCoverage(o) {
		if candidates, err = subs.Collect(o, subset.Overlaps); err != nil {
			return nil, false, err
		}
	} else {
		ok, err := subs.Matches(o, subset.Overlaps, nil)
		if err != nil || !ok {
			return nil, false, err
		}
	}

	var best coverages.Object
	for _, c := range candidates {
		g := c.(coverages.HasGrid).Grid()
		if bbox, ok := mapBBox(g, mr); ok && !coverages.Intersects(g.Extent, bbox) {
			continue
		}
		if best == nil || laterThan(c, best) {
			best = c
		}
	}
	return best, best != nil, nil
}

// mapBBox returns the requested box in the SRID of g. ok is false when
// there is no transformation between the two.
func mapBBox(g *coverages.Grid, mr *mapRequest) ([4]float64, bool) {
	if g.SRID == mr.srid {
		return mr.bbox, true
	}
	bbox, err := coverages.TransformBBox(mr.bbox, mr.srid, g.SRID)
	return bbox, err == nil
}

func laterThan(a, b coverages.Object) bool {
	ta, ok := a.(coverages.HasTemporalExtent)
	if !ok {
		return false
	}
	tb, ok := b.(coverages.HasTemporalExtent)
	if !ok {
		return true
	}
	_, ea := ta.TimeExtent()
	_, eb := tb.TimeExtent()
	return ea.After(eb)
}

func wmsGetMap(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	mr, err := parseMapRequest(env, req)
	if err != nil {
		return nil, err
	}

	o, ok, err := env.lookup(ctx, mr.layer, env.eoObjectLookups())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &utils.OWSError{Kind: utils.KindInvalidParameterValue, Code: "LayerNotDefined", Locator: "layers",
			Message: fmt.Sprintf("Layer '%s' is not defined.", mr.layer)}
	}

	cov, ok, err := mapCoverage(o, mr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyMap(mr)
	}

	g := cov.(coverages.HasGrid).Grid()
	rt := cov.(coverages.HasRangeType).RangeType()
	window := processor.Window{0, 0, g.Size[0], g.Size[1]}
	if bbox, ok := mapBBox(g, mr); ok {
		window, err = processor.WindowFromBBox(g, bbox)
		if err == processor.ErrEmptyWindow {
			return emptyMap(mr)
		}
		if err != nil {
			return nil, utils.InternalError("%v", err)
		}
	}

	be, err := processor.ParseBandExpressions(rt, nil)
	if err != nil {
		return nil, utils.InternalError("layer '%s': %v", mr.layer, err)
	}
	layer, err := processor.NewLayer(cov, window, be)
	if err == processor.ErrEmptyWindow {
		return emptyMap(mr)
	}
	if err != nil {
		return nil, utils.InternalError("%v", err)
	}
	layer.OutWidth, layer.OutHeight = mr.width, mr.height
	layer.Format = mr.format
	if g.SRID != mr.srid {
		layer.OutputSRID = mr.srid
		layer.OutputBBox = mr.bbox
	}

	res, err := env.render(ctx, layer)
	if err != nil {
		return nil, err
	}
	mt := res.MediaType
	if len(mt) == 0 {
		mt = mr.format
	}
	return &Response{Status: http.StatusOK, ContentType: mt, Body: res.Data}, nil
}

func emptyMap(mr *mapRequest) (*Response, error) {
	format := mr.format
	if format != "image/jpeg" {
		format = "image/png"
	}
	tile, err := utils.GetEmptyTile(format, mr.width, mr.height)
	if err != nil {
		return nil, utils.InternalError("empty tile: %v", err)
	}
	return &Response{Status: http.StatusOK, ContentType: format, Body: tile}, nil
}

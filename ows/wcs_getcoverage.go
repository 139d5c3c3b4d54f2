package ows

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/decoder"
	"github.com/nci/eows/encoder"
	"github.com/nci/eows/processor"
	"github.com/nci/eows/subset"
	"github.com/nci/eows/utils"
)

var getCoverageSchema = decoder.CommonSchema.MustExtend(
	decoder.Field{Key: "coverageid", XMLLocation: "/{*}CoverageId", XMLType: "string", KVPType: "string"},
	subsetField,
	decoder.Field{Key: "format", XMLLocation: "/{*}format", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	decoder.Field{Key: "mediatype", XMLLocation: "/{*}mediaType", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	decoder.Field{Key: "scalefactor", XMLLocation: "/{*}Extension/{*}ScaleByFactor/{*}scaleFactor", XMLType: "float[0:1]", KVPType: "float[0:1]"},
	decoder.Field{Key: "scaleaxes", XMLLocation: "/{*}Extension/{*}ScaleByAxesFactor/{*}ScaleAxis", XMLType: "element[]", KVPType: "stringlist[0:1]"},
	decoder.Field{Key: "scalesize", XMLLocation: "/{*}Extension/{*}ScaleToSize/{*}TargetAxisSize", XMLType: "element[]", KVPType: "stringlist[0:1]"},
	decoder.Field{Key: "scaleextent", XMLLocation: "/{*}Extension/{*}ScaleToExtent/{*}TargetAxisExtent", XMLType: "element[]", KVPType: "stringlist[0:1]"},
	decoder.Field{Key: "rangesubset", XMLLocation: "/{*}Extension/{*}RangeSubset/{*}RangeItem", XMLType: "element[]", KVPType: "stringlist[0:1]"},
	decoder.Field{Key: "outputcrs", XMLLocation: "/{*}Extension/{*}outputCrs", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	decoder.Field{Key: "subsettingcrs", XMLLocation: "/{*}Extension/{*}subsettingCrs", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	decoder.Field{Key: "interpolation", XMLLocation: "/{*}Extension/{*}Interpolation/{*}globalInterpolation", XMLType: "string[0:1]", KVPType: "string[0:1]"},
)

const multipartRelated = "multipart/related"

// axisScale is one per axis scaling operation. Exactly one of factor and
// size is set.
type axisScale struct {
	label  string
	axis   subset.Axis
	factor float64
	size   int
}

var (
	reScaleValue  = regexp.MustCompile(`^(\w+)\(([^)]*)\)$`)
	reScaleExtent = regexp.MustCompile(`^(\w+)\(([^:]*):([^)]*)\)$`)

	scaleAxisPath   = decoder.MustCompilePath("{*}axis")
	scaleFactorPath = decoder.MustCompilePath("{*}scaleFactor")
	targetSizePath  = decoder.MustCompilePath("{*}targetSize")
	lowPath         = decoder.MustCompilePath("{*}low")
	highPath        = decoder.MustCompilePath("{*}high")

	rangeComponentPath = decoder.MustCompilePath("{*}RangeComponent")
	rangeStartPath     = decoder.MustCompilePath("{*}RangeInterval/{*}startComponent")
	rangeEndPath       = decoder.MustCompilePath("{*}RangeInterval/{*}endComponent")
)

func childText(p decoder.Path, n decoder.Node) string {
	nodes, err := p.Select(n)
	if err != nil || len(nodes) == 0 {
		return ""
	}
	return strings.TrimSpace(nodes[0].Text())
}

func invalidScale(locator, msg string) error {
	return &utils.OWSError{Kind: utils.KindInvalidParameterValue, Code: "InvalidScaleFactor", Locator: locator, Message: msg}
}

func scaleAxisOf(locator, label string) (subset.Axis, error) {
	axis, err := subset.AxisOf(label)
	if err != nil || axis == subset.AxisTime {
		return 0, &utils.OWSError{Kind: utils.KindInvalidParameterValue, Code: "ScaleAxisUndefined", Locator: locator,
			Message: fmt.Sprintf("Scale axis '%s' is not defined.", label)}
	}
	return axis, nil
}

func newFactorScale(locator, label, raw string) (axisScale, error) {
	axis, err := scaleAxisOf(locator, label)
	if err != nil {
		return axisScale{}, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f <= 0 {
		return axisScale{}, invalidScale(locator, fmt.Sprintf("Invalid scale factor '%s'.", raw))
	}
	return axisScale{label: label, axis: axis, factor: f}, nil
}

func newSizeScale(locator, label, raw string) (axisScale, error) {
	axis, err := scaleAxisOf(locator, label)
	if err != nil {
		return axisScale{}, err
	}
	size, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || size <= 0 {
		return axisScale{}, invalidScale(locator, fmt.Sprintf("Invalid target size '%s'.", raw))
	}
	return axisScale{label: label, axis: axis, size: size}, nil
}

func newExtentScale(locator, label, rawLow, rawHigh string) (axisScale, error) {
	axis, err := scaleAxisOf(locator, label)
	if err != nil {
		return axisScale{}, err
	}
	low, errLow := strconv.Atoi(strings.TrimSpace(rawLow))
	high, errHigh := strconv.Atoi(strings.TrimSpace(rawHigh))
	if errLow != nil || errHigh != nil {
		return axisScale{}, invalidScale(locator, fmt.Sprintf("Invalid scale extent '%s:%s'.", rawLow, rawHigh))
	}
	if low >= high {
		return axisScale{}, &utils.OWSError{Kind: utils.KindInvalidParameterValue, Code: "InvalidExtent", Locator: locator,
			Message: fmt.Sprintf("Lower bound %d of the scale extent is not below the upper bound %d.", low, high)}
	}
	return axisScale{label: label, axis: axis, size: high - low}, nil
}

// requestScales collects scaleaxes, scalesize and scaleextent in that
// order.
func requestScales(req *decoder.Request) ([]axisScale, error) {
	var out []axisScale

	if req.ParamType == decoder.XML {
		type xmlScale struct {
			key   string
			build func(n decoder.Node) (axisScale, error)
		}
		parsers := []xmlScale{
			{"scaleaxes", func(n decoder.Node) (axisScale, error) {
				return newFactorScale("scaleaxes", childText(scaleAxisPath, n), childText(scaleFactorPath, n))
			}},
			{"scalesize", func(n decoder.Node) (axisScale, error) {
				return newSizeScale("scalesize", childText(scaleAxisPath, n), childText(targetSizePath, n))
			}},
			{"scaleextent", func(n decoder.Node) (axisScale, error) {
				return newExtentScale("scaleextent", childText(scaleAxisPath, n), childText(lowPath, n), childText(highPath, n))
			}},
		}
		for _, p := range parsers {
			nodes, err := req.Nodes(p.key)
			if err != nil {
				return nil, err
			}
			for _, n := range nodes {
				s, err := p.build(n)
				if err != nil {
					return nil, err
				}
				out = append(out, s)
			}
		}
		return out, nil
	}

	for _, key := range []string{"scaleaxes", "scalesize", "scaleextent"} {
		items, err := req.Strings(key)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			var s axisScale
			if key == "scaleextent" {
				m := reScaleExtent.FindStringSubmatch(it)
				if m == nil {
					return nil, invalidScale(key, fmt.Sprintf("Could not parse scale extent '%s'.", it))
				}
				s, err = newExtentScale(key, m[1], m[2], m[3])
			} else {
				m := reScaleValue.FindStringSubmatch(it)
				if m == nil {
					return nil, invalidScale(key, fmt.Sprintf("Could not parse '%s'.", it))
				}
				if key == "scaleaxes" {
					s, err = newFactorScale(key, m[1], m[2])
				} else {
					s, err = newSizeScale(key, m[1], m[2])
				}
			}
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// outputSize applies the scaling of a request to a window of w by h
// pixels.
func outputSize(w, h int, factor float64, hasFactor bool, scales []axisScale) (int, int, error) {
	if hasFactor && len(scales) > 0 {
		return 0, 0, utils.InvalidParameterValue("scalefactor", "ScaleFactor and any other scale operation are mutually exclusive.")
	}
	if hasFactor {
		if factor <= 0 {
			return 0, 0, invalidScale("scalefactor", fmt.Sprintf("Invalid scale factor '%g'.", factor))
		}
		return scaled(w, factor), scaled(h, factor), nil
	}

	seen := map[subset.Axis]bool{}
	for _, s := range scales {
		if seen[s.axis] {
			return 0, 0, utils.InvalidParameterValue(s.label, fmt.Sprintf("Axis '%s' is scaled multiple times.", s.label))
		}
		seen[s.axis] = true

		target := &w
		if s.axis == subset.AxisY {
			target = &h
		}
		if s.size > 0 {
			*target = s.size
		} else {
			*target = scaled(*target, s.factor)
		}
	}
	return w, h, nil
}

func scaled(n int, f float64) int {
	v := int(math.Round(float64(n) * f))
	if v < 1 {
		return 1
	}
	return v
}

type rangeItem struct {
	start, end string
}

func requestRangeSubset(req *decoder.Request) ([]rangeItem, error) {
	var items []rangeItem
	if req.ParamType == decoder.XML {
		nodes, err := req.Nodes("rangesubset")
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if c := childText(rangeComponentPath, n); len(c) > 0 {
				items = append(items, rangeItem{start: c})
				continue
			}
			items = append(items, rangeItem{start: childText(rangeStartPath, n), end: childText(rangeEndPath, n)})
		}
		return items, nil
	}

	values, err := req.Strings("rangesubset")
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if parts := strings.SplitN(v, ":", 2); len(parts) == 2 {
			items = append(items, rangeItem{start: strings.TrimSpace(parts[0]), end: strings.TrimSpace(parts[1])})
		} else {
			items = append(items, rangeItem{start: strings.TrimSpace(v)})
		}
	}
	return items, nil
}

// resolveRangeSubset returns the selected channel names. Intervals select
// every channel from start to end in range type order.
func resolveRangeSubset(rt *coverages.RangeType, items []rangeItem) ([]string, error) {
	var names, missing []string
	for _, it := range items {
		start := rt.Index(it.start)
		if start < 0 {
			missing = append(missing, it.start)
		}
		if len(it.end) == 0 {
			if start >= 0 {
				names = append(names, rt.Channels[start].Name)
			}
			continue
		}

		end := rt.Index(it.end)
		if end < 0 {
			missing = append(missing, it.end)
		}
		if start < 0 || end < 0 {
			continue
		}
		if start > end {
			return nil, utils.InvalidParameterValue("rangesubset", fmt.Sprintf("Invalid range interval '%s:%s'.", it.start, it.end))
		}
		for i := start; i <= end; i++ {
			names = append(names, rt.Channels[i].Name)
		}
	}
	if len(missing) > 0 {
		return nil, utils.NoSuchField(missing)
	}
	return names, nil
}

const interpolationPrefix = "http://www.opengis.net/def/interpolation/OGC/1/"

func parseInterpolation(raw string) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	value := strings.ToLower(strings.TrimPrefix(raw, interpolationPrefix))
	for _, i := range encoder.Interpolations {
		if value == i {
			return value, nil
		}
	}
	return "", &utils.OWSError{Kind: utils.KindOptionNotSupported, Code: "InterpolationMethodNotSupported", Locator: "interpolation",
		Message: fmt.Sprintf("Interpolation method '%s' is not supported.", raw)}
}

func (env *Env) checkFormat(format string) (string, error) {
	if len(format) == 0 {
		return env.nativeFormat(), nil
	}
	for _, f := range env.Config.Formats {
		if strings.EqualFold(f, format) {
			return f, nil
		}
	}
	return "", utils.InvalidParameterValue("format", fmt.Sprintf("Format '%s' is not supported.", format))
}

// applySubsettingCRS sets crs on the spatial subsets without one.
func applySubsettingCRS(items []subset.Subset, crs string) {
	for _, it := range items {
		if it.Axis() == subset.AxisTime || len(it.Crs()) > 0 {
			continue
		}
		switch s := it.(type) {
		case *subset.Slice:
			s.CRS = crs
		case *subset.Trim:
			s.CRS = crs
		}
	}
}

// coverageWindow maps the spatial subsets onto the pixels of g. Without a
// CRS or in imageCRS bounds are pixel indices, upper bounds exclusive.
func coverageWindow(g *coverages.Grid, subs *subset.Subsets) (processor.Window, error) {
	crs := subs.CRS()
	if crs.IsZero() || crs.Image {
		x := [2]int{0, g.Size[0]}
		y := [2]int{0, g.Size[1]}
		for _, it := range subs.Items() {
			if it.Axis() == subset.AxisTime {
				continue
			}
			bounds := &x
			if it.Axis() == subset.AxisY {
				bounds = &y
			}
			switch s := it.(type) {
			case *subset.Slice:
				p := int(math.Floor(s.Point.Value))
				*bounds = [2]int{p, p + 1}
			case *subset.Trim:
				if s.Low != nil {
					bounds[0] = int(math.Floor(s.Low.Value))
				}
				if s.High != nil {
					bounds[1] = int(math.Ceil(s.High.Value))
				}
			}
		}
		x0, x1 := clampInt(x[0], 0, g.Size[0]), clampInt(x[1], 0, g.Size[0])
		y0, y1 := clampInt(y[0], 0, g.Size[1]), clampInt(y[1], 0, g.Size[1])
		if x1 <= x0 || y1 <= y0 {
			return processor.Window{}, processor.ErrEmptyWindow
		}
		return processor.Window{x0, y0, x1 - x0, y1 - y0}, nil
	}

	// trims in another CRS select the grid pixels covering their box
	def := g.Extent
	if crs.SRID != g.SRID {
		var err error
		if def, err = coverages.TransformBBox(g.Extent, g.SRID, crs.SRID); err != nil {
			return processor.Window{}, utils.OptionNotSupported("subsettingcrs",
				fmt.Sprintf("Subsetting in EPSG:%d a coverage in EPSG:%d is not supported: %v.", crs.SRID, g.SRID, err))
		}
	}

	bbox := subs.SpatialBBox(def)
	rx := (def[2] - def[0]) / float64(g.Size[0])
	ry := (def[3] - def[1]) / float64(g.Size[1])
	for _, it := range subs.Items() {
		s, ok := it.(*subset.Slice)
		if !ok {
			continue
		}
		switch s.Axis() {
		case subset.AxisX:
			bbox[0], bbox[2] = s.Point.Value, s.Point.Value+rx*1e-6
		case subset.AxisY:
			bbox[1], bbox[3] = s.Point.Value-ry*1e-6, s.Point.Value
		}
	}
	if crs.SRID != g.SRID {
		var err error
		if bbox, err = coverages.TransformBBox(bbox, crs.SRID, g.SRID); err != nil {
			return processor.Window{}, utils.OptionNotSupported("subsettingcrs",
				fmt.Sprintf("Subsetting in EPSG:%d a coverage in EPSG:%d is not supported: %v.", crs.SRID, g.SRID, err))
		}
	}
	return processor.WindowFromBBox(g, bbox)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func checkTemporal(o coverages.Object, subs *subset.Subsets) error {
	t := subs.Get(subset.AxisTime)
	if t == nil {
		return nil
	}
	ts, err := subset.New([]subset.Subset{t})
	if err != nil {
		return err
	}
	ok, err := ts.Matches(o, subset.Overlaps, nil)
	if err != nil {
		return err
	}
	if !ok {
		return utils.InvalidSubsetting("subset", fmt.Sprintf("Temporal subset does not intersect coverage '%s'.", o.Identifier()))
	}
	return nil
}

var fileExtensions = map[string]string{
	"image/tiff": ".tif",
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

func fileName(id, mediaType string) string {
	ext, ok := fileExtensions[strings.ToLower(mediaType)]
	if !ok {
		ext = ".bin"
	}
	return id + ext
}

func getCoverage(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	id, err := req.String("coverageid")
	if err != nil {
		return nil, err
	}
	if len(id) == 0 {
		return nil, utils.MissingParameter("coverageid")
	}

	rawFormat, err := req.String("format")
	if err != nil {
		return nil, err
	}
	format, err := env.checkFormat(rawFormat)
	if err != nil {
		return nil, err
	}

	mediaType, err := req.String("mediatype")
	if err != nil {
		return nil, err
	}
	multipartResp := strings.EqualFold(mediaType, multipartRelated)
	if len(mediaType) > 0 && !multipartResp {
		return nil, utils.InvalidParameterValue("mediatype", fmt.Sprintf("Media type '%s' is not supported.", mediaType))
	}

	rawInterpolation, err := req.String("interpolation")
	if err != nil {
		return nil, err
	}
	interpolation, err := parseInterpolation(rawInterpolation)
	if err != nil {
		return nil, err
	}

	factor, hasFactor, err := req.Float("scalefactor")
	if err != nil {
		return nil, err
	}
	scales, err := requestScales(req)
	if err != nil {
		return nil, err
	}

	items, err := requestSubsets(req)
	if err != nil {
		return nil, err
	}
	subsettingCRS, err := req.String("subsettingcrs")
	if err != nil {
		return nil, err
	}
	if len(subsettingCRS) > 0 {
		if _, err = subset.ParseCRS(subsettingCRS); err != nil {
			return nil, err
		}
		applySubsettingCRS(items, subsettingCRS)
	}
	subs, err := subset.New(items)
	if err != nil {
		return nil, err
	}

	outputCRS, err := req.String("outputcrs")
	if err != nil {
		return nil, err
	}
	outSRID := 0
	if len(outputCRS) > 0 {
		crs, err := subset.ParseCRS(outputCRS)
		if err != nil {
			return nil, utils.InvalidParameterValue("outputcrs", fmt.Sprintf("Output CRS '%s' is not supported.", outputCRS))
		}
		outSRID = crs.SRID
	}

	cov, ok, err := env.lookup(ctx, id, env.coverageLookups())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.NoSuchCoverage([]string{id})
	}
	g := cov.(coverages.HasGrid).Grid()
	rt := cov.(coverages.HasRangeType).RangeType()
	if rt == nil {
		return nil, utils.InternalError("coverage '%s' has no range type", id)
	}
	if outSRID == g.SRID {
		outSRID = 0
	}

	rangeItems, err := requestRangeSubset(req)
	if err != nil {
		return nil, err
	}
	channels, err := resolveRangeSubset(rt, rangeItems)
	if err != nil {
		return nil, err
	}

	if err = checkTemporal(cov, subs); err != nil {
		return nil, err
	}
	window, err := coverageWindow(g, subs)
	if err == processor.ErrEmptyWindow {
		return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Subset does not intersect coverage '%s'.", id))
	}
	if err != nil {
		return nil, err
	}

	width, height, err := outputSize(window[2], window[3], factor, hasFactor, scales)
	if err != nil {
		return nil, err
	}
	if limit := env.Config.MaxImageSize; width > limit || height > limit {
		return nil, utils.InvalidParameterValue("scalefactor", fmt.Sprintf("Output size %dx%d exceeds the limit of %d pixels.", width, height, limit))
	}

	be, err := processor.ParseBandExpressions(rt, channels)
	if err != nil {
		return nil, utils.InternalError("coverage '%s': %v", id, err)
	}
	layer, err := processor.NewLayer(cov, window, be)
	if err == processor.ErrEmptyWindow {
		return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Subset does not intersect coverage '%s'.", id))
	}
	if err != nil {
		return nil, utils.InternalError("%v", err)
	}
	layer.OutWidth, layer.OutHeight = width, height
	layer.OutputSRID = outSRID
	layer.Interpolation = interpolation
	layer.Format = format

	res, err := env.render(ctx, layer)
	if err != nil {
		return nil, err
	}
	mt := res.MediaType
	if len(mt) == 0 {
		mt = format
	}
	name := fileName(id, mt)

	if !multipartResp {
		header := http.Header{}
		header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
		return &Response{Status: http.StatusOK, ContentType: mt, Header: header, Body: res.Data}, nil
	}

	clip, err := subs.BoundingPolygon(cov)
	if err != nil {
		return nil, err
	}
	doc, err := encoder.CoverageDocument(cov, clip, "cid:coverage/"+name, mt)
	if err != nil {
		return nil, utils.InternalError("encoding coverage: %v", err)
	}
	gml, err := encoder.EOWCS.Encode(doc)
	if err != nil {
		return nil, utils.InternalError("encoding coverage: %v", err)
	}
	return multipartResponse(gml, res.Data, mt, name)
}

// multipartResponse bundles the coverage document and its image.
func multipartResponse(gml, data []byte, mediaType, name string) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", gmlContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, utils.InternalError("multipart: %v", err)
	}
	part.Write(gml)

	h = textproto.MIMEHeader{}
	h.Set("Content-Type", mediaType)
	h.Set("Content-Id", "coverage/"+name)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	part, err = mw.CreatePart(h)
	if err != nil {
		return nil, utils.InternalError("multipart: %v", err)
	}
	part.Write(data)

	if err = mw.Close(); err != nil {
		return nil, utils.InternalError("multipart: %v", err)
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: fmt.Sprintf("%s; boundary=%s; type=%q", multipartRelated, mw.Boundary(), gmlContentType),
		Body:        buf.Bytes(),
	}, nil
}

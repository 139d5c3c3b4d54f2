package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nci/eows/coverages"
	"gopkg.in/yaml.v2"
)

// Metadata document families.
const (
	FamilyRecord    = "record"
	FamilySentinel2 = "sentinel2"
	FamilyLandsat   = "landsat"
)

// dataset is a record read from a metadata document. Group is the band
// namespace of single band datasets, used to build per band series.
type dataset struct {
	coverages.Record
	Group  string
	Source string
}

// ExtractYaml reads the datasets described by one metadata document.
func ExtractYaml(filename string, family string) ([]*dataset, error) {
	rawData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var out []*dataset
	switch family {
	case FamilyRecord:
		out, err = extractRecords(rawData, filename)
	case FamilySentinel2:
		out, err = extractSentinel2(rawData, filename)
	case FamilyLandsat:
		out, err = extractLandsat(rawData, filename)
	default:
		return nil, fmt.Errorf("unsupported yaml family: %s", family)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	for _, d := range out {
		d.Source = filename
	}
	return out, nil
}

// extractRecords reads a stream of YAML documents, each either a single
// record or a config style list under "records". Relative data file paths
// are resolved against the document directory.
func extractRecords(rawData []byte, filename string) ([]*dataset, error) {
	type recordDoc struct {
		Records          []coverages.Record `yaml:"records"`
		coverages.Record `yaml:",inline"`
	}

	dir := filepath.Dir(filename)
	var out []*dataset
	dec := yaml.NewDecoder(strings.NewReader(string(rawData)))
	for {
		var doc recordDoc
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		recs := doc.Records
		if len(doc.Identifier) > 0 {
			recs = append(recs, doc.Record)
		}
		for _, r := range recs {
			for i, f := range r.Files {
				if !filepath.IsAbs(f) && !strings.Contains(f, ":") {
					r.Files[i] = filepath.Join(dir, f)
				}
			}
			out = append(out, &dataset{Record: r})
		}
	}
	return out, nil
}

var (
	reEPSG      = regexp.MustCompile(`(?i)^\s*epsg:(\d+)\s*$`)
	reAuthority = regexp.MustCompile(`(?i)AUTHORITY\[\s*"EPSG"\s*,\s*"(\d+)"\s*\]\s*\]\s*$`)
)

// parseSRID reads an EPSG code from "EPSG:n" or from the root authority
// of a WKT definition.
func parseSRID(srs string) (int, error) {
	m := reEPSG.FindStringSubmatch(srs)
	if m == nil {
		m = reAuthority.FindStringSubmatch(srs)
	}
	if m == nil {
		return 0, fmt.Errorf("spatial reference without an EPSG code: %.40q", srs)
	}
	return strconv.Atoi(m[1])
}

// gridOf returns the extent of a north up raster from its geotransform.
func gridOf(gt []float64, width, height int) ([4]float64, error) {
	if len(gt) < 6 {
		return [4]float64{}, fmt.Errorf("geotransform needs 6 values, got %d", len(gt))
	}
	if gt[2] != 0 || gt[4] != 0 {
		return [4]float64{}, fmt.Errorf("rotated geotransforms are not supported")
	}
	if width <= 0 || height <= 0 {
		return [4]float64{}, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	x0, x1 := gt[0], gt[0]+float64(width)*gt[1]
	y0, y1 := gt[3], gt[3]+float64(height)*gt[5]
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return [4]float64{x0, y0, x1, y1}, nil
}

func getBandDataType(bandName string) string {
	switch {
	case strings.HasSuffix(bandName, "contiguity"), strings.HasPrefix(bandName, "fmask"):
		return "Byte"
	case strings.HasSuffix(bandName, "azimuth"), strings.HasSuffix(bandName, "zenith"),
		bandName == "timedelta", strings.HasPrefix(bandName, "relative_"), strings.HasPrefix(bandName, "terrain_"):
		return "Float32"
	}
	return "Int16"
}

// polygonFootprint encodes an outer ring in srid as an EPSG:4326 GeoJSON
// polygon.
func polygonFootprint(ring [][]float64, srid int) (string, error) {
	if len(ring) < 4 {
		return "", fmt.Errorf("footprint ring needs at least 4 points")
	}
	fp := &coverages.Footprint{SRID: srid, Polygons: []coverages.Polygon{{make(coverages.Ring, len(ring))}}}
	for i, pt := range ring {
		if len(pt) < 2 {
			return "", fmt.Errorf("footprint point %d has %d coordinates", i, len(pt))
		}
		fp.Polygons[0][0][i] = [2]float64{pt[0], pt[1]}
	}
	fp, err := fp.Transform(4326)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(map[string]interface{}{"type": "Polygon", "coordinates": fp.Polygons[0]})
	return string(b), err
}

// bandDataset builds the single band dataset of a scene.
func bandDataset(scene, band, file string, srid int, gt []float64, width, height int) (*dataset, error) {
	extent, err := gridOf(gt, width, height)
	if err != nil {
		return nil, fmt.Errorf("band %s: %v", band, err)
	}
	r := coverages.Record{
		Kind:         coverages.KindRectifiedDataset,
		Identifier:   scene + "_" + band,
		EOIdentifier: scene,
		SRID:         srid,
		Size:         [2]int{width, height},
		Extent:       extent,
		RangeType:    band,
		Bands:        []coverages.BandRecord{{Name: band, DataType: getBandDataType(band)}},
		Files:        []string{file},
	}
	return &dataset{Record: r, Group: band}, nil
}

// sceneID names a scene after its id field or its directory.
func sceneID(id, filename string) string {
	if len(id) > 0 {
		return id
	}
	return filepath.Base(filepath.Dir(filename))
}

func extractSentinel2(rawData []byte, filename string) ([]*dataset, error) {
	type ardBand struct {
		Info struct {
			Geotransform []float64 `yaml:"geotransform"`
			Height       int       `yaml:"height"`
			Width        int       `yaml:"width"`
		} `yaml:"info"`
		Path string `yaml:"path"`
	}

	type ardMetadata struct {
		ID     string `yaml:"id"`
		Format struct {
			Name string `yaml:"name"`
		} `yaml:"format"`
		Extent struct {
			CenterDt string `yaml:"center_dt"`
		} `yaml:"extent"`
		GridSpatial struct {
			Projection struct {
				ValidData struct {
					Coordinates [][][]float64 `yaml:"coordinates"`
				} `yaml:"valid_data"`
				SpatialReference string `yaml:"spatial_reference"`
			} `yaml:"projection"`
		} `yaml:"grid_spatial"`
		Image struct {
			Bands map[string]*ardBand `yaml:"bands"`
		} `yaml:"image"`
	}

	ard := ardMetadata{}
	if err := yaml.Unmarshal(rawData, &ard); err != nil {
		return nil, err
	}

	timestamp, err := coverages.ParseTime(ard.Extent.CenterDt)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %v", err)
	}
	srid, err := parseSRID(ard.GridSpatial.Projection.SpatialReference)
	if err != nil {
		return nil, err
	}

	var footprint string
	if coords := ard.GridSpatial.Projection.ValidData.Coordinates; len(coords) > 0 {
		if footprint, err = polygonFootprint(coords[0], srid); err != nil {
			return nil, err
		}
	}

	scene := sceneID(ard.ID, filename)
	dsPath := filepath.Dir(filename)

	var names []string
	for name := range ard.Image.Bands {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*dataset
	for _, name := range names {
		b := ard.Image.Bands[name]
		d, err := bandDataset(scene, name, filepath.Join(dsPath, b.Path), srid, b.Info.Geotransform, b.Info.Width, b.Info.Height)
		if err != nil {
			return nil, err
		}
		d.BeginTime = coverages.FormatTime(timestamp)
		d.EndTime = d.BeginTime
		d.Footprint = footprint
		out = append(out, d)
	}
	return out, nil
}

// landsatTime reads "2006-01-02 15:04:05.999" style datetimes as well as
// ISO-8601 ones.
func landsatTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if parts := strings.Split(s, " "); len(parts) == 2 {
		s = parts[0] + "T" + parts[1]
		if !strings.HasSuffix(s, "Z") && !strings.ContainsAny(parts[1], "+-") {
			s += "Z"
		}
	}
	t, err := coverages.ParseTime(s)
	if err != nil {
		return "", fmt.Errorf("invalid datetime format: %v", err)
	}
	return coverages.FormatTime(t), nil
}

func extractLandsat(rawData []byte, filename string) ([]*dataset, error) {
	type grid struct {
		Shape     []int     `yaml:"shape"`
		Transform []float64 `yaml:"transform"`
	}

	type measurement struct {
		Path  string `yaml:"path"`
		Grid  string `yaml:"grid"`
		DType string `yaml:"dtype"`
	}

	type landsatMetadata struct {
		ID       string `yaml:"id"`
		CRS      string `yaml:"crs"`
		Geometry struct {
			Type        string        `yaml:"type"`
			Coordinates [][][]float64 `yaml:"coordinates"`
		} `yaml:"geometry"`
		Grids        map[string]grid        `yaml:"grids"`
		Properties   map[string]interface{} `yaml:"properties"`
		Measurements map[string]measurement `yaml:"measurements"`
	}

	md := landsatMetadata{}
	if err := yaml.Unmarshal(rawData, &md); err != nil {
		return nil, err
	}

	srid, err := parseSRID(md.CRS)
	if err != nil {
		return nil, err
	}

	dt, ok := md.Properties["datetime"].(string)
	if !ok {
		return nil, fmt.Errorf("missing properties.datetime")
	}
	timestamp, err := landsatTime(dt)
	if err != nil {
		return nil, err
	}

	var footprint string
	if len(md.Geometry.Coordinates) > 0 {
		if footprint, err = polygonFootprint(md.Geometry.Coordinates[0], srid); err != nil {
			return nil, err
		}
	}

	scene := sceneID(md.ID, filename)
	filePath := filepath.Dir(filename)

	var names []string
	for name := range md.Measurements {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*dataset
	for _, name := range names {
		m := md.Measurements[name]
		gridName := m.Grid
		if len(gridName) == 0 {
			gridName = "default"
		}
		g, ok := md.Grids[gridName]
		if !ok || len(g.Shape) != 2 {
			return nil, fmt.Errorf("band %s: missing grid '%s'", name, gridName)
		}
		// eo3 transforms are affine rows (a, b, c, d, e, f)
		gt := []float64{}
		if len(g.Transform) >= 6 {
			t := g.Transform
			gt = []float64{t[2], t[0], t[1], t[5], t[3], t[4]}
		}
		d, err := bandDataset(scene, name, filepath.Join(filePath, m.Path), srid, gt, g.Shape[1], g.Shape[0])
		if err != nil {
			return nil, err
		}
		if len(m.DType) > 0 {
			d.Bands[0].DataType = dataTypeName(m.DType)
		}
		d.BeginTime = timestamp
		d.EndTime = timestamp
		d.Footprint = footprint
		out = append(out, d)
	}
	return out, nil
}

func dataTypeName(dtype string) string {
	switch strings.ToLower(dtype) {
	case "uint8":
		return "Byte"
	case "int8":
		return "Int8"
	case "uint16":
		return "UInt16"
	case "int16":
		return "Int16"
	case "uint32":
		return "UInt32"
	case "int32":
		return "Int32"
	case "float32":
		return "Float32"
	case "float64":
		return "Float64"
	}
	return dtype
}

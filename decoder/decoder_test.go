package decoder

import (
	"net/url"
	"testing"

	"github.com/nci/eows/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const describeEOCoverageSetXML = `<?xml version="1.0" encoding="UTF-8"?>
<wcseo:DescribeEOCoverageSet service="WCS" version="2.0.1"
    xmlns:wcs="http://www.opengis.net/wcs/2.0"
    xmlns:wcseo="http://www.opengis.net/wcs/wcseo/1.0"
    xmlns:ows="http://www.opengis.net/ows/2.0">
  <wcseo:eoId>series_a</wcseo:eoId>
  <wcseo:eoId>coverage_b</wcseo:eoId>
  <wcseo:containment>contains</wcseo:containment>
  <wcs:DimensionTrim>
    <wcs:Dimension>long</wcs:Dimension>
    <wcs:TrimLow>16</wcs:TrimLow>
    <wcs:TrimHigh>18</wcs:TrimHigh>
  </wcs:DimensionTrim>
  <wcseo:Count>abc</wcseo:Count>
  <ows:AcceptVersions>
    <ows:Version>2.0.1</ows:Version>
    <ows:Version>2.0.0</ows:Version>
  </ows:AcceptVersions>
</wcseo:DescribeEOCoverageSet>`

func parse(t *testing.T, body string) *XMLDecoder {
	t.Helper()
	doc, err := ParseDocument([]byte(body))
	require.NoError(t, err)
	return NewXMLDecoder(CommonSchema, doc)
}

func kindOf(err error) utils.ErrorKind {
	return utils.AsOWSError(err).Kind
}

func TestCompilePath(t *testing.T) {
	p, err := CompilePath("/{http://www.opengis.net/wcs/2.0}DimensionTrim/wcs:Dimension/@crs")
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "{http://www.opengis.net/wcs/2.0}DimensionTrim", "wcs:Dimension", "@crs"}, p.segments)
	assert.True(t, p.IsAbsolute())
	assert.True(t, p.SelectsAttribute())

	_, err = CompilePath("/@crs/wcs:Dimension")
	require.Error(t, err)
	assert.Equal(t, utils.KindStructuralError, kindOf(err))

	_, err = CompilePath("a//b")
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	d := parse(t, describeEOCoverageSetXML)
	root := d.Root()

	nodes, err := MustCompilePath("/wcseo:eoId").Select(root)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "series_a", nodes[0].Text())
	assert.Equal(t, "coverage_b", nodes[1].Text())

	nodes, err = MustCompilePath("/{http://www.opengis.net/wcs/wcseo/1.0}eoId").Select(root)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	nodes, err = MustCompilePath("/{*}DimensionTrim/*").Select(root)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "Dimension", nodes[0].LocalName())

	nodes, err = MustCompilePath("/").Select(root)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "DescribeEOCoverageSet", nodes[0].LocalName())

	nodes, err = MustCompilePath("/@*").Select(root)
	require.NoError(t, err)
	assert.Len(t, nodes, 2, "namespace declarations are not attributes")

	nodes, err = MustCompilePath("/@missing").Select(root)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestSelectAbsoluteFromChildFails(t *testing.T) {
	d := parse(t, describeEOCoverageSetXML)
	trims, err := MustCompilePath("/wcs:DimensionTrim").Select(d.Root())
	require.NoError(t, err)
	require.Len(t, trims, 1)

	_, err = MustCompilePath("/wcs:Dimension").Select(trims[0])
	require.Error(t, err)
	assert.Equal(t, utils.KindStructuralError, kindOf(err))

	dims, err := MustCompilePath("wcs:Dimension").Select(trims[0])
	require.NoError(t, err)
	require.Len(t, dims, 1)
	assert.Equal(t, "long", dims[0].Text())
}

func TestReverse(t *testing.T) {
	d := parse(t, describeEOCoverageSetXML)
	root := d.Root()
	assert.Equal(t, "/", Reverse(root))

	nodes, err := MustCompilePath("/wcs:DimensionTrim/wcs:TrimLow").Select(root)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "/wcs:DimensionTrim/wcs:TrimLow", Reverse(nodes[0]))

	attrs, err := MustCompilePath("/@service").Select(root)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "/@service", Reverse(attrs[0]))
}

func TestParseTypeExpr(t *testing.T) {
	cases := []struct {
		expr     string
		min, max int
		multiple bool
	}{
		{"string", 1, 1, false},
		{"int[2]", 2, 2, true},
		{"float[1:]", 1, Unbounded, true},
		{"float[:4]", 0, 4, true},
		{"string[1:3]", 1, 3, true},
		{"string[]", 0, Unbounded, true},
		{"string[0:1]", 0, 1, false},
		{"stringlist", 1, 1, true},
	}
	for _, c := range cases {
		te, err := ParseTypeExpr(c.expr)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.min, te.MinOccurs, c.expr)
		assert.Equal(t, c.max, te.MaxOccurs, c.expr)
		assert.Equal(t, c.multiple, te.Multiple(), c.expr)
	}

	for _, bad := range []string{"str ing", "int[a]", "nosuchtype", "int[3:1]"} {
		_, err := ParseTypeExpr(bad)
		assert.Error(t, err, bad)
	}
}

var testSchema = CommonSchema.MustExtend(
	Field{Key: "eoid", XMLLocation: "/wcseo:eoId", XMLType: "string[1:]", KVPType: "stringlist"},
	Field{Key: "count", XMLLocation: "/wcseo:Count", XMLType: "int[0:1]", KVPType: "int[0:1]"},
	Field{Key: "subset", XMLLocation: "/wcs:DimensionTrim", XMLType: "element[]", KVPType: "string[]"},
	Field{Key: "scale", KVPKey: "scalefactor", KVPType: "float[0:1]"},
	Field{Key: "sizes", XMLLocation: "/wcs:Size", XMLType: "intlist[0:1]", KVPType: "intlist[0:1]"},
)

func TestKVPDecoder(t *testing.T) {
	q := url.Values{
		"EOID":        {"a,b,c"},
		"Count":       {"12"},
		"subset":      {`lat(1,2)`, `long(3,4)`},
		"ScaleFactor": {"0.5"},
		"sizes":       {"10,20"},
	}
	d := NewKVPDecoder(testSchema, q)

	v, err := d.Value("eoid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, v)

	v, err = d.Value("count")
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	v, err = d.Value("subset")
	require.NoError(t, err)
	assert.Equal(t, []string{"lat(1,2)", "long(3,4)"}, v)

	v, err = d.Value("scale")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	v, err = d.Value("sizes")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, v)

	v, err = d.Value("version")
	require.NoError(t, err)
	assert.Nil(t, v, "absent optional values are never defaulted")
}

func TestKVPDecoderErrors(t *testing.T) {
	d := NewKVPDecoder(testSchema, url.Values{"count": {"1", "2"}})
	_, err := d.Value("count")
	require.Error(t, err)
	assert.Equal(t, utils.KindInvalidParameterValue, kindOf(err))
	assert.Equal(t, "count", utils.AsOWSError(err).Locator)

	_, err = d.Value("eoid")
	require.Error(t, err)
	assert.Equal(t, utils.KindMissingParameter, kindOf(err))

	d = NewKVPDecoder(testSchema, url.Values{"count": {"many"}})
	_, err = d.Value("count")
	require.Error(t, err)
	assert.Equal(t, utils.KindInvalidParameterValue, kindOf(err))

	_, err = d.Value("nosuchfield")
	require.Error(t, err)
	assert.Equal(t, utils.KindInternal, kindOf(err))
}

func TestXMLDecoder(t *testing.T) {
	doc, err := ParseDocument([]byte(describeEOCoverageSetXML))
	require.NoError(t, err)
	d := NewXMLDecoder(testSchema, doc)

	v, err := d.Value("service")
	require.NoError(t, err)
	assert.Equal(t, "WCS", v)

	v, err = d.Value("operation")
	require.NoError(t, err)
	assert.Equal(t, "DescribeEOCoverageSet", v)

	v, err = d.Value("eoid")
	require.NoError(t, err)
	assert.Equal(t, []string{"series_a", "coverage_b"}, v)

	v, err = d.Value("acceptversions")
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.1", "2.0.0"}, v)

	v, err = d.Value("subset")
	require.NoError(t, err)
	assert.Len(t, v, 1)

	_, err = d.Value("count")
	require.Error(t, err)
	assert.Equal(t, utils.KindInvalidParameterValue, kindOf(err))

	v, err = d.Value("scale")
	require.NoError(t, err)
	assert.Nil(t, v, "fields without an XML location decode to nil")
}

func TestXMLDecoderOccurrences(t *testing.T) {
	schema := MustSchema(
		Field{Key: "id", XMLLocation: "/wcs:CoverageId", XMLType: "string"},
		Field{Key: "two", XMLLocation: "/wcs:CoverageId", XMLType: "string[2]"},
		Field{Key: "max", XMLLocation: "/wcs:CoverageId", XMLType: "string[:1]"},
	)
	body := `<wcs:DescribeCoverage xmlns:wcs="http://www.opengis.net/wcs/2.0"><wcs:CoverageId>a</wcs:CoverageId><wcs:CoverageId>b</wcs:CoverageId></wcs:DescribeCoverage>`
	doc, err := ParseDocument([]byte(body))
	require.NoError(t, err)
	d := NewXMLDecoder(schema, doc)

	_, err = d.Value("id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected no more than 1 results")

	v, err := d.Value("two")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)

	empty, err := ParseDocument([]byte(`<wcs:DescribeCoverage xmlns:wcs="http://www.opengis.net/wcs/2.0"/>`))
	require.NoError(t, err)
	_, err = NewXMLDecoder(schema, empty).Value("id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Node '/wcs:CoverageId' not found")
}

func TestParseDocumentMalformed(t *testing.T) {
	_, err := ParseDocument([]byte("<a><b></a>"))
	require.Error(t, err)
	assert.Equal(t, utils.KindMalformedDocument, kindOf(err))
	assert.Equal(t, 400, utils.ErrorStatus(err, nil))
}

func TestRequestCommonParameters(t *testing.T) {
	r, err := NewKVPRequest("GET", url.Values{
		"SERVICE":        {"WCS"},
		"Request":        {"GetCapabilities"},
		"AcceptVersions": {"2.0.1,1.1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "WCS", r.Service)
	assert.Equal(t, "GetCapabilities", r.Operation)
	assert.Empty(t, r.Version)
	assert.Equal(t, []string{"2.0.1", "1.1.0"}, r.AcceptVersions)

	x, err := NewXMLRequest("POST", []byte(describeEOCoverageSetXML))
	require.NoError(t, err)
	assert.Equal(t, XML, x.ParamType)
	assert.Equal(t, "2.0.1", x.Version)
	assert.Equal(t, "DescribeEOCoverageSet", x.Operation)

	require.NoError(t, x.Bind(testSchema))
	ids, err := x.Strings("eoid")
	require.NoError(t, err)
	assert.Equal(t, []string{"series_a", "coverage_b"}, ids)

	_, err = NewKVPRequest("GET", url.Values{"service": {"WCS", "WMS"}})
	require.Error(t, err)
}

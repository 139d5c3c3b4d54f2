package encoder

import (
	"fmt"
	"strings"

	"github.com/nci/eows/coverages"
)

// ServiceInfo is the service level content of capabilities documents.
type ServiceInfo struct {
	Title        string
	Abstract     string
	ProviderName string
	ProviderSite string
	// URL is the endpoint advertised for all operations.
	URL      string
	Versions []string
	Formats  []string
	CRSs     []string
}

// OperationInfo advertises one operation and the HTTP methods serving it.
type OperationInfo struct {
	Name string
	Get  bool
	Post bool
}

var profiles = []string{
	"spec/WCS/2.0/conf/core",
	"spec/WCS_protocol-binding_get-kvp/1.0/conf/get-kvp",
	"spec/WCS_protocol-binding_post-xml/1.0/conf/post-xml",
	"spec/GMLCOV/1.0/conf/gml-coverage",
	"spec/GMLCOV/1.0/conf/multipart",
	"spec/WCS_service-extension_crs/1.0/conf/crs",
	"spec/WCS_service-extension_interpolation/1.0/conf/interpolation",
	"spec/WCS_service-extension_range-subsetting/1.0/conf/record-subsetting",
	"spec/WCS_service-extension_scaling/1.0/conf/scaling",
	"spec/WCS_application-profile_earth-observation/1.0/conf/eowcs",
	"spec/WCS_application-profile_earth-observation/1.0/conf/eowcs_get-kvp",
}

// Interpolations are the interpolation methods of the rendering engine.
var Interpolations = []string{"nearest-neighbour", "average", "bilinear", "cubic", "cubic-spline", "lanczos", "mode"}

const interpolationBase = "http://www.opengis.net/def/interpolation/OGC/1/"

func serviceIdentification(info *ServiceInfo, serviceType string) Node {
	content := []interface{}{
		N("ows", "Title", info.Title),
		N("ows", "Abstract", info.Abstract),
		N("ows", "ServiceType", Attr("", "codeSpace", "OGC"), serviceType),
	}
	for _, v := range info.Versions {
		content = append(content, N("ows", "ServiceTypeVersion", v))
	}
	if serviceType == "OGC WCS" {
		for _, p := range profiles {
			content = append(content, N("ows", "Profile", "http://www.opengis.net/"+p))
		}
	}
	content = append(content, N("ows", "Fees", "none"), N("ows", "AccessConstraints", "none"))
	return N("ows", "ServiceIdentification", content...)
}

func serviceProvider(info *ServiceInfo) Node {
	return N("ows", "ServiceProvider",
		N("ows", "ProviderName", info.ProviderName),
		N("ows", "ProviderSite", Attr("xlink", "href", info.ProviderSite)),
		N("ows", "ServiceContact"),
	)
}

func operationsMetadata(info *ServiceInfo, ops []OperationInfo) Node {
	var operations []Node
	for _, op := range ops {
		var methods []Node
		if op.Get {
			methods = append(methods, N("ows", "Get", Attr("xlink", "type", "simple"), Attr("xlink", "href", info.URL+"?")))
		}
		if op.Post {
			methods = append(methods, N("ows", "Post",
				Attr("xlink", "type", "simple"),
				Attr("xlink", "href", info.URL),
				N("ows", "Constraint", Attr("", "name", "PostEncoding"),
					N("ows", "AllowedValues", N("ows", "Value", "XML")),
				),
			))
		}
		operations = append(operations, N("ows", "Operation",
			Attr("", "name", op.Name),
			N("ows", "DCP", N("ows", "HTTP", methods)),
		))
	}
	return N("ows", "OperationsMetadata", operations)
}

func serviceMetadata(info *ServiceInfo) Node {
	var formats, crss, interps []Node
	for _, f := range info.Formats {
		formats = append(formats, N("wcs", "formatSupported", f))
	}
	for _, c := range info.CRSs {
		crss = append(crss, N("crs", "crsSupported", c))
	}
	for _, i := range Interpolations {
		interps = append(interps, N("int", "InterpolationSupported", interpolationBase+i))
	}
	return N("wcs", "ServiceMetadata",
		formats,
		N("wcs", "Extension",
			N("crs", "CrsMetadata", crss),
			N("int", "InterpolationMetadata", interps),
		),
	)
}

func wgs84BBox(bbox [4]float64) Node {
	return N("ows", "WGS84BoundingBox",
		N("ows", "LowerCorner", fmt.Sprintf("%f %f", bbox[0], bbox[1])),
		N("ows", "UpperCorner", fmt.Sprintf("%f %f", bbox[2], bbox[3])),
	)
}

func contents(covs, series []coverages.Object) Node {
	var content []interface{}
	for _, c := range covs {
		content = append(content, N("wcs", "CoverageSummary",
			N("wcs", "CoverageId", c.Identifier()),
			N("wcs", "CoverageSubtype", coverages.Subtype(c)),
		))
	}
	if len(series) > 0 {
		var summaries []Node
		for _, s := range series {
			summaries = append(summaries, N("wcseo", "DatasetSeriesSummary",
				wgs84BBox(seriesBBox(s)),
				N("wcseo", "DatasetSeriesId", s.Identifier()),
				timePeriod(s.Identifier()+"_timeperiod", s),
			))
		}
		content = append(content, N("wcs", "Extension", summaries))
	}
	return N("wcs", "Contents", content...)
}

// Sections selects the parts of a capabilities document. An empty set
// selects everything.
type Sections map[string]bool

func NewSections(names []string) Sections {
	s := Sections{}
	for _, n := range names {
		s[strings.ToLower(n)] = true
	}
	return s
}

func (s Sections) Has(name string) bool {
	return len(s) == 0 || s["all"] || s[strings.ToLower(name)]
}

// Capabilities20 is the WCS 2.0 GetCapabilities response.
func Capabilities20(info *ServiceInfo, ops []OperationInfo, sections Sections, covs, series []coverages.Object) Node {
	content := []interface{}{
		Attr("", "version", "2.0.1"),
		Attr("", "updateSequence", "0"),
	}
	if sections.Has("ServiceIdentification") {
		content = append(content, serviceIdentification(info, "OGC WCS"))
	}
	if sections.Has("ServiceProvider") {
		content = append(content, serviceProvider(info))
	}
	if sections.Has("OperationsMetadata") {
		content = append(content, operationsMetadata(info, ops))
	}
	if sections.Has("ServiceMetadata") {
		content = append(content, serviceMetadata(info))
	}

	incContents := sections.Has("Contents")
	incCovs := incContents || sections["coveragesummary"]
	incSeries := incContents || sections["datasetseriessummary"]
	if incCovs || incSeries {
		if !incCovs {
			covs = nil
		}
		if !incSeries {
			series = nil
		}
		content = append(content, contents(covs, series))
	}
	return N("wcs", "Capabilities", content...)
}

package encoder

const (
	NsWCS    = "http://www.opengis.net/wcs/2.0"
	NsWCSEO  = "http://www.opengis.net/wcs/wcseo/1.0"
	NsGML    = "http://www.opengis.net/gml/3.2"
	NsGMLCOV = "http://www.opengis.net/gmlcov/1.0"
	NsSWE    = "http://www.opengis.net/swe/2.0"
	NsOWS    = "http://www.opengis.net/ows/2.0"
	NsOWS11  = "http://www.opengis.net/ows/1.1"
	NsEOP    = "http://www.opengis.net/eop/2.0"
	NsOM     = "http://www.opengis.net/om/2.0"
	NsXLink  = "http://www.w3.org/1999/xlink"
	NsCRS    = "http://www.opengis.net/wcs/crs/1.0"
	NsINT    = "http://www.opengis.net/wcs/interpolation/1.0"
	NsSCAL   = "http://www.opengis.net/wcs/scaling/1.0"
	NsRSUB   = "http://www.opengis.net/wcs/range-subsetting/1.0"

	NsWCS10 = "http://www.opengis.net/wcs"
	NsWCS11 = "http://www.opengis.net/wcs/1.1"
	NsGML31 = "http://www.opengis.net/gml"
	NsWMS   = "http://www.opengis.net/wms"
	NsOGC   = "http://www.opengis.net/ogc"
)

// EOWCSNamespaces are the prefixes used by WCS 2.0 and EO-WCS responses.
var EOWCSNamespaces = map[string]string{
	"wcs":    NsWCS,
	"wcseo":  NsWCSEO,
	"gml":    NsGML,
	"gmlcov": NsGMLCOV,
	"swe":    NsSWE,
	"ows":    NsOWS,
	"eop":    NsEOP,
	"om":     NsOM,
	"xlink":  NsXLink,
	"crs":    NsCRS,
	"int":    NsINT,
	"scal":   NsSCAL,
	"rsub":   NsRSUB,
}

// LegacyNamespaces are the prefixes of WCS 1.x and WMS documents. Their
// default namespaces are declared with explicit xmlns attributes.
var LegacyNamespaces = map[string]string{
	"ows":   NsOWS11,
	"gml":   NsGML31,
	"xlink": NsXLink,
}

// EOWCS is the shared encoder of WCS 2.0 responses.
var EOWCS = New(EOWCSNamespaces)

// Legacy is the shared encoder of WCS 1.x and WMS responses.
var Legacy = New(LegacyNamespaces)

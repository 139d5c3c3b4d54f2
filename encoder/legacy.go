package encoder

import (
	"fmt"

	"github.com/nci/eows/coverages"
)

func objectBBox(o coverages.Object) [4]float64 {
	if fp := o.(coverages.HasFootprint).Footprint(); fp != nil {
		return fp.BBox
	}
	return [4]float64{-180, -90, 180, 90}
}

// CapabilitiesWCS10 is the WCS 1.0.0 GetCapabilities response.
func CapabilitiesWCS10(info *ServiceInfo, covs []coverages.Object) Node {
	onlineResource := func() Node {
		return N("", "OnlineResource", Attr("xlink", "type", "simple"), Attr("xlink", "href", info.URL+"?"))
	}
	request := func(name string) Node {
		return N("", name, N("", "DCPType", N("", "HTTP", N("", "Get", onlineResource()))))
	}

	var offerings []Node
	for _, c := range covs {
		b := objectBBox(c)
		offerings = append(offerings, N("", "CoverageOfferingBrief",
			N("", "name", c.Identifier()),
			N("", "label", c.Identifier()),
			N("", "lonLatEnvelope", Attr("", "srsName", "urn:ogc:def:crs:OGC:1.3:CRS84"),
				N("gml", "pos", fmt.Sprintf("%f %f", b[0], b[1])),
				N("gml", "pos", fmt.Sprintf("%f %f", b[2], b[3])),
			),
		))
	}

	return N("", "WCS_Capabilities",
		Attr("", "xmlns", NsWCS10),
		Attr("", "version", "1.0.0"),
		Attr("", "updateSequence", "0"),
		N("", "Service",
			N("", "name", "WCS"),
			N("", "label", info.Title),
			N("", "description", info.Abstract),
			N("", "fees", "NONE"),
			N("", "accessConstraints", "NONE"),
		),
		N("", "Capability",
			N("", "Request", request("GetCapabilities")),
			N("", "Exception", N("", "Format", "application/vnd.ogc.se_xml")),
		),
		N("", "ContentMetadata", offerings),
	)
}

// CapabilitiesWCS11 is the WCS 1.1.x GetCapabilities response.
func CapabilitiesWCS11(info *ServiceInfo, version string, covs []coverages.Object) Node {
	var summaries []Node
	for _, c := range covs {
		summaries = append(summaries, N("", "CoverageSummary",
			N("ows", "Title", c.Identifier()),
			wgs84BBox11(objectBBox(c)),
			N("", "Identifier", c.Identifier()),
		))
	}
	return N("", "Capabilities",
		Attr("", "xmlns", NsWCS11),
		Attr("", "version", version),
		Attr("", "updateSequence", "0"),
		serviceIdentification(info, "WCS"),
		serviceProvider(info),
		operationsMetadata(info, []OperationInfo{{Name: "GetCapabilities", Get: true}}),
		N("", "Contents", summaries),
	)
}

func wgs84BBox11(bbox [4]float64) Node {
	return N("ows", "WGS84BoundingBox",
		N("ows", "LowerCorner", fmt.Sprintf("%f %f", bbox[0], bbox[1])),
		N("ows", "UpperCorner", fmt.Sprintf("%f %f", bbox[2], bbox[3])),
	)
}

// CapabilitiesWMS is the WMS 1.1.1 or 1.3.0 GetCapabilities response.
// Every object becomes a named layer.
func CapabilitiesWMS(info *ServiceInfo, version string, layers []coverages.Object) Node {
	v13 := version == "1.3.0"
	crsTag := "SRS"
	if v13 {
		crsTag = "CRS"
	}

	onlineResource := func() Node {
		return N("", "OnlineResource", Attr("xlink", "type", "simple"), Attr("xlink", "href", info.URL+"?"))
	}
	dcp := N("", "DCPType", N("", "HTTP", N("", "Get", onlineResource())))

	var formats []Node
	for _, f := range info.Formats {
		formats = append(formats, N("", "Format", f))
	}

	var children []Node
	for _, l := range layers {
		b := objectBBox(l)
		layer := []interface{}{
			Attr("", "queryable", "0"),
			N("", "Name", l.Identifier()),
			N("", "Title", l.Identifier()),
			N("", crsTag, "EPSG:4326"),
			geographicBBox(v13, b),
		}
		if v13 {
			// EPSG:4326 is latitude first in WMS 1.3.0
			layer = append(layer, N("", "BoundingBox", Attr("", "CRS", "EPSG:4326"),
				Attr("", "minx", fmt.Sprint(b[1])), Attr("", "miny", fmt.Sprint(b[0])),
				Attr("", "maxx", fmt.Sprint(b[3])), Attr("", "maxy", fmt.Sprint(b[2]))))
		} else {
			layer = append(layer, N("", "BoundingBox", Attr("", "SRS", "EPSG:4326"),
				Attr("", "minx", fmt.Sprint(b[0])), Attr("", "miny", fmt.Sprint(b[1])),
				Attr("", "maxx", fmt.Sprint(b[2])), Attr("", "maxy", fmt.Sprint(b[3]))))
		}
		begin, end := l.(coverages.HasTemporalExtent).TimeExtent()
		if !begin.IsZero() {
			extent := coverages.FormatTime(begin) + "/" + coverages.FormatTime(end) + "/PT1S"
			if v13 {
				layer = append(layer, N("", "Dimension", Attr("", "name", "time"), Attr("", "units", "ISO8601"), extent))
			} else {
				layer = append(layer,
					N("", "Dimension", Attr("", "name", "time"), Attr("", "units", "ISO8601")),
					N("", "Extent", Attr("", "name", "time"), extent))
			}
		}
		children = append(children, N("", "Layer", layer...))
	}

	root := "WMT_MS_Capabilities"
	var rootAttrs []interface{}
	if v13 {
		root = "WMS_Capabilities"
		rootAttrs = append(rootAttrs, Attr("", "xmlns", NsWMS))
	}
	rootAttrs = append(rootAttrs, Attr("", "version", version), Attr("", "updateSequence", "0"))

	serviceName, capsFormat, exceptionFormat := "OGC:WMS", "application/vnd.ogc.wms_xml", "application/vnd.ogc.se_xml"
	if v13 {
		serviceName, capsFormat, exceptionFormat = "WMS", "text/xml", "XML"
	}

	return N("", root, append(rootAttrs,
		N("", "Service",
			N("", "Name", serviceName),
			N("", "Title", info.Title),
			N("", "Abstract", info.Abstract),
			onlineResource(),
		),
		N("", "Capability",
			N("", "Request",
				N("", "GetCapabilities", N("", "Format", capsFormat), dcp),
				N("", "GetMap", formats, dcp),
			),
			N("", "Exception", N("", "Format", exceptionFormat)),
			N("", "Layer",
				N("", "Title", info.Title),
				N("", crsTag, "EPSG:4326"),
				geographicBBox(v13, [4]float64{-180, -90, 180, 90}),
				children,
			),
		),
	)...)
}

func geographicBBox(v13 bool, b [4]float64) Node {
	if v13 {
		return N("", "EX_GeographicBoundingBox",
			N("", "westBoundLongitude", b[0]),
			N("", "eastBoundLongitude", b[2]),
			N("", "southBoundLatitude", b[1]),
			N("", "northBoundLatitude", b[3]),
		)
	}
	return N("", "LatLonBoundingBox",
		Attr("", "minx", fmt.Sprint(b[0])), Attr("", "miny", fmt.Sprint(b[1])),
		Attr("", "maxx", fmt.Sprint(b[2])), Attr("", "maxy", fmt.Sprint(b[3])))
}

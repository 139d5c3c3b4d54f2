package ows

import (
	"context"
	"net/http"
	"strings"

	"github.com/nci/eows/decoder"
	"github.com/nci/eows/encoder"
	"github.com/nci/eows/utils"
)

var wcs20CapabilitiesSchema = decoder.CommonSchema.MustExtend(
	decoder.Field{Key: "sections", XMLLocation: "/{*}Sections/{*}Section", XMLType: "string[]", KVPType: "stringlist[0:1]"},
)

var capabilitiesSections = []string{
	"All", "ServiceIdentification", "ServiceProvider", "OperationsMetadata",
	"ServiceMetadata", "Contents", "CoverageSummary", "DatasetSeriesSummary",
}

func checkSections(requested, allowed []string) error {
	for _, r := range requested {
		found := false
		for _, a := range allowed {
			if strings.EqualFold(r, a) {
				found = true
				break
			}
		}
		if !found {
			return utils.InvalidParameterValue("sections", "Unknown section '"+r+"'.")
		}
	}
	return nil
}

func (env *Env) operationInfos(service, version string) []encoder.OperationInfo {
	var ops []encoder.OperationInfo
	for _, d := range env.registry().Operations(service, version) {
		ops = append(ops, encoder.OperationInfo{
			Name: d.Operation,
			Get:  d.supportsMethod(http.MethodGet),
			Post: d.supportsMethod(http.MethodPost),
		})
	}
	return ops
}

func wcs20GetCapabilities(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	sections, err := req.Strings("sections")
	if err != nil {
		return nil, err
	}
	if err = checkSections(sections, capabilitiesSections); err != nil {
		return nil, err
	}

	covs, series, err := env.listCoverages(ctx)
	if err != nil {
		return nil, err
	}

	info := env.serviceInfo(wcs20Versions)
	doc := encoder.Capabilities20(info, env.operationInfos("WCS", req.Version), encoder.NewSections(sections), covs, series)
	return encodeXML(encoder.EOWCS, doc, xmlContentType)
}

// wcs1xGetCapabilities serves clients negotiating WCS 1.x. Only the
// coverage offerings are listed.
func wcs1xGetCapabilities(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	covs, _, err := env.listCoverages(ctx)
	if err != nil {
		return nil, err
	}

	info := env.serviceInfo([]string{req.Version})
	var doc encoder.Node
	if req.Version == "1.0.0" {
		doc = encoder.CapabilitiesWCS10(info, covs)
	} else {
		doc = encoder.CapabilitiesWCS11(info, req.Version, covs)
	}
	return encodeXML(encoder.Legacy, doc, xmlContentType)
}

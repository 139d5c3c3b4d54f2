package ows

import (
	"strings"

	"github.com/nci/eows/decoder"
	"github.com/nci/eows/utils"
)

// NegotiateAccepted returns the first of the accepted versions found in
// supported. supported is ascending.
func NegotiateAccepted(supported []utils.Version, accepted []string) (string, error) {
	if len(supported) == 0 {
		return "", utils.InternalError("no supported versions")
	}
	for _, a := range accepted {
		v, err := utils.ParseVersion(a)
		if err != nil {
			continue
		}
		for _, s := range supported {
			if s == v {
				return v.String(), nil
			}
		}
	}
	return "", utils.VersionNegotiationFailed(supported[len(supported)-1].String(), supported[0].String())
}

// NegotiateRequested implements the negotiation of requests carrying a
// single version, or none. An unsupported version resolves to the
// highest supported version below it, or to the lowest supported one.
func NegotiateRequested(supported []utils.Version, requested string) (string, error) {
	if len(supported) == 0 {
		return "", utils.InternalError("no supported versions")
	}
	if len(strings.TrimSpace(requested)) == 0 {
		return supported[len(supported)-1].String(), nil
	}

	v, err := utils.ParseVersion(requested)
	if err != nil {
		return "", err
	}
	for i := len(supported) - 1; i >= 0; i-- {
		if supported[i] == v {
			return v.String(), nil
		}
	}
	for i := len(supported) - 1; i >= 0; i-- {
		if supported[i].Less(v) {
			return supported[i].String(), nil
		}
	}
	return supported[0].String(), nil
}

func isGetCapabilities(operation string) bool {
	return strings.EqualFold(operation, "GetCapabilities")
}

// Resolve selects the descriptor serving req and assigns the negotiated
// version to it.
func (r *Registry) Resolve(req *decoder.Request) (*Descriptor, error) {
	service := strings.TrimSpace(req.Service)
	if len(service) == 0 {
		if s, ok := r.inferService(req.Operation); ok {
			service = s
		}
	}
	if len(service) == 0 {
		return nil, utils.MissingParameter("service")
	}

	descs := r.forService(service)
	if len(descs) == 0 {
		return nil, utils.ServiceNotSupported(service)
	}
	if len(strings.TrimSpace(req.Operation)) == 0 {
		return nil, utils.MissingParameter("request")
	}

	capabilities := isGetCapabilities(req.Operation)
	supported := versionsOf(descs)

	var version string
	var err error
	if len(req.AcceptVersions) > 0 {
		version, err = NegotiateAccepted(supported, req.AcceptVersions)
		if err != nil {
			return nil, err
		}
	} else {
		version, err = NegotiateRequested(supported, req.Version)
		if err != nil && !capabilities {
			return nil, err
		}
	}

	var candidates []*Descriptor
	if len(version) > 0 {
		v := utils.MustParseVersion(version)
		for _, d := range descs {
			if strings.EqualFold(d.Operation, req.Operation) && d.supportsVersion(v) && d.supportsMethod(req.Method) {
				candidates = append(candidates, d)
			}
		}
	}

	if len(candidates) == 0 && capabilities {
		candidates = capabilitiesFallback(descs, req.Method)
		if len(candidates) > 0 {
			highestFirst(candidates)
			version = candidates[0].MaxVersion().String()
		}
	}
	if len(candidates) == 0 {
		return nil, utils.OperationNotSupported(req.Operation)
	}

	highestFirst(candidates)
	d := candidates[0]
	req.Service = d.Service
	req.SetVersion(version)
	return d, nil
}

// capabilitiesFallback returns the GetCapabilities handlers of a service,
// preferring those serving method.
func capabilitiesFallback(descs []*Descriptor, method string) []*Descriptor {
	var all, byMethod []*Descriptor
	for _, d := range descs {
		if !isGetCapabilities(d.Operation) {
			continue
		}
		all = append(all, d)
		if d.supportsMethod(method) {
			byMethod = append(byMethod, d)
		}
	}
	if len(byMethod) > 0 {
		return byMethod
	}
	return all
}

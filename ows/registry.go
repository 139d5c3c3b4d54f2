// Package ows dispatches decoded OWS requests to the WCS and WMS operation
// handlers and encodes their responses.
package ows

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/nci/eows/decoder"
	"github.com/nci/eows/utils"
)

// HandlerFunc serves one operation. req is bound to the schema of the
// handler's descriptor before the call.
type HandlerFunc func(ctx context.Context, env *Env, req *decoder.Request) (*Response, error)

// Descriptor associates an operation of a service with the versions and
// HTTP methods it is offered for.
type Descriptor struct {
	Service   string
	Versions  []string
	Operation string
	Methods   []string
	Schema    *decoder.Schema
	Handle    HandlerFunc

	// Cacheable responses of KVP requests are kept in the response cache.
	Cacheable       bool
	// StatusOverrides maps exception codes to HTTP statuses.
	StatusOverrides map[string]int

	versions []utils.Version
}

// MaxVersion is the highest version the descriptor supports.
func (d *Descriptor) MaxVersion() utils.Version {
	return d.versions[len(d.versions)-1]
}

func (d *Descriptor) supportsVersion(v utils.Version) bool {
	for _, dv := range d.versions {
		if dv == v {
			return true
		}
	}
	return false
}

func (d *Descriptor) supportsMethod(method string) bool {
	for _, m := range d.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

var (
	wcs20Versions  = []string{"2.0.0", "2.0.1"}
	wcs1xVersions  = []string{"1.0.0", "1.1.0", "1.1.2"}
	wmsVersions    = []string{"1.1.1", "1.3.0"}
	getPost        = []string{http.MethodGet, http.MethodPost}
	getOnly        = []string{http.MethodGet}
	wcs20Overrides = map[string]int{
		"SubsettingCrs-NotSupported": http.StatusNotFound,
	}
)

// Descriptors is the table of served operations.
func Descriptors() []Descriptor {
	return []Descriptor{
		{Service: "WCS", Versions: wcs20Versions, Operation: "GetCapabilities", Methods: getPost,
			Schema: wcs20CapabilitiesSchema, Handle: wcs20GetCapabilities, Cacheable: true},
		{Service: "WCS", Versions: wcs20Versions, Operation: "DescribeCoverage", Methods: getPost,
			Schema: describeCoverageSchema, Handle: describeCoverage, Cacheable: true},
		{Service: "WCS", Versions: wcs20Versions, Operation: "DescribeEOCoverageSet", Methods: getPost,
			Schema: describeEOCoverageSetSchema, Handle: describeEOCoverageSet, Cacheable: true,
			StatusOverrides: wcs20Overrides},
		{Service: "WCS", Versions: wcs20Versions, Operation: "GetCoverage", Methods: getPost,
			Schema: getCoverageSchema, Handle: getCoverage, StatusOverrides: wcs20Overrides},
		{Service: "WCS", Versions: wcs1xVersions, Operation: "GetCapabilities", Methods: getOnly,
			Schema: decoder.CommonSchema, Handle: wcs1xGetCapabilities, Cacheable: true},
		{Service: "WMS", Versions: wmsVersions, Operation: "GetCapabilities", Methods: getOnly,
			Schema: decoder.CommonSchema, Handle: wmsGetCapabilities, Cacheable: true},
		{Service: "WMS", Versions: wmsVersions, Operation: "GetMap", Methods: getOnly,
			Schema: getMapSchema, Handle: wmsGetMap},
	}
}

// Registry holds the descriptors of all served operations. It is read
// only once built.
type Registry struct {
	descriptors []*Descriptor
}

// NewRegistry validates and indexes descs.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{}
	for i := range descs {
		d := descs[i]
		if len(d.Versions) == 0 {
			return nil, utils.InternalError("%s %s: no versions", d.Service, d.Operation)
		}
		for _, s := range d.Versions {
			v, err := utils.ParseVersion(s)
			if err != nil {
				return nil, utils.InternalError("%s %s: %v", d.Service, d.Operation, err)
			}
			d.versions = append(d.versions, v)
		}
		d.versions = utils.SortVersions(d.versions)
		r.descriptors = append(r.descriptors, &d)
	}
	return r, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry builds the registry of Descriptors on first use.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(Descriptors())
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Reset drops the default registry. Tests only.
func Reset() {
	defaultOnce = sync.Once{}
	defaultRegistry = nil
}

// Services returns the served service names.
func (r *Registry) Services() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.descriptors {
		if !seen[d.Service] {
			seen[d.Service] = true
			out = append(out, d.Service)
		}
	}
	return out
}

func (r *Registry) forService(service string) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.descriptors {
		if strings.EqualFold(d.Service, service) {
			out = append(out, d)
		}
	}
	return out
}

// Versions returns the ascending versions of service.
func (r *Registry) Versions(service string) []utils.Version {
	return versionsOf(r.forService(service))
}

func versionsOf(descs []*Descriptor) []utils.Version {
	seen := map[utils.Version]bool{}
	var out []utils.Version
	for _, d := range descs {
		for _, v := range d.versions {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return utils.SortVersions(out)
}

// Operations returns the descriptors offered for service at version, in
// table order.
func (r *Registry) Operations(service, version string) []*Descriptor {
	v, err := utils.ParseVersion(version)
	if err != nil {
		return nil
	}
	var out []*Descriptor
	for _, d := range r.forService(service) {
		if d.supportsVersion(v) {
			out = append(out, d)
		}
	}
	return out
}

// inferService returns the only service offering operation.
func (r *Registry) inferService(operation string) (string, bool) {
	found := ""
	for _, d := range r.descriptors {
		if !strings.EqualFold(d.Operation, operation) {
			continue
		}
		if len(found) > 0 && found != d.Service {
			return "", false
		}
		found = d.Service
	}
	return found, len(found) > 0
}

func highestFirst(descs []*Descriptor) {
	sort.SliceStable(descs, func(i, j int) bool {
		return descs[j].MaxVersion().Less(descs[i].MaxVersion())
	})
}

package ows

import (
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/nci/eows/decoder"
	"github.com/nci/eows/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func versions(vs ...string) []utils.Version {
	var out []utils.Version
	for _, v := range vs {
		out = append(out, utils.MustParseVersion(v))
	}
	return utils.SortVersions(out)
}

func TestNegotiateRequested(t *testing.T) {
	supported := versions("1.0.0", "1.1.0", "2.0.0")

	for _, tc := range []struct {
		requested string
		want      string
	}{
		{"", "2.0.0"},
		{"1.1", "1.1.0"},
		{"1.5", "1.1.0"},
		{"0.9", "1.0.0"},
		{"3", "2.0.0"},
	} {
		got, err := NegotiateRequested(supported, tc.requested)
		require.NoError(t, err, tc.requested)
		assert.Equal(t, tc.want, got, tc.requested)
	}

	_, err := NegotiateRequested(supported, "one")
	assert.Error(t, err)
}

func TestNegotiateAccepted(t *testing.T) {
	supported := versions("1.0.0", "1.1.0", "2.0.0")

	got, err := NegotiateAccepted(supported, []string{"3.0.0", "2.0.0", "1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got)

	got, err = NegotiateAccepted(supported, []string{"bogus", "1.1"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got)

	_, err = NegotiateAccepted(supported, []string{"4.0.0"})
	require.Error(t, err)
	oe := utils.AsOWSError(err)
	assert.Equal(t, "VersionNegotiationFailed", oe.Code)
	assert.Contains(t, oe.Message, "2.0.0")
	assert.Contains(t, oe.Message, "1.0.0")
}

func kvpRequest(t *testing.T, method, raw string) *decoder.Request {
	t.Helper()
	q, err := url.ParseQuery(raw)
	require.NoError(t, err)
	req, err := decoder.NewKVPRequest(method, q)
	require.NoError(t, err)
	return req
}

func TestResolve(t *testing.T) {
	r := DefaultRegistry()

	for _, tc := range []struct {
		name      string
		method    string
		query     string
		service   string
		operation string
		version   string
	}{
		{"inferred service", http.MethodGet, "request=DescribeEOCoverageSet&eoid=a", "WCS", "DescribeEOCoverageSet", "2.0.1"},
		{"wcs 1.0 capabilities", http.MethodGet, "service=WCS&request=GetCapabilities&version=1.0.0", "WCS", "GetCapabilities", "1.0.0"},
		{"wcs 1.x in between", http.MethodGet, "service=WCS&request=GetCapabilities&version=1.1.1", "WCS", "GetCapabilities", "1.1.0"},
		{"future version", http.MethodGet, "service=WCS&request=GetCapabilities&version=9.0", "WCS", "GetCapabilities", "2.0.1"},
		{"unparseable capabilities version", http.MethodGet, "service=WCS&request=GetCapabilities&version=x", "WCS", "GetCapabilities", "2.0.1"},
		{"accept versions", http.MethodGet, "service=WCS&request=GetCapabilities&acceptversions=2.0.0,1.1.2", "WCS", "GetCapabilities", "2.0.0"},
		{"wms", http.MethodGet, "service=WMS&request=GetMap&version=1.1.1", "WMS", "GetMap", "1.1.1"},
		{"case insensitive operation", http.MethodGet, "service=wcs&request=describecoverage&version=2.0.1", "WCS", "DescribeCoverage", "2.0.1"},
		{"post capabilities falls back to 2.0", http.MethodPost, "service=WCS&request=GetCapabilities&version=1.0.0", "WCS", "GetCapabilities", "2.0.1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := kvpRequest(t, tc.method, tc.query)
			d, err := r.Resolve(req)
			require.NoError(t, err)
			assert.Equal(t, tc.service, d.Service)
			assert.Equal(t, tc.operation, d.Operation)
			assert.Equal(t, tc.version, req.Version)
			assert.Equal(t, tc.service, req.Service)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r := DefaultRegistry()

	for _, tc := range []struct {
		name   string
		method string
		query  string
		kind   utils.ErrorKind
	}{
		{"ambiguous operation", http.MethodGet, "request=GetCapabilities", utils.KindMissingParameter},
		{"unknown service", http.MethodGet, "service=WPS&request=Execute", utils.KindServiceNotSupported},
		{"missing request", http.MethodGet, "service=WCS", utils.KindMissingParameter},
		{"unknown operation", http.MethodGet, "service=WCS&request=GetFeature&version=2.0.1", utils.KindOperationNotSupported},
		{"wms post", http.MethodPost, "service=WMS&request=GetMap&version=1.3.0", utils.KindOperationNotSupported},
		{"describe for wcs 1.0", http.MethodGet, "service=WCS&request=DescribeCoverage&version=1.0.0", utils.KindOperationNotSupported},
		{"bad version", http.MethodGet, "service=WCS&request=DescribeCoverage&version=2.x", utils.KindInvalidParameterValue},
		{"no accepted version", http.MethodGet, "service=WCS&request=GetCapabilities&acceptversions=3.0.0", utils.KindVersionNegotiationFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(kvpRequest(t, tc.method, tc.query))
			require.Error(t, err)
			assert.Equal(t, tc.kind, utils.AsOWSError(err).Kind)
		})
	}
}

func TestDefaultRegistryConcurrent(t *testing.T) {
	Reset()
	defer Reset()

	const n = 16
	got := make([]*Registry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = DefaultRegistry()
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for _, r := range got {
		assert.Same(t, got[0], r)
	}
	assert.ElementsMatch(t, []string{"WCS", "WMS"}, got[0].Services())
}

func TestRegistryOperations(t *testing.T) {
	r := DefaultRegistry()

	var names []string
	for _, d := range r.Operations("WCS", "2.0.1") {
		names = append(names, d.Operation)
	}
	assert.Equal(t, []string{"GetCapabilities", "DescribeCoverage", "DescribeEOCoverageSet", "GetCoverage"}, names)

	ops := r.Operations("WCS", "1.1.0")
	require.Len(t, ops, 1)
	assert.Equal(t, "GetCapabilities", ops[0].Operation)

	assert.Equal(t, versions("1.0.0", "1.1.0", "1.1.2", "2.0.0", "2.0.1"), r.Versions("WCS"))
}

func TestNewRegistryRejectsBadVersions(t *testing.T) {
	_, err := NewRegistry([]Descriptor{{Service: "WCS", Operation: "GetCapabilities", Versions: []string{"2.x"}}})
	assert.Error(t, err)

	_, err = NewRegistry([]Descriptor{{Service: "WCS", Operation: "GetCapabilities"}})
	assert.Error(t, err)
}

package ows

import (
	"context"
	"fmt"
	"strings"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/decoder"
	"github.com/nci/eows/encoder"
	"github.com/nci/eows/subset"
	"github.com/nci/eows/utils"
	"golang.org/x/sync/errgroup"
)

// subsetField reads every child of the request root; subsets are picked
// by element name.
var subsetField = decoder.Field{Key: "subset", XMLLocation: "/*", XMLType: "element[]", KVPType: "string[]"}

var describeCoverageSchema = decoder.CommonSchema.MustExtend(
	decoder.Field{Key: "coverageid", XMLLocation: "/{*}CoverageId", XMLType: "string[1:]", KVPType: "stringlist"},
)

var describeEOCoverageSetSchema = decoder.CommonSchema.MustExtend(
	decoder.Field{Key: "eoid", XMLLocation: "/{*}eoId", XMLType: "string[1:]", KVPType: "stringlist"},
	subsetField,
	decoder.Field{Key: "containment", XMLLocation: "/{*}containment", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	decoder.Field{Key: "count", XMLLocation: "/@count", XMLType: "int[0:1]", KVPType: "int[0:1]"},
	decoder.Field{Key: "sections", XMLLocation: "/{*}Sections/{*}Section", XMLType: "string[]", KVPType: "stringlist[0:1]"},
)

var eoCoverageSetSections = []string{"All", "CoverageDescriptions", "DatasetSeriesDescriptions"}

// maxParallelLookups bounds the concurrent record store lookups of one
// request.
const maxParallelLookups = 8

func requestSubsets(req *decoder.Request) ([]subset.Subset, error) {
	if req.ParamType == decoder.XML {
		nodes, err := req.Nodes("subset")
		if err != nil {
			return nil, err
		}
		var dims []decoder.Node
		for _, n := range nodes {
			switch n.LocalName() {
			case "DimensionTrim", "DimensionSlice":
				dims = append(dims, n)
			}
		}
		return subset.ParseXML(dims)
	}

	values, err := req.Strings("subset")
	if err != nil {
		return nil, err
	}
	return subset.ParseKVP(values)
}

func describeCoverage(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	ids, err := req.Strings("coverageid")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, utils.MissingParameter("coverageid")
	}

	objs, missing, err := env.lookupAll(ctx, ids, env.coverageLookups())
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, utils.NoSuchCoverage(missing)
	}

	doc, err := encoder.CoverageDescriptions(objs, env.nativeFormat())
	if err != nil {
		return nil, utils.InternalError("encoding coverage descriptions: %v", err)
	}
	return encodeXML(encoder.EOWCS, doc, xmlContentType)
}

// lookupAll resolves ids concurrently. The found objects keep the order
// of ids; missing lists the unknown ones.
func (env *Env) lookupAll(ctx context.Context, ids []string, lookups []lookupFunc) ([]coverages.Object, []string, error) {
	found := make([]coverages.Object, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			o, ok, err := env.lookup(gctx, id, lookups)
			if err != nil {
				return err
			}
			if ok {
				found[i] = o
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var objs []coverages.Object
	var missing []string
	for i, o := range found {
		if o == nil {
			missing = append(missing, ids[i])
			continue
		}
		objs = append(objs, o)
	}
	return objs, missing, nil
}

// eoCoverageSet is the evaluated content of a DescribeEOCoverageSet
// response before paging.
type eoCoverageSet struct {
	coverages []coverages.Object
	series    []coverages.Object
}

func (s *eoCoverageSet) addCoverage(seen map[string]bool, o coverages.Object) {
	if seen[o.Identifier()] {
		return
	}
	seen[o.Identifier()] = true
	s.coverages = append(s.coverages, o)
}

// evaluateEOCoverageSet filters the referenced objects. Series and
// mosaics contribute their matching children, evaluated against the
// composite as outer collection. Each coverage is reported once, at its
// first occurrence.
func evaluateEOCoverageSet(objs []coverages.Object, subs *subset.Subsets, containment subset.Containment) (*eoCoverageSet, error) {
	set := &eoCoverageSet{}
	seenCovs := map[string]bool{}
	seenSeries := map[string]bool{}

	for _, o := range objs {
		matched, err := subs.Matches(o, containment, nil)
		if err != nil {
			return nil, err
		}

		switch o.(type) {
		case *coverages.DatasetSeries:
			if matched && !seenSeries[o.Identifier()] {
				seenSeries[o.Identifier()] = true
				set.series = append(set.series, o)
			}
		case *coverages.RectifiedDataset, *coverages.ReferenceableDataset, *coverages.RectifiedStitchedMosaic:
			if matched {
				set.addCoverage(seenCovs, o)
			}
		}

		if _, composite := o.(coverages.HasChildDatasets); !composite {
			continue
		}
		children, err := subs.Collect(o, containment)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			set.addCoverage(seenCovs, c)
		}
	}
	return set, nil
}

// page applies count: series first, then as many coverages as fit.
func (s *eoCoverageSet) page(count int, incCovs, incSeries bool) (covs, series []coverages.Object) {
	if incSeries {
		series = s.series
		if len(series) > count {
			series = series[:count]
		}
	}
	if incCovs {
		covs = s.coverages
		if room := count - len(series); len(covs) > room {
			if room < 0 {
				room = 0
			}
			covs = covs[:room]
		}
	}
	return covs, series
}

func (s *eoCoverageSet) matched() int {
	return len(s.coverages) + len(s.series)
}

func includesSection(sections []string, name string) bool {
	if len(sections) == 0 {
		return true
	}
	for _, s := range sections {
		if strings.EqualFold(s, "All") || strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// effectiveCount caps the requested count by the configured default.
func effectiveCount(requested int, present bool, countDefault int) int {
	if !present || requested > countDefault {
		return countDefault
	}
	return requested
}

func describeEOCoverageSet(ctx context.Context, env *Env, req *decoder.Request) (*Response, error) {
	eoids, err := req.Strings("eoid")
	if err != nil {
		return nil, err
	}
	if len(eoids) == 0 {
		return nil, utils.MissingParameter("eoid")
	}

	items, err := requestSubsets(req)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if _, ok := it.(*subset.Slice); ok {
			return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Slicing on axis '%s' is not supported by DescribeEOCoverageSet.", it.Dim()))
		}
	}
	subs, err := subset.New(items)
	if err != nil {
		return nil, err
	}

	rawContainment, err := req.String("containment")
	if err != nil {
		return nil, err
	}
	containment, err := subset.ParseContainment(rawContainment)
	if err != nil {
		return nil, err
	}

	requested, present, err := req.Int("count")
	if err != nil {
		return nil, err
	}
	if present && requested < 0 {
		return nil, utils.InvalidParameterValue("count", "Negative values are not allowed.")
	}
	count := effectiveCount(requested, present, env.Config.CountDefault)

	sections, err := req.Strings("sections")
	if err != nil {
		return nil, err
	}
	if err = checkSections(sections, eoCoverageSetSections); err != nil {
		return nil, err
	}

	objs, missing, err := env.lookupAll(ctx, eoids, env.eoObjectLookups())
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, utils.NoSuchDatasetSeriesOrCoverage(missing)
	}

	set, err := evaluateEOCoverageSet(objs, subs, containment)
	if err != nil {
		return nil, err
	}
	covs, series := set.page(count,
		includesSection(sections, "CoverageDescriptions"),
		includesSection(sections, "DatasetSeriesDescriptions"))
	returned := len(covs) + len(series)

	if env.Metrics != nil {
		env.Metrics.Info.Store.NumMatched = set.matched()
		env.Metrics.Info.Store.NumReturned = returned
	}

	doc, err := encoder.EOCoverageSetDescription(covs, series, set.matched(), returned, env.nativeFormat())
	if err != nil {
		return nil, utils.InternalError("encoding coverage set: %v", err)
	}
	return encodeXML(encoder.EOWCS, doc, xmlContentType)
}

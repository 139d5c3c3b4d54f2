package ows

import (
	"context"
	"sync"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/encoder"
	"github.com/nci/eows/mas"
	"github.com/nci/eows/metrics"
	"github.com/nci/eows/processor"
	"github.com/nci/eows/utils"
	"github.com/rs/zerolog"
)

// Env is what a handler needs to serve one namespace.
type Env struct {
	Namespace string
	// URL is the service endpoint advertised in capabilities.
	URL       string
	Config    *utils.ServiceConfig
	Catalogue *mas.Catalogue
	Renderer  processor.Renderer
	Template  *processor.LayerTemplate
	Registry  *Registry
	Log       zerolog.Logger
	// Metrics is nil outside of HTTP serving.
	Metrics   *metrics.MetricsCollector

	metricsMu sync.Mutex
}

var (
	datasetKinds  = []string{coverages.KindRectifiedDataset, coverages.KindReferenceableDataset}
	mosaicKinds   = []string{coverages.KindRectifiedStitchedMosaic}
	coverageKinds = []string{coverages.KindRectifiedDataset, coverages.KindReferenceableDataset, coverages.KindRectifiedStitchedMosaic}
	seriesKinds   = []string{coverages.KindDatasetSeries}
)

// lookupFunc finds an object by identifier. ok is false when it does not
// know the identifier.
type lookupFunc func(ctx context.Context, id string) (o coverages.Object, ok bool, err error)

func kindLookup(cat *mas.Catalogue, kinds ...string) lookupFunc {
	return func(ctx context.Context, id string) (coverages.Object, bool, error) {
		return cat.LookupKind(ctx, id, kinds...)
	}
}

func (env *Env) coverageLookups() []lookupFunc {
	return []lookupFunc{
		kindLookup(env.Catalogue, datasetKinds...),
		kindLookup(env.Catalogue, mosaicKinds...),
	}
}

func (env *Env) eoObjectLookups() []lookupFunc {
	return []lookupFunc{
		kindLookup(env.Catalogue, coverageKinds...),
		kindLookup(env.Catalogue, seriesKinds...),
	}
}

// lookup tries lookups in order and stops at the first hit or error.
func (env *Env) lookup(ctx context.Context, id string, lookups []lookupFunc) (coverages.Object, bool, error) {
	start := time.Now()
	defer env.observeStore(start, 1)
	for _, l := range lookups {
		o, ok, err := l(ctx, id)
		if err != nil {
			return nil, false, utils.InternalError("looking up '%s': %v", id, err)
		}
		if ok {
			return o, true, nil
		}
	}
	return nil, false, nil
}

func (env *Env) observeStore(start time.Time, lookups int) {
	if env.Metrics == nil {
		return
	}
	env.metricsMu.Lock()
	defer env.metricsMu.Unlock()
	env.Metrics.Info.Store.Duration += time.Since(start)
	env.Metrics.Info.Store.NumLookups += lookups
}

func (env *Env) listCoverages(ctx context.Context) ([]coverages.Object, []coverages.Object, error) {
	start := time.Now()
	defer env.observeStore(start, 2)
	covs, err := env.Catalogue.List(ctx, coverageKinds...)
	if err != nil {
		return nil, nil, utils.InternalError("listing coverages: %v", err)
	}
	series, err := env.Catalogue.List(ctx, seriesKinds...)
	if err != nil {
		return nil, nil, utils.InternalError("listing dataset series: %v", err)
	}
	return covs, series, nil
}

func (env *Env) serviceInfo(versions []string) *encoder.ServiceInfo {
	c := env.Config
	return &encoder.ServiceInfo{
		Title:        c.Title,
		Abstract:     c.Abstract,
		ProviderName: c.ProviderName,
		ProviderSite: c.ProviderSite,
		URL:          env.URL,
		Versions:     versions,
		Formats:      c.Formats,
		CRSs:         []string{"EPSG:4326", "EPSG:3857"},
	}
}

func (env *Env) registry() *Registry {
	if env.Registry != nil {
		return env.Registry
	}
	return DefaultRegistry()
}

func (env *Env) nativeFormat() string {
	if len(env.Config.Formats) > 0 {
		return env.Config.Formats[0]
	}
	return "image/tiff"
}

// render renders l after filling its description from the layer template.
func (env *Env) render(ctx context.Context, l *processor.Layer) (*processor.RenderResult, error) {
	if env.Renderer == nil || env.Template == nil {
		return nil, utils.InternalError("no renderer configured for namespace '%s'", env.Namespace)
	}
	if err := env.Template.Render(l); err != nil {
		return nil, utils.InternalError("%v", err)
	}

	start := time.Now()
	res, err := env.Renderer.Render(ctx, l)
	if env.Metrics != nil {
		env.metricsMu.Lock()
		env.Metrics.Info.RPC.Duration += time.Since(start)
		env.Metrics.Info.RPC.NumBands = len(l.Bands)
		if res != nil {
			env.Metrics.Info.RPC.BytesRead += int64(len(res.Data))
		}
		env.metricsMu.Unlock()
	}
	if err != nil {
		e := utils.InternalError("rendering '%s'", l.Coverage)
		e.Err = err
		return nil, e
	}
	return res, nil
}

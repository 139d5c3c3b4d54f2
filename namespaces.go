package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nci/eows/mas"
	"github.com/nci/eows/ows"
	"github.com/nci/eows/processor"
	"github.com/nci/eows/utils"
	"github.com/nci/gomemcache/memcache"
	"github.com/rs/zerolog"
)

const memcacheTTL = 10 * time.Minute

// namespaceSet is everything built from one generation of config files.
type namespaceSet struct {
	envs    map[string]*ows.Env
	caches  map[string]*utils.OWSCache
	closers []io.Closer
}

func (s *namespaceSet) Close() {
	for _, c := range s.closers {
		c.Close()
	}
}

func namespaceURL(host, ns string) string {
	if len(host) == 0 {
		host = "localhost"
	}
	u := "http://" + strings.TrimSuffix(host, "/") + "/ows"
	if len(ns) > 0 {
		u += "/" + ns
	}
	return u
}

func newStore(sc *utils.ServiceConfig, conf *utils.Config, set *namespaceSet) (mas.Store, error) {
	if len(sc.PostgresDSN) == 0 {
		return mas.NewMemoryStore(conf.Records)
	}

	pg, err := mas.NewPostgresStore(sc.PostgresDSN, sc.PgPool, sc.PgLimit)
	if err != nil {
		return nil, err
	}
	set.closers = append(set.closers, pg)

	var mc *memcache.Client
	if len(sc.Memcache) > 0 {
		// lazy connection; errors returned in .Get
		mc = memcache.New(sc.Memcache)
	}
	return mas.NewCachedStore(pg, sc.RecordCacheSize, mc, memcacheTTL)
}

// buildNamespaces sets up the metadata store, renderer and response cache
// of every namespace. Nothing is kept if any namespace fails.
func buildNamespaces(configs map[string]*utils.Config, log zerolog.Logger) (*namespaceSet, error) {
	set := &namespaceSet{envs: map[string]*ows.Env{}, caches: map[string]*utils.OWSCache{}}

	for ns, conf := range configs {
		sc := &conf.ServiceConfig

		store, err := newStore(sc, conf, set)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("namespace '%s': metadata store: %v", ns, err)
		}

		tmpl, err := processor.NewLayerTemplate(sc.LayerTemplate)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("namespace '%s': %v", ns, err)
		}

		env := &ows.Env{
			Namespace: ns,
			URL:       namespaceURL(sc.OWSHostname, ns),
			Config:    sc,
			Catalogue: mas.NewCatalogue(store),
			Template:  tmpl,
			Log:       log.With().Str("namespace", ns).Logger(),
		}

		if len(sc.Renderers) > 0 {
			rc, err := processor.NewRenderClient(sc.Renderers, sc.MaxGrpcRecvMsgSize, sc.RenderConcLimit)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("namespace '%s': %v", ns, err)
			}
			set.closers = append(set.closers, rc)
			env.Renderer = rc
		} else {
			log.Warn().Str("namespace", ns).Msg("no renderers configured, GetCoverage and GetMap are unavailable")
		}

		if len(sc.RedisAddr) > 0 {
			cache := utils.NewOWSCacheFromAddr(sc.RedisAddr, "eows:"+ns, sc.ResponseCacheTTL)
			set.closers = append(set.closers, cache)
			set.caches[ns] = cache
		}

		set.envs[ns] = env
		log.Info().Str("namespace", ns).Str("url", env.URL).Bool("postgres", len(sc.PostgresDSN) > 0).
			Int("renderers", len(sc.Renderers)).Msg("namespace ready")
	}
	return set, nil
}

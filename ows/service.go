package ows

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nci/eows/decoder"
	"github.com/nci/eows/metrics"
	"github.com/nci/eows/utils"
	"github.com/rs/zerolog"
)

// DefaultMaxBodySize bounds POST request bodies.
const DefaultMaxBodySize = 4 << 20

// Server serves the OWS endpoints of all configured namespaces. The
// namespace set is swapped as a whole on config reload.
type Server struct {
	Log           zerolog.Logger
	MetricsLogger metrics.Logger
	MaxBodySize   int64

	mu     sync.RWMutex
	envs   map[string]*Env
	caches map[string]*utils.OWSCache
}

func NewServer(log zerolog.Logger, metricsLogger metrics.Logger) *Server {
	return &Server{
		Log:           log,
		MetricsLogger: metricsLogger,
		MaxBodySize:   DefaultMaxBodySize,
		envs:          map[string]*Env{},
		caches:        map[string]*utils.OWSCache{},
	}
}

// SetNamespaces replaces the served namespaces. caches may lack entries
// for namespaces without a response cache.
func (s *Server) SetNamespaces(envs map[string]*Env, caches map[string]*utils.OWSCache) {
	if caches == nil {
		caches = map[string]*utils.OWSCache{}
	}
	s.mu.Lock()
	s.envs, s.caches = envs, caches
	s.mu.Unlock()
}

func (s *Server) namespace(ns string) (*Env, *utils.OWSCache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envs[ns]
	return env, s.caches[ns], ok
}

// Mount registers /ows for the root namespace and /ows/<ns> for the others.
func (s *Server) Mount(r chi.Router) {
	r.HandleFunc("/ows", s.owsHandler)
	r.HandleFunc("/ows/*", s.owsHandler)
}

func (s *Server) owsHandler(w http.ResponseWriter, r *http.Request) {
	ns := strings.Trim(chi.URLParam(r, "*"), "/")
	env, cache, ok := s.namespace(ns)
	if !ok {
		s.Log.Info().Str("namespace", ns).Str("path", r.URL.Path).Msg("invalid dataset namespace")
		http.Error(w, "Invalid dataset namespace: "+ns, http.StatusNotFound)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")

	ctx := utils.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	log := utils.LoggerFromContext(ctx, s.Log).With().Str("namespace", ns).Logger()

	metricsCollector := metrics.NewMetricsCollector(s.MetricsLogger)
	defer metricsCollector.Log()

	t0 := time.Now()
	metricsCollector.Info.ReqTime = t0.Format(time.RFC3339)
	defer func() { metricsCollector.Info.ReqDuration = time.Since(t0) }()

	metricsCollector.Info.RequestID = utils.RequestID(ctx)
	if reqURL, err := url.QueryUnescape(r.URL.String()); err == nil {
		metricsCollector.Info.URL.RawURL = reqURL
	} else {
		metricsCollector.Info.URL.RawURL = r.URL.String()
	}
	metricsCollector.Info.RemoteAddr = r.RemoteAddr
	metricsCollector.Info.Request.Namespace = ns

	reqEnv := env.forRequest(log, metricsCollector)
	resp := s.serve(ctx, reqEnv, cache, r)
	metricsCollector.Info.HTTPStatus = resp.Status
	resp.Write(w)
}

// forRequest returns a copy of env logging and collecting metrics for
// one request.
func (env *Env) forRequest(log zerolog.Logger, mc *metrics.MetricsCollector) *Env {
	return &Env{
		Namespace: env.Namespace,
		URL:       env.URL,
		Config:    env.Config,
		Catalogue: env.Catalogue,
		Renderer:  env.Renderer,
		Template:  env.Template,
		Registry:  env.Registry,
		Log:       log,
		Metrics:   mc,
	}
}

func (s *Server) parseRequest(r *http.Request) (*decoder.Request, error) {
	switch r.Method {
	case http.MethodGet:
		query, err := utils.ParseQuery(r.URL.RawQuery)
		if err != nil {
			return nil, utils.InvalidParameterValue("request", "Failed to parse query: "+err.Error())
		}
		return decoder.NewKVPRequest(r.Method, query)

	case http.MethodPost:
		body, err := utils.ReadBody(r.Body, s.MaxBodySize)
		if err != nil {
			return nil, utils.InvalidParameterValue("request", "Failed to read request body: "+err.Error())
		}
		if utils.IsFormPost(r.Header.Get("Content-Type")) {
			query, err := utils.ParseQuery(string(body))
			if err != nil {
				return nil, utils.InvalidParameterValue("request", "Failed to parse form: "+err.Error())
			}
			return decoder.NewKVPRequest(r.Method, query)
		}
		return decoder.NewXMLRequest(r.Method, body)
	}
	return nil, utils.OperationNotSupported(r.Method)
}

func (s *Server) serve(ctx context.Context, env *Env, cache *utils.OWSCache, r *http.Request) *Response {
	info := env.Metrics.Info.Request

	req, err := s.parseRequest(r)
	if err != nil {
		return s.failure(env, "", "", r.URL.RawQuery, err, nil)
	}
	info.ParamType = req.ParamType.String()

	desc, err := env.registry().Resolve(req)
	if err != nil {
		return s.failure(env, req.Service, req.Version, req.RawParams(), err, nil)
	}
	info.Service, info.Version, info.Operation = desc.Service, req.Version, desc.Operation

	if err = req.Bind(desc.Schema); err != nil {
		return s.failure(env, desc.Service, req.Version, req.RawParams(), err, desc.StatusOverrides)
	}

	var key string
	if cache != nil && desc.Cacheable && req.ParamType == decoder.KVP {
		key = cache.CacheKey(env.Namespace, req.Query)
		cached, err := cache.Get(ctx, key)
		if err != nil {
			env.Log.Warn().Err(err).Msg("response cache lookup failed")
		}
		if cached != nil {
			env.Metrics.Info.CacheHit = true
			return &Response{Status: http.StatusOK, ContentType: cached.ContentType, Body: cached.Body}
		}
	}

	resp, err := desc.Handle(ctx, env, req)
	if err != nil {
		return s.failure(env, desc.Service, req.Version, req.RawParams(), err, desc.StatusOverrides)
	}

	if len(key) > 0 && resp.Status == http.StatusOK {
		if err := cache.Put(ctx, key, &utils.CachedResponse{ContentType: resp.ContentType, Body: resp.Body}); err != nil {
			env.Log.Warn().Err(err).Msg("response cache store failed")
		}
	}
	return resp
}

// failure logs err and encodes it as exception report. Client errors are
// logged at debug level only.
func (s *Server) failure(env *Env, service, version, params string, err error, overrides map[string]int) *Response {
	oe := utils.AsOWSError(err)
	if oe.IsInternal() {
		env.Log.Error().Err(err).Str("params", params).Msg("internal error")
	} else {
		env.Log.Debug().Str("code", oe.Code).Str("locator", oe.Locator).Msg(oe.Error())
	}
	return ExceptionResponse(service, version, err, overrides)
}

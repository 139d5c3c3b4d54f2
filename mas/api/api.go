// Metadata API
// Serves EO records of the eows metadata store as JSON.

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/mas"
	"github.com/nci/eows/utils"
	"github.com/nci/gomemcache/memcache"
)

var (
	dsn      = flag.String("dsn", "host=/var/run/postgresql dbname=mas user=api sslmode=disable", "postgres connection string")
	dbPool   = flag.Int("pool", 8, "database pool size")
	dbLimit  = flag.Int("limit", 64, "database concurrent requests")
	httpPort = flag.Int("port", 8080, "http port")
	mcURI    = flag.String("memcache", "", "memcache uri host:port")
	mcTTL    = flag.Duration("memcache_ttl", 10*time.Minute, "memcache item lifetime")
)

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	http.Error(response, fmt.Sprintf(`{ "error": %q }`, err.Error()), status)
}

func parseQuery(request *http.Request) (mas.Query, error) {
	var q mas.Query
	var err error
	if s := request.FormValue("time"); len(s) > 0 {
		if q.Begin, err = coverages.ParseTime(s); err != nil {
			return q, err
		}
	}
	if s := request.FormValue("until"); len(s) > 0 {
		if q.End, err = coverages.ParseTime(s); err != nil {
			return q, err
		}
	}
	if s := request.FormValue("bbox"); len(s) > 0 {
		parts := strings.Split(s, ",")
		if len(parts) != 4 {
			return q, fmt.Errorf("bbox needs 4 values")
		}
		var b [4]float64
		for i, p := range parts {
			if b[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
				return q, fmt.Errorf("bbox: %v", err)
			}
		}
		q.BBox = &b
	}
	if s := request.FormValue("kinds"); len(s) > 0 {
		q.Kinds = strings.Split(s, ",")
	}
	if s := request.FormValue("limit"); len(s) > 0 {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("invalid limit '%s'", s)
		}
	}
	return q, nil
}

func newHandler(store mas.Store) http.HandlerFunc {
	return func(response http.ResponseWriter, request *http.Request) {
		response.Header().Set("Content-Type", "application/json")
		ctx := request.Context()
		query := request.URL.Query()

		var payload interface{}
		var err error
		switch {
		case len(query.Get("record")) > 0:
			id := query.Get("record")
			rec, lerr := store.Record(ctx, id)
			if lerr == nil && rec == nil {
				httpJSONError(response, fmt.Errorf("no record '%s'", id), http.StatusNotFound)
				return
			}
			payload, err = rec, lerr

		case query.Has("intersects"):
			q, qerr := parseQuery(request)
			if qerr != nil {
				httpJSONError(response, qerr, http.StatusBadRequest)
				return
			}
			payload, err = store.Intersects(ctx, q)

		case query.Has("identifiers"):
			var kinds []string
			if s := query.Get("kinds"); len(s) > 0 {
				kinds = strings.Split(s, ",")
			}
			payload, err = store.Identifiers(ctx, kinds...)

		default:
			httpJSONError(response, errors.New("unknown operation; currently supported: ?record, ?intersects, ?identifiers"), http.StatusBadRequest)
			return
		}

		if err != nil {
			httpJSONError(response, err, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(response).Encode(payload)
	}
}

func main() {
	flag.Parse()

	log := utils.NewLogger(utils.LogConfig{Component: "mas"}, os.Stderr)
	log.Info().Int("pool", *dbPool).Int("limit", *dbLimit).Int("port", *httpPort).Msg("starting metadata api")

	pg, err := mas.NewPostgresStore(*dsn, *dbPool, *dbLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres")
	}
	defer pg.Close()

	var mc *memcache.Client
	if *mcURI != "" {
		// lazy connection; errors returned in .Get
		mc = memcache.New(*mcURI)
	}
	store, err := mas.NewCachedStore(pg, 0, mc, *mcTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("cache")
	}

	http.HandleFunc("/", newHandler(store))
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *httpPort), nil); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}

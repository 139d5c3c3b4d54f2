package main

/* ows is a web server implementing the EO-WCS, WCS and WMS protocols
   to serve earth observation coverages. Configuration of the server
   is read from the config.yaml files of the config directory, one per
   namespace, where the metadata store, the renderers and the service
   identification are defined.
   This server depends on two other services to operate: the metadata
   store holding the EO records and the rendering engines producing the
   coverage images. */

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/eows/metrics"
	"github.com/nci/eows/ows"
	"github.com/nci/eows/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	dumpConfig      = flag.Bool("dump_conf", false, "Dump server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var (
	Error zerolog.Logger
	Info  zerolog.Logger
)

// active holds the resources of the served namespaces so that they can
// be released after a reload.
var (
	activeMu sync.Mutex
	active   *namespaceSet
)

func newLoggers(sc *utils.ServiceConfig) {
	level := sc.LogLevel
	if *verbose {
		level = "debug"
	}
	Info = utils.NewLogger(utils.LogConfig{Level: level, Console: sc.LogPretty, Component: "ows"}, os.Stdout)
	Error = utils.NewLogger(utils.LogConfig{Level: level, Console: sc.LogPretty, Component: "ows"}, os.Stderr)
}

func newMetricsLogger(logDir string) metrics.Logger {
	if len(logDir) == 0 {
		return nil
	}
	if logDir == "-" {
		return metrics.NewStdoutLogger(Error)
	}

	maxLogFileSize := int64(0)
	if val, ok := os.LookupEnv("EOWS_MAX_LOG_FILE_SIZE"); ok {
		valInt, e := strconv.ParseInt(val, 10, 64)
		if e == nil {
			maxLogFileSize = valInt
		} else {
			Error.Error().Err(e).Msg("invalid EOWS_MAX_LOG_FILE_SIZE")
		}
	}

	maxLogFiles := -1
	if val, ok := os.LookupEnv("EOWS_MAX_LOG_FILES"); ok {
		valInt, e := strconv.ParseInt(val, 10, 32)
		if e == nil {
			maxLogFiles = int(valInt)
		} else {
			Error.Error().Err(e).Msg("invalid EOWS_MAX_LOG_FILES")
		}
	}
	return metrics.NewFileLogger(logDir, maxLogFileSize, maxLogFiles, Error)
}

// serve swaps in the namespaces built from configs and releases the
// previous ones.
func serve(srv *ows.Server, configs map[string]*utils.Config) error {
	set, err := buildNamespaces(configs, Info)
	if err != nil {
		return err
	}
	srv.SetNamespaces(set.envs, set.caches)

	activeMu.Lock()
	prev := active
	active = set
	activeMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return nil
}

func main() {
	flag.Parse()
	utils.EtcDir = *serverConfigDir

	newLoggers(&utils.ServiceConfig{})
	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, Info)
	if err != nil {
		Error.Fatal().Err(err).Msg("Error in loading config files")
	}

	if *validateConfig {
		os.Exit(0)
	}

	if *dumpConfig {
		configYaml, err := utils.DumpConfig(confMap)
		if err != nil {
			Error.Fatal().Err(err).Msg("Error in dumping configs")
		}
		fmt.Print(configYaml)
		os.Exit(0)
	}

	// server wide settings come from the root namespace
	rootConf := &utils.Config{}
	if c, ok := confMap[""]; ok {
		rootConf = c
	}
	sc := &rootConf.ServiceConfig
	newLoggers(sc)

	srv := ows.NewServer(Info, newMetricsLogger(*serverLogDir))
	if err := serve(srv, confMap); err != nil {
		Error.Fatal().Err(err).Msg("Error in setting up namespaces")
	}

	configMap := utils.NewConfigMap(confMap)
	utils.WatchConfig(Info, utils.EtcDir, configMap, func(configs map[string]*utils.Config) {
		if err := serve(srv, configs); err != nil {
			Error.Error().Err(err).Msg("Error in setting up reloaded namespaces")
		}
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	srv.Mount(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if *verbose {
		router.Mount("/debug", middleware.Profiler())
	}

	ln, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Fatal().Err(err).Msg("listen")
	}
	var listener net.Listener = ln
	if sc.MaxConns > 0 {
		listener = netutil.LimitListener(ln, sc.MaxConns)
	}

	httpServer := &http.Server{
		Handler:      router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	Info.Info().Int("port", *port).Strs("namespaces", configMap.Namespaces()).Msg("EOWS is ready")
	if err := httpServer.Serve(listener); err != nil {
		Error.Fatal().Err(err).Msg("serve")
	}
}

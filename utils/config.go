package utils

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nci/eows/coverages"
	"github.com/rs/zerolog"
	yaml "gopkg.in/yaml.v2"
)

var EtcDir = "."

const ConfigFileName = "config.yaml"

const (
	DefaultCountDefault     = 100
	DefaultRecvMsgSize      = 10 * 1024 * 1024
	DefaultRenderConcLimit  = 16
	DefaultPgPool           = 8
	DefaultPgLimit          = 64
	DefaultRecordCacheSize  = 4096
	DefaultResponseCacheTTL = 10 * time.Minute
	DefaultMaxImageSize     = 8192
)

// ServiceConfig holds the service wide settings of a namespace. Every
// field can be overridden by its EOWS_* environment variable.
type ServiceConfig struct {
	OWSHostname  string `yaml:"ows_hostname" env:"EOWS_HOSTNAME"`
	Title        string `yaml:"title" env:"EOWS_TITLE"`
	Abstract     string `yaml:"abstract"`
	ProviderName string `yaml:"provider_name"`
	ProviderSite string `yaml:"provider_site"`

	// CountDefault caps the number of items of a DescribeEOCoverageSet
	// response.
	CountDefault int      `yaml:"count_default" env:"EOWS_COUNT_DEFAULT"`
	Formats      []string `yaml:"formats"`

	PostgresDSN     string `yaml:"postgres_dsn" env:"EOWS_POSTGRES_DSN"`
	PgPool          int    `yaml:"pg_pool" env:"EOWS_PG_POOL"`
	PgLimit         int    `yaml:"pg_limit" env:"EOWS_PG_LIMIT"`
	Memcache        string `yaml:"memcache" env:"EOWS_MEMCACHE"`
	RecordCacheSize int    `yaml:"record_cache_size" env:"EOWS_RECORD_CACHE_SIZE"`

	RedisAddr        string        `yaml:"redis_addr" env:"EOWS_REDIS_ADDR"`
	ResponseCacheTTL time.Duration `yaml:"response_cache_ttl" env:"EOWS_RESPONSE_CACHE_TTL"`

	Renderers          []string `yaml:"renderers" env:"EOWS_RENDERERS" envSeparator:","`
	RenderConcLimit    int      `yaml:"render_conc_limit" env:"EOWS_RENDER_CONC_LIMIT"`
	MaxGrpcRecvMsgSize int      `yaml:"max_grpc_recv_msg_size" env:"EOWS_MAX_GRPC_RECV_MSG_SIZE"`
	LayerTemplate      string   `yaml:"layer_template"`
	// MaxImageSize bounds the width and height of rendered images.
	MaxImageSize       int      `yaml:"max_image_size" env:"EOWS_MAX_IMAGE_SIZE"`

	MaxConns     int           `yaml:"max_conns" env:"EOWS_MAX_CONNS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"EOWS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"EOWS_WRITE_TIMEOUT"`

	LogLevel  string `yaml:"log_level" env:"EOWS_LOG_LEVEL"`
	LogPretty bool   `yaml:"log_pretty" env:"EOWS_LOG_PRETTY"`
}

// Config is the content of one config.yaml. Records declared here are
// served by the in-memory store when no Postgres DSN is configured.
type Config struct {
	ServiceConfig ServiceConfig      `yaml:"service_config"`
	Records       []coverages.Record `yaml:"records"`
	NameSpace     string             `yaml:"-"`
}

// LoadConfigFile reads and validates one config file.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	if err = yaml.UnmarshalStrict(cfg, config); err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
	}

	if err = env.Parse(&config.ServiceConfig); err != nil {
		return fmt.Errorf("Error applying environment overrides to %s: %w", configFile, err)
	}

	config.applyDefaults()

	if _, err = coverages.Resolve(config.Records); err != nil {
		return fmt.Errorf("Invalid records in config document %s: %v", configFile, err)
	}
	return nil
}

func (config *Config) applyDefaults() {
	sc := &config.ServiceConfig
	if sc.CountDefault <= 0 {
		sc.CountDefault = DefaultCountDefault
	}
	if sc.MaxGrpcRecvMsgSize <= 0 {
		sc.MaxGrpcRecvMsgSize = DefaultRecvMsgSize
	}
	if sc.RenderConcLimit <= 0 {
		sc.RenderConcLimit = DefaultRenderConcLimit
	}
	if sc.PgPool <= 0 {
		sc.PgPool = DefaultPgPool
	}
	if sc.PgLimit <= 0 {
		sc.PgLimit = DefaultPgLimit
	}
	if sc.RecordCacheSize <= 0 {
		sc.RecordCacheSize = DefaultRecordCacheSize
	}
	if sc.ResponseCacheTTL <= 0 {
		sc.ResponseCacheTTL = DefaultResponseCacheTTL
	}
	if sc.MaxImageSize <= 0 {
		sc.MaxImageSize = DefaultMaxImageSize
	}
	if len(sc.Formats) == 0 {
		sc.Formats = []string{"image/tiff", "image/png", "image/jpeg"}
	}
	if len(sc.Title) == 0 {
		sc.Title = "EO coverage service"
	}
}

// LoadAllConfigFiles walks rootDir and loads every config.yaml. The
// directory of a file relative to rootDir is its namespace; the root
// directory is the "" namespace.
func LoadAllConfigFiles(rootDir string, log zerolog.Logger) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() != ConfigFileName {
			return nil
		}

		relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
		ns := filepath.ToSlash(relPath)
		if ns == "." {
			ns = ""
		}
		log.Info().Str("file", path).Str("namespace", ns).Msg("loading config file")

		config := &Config{}
		if e := config.LoadConfigFile(path); e != nil {
			return e
		}
		config.NameSpace = ns
		configMap[ns] = config
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}
	return configMap, err
}

// DumpConfig renders the effective configuration of all namespaces.
func DumpConfig(configs map[string]*Config) (string, error) {
	out, err := yaml.Marshal(configs)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ConfigMap is the set of namespace configs currently served. It is
// swapped as a whole on reload.
type ConfigMap struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

func NewConfigMap(configs map[string]*Config) *ConfigMap {
	return &ConfigMap{configs: configs}
}

func (c *ConfigMap) Get(ns string) (*Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conf, ok := c.configs[ns]
	return conf, ok
}

func (c *ConfigMap) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.configs))
	for ns := range c.configs {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (c *ConfigMap) Replace(configs map[string]*Config) {
	c.mu.Lock()
	c.configs = configs
	c.mu.Unlock()
}

// WatchConfig reloads all config files on SIGHUP. A failed reload keeps
// the current configs. onReload is called after a successful reload.
func WatchConfig(log zerolog.Logger, rootDir string, configMap *ConfigMap, onReload func(map[string]*Config)) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info().Msg("Caught SIGHUP, reloading config...")
			confMap, err := LoadAllConfigFiles(rootDir, log)
			if err != nil {
				log.Error().Err(err).Msg("Error in loading config files")
				continue
			}
			configMap.Replace(confMap)
			if onReload != nil {
				onReload(confMap)
			}
		}
	}()
}

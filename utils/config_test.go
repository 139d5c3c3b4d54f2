package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testConfig = `
service_config:
  ows_hostname: localhost:8080
  title: Test service
  count_default: 5
  response_cache_ttl: 30s
  renderers: ["127.0.0.1:6000"]
records:
  - kind: DatasetSeries
    identifier: series
    members: [scene]
  - kind: RectifiedDataset
    identifier: scene
    begin_time: "2008-03-10T00:00:00Z"
    end_time: "2008-03-15T00:00:00Z"
    size: [100, 100]
    extent: [0, 0, 10, 10]
`

func writeConfig(t *testing.T, dir, content string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAllConfigFiles(t *testing.T) {
	root, err := ioutil.TempDir("", "eows_conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	writeConfig(t, root, testConfig)
	writeConfig(t, filepath.Join(root, "landsat"), "service_config:\n  title: Landsat\n")

	configs, err := LoadAllConfigFiles(root, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 namespaces, got %d", len(configs))
	}

	conf := configs[""]
	if conf == nil {
		t.Fatal("root namespace missing")
	}
	sc := conf.ServiceConfig
	if sc.CountDefault != 5 {
		t.Errorf("count_default = %d", sc.CountDefault)
	}
	if sc.ResponseCacheTTL != 30*time.Second {
		t.Errorf("response_cache_ttl = %v", sc.ResponseCacheTTL)
	}
	if len(conf.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(conf.Records))
	}

	ls := configs["landsat"]
	if ls == nil || ls.NameSpace != "landsat" {
		t.Fatal("landsat namespace missing")
	}
	if ls.ServiceConfig.CountDefault != DefaultCountDefault {
		t.Errorf("default count_default not applied: %d", ls.ServiceConfig.CountDefault)
	}
	if len(ls.ServiceConfig.Formats) == 0 {
		t.Errorf("default formats not applied")
	}
}

func TestConfigEnvOverride(t *testing.T) {
	root, err := ioutil.TempDir("", "eows_conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	writeConfig(t, root, testConfig)

	os.Setenv("EOWS_COUNT_DEFAULT", "42")
	os.Setenv("EOWS_RENDERERS", "a:1,b:2")
	defer os.Unsetenv("EOWS_COUNT_DEFAULT")
	defer os.Unsetenv("EOWS_RENDERERS")

	conf := &Config{}
	if err := conf.LoadConfigFile(filepath.Join(root, ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	if conf.ServiceConfig.CountDefault != 42 {
		t.Errorf("env override ignored: %d", conf.ServiceConfig.CountDefault)
	}
	if len(conf.ServiceConfig.Renderers) != 2 {
		t.Errorf("renderers = %v", conf.ServiceConfig.Renderers)
	}
}

func TestConfigRejectsBadRecords(t *testing.T) {
	root, err := ioutil.TempDir("", "eows_conf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	writeConfig(t, root, "records:\n  - kind: DatasetSeries\n    identifier: s\n    members: [missing]\n")

	conf := &Config{}
	if err := conf.LoadConfigFile(filepath.Join(root, ConfigFileName)); err == nil {
		t.Errorf("expected error for unknown member")
	}

	writeConfig(t, root, "service_config:\n  no_such_key: 1\n")
	if err := conf.LoadConfigFile(filepath.Join(root, ConfigFileName)); err == nil {
		t.Errorf("expected error for unknown key")
	}
}

func TestConfigMap(t *testing.T) {
	cm := NewConfigMap(map[string]*Config{"b": {}, "a": {}})
	if ns := cm.Namespaces(); len(ns) != 2 || ns[0] != "a" {
		t.Errorf("namespaces = %v", ns)
	}
	cm.Replace(map[string]*Config{"c": {}})
	if _, ok := cm.Get("a"); ok {
		t.Errorf("replaced namespace still served")
	}
	if _, ok := cm.Get("c"); !ok {
		t.Errorf("new namespace not served")
	}
}

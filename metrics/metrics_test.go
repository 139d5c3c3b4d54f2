package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestToJSON(t *testing.T) {
	info := &MetricsInfo{
		RemoteAddr: "10.0.0.1:5432",
		URL:        URLInfo{RawURL: "http://localhost/ows?service=WCS&subset=time(%222008-01-01T00:00:00%2B01:00%22)&a=1&a=2"},
	}

	s, err := info.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	var out MetricsInfo
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatal(err)
	}
	if out.RemoteHost != "10.0.0.1" || out.RemotePort != "5432" {
		t.Errorf("remote = %s:%s", out.RemoteHost, out.RemotePort)
	}
	if out.URL.Path != "/ows" || out.URL.Host != "localhost" {
		t.Errorf("url = %+v", out.URL)
	}
	if got := out.URL.Query["subset"]; got != `time("2008-01-01T00:00:00+01:00")` {
		t.Errorf("subset = %s", got)
	}
	if got := out.URL.Query["a"]; got != "[1 2]" {
		t.Errorf("a = %s", got)
	}
}

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	c := NewMetricsCollector(NewWriterLogger(&buf, zerolog.Nop()))
	c.Info.URL.RawURL = "http://localhost/ows"
	c.Info.HTTPStatus = 200
	c.Info.Request.Service = "WCS"
	c.Info.Request.Operation = "GetCapabilities"
	c.Log()

	if !strings.Contains(buf.String(), `"http_status":200`) {
		t.Errorf("log line = %s", buf.String())
	}
}

func TestFileLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLogger(dir, 10, 2, zerolog.Nop())
	for i := 0; i < 20; i++ {
		l.Log(&MetricsInfo{URL: URLInfo{RawURL: "http://localhost/ows"}, ReqDuration: time.Duration(i)})
	}
	l.Close()

	for idx := 0; idx < defaultLogWriters; idx++ {
		matches, err := filepath.Glob(filepath.Join(dir, "log"+string(rune('0'+idx))+".*"))
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) > 2 {
			t.Errorf("writer %d kept %d rotated files", idx, len(matches))
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Errorf("no log files written")
	}
}

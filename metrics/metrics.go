package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/nci/eows/utils"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// RequestInfo identifies the dispatched operation.
type RequestInfo struct {
	Namespace string `json:"namespace"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Operation string `json:"operation"`
	ParamType string `json:"param_type"`
}

type StoreInfo struct {
	Duration    time.Duration `json:"duration"`
	NumLookups  int           `json:"num_lookups"`
	NumMatched  int           `json:"num_matched"`
	NumReturned int           `json:"num_returned"`
}

type RPCInfo struct {
	Duration  time.Duration `json:"duration"`
	Renderer  string        `json:"renderer"`
	NumBands  int           `json:"num_bands"`
	BytesRead int64         `json:"bytes_read"`
}

type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	RequestID   string        `json:"request_id"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	CacheHit    bool          `json:"cache_hit"`
	Request     *RequestInfo  `json:"request"`
	Store       *StoreInfo    `json:"store"`
	RPC         *RPCInfo      `json:"rpc"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			Request: &RequestInfo{},
			Store:   &StoreInfo{},
			RPC:     &RPCInfo{},
		},
		logger: logger,
	}
}

// Log writes the request record and updates the prometheus collectors.
func (m *MetricsCollector) Log() {
	ObserveRequest(m.Info.Request.Service, m.Info.Request.Operation, m.Info.HTTPStatus, m.Info.ReqDuration)
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)
	if err := i.normaliseURL(&i.URL); err != nil {
		return "", fmt.Errorf("metrics: normaliseURL: %v", err)
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := utils.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		switch len(v) {
		case 0:
			u.Query[k] = ""
		case 1:
			u.Query[k] = v[0]
		default:
			u.Query[k] = fmt.Sprintf("%v", v)
		}
	}
	return nil
}

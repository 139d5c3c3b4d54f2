package decoder

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/nci/eows/utils"
)

type ParamType int

const (
	KVP ParamType = iota
	XML
)

func (p ParamType) String() string {
	if p == XML {
		return "xml"
	}
	return "kvp"
}

// Namespace URIs used by the common request locations.
const (
	NsOWS11 = "http://www.opengis.net/ows/1.1"
	NsOWS20 = "http://www.opengis.net/ows/2.0"
)

// CommonSchema locates the parameters every OWS request carries. Handler
// schemas extend it.
var CommonSchema = MustSchema(
	Field{Key: "service", XMLLocation: "/@service", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	Field{Key: "version", XMLLocation: "/@version", XMLType: "string[0:1]", KVPType: "string[0:1]"},
	Field{Key: "operation", XMLLocation: "/", XMLType: "localName", KVPKey: "request", KVPType: "string[0:1]"},
	Field{Key: "acceptversions", XMLLocation: "/{*}AcceptVersions/{*}Version", XMLType: "string[]", KVPType: "stringlist[0:1]"},
)

// Request is the decoded form of one incoming OWS request. It is owned by
// the goroutine serving the request.
type Request struct {
	Method    string
	ParamType ParamType
	Query     url.Values
	Body      []byte

	Service        string
	Operation      string
	Version        string
	AcceptVersions []string

	doc     *etree.Document
	decoder Decoder
	values  map[string]interface{}
}

// NewKVPRequest decodes the common parameters of a GET request.
func NewKVPRequest(method string, query url.Values) (*Request, error) {
	r := &Request{Method: method, ParamType: KVP, Query: query}
	if err := r.Bind(CommonSchema); err != nil {
		return nil, err
	}
	return r, r.decodeCommon()
}

// NewXMLRequest parses body and decodes the common parameters.
func NewXMLRequest(method string, body []byte) (*Request, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	r := &Request{Method: method, ParamType: XML, Body: body, doc: doc}
	if err := r.Bind(CommonSchema); err != nil {
		return nil, err
	}
	return r, r.decodeCommon()
}

func (r *Request) decodeCommon() error {
	var err error
	if r.Service, err = r.String("service"); err != nil {
		return err
	}
	if r.Version, err = r.String("version"); err != nil {
		return err
	}
	if r.Operation, err = r.String("operation"); err != nil {
		return err
	}
	if r.AcceptVersions, err = r.Strings("acceptversions"); err != nil {
		return err
	}
	return nil
}

// Bind switches the request to schema. Values decoded under a previous
// schema are dropped.
func (r *Request) Bind(schema *Schema) error {
	switch r.ParamType {
	case KVP:
		r.decoder = NewKVPDecoder(schema, r.Query)
	case XML:
		r.decoder = NewXMLDecoder(schema, r.doc)
	default:
		return utils.InternalError("unknown parameter type %d", r.ParamType)
	}
	r.values = make(map[string]interface{})
	return nil
}

func (r *Request) SetVersion(v string) {
	r.Version = v
}

// Document returns the parsed request document of XML requests.
func (r *Request) Document() *etree.Document {
	return r.doc
}

func (r *Request) Value(key string) (interface{}, error) {
	if r.decoder == nil {
		return nil, utils.InternalError("request is not bound to a schema")
	}
	key = strings.ToLower(key)
	if v, ok := r.values[key]; ok {
		return v, nil
	}
	v, err := r.decoder.Value(key)
	if err != nil {
		return nil, err
	}
	r.values[key] = v
	return v, nil
}

// String returns a scalar string value or "" when absent.
func (r *Request) String(key string) (string, error) {
	v, err := r.Value(key)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeMismatch(key, v, "string")
	}
	return s, nil
}

func (r *Request) Strings(key string) ([]string, error) {
	v, err := r.Value(key)
	if err != nil || v == nil {
		return nil, err
	}
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case string:
		return []string{vv}, nil
	}
	return nil, typeMismatch(key, v, "string list")
}

// Int returns the value and whether it was present.
func (r *Request) Int(key string) (int, bool, error) {
	v, err := r.Value(key)
	if err != nil || v == nil {
		return 0, false, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, false, typeMismatch(key, v, "int")
	}
	return i, true, nil
}

func (r *Request) Float(key string) (float64, bool, error) {
	v, err := r.Value(key)
	if err != nil || v == nil {
		return 0, false, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false, typeMismatch(key, v, "float")
	}
	return f, true, nil
}

func (r *Request) Floats(key string) ([]float64, error) {
	v, err := r.Value(key)
	if err != nil || v == nil {
		return nil, err
	}
	switch vv := v.(type) {
	case []float64:
		return vv, nil
	case float64:
		return []float64{vv}, nil
	}
	return nil, typeMismatch(key, v, "float list")
}

func (r *Request) Nodes(key string) ([]Node, error) {
	v, err := r.Value(key)
	if err != nil || v == nil {
		return nil, err
	}
	switch vv := v.(type) {
	case []Node:
		return vv, nil
	case Node:
		return []Node{vv}, nil
	}
	return nil, typeMismatch(key, v, "element")
}

// RawParams renders the raw request for logs.
func (r *Request) RawParams() string {
	if r.ParamType == XML {
		return string(r.Body)
	}
	return r.Query.Encode()
}

func typeMismatch(key string, v interface{}, want string) error {
	return utils.InternalError("field '%s' decoded as %s, not %s", key, fmt.Sprintf("%T", v), want)
}

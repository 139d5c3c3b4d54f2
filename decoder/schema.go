package decoder

import (
	"sort"
	"strings"

	"github.com/nci/eows/utils"
)

// Field declares where a parameter lives in each encoding. An empty
// XMLLocation or KVPType means the parameter has no representation in
// that encoding. KVPKey defaults to Key.
type Field struct {
	Key         string
	XMLLocation string
	XMLType     string
	KVPKey      string
	KVPType     string
}

type fieldDesc struct {
	key     string
	xmlPath Path
	xmlType TypeExpr
	hasXML  bool
	kvpKey  string
	kvpType TypeExpr
	hasKVP  bool
}

// Schema is an immutable set of field descriptors. It is safe for
// concurrent use by any number of decoders.
type Schema struct {
	fields map[string]*fieldDesc
}

func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{fields: make(map[string]*fieldDesc, len(fields))}
	for _, f := range fields {
		fd, err := compileField(f)
		if err != nil {
			return nil, err
		}
		s.fields[fd.key] = fd
	}
	return s, nil
}

// MustSchema is NewSchema for package level schema tables.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func compileField(f Field) (*fieldDesc, error) {
	fd := &fieldDesc{key: strings.ToLower(f.Key)}
	if len(fd.key) == 0 {
		return nil, utils.InternalError("schema field without key")
	}

	if len(f.XMLLocation) > 0 {
		path, err := CompilePath(f.XMLLocation)
		if err != nil {
			return nil, err
		}
		t, err := ParseTypeExpr(f.XMLType)
		if err != nil {
			return nil, err
		}
		fd.xmlPath, fd.xmlType, fd.hasXML = path, t, true
	}

	if len(f.KVPType) > 0 {
		t, err := ParseTypeExpr(f.KVPType)
		if err != nil {
			return nil, err
		}
		if t.Base == TypeElement || t.Base == TypeLocalName || t.Base == TypeTagName {
			return nil, utils.InternalError("type '%s' is not available for KVP field '%s'", t.Name, f.Key)
		}
		fd.kvpKey = strings.ToLower(f.KVPKey)
		if len(fd.kvpKey) == 0 {
			fd.kvpKey = fd.key
		}
		fd.kvpType, fd.hasKVP = t, true
	}
	return fd, nil
}

// Extend returns a new schema containing the fields of s and fields.
// Fields with the same key replace the ones of s.
func (s *Schema) Extend(fields ...Field) (*Schema, error) {
	ext, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	out := &Schema{fields: make(map[string]*fieldDesc, len(s.fields)+len(ext.fields))}
	for k, v := range s.fields {
		out.fields[k] = v
	}
	for k, v := range ext.fields {
		out.fields[k] = v
	}
	return out, nil
}

func (s *Schema) MustExtend(fields ...Field) *Schema {
	out, err := s.Extend(fields...)
	if err != nil {
		panic(err)
	}
	return out
}

func (s *Schema) field(key string) (*fieldDesc, error) {
	fd, ok := s.fields[strings.ToLower(key)]
	if !ok {
		return nil, utils.InternalError("no field '%s' in request schema", key)
	}
	return fd, nil
}

// Keys returns the field keys in sorted order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decoder extracts typed values for the fields of a schema. Scalars are
// returned as string, int, float64 or Node, sequences as []string, []int,
// []float64 or []Node. Absent optional values are nil.
type Decoder interface {
	Value(key string) (interface{}, error)
	Schema() *Schema
}

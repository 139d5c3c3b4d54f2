package decoder

import (
	"net/url"
	"strings"

	"github.com/nci/eows/utils"
)

// KVPDecoder decodes parameters from a query string map. Keys are
// matched case-insensitively.
type KVPDecoder struct {
	schema *Schema
	params url.Values
}

func NewKVPDecoder(schema *Schema, params url.Values) *KVPDecoder {
	lowered := make(url.Values, len(params))
	for k, vs := range params {
		lk := strings.ToLower(k)
		lowered[lk] = append(lowered[lk], vs...)
	}
	return &KVPDecoder{schema: schema, params: lowered}
}

func (d *KVPDecoder) Schema() *Schema {
	return d.schema
}

// Params returns the lower cased raw parameters.
func (d *KVPDecoder) Params() url.Values {
	return d.params
}

func (d *KVPDecoder) Value(key string) (interface{}, error) {
	fd, err := d.schema.field(key)
	if err != nil {
		return nil, err
	}
	if !fd.hasKVP {
		return nil, nil
	}

	t := fd.kvpType
	values := d.params[fd.kvpKey]

	if len(values) == 0 {
		if t.MinOccurs > 0 {
			return nil, utils.MissingParameter(fd.kvpKey)
		}
		return nil, nil
	}

	if t.MaxOccurs == 1 && len(values) > 1 {
		return nil, utils.AmbiguousParameter(fd.kvpKey, len(values))
	}
	if len(values) < t.MinOccurs {
		return nil, utils.OccurrenceError(fd.kvpKey, "Parameter '"+fd.kvpKey+"' occurs fewer times than required.")
	}
	if len(values) > t.MaxOccurs {
		return nil, utils.OccurrenceError(fd.kvpKey, "Parameter '"+fd.kvpKey+"' occurs more times than allowed.")
	}

	if t.Base.IsList() {
		var items []string
		for _, v := range values {
			items = append(items, splitList(v)...)
		}
		return convertList(t.Base, fd.kvpKey, items)
	}

	if t.Multiple() {
		return convertList(t.Base, fd.kvpKey, values)
	}
	return convertScalar(t.Base, fd.kvpKey, values[0])
}

// splitList splits a comma separated KVP value. An empty value is an
// empty list.
func splitList(v string) []string {
	if len(strings.TrimSpace(v)) == 0 {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

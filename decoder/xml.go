package decoder

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/nci/eows/utils"
)

// XMLDecoder decodes parameters from a request document. The document is
// parsed once; every field location is evaluated from the root element.
type XMLDecoder struct {
	schema *Schema
	doc    *etree.Document
}

// ParseDocument parses body, failing with a MalformedDocument error.
func ParseDocument(body []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, utils.MalformedDocument(err)
	}
	if doc.Root() == nil {
		return nil, utils.MalformedDocument(fmt.Errorf("document has no root element"))
	}
	return doc, nil
}

func NewXMLDecoder(schema *Schema, doc *etree.Document) *XMLDecoder {
	return &XMLDecoder{schema: schema, doc: doc}
}

func (d *XMLDecoder) Schema() *Schema {
	return d.schema
}

func (d *XMLDecoder) Document() *etree.Document {
	return d.doc
}

func (d *XMLDecoder) Root() Node {
	return RootNode(d.doc)
}

func (d *XMLDecoder) Value(key string) (interface{}, error) {
	fd, err := d.schema.field(key)
	if err != nil {
		return nil, err
	}
	if !fd.hasXML {
		return nil, nil
	}

	nodes, err := fd.xmlPath.Select(d.Root())
	if err != nil {
		return nil, err
	}

	t := fd.xmlType
	loc := fd.xmlPath.String()
	switch {
	case len(nodes) == 0 && t.MinOccurs > 0:
		return nil, utils.OccurrenceError(fd.key, fmt.Sprintf("Node '%s' not found", loc))
	case len(nodes) < t.MinOccurs:
		return nil, utils.OccurrenceError(fd.key, fmt.Sprintf("Expected at least %d results for '%s', found %d", t.MinOccurs, loc, len(nodes)))
	case len(nodes) > t.MaxOccurs:
		return nil, utils.OccurrenceError(fd.key, fmt.Sprintf("Expected no more than %d results for '%s', found %d", t.MaxOccurs, loc, len(nodes)))
	case len(nodes) == 0:
		return nil, nil
	}

	switch t.Base {
	case TypeElement:
		if t.Multiple() {
			return nodes, nil
		}
		return nodes[0], nil

	case TypeLocalName, TypeTagName:
		names := make([]string, len(nodes))
		for i, n := range nodes {
			if t.Base == TypeLocalName {
				names[i] = n.LocalName()
			} else {
				names[i] = n.QualifiedName()
			}
		}
		if t.Multiple() {
			return names, nil
		}
		return names[0], nil

	case TypeStringList, TypeIntList, TypeFloatList:
		var items []string
		for _, n := range nodes {
			items = append(items, strings.Fields(n.Text())...)
		}
		return convertList(t.Base, fd.key, items)
	}

	if t.Multiple() {
		texts := make([]string, len(nodes))
		for i, n := range nodes {
			texts[i] = n.Text()
		}
		return convertList(t.Base, fd.key, texts)
	}
	return convertScalar(t.Base, fd.key, nodes[0].Text())
}

// Package encoder builds OGC response documents from (prefix, name,
// content) trees.
package encoder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Node is one element, attribute or text item of a response tree. Names
// starting with "@" are attributes and the name "@@" is the text of the
// enclosing element.
type Node struct {
	Prefix  string
	Name    string
	Content []interface{}
}

// N creates an element node. Content items may be strings, numbers,
// Nodes, []Node, or *etree.Element fragments which are copied into the
// tree. nil items are skipped.
func N(prefix, name string, content ...interface{}) Node {
	return Node{Prefix: prefix, Name: name, Content: content}
}

func Attr(prefix, name, value string) Node {
	return Node{Prefix: prefix, Name: "@" + name, Content: []interface{}{value}}
}

func Text(s string) Node {
	return Node{Name: "@@", Content: []interface{}{s}}
}

// UnknownNamespaceError is returned when a tree uses a prefix that was
// not registered with the encoder.
type UnknownNamespaceError struct {
	Prefix string
}

func (e *UnknownNamespaceError) Error() string {
	return fmt.Sprintf("unknown namespace prefix '%s'", e.Prefix)
}

// Encoder turns Node trees into documents. It is read-only once created
// and can be shared between requests.
type Encoder struct {
	namespaces map[string]string
}

func New(namespaces map[string]string) *Encoder {
	ns := make(map[string]string, len(namespaces))
	for p, uri := range namespaces {
		ns[p] = uri
	}
	return &Encoder{namespaces: ns}
}

// NamespaceURI returns the URI registered for prefix.
func (e *Encoder) NamespaceURI(prefix string) (string, bool) {
	uri, ok := e.namespaces[prefix]
	return uri, ok
}

// Build creates the element of n. The root carries xmlns declarations for
// every prefix used in the tree.
func (e *Encoder) Build(n Node) (*etree.Element, error) {
	used := map[string]bool{}
	el, err := e.build(n, used)
	if err != nil {
		return nil, err
	}

	prefixes := make([]string, 0, len(used))
	for p := range used {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		if el.SelectAttr("xmlns:"+p) == nil {
			el.CreateAttr("xmlns:"+p, e.namespaces[p])
		}
	}
	return el, nil
}

func (e *Encoder) checkPrefix(prefix string, used map[string]bool) error {
	if len(prefix) == 0 || prefix == "xml" {
		return nil
	}
	if _, ok := e.namespaces[prefix]; !ok {
		return &UnknownNamespaceError{Prefix: prefix}
	}
	used[prefix] = true
	return nil
}

func qualify(prefix, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return prefix + ":" + name
}

func (e *Encoder) build(n Node, used map[string]bool) (*etree.Element, error) {
	if strings.HasPrefix(n.Name, "@") {
		return nil, fmt.Errorf("attribute '%s' outside of an element", n.Name)
	}
	if err := e.checkPrefix(n.Prefix, used); err != nil {
		return nil, err
	}
	el := etree.NewElement(qualify(n.Prefix, n.Name))
	if err := e.fill(el, n.Content, used); err != nil {
		return nil, err
	}
	return el, nil
}

func (e *Encoder) fill(el *etree.Element, content []interface{}, used map[string]bool) error {
	for _, c := range content {
		switch v := c.(type) {
		case nil:
		case string:
			el.SetText(el.Text() + v)
		case int:
			el.SetText(el.Text() + strconv.Itoa(v))
		case float64:
			el.SetText(el.Text() + strconv.FormatFloat(v, 'f', -1, 64))
		case Node:
			if err := e.add(el, v, used); err != nil {
				return err
			}
		case []Node:
			for _, sub := range v {
				if err := e.add(el, sub, used); err != nil {
					return err
				}
			}
		case *etree.Element:
			if v != nil {
				el.AddChild(v.Copy())
			}
		default:
			return fmt.Errorf("unsupported content %T in '%s'", c, el.FullTag())
		}
	}
	return nil
}

func (e *Encoder) add(el *etree.Element, n Node, used map[string]bool) error {
	switch {
	case n.Name == "@@":
		return e.fill(el, n.Content, used)

	case strings.HasPrefix(n.Name, "@"):
		if err := e.checkPrefix(n.Prefix, used); err != nil {
			return err
		}
		var b strings.Builder
		for _, c := range n.Content {
			fmt.Fprint(&b, c)
		}
		el.CreateAttr(qualify(n.Prefix, n.Name[1:]), b.String())
		return nil
	}

	child, err := e.build(n, used)
	if err != nil {
		return err
	}
	el.AddChild(child)
	return nil
}

// Document wraps the tree of n in a document with an XML declaration.
func (e *Encoder) Document(n Node) (*etree.Document, error) {
	root, err := e.Build(n)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(root)
	doc.Indent(2)
	return doc, nil
}

// Encode serialises the tree of n.
func (e *Encoder) Encode(n Node) ([]byte, error) {
	doc, err := e.Document(n)
	if err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

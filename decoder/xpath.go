package decoder

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/nci/eows/utils"
)

// Node is either an element or, when Attr is set, an attribute of
// Element.
type Node struct {
	Element *etree.Element
	Attr    *etree.Attr
	doc     *etree.Document
}

// RootNode returns the root element of doc as a context node.
func RootNode(doc *etree.Document) Node {
	return Node{Element: doc.Root(), doc: doc}
}

func (n Node) IsAttr() bool {
	return n.Attr != nil
}

// Text returns the attribute value or the trimmed character data of the
// element.
func (n Node) Text() string {
	if n.Attr != nil {
		return n.Attr.Value
	}
	if n.Element == nil {
		return ""
	}
	return strings.TrimSpace(n.Element.Text())
}

func (n Node) LocalName() string {
	if n.Attr != nil {
		return n.Attr.Key
	}
	return n.Element.Tag
}

// QualifiedName is the name as written in the document, prefix included.
func (n Node) QualifiedName() string {
	if n.Attr != nil {
		return n.Attr.FullKey()
	}
	return n.Element.FullTag()
}

func (n Node) NamespaceURI() string {
	if n.Attr != nil {
		return n.Attr.NamespaceURI()
	}
	return n.Element.NamespaceURI()
}

func (n Node) isDocumentRoot() bool {
	if n.Attr != nil || n.Element == nil {
		return false
	}
	if n.doc != nil {
		return n.Element == n.doc.Root()
	}
	p := n.Element.Parent()
	return p != nil && p.Parent() == nil
}

func (n Node) child(el *etree.Element) Node {
	return Node{Element: el, doc: n.doc}
}

// Path is a compiled location expression. Supported segments are a
// leading "/", "*", "@*", "@name", qualified tag names and Clark notation
// names ("{uri}local") where either part may be "*".
type Path struct {
	expr     string
	segments []string
}

// CompilePath splits expr into segments. Namespace URIs inside braces may
// contain slashes.
func CompilePath(expr string) (Path, error) {
	p := Path{expr: expr}
	rest := expr
	if strings.HasPrefix(rest, "/") {
		p.segments = append(p.segments, "/")
		rest = rest[1:]
	}

	for len(rest) > 0 {
		var head string
		if rest[0] == '{' {
			idx := strings.Index(rest, "}")
			if idx < 0 {
				return Path{}, utils.StructuralError(fmt.Sprintf("Unterminated namespace in location '%s'.", expr))
			}
			head = rest[:idx+1]
			rest = rest[idx+1:]
		}
		tail := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			tail, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}
		seg := head + tail
		if len(seg) == 0 {
			return Path{}, utils.StructuralError(fmt.Sprintf("Empty step in location '%s'.", expr))
		}
		p.segments = append(p.segments, seg)
	}

	for i, seg := range p.segments {
		if strings.HasPrefix(seg, "@") && i != len(p.segments)-1 {
			return Path{}, utils.StructuralError("Attribute locators must be the final node in XPath expressions")
		}
	}
	return p, nil
}

func MustCompilePath(expr string) Path {
	p, err := CompilePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	return p.expr
}

func (p Path) IsAbsolute() bool {
	return len(p.segments) > 0 && p.segments[0] == "/"
}

// SelectsAttribute reports whether the path ends in an attribute step.
func (p Path) SelectsAttribute() bool {
	return len(p.segments) > 0 && strings.HasPrefix(p.segments[len(p.segments)-1], "@")
}

// Select evaluates the path relative to ctx and returns the matches in
// document order.
func (p Path) Select(ctx Node) ([]Node, error) {
	if ctx.Element == nil {
		return nil, utils.StructuralError("Cannot evaluate a location without a context element.")
	}
	return selectNodes(ctx, p.segments)
}

func selectNodes(n Node, segs []string) ([]Node, error) {
	if len(segs) == 0 {
		return []Node{n}, nil
	}
	seg := segs[0]

	switch {
	case seg == "/":
		if !n.isDocumentRoot() {
			return nil, utils.StructuralError("Absolute XPath expressions can only be applied to the document root element.")
		}
		return selectNodes(n, segs[1:])

	case seg == "@*":
		var nodes []Node
		for i := range n.Element.Attr {
			a := &n.Element.Attr[i]
			if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
				continue
			}
			nodes = append(nodes, Node{Element: n.Element, Attr: a, doc: n.doc})
		}
		return nodes, nil

	case strings.HasPrefix(seg, "@"):
		name := seg[1:]
		for i := range n.Element.Attr {
			a := &n.Element.Attr[i]
			if a.FullKey() == name {
				return []Node{{Element: n.Element, Attr: a, doc: n.doc}}, nil
			}
		}
		return nil, nil
	}

	match := elementMatcher(seg)
	var nodes []Node
	for _, child := range n.Element.ChildElements() {
		if !match(child) {
			continue
		}
		sub, err := selectNodes(n.child(child), segs[1:])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, sub...)
	}
	return nodes, nil
}

func elementMatcher(seg string) func(*etree.Element) bool {
	if seg == "*" {
		return func(*etree.Element) bool { return true }
	}

	if !strings.HasPrefix(seg, "{") {
		return func(el *etree.Element) bool { return el.FullTag() == seg }
	}

	end := strings.Index(seg, "}")
	ns, local := seg[1:end], seg[end+1:]
	switch {
	case ns == "*" && local == "*":
		return func(*etree.Element) bool { return true }
	case ns == "*":
		return func(el *etree.Element) bool { return el.Tag == local }
	case local == "*":
		return func(el *etree.Element) bool { return el.NamespaceURI() == ns }
	}
	return func(el *etree.Element) bool { return el.Tag == local && el.NamespaceURI() == ns }
}

// Reverse rebuilds the absolute location of a node, e.g. "/wcs:Foo/@bar".
// The root element itself is "/".
func Reverse(n Node) string {
	var names []string
	if n.Attr != nil {
		names = append(names, "@"+n.Attr.FullKey())
	}

	el := n.Element
	for el != nil && !(Node{Element: el, doc: n.doc}).isDocumentRoot() {
		names = append(names, el.FullTag())
		el = el.Parent()
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/")
}

// internal/browser/virtual/document.go
package virtual

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	// ErrNoMatch is returned when a selector matches no element.
	ErrNoMatch = errors.New("selector matched no element")
	// ErrUnknownElement is returned when a node does not belong to the document.
	ErrUnknownElement = errors.New("element does not belong to this document")
)

// Node is a laid-out element. Geometry is in document coordinates.
type Node struct {
	ID  string
	Tag string

	raw    *html.Node
	doc    *Document
	top    float64
	height float64
}

// Top returns the node's top edge in document coordinates.
func (n *Node) Top() float64 { return n.top }

// Height returns the node's laid-out height.
func (n *Node) Height() float64 { return n.height }

// Bottom returns the node's bottom edge in document coordinates.
func (n *Node) Bottom() float64 { return n.top + n.height }

// Attr returns the value of the named attribute, or "".
func (n *Node) Attr(name string) string {
	return htmlquery.SelectAttr(n.raw, name)
}

// String returns a short description used as the node's label.
func (n *Node) String() string {
	return n.Tag + "#" + n.ID
}

// Document is a parsed HTML page laid out as a vertical stack of blocks.
// An element's height is its data-height attribute, or an inline
// "height: Npx" style, or else the sum of its element children.
type Document struct {
	root   *html.Node
	nodes  map[*html.Node]*Node
	byID   map[string]*Node
	height float64
}

// Parse reads an HTML document and lays it out.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	d := &Document{
		root:  root,
		nodes: make(map[*html.Node]*Node),
		byID:  make(map[string]*Node),
	}
	seq := 0
	d.height = d.layout(root, 0, &seq)
	return d, nil
}

// ParseString is Parse for an in-memory document.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Height returns the total laid-out height of the document.
func (d *Document) Height() float64 { return d.height }

// ByID returns the element with the given id attribute, or nil.
func (d *Document) ByID(id string) *Node { return d.byID[id] }

// Select returns the elements matching an XPath expression in document order.
func (d *Document) Select(expr string) ([]*Node, error) {
	matches, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", expr, err)
	}
	out := make([]*Node, 0, len(matches))
	for _, m := range matches {
		if n, ok := d.nodes[m]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// SelectOne returns the first element matching expr.
func (d *Document) SelectOne(expr string) (*Node, error) {
	nodes, err := d.Select(expr)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, expr)
	}
	return nodes[0], nil
}

func (d *Document) owns(n *Node) bool {
	return n != nil && n.doc == d
}

// layout positions n at y and returns its height.
func (d *Document) layout(n *html.Node, y float64, seq *int) float64 {
	if n.Type != html.ElementNode && n.Type != html.DocumentNode {
		return 0
	}

	var node *Node
	if n.Type == html.ElementNode {
		*seq++
		id := htmlquery.SelectAttr(n, "id")
		if id == "" {
			id = "n" + strconv.Itoa(*seq)
		}
		node = &Node{ID: id, Tag: strings.ToLower(n.Data), raw: n, doc: d, top: y}
		d.nodes[n] = node
		if _, dup := d.byID[id]; !dup {
			d.byID[id] = node
		}
	}

	flows := n.Type == html.DocumentNode || !nonRendered[strings.ToLower(n.Data)]
	childY := y
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		h := d.layout(c, childY, seq)
		if flows {
			childY += h
		}
	}

	if !flows {
		return 0
	}
	height := childY - y
	if explicit, ok := explicitHeight(n); ok {
		height = explicit
	}
	if node != nil {
		node.height = height
	}
	return height
}

var nonRendered = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"template": true,
	"title":    true,
	"meta":     true,
	"link":     true,
}

func explicitHeight(n *html.Node) (float64, bool) {
	if n.Type != html.ElementNode {
		return 0, false
	}
	if v := htmlquery.SelectAttr(n, "data-height"); v != "" {
		if h, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && h >= 0 {
			return h, true
		}
	}
	for _, decl := range strings.Split(htmlquery.SelectAttr(n, "style"), ";") {
		prop, value, found := strings.Cut(decl, ":")
		if !found || strings.TrimSpace(strings.ToLower(prop)) != "height" {
			continue
		}
		value = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(value)), "px")
		if h, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && h >= 0 {
			return h, true
		}
	}
	return 0, false
}

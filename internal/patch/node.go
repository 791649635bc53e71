// Package patch reconciles a live rendered-page element tree against a fresh
// markup snapshot from the renderer. Elements carry an opaque content-addressed
// identity tag; matching tags mean "same element across renders" regardless of
// position, which lets the patcher reuse live nodes instead of rebuilding the
// whole tree on every recompute.
package patch

import (
	"encoding/xml"
	"errors"
	"strings"
)

// NodeType discriminates element and text nodes.
type NodeType uint8

const (
	ElementNode NodeType = iota
	TextNode
)

// Attr is a single element attribute. Order is preserved from the source
// markup.
type Attr struct {
	Key   string
	Value string
}

// Node is one node of a page element tree. Element nodes have a Tag, Attrs
// and Children; text nodes only carry Text.
type Node struct {
	Type     NodeType
	Tag      string
	Text     string
	Attrs    []Attr
	Children []*Node
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(key string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute, keeping existing order for
// replacements.
func (n *Node) SetAttr(key, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Key == key {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: key, Value: value})
}

// RemoveAttr deletes the named attribute if present.
func (n *Node) RemoveAttr(key string) {
	for i := range n.Attrs {
		if n.Attrs[i].Key == key {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return
		}
	}
}

var errNoRootElement = errors.New("patch: markup has no root element")

// voidElements may serialize self-closed; browsers treat a self-closed
// non-void element as an unclosed open tag, so everything else gets an
// explicit end tag.
var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true,
	"meta": true, "link": true, "col": true, "wbr": true,
}

// Parse decodes a markup string into a detached element tree and returns the
// root element. The decoder is lenient about HTML-isms (void elements, named
// entities) since rendered payloads are HTML-shaped rather than strict XML.
func Parse(markup string) (*Node, error) {
	dec := xml.NewDecoder(strings.NewReader(markup))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if tok == nil {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Type: ElementNode, Tag: t.Name.Local}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Key: attrKey(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					// Multiple top-level elements; the first one is the root
					// and the rest are ignored.
					if err := dec.Skip(); err != nil {
						return root, nil
					}
					continue
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			text := string(t)
			if strings.TrimSpace(text) == "" {
				continue
			}
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, &Node{Type: TextNode, Text: text})
		}
	}
	if root == nil {
		return nil, errNoRootElement
	}
	return root, nil
}

func attrKey(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

// Markup serializes the node back into a markup string.
func (n *Node) Markup() string {
	var b strings.Builder
	n.writeMarkup(&b)
	return b.String()
}

func (n *Node) writeMarkup(b *strings.Builder) {
	if n.Type == TextNode {
		_ = xml.EscapeText(b, []byte(n.Text))
		return
	}
	b.WriteByte('<')
	b.WriteString(n.Tag)
	for _, a := range n.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteString(`="`)
		_ = xml.EscapeText(b, []byte(a.Value))
		b.WriteByte('"')
	}
	if len(n.Children) == 0 && voidElements[n.Tag] {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	for _, c := range n.Children {
		c.writeMarkup(b)
	}
	b.WriteString("</")
	b.WriteString(n.Tag)
	b.WriteByte('>')
}

// Tree owns the live element tree for one rendered page. Root is nil before
// the first paint. Raw holds an opaque payload when the last patch fell back
// to full replacement of unparseable markup.
type Tree struct {
	Root *Node
	Raw  string
}

// Markup returns the current content of the tree as a markup string.
func (t *Tree) Markup() string {
	if t.Raw != "" {
		return t.Raw
	}
	if t.Root == nil {
		return ""
	}
	return t.Root.Markup()
}

package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker attributes and classes owned by the preview runtime. They are
// never part of a node's user-visible identity.
const (
	IdentityAttr   = "data-element-id"
	SelectedAttr   = "data-selected"
	HighlightClass = "element-highlight"
	DiagnosticAttr = "data-preview-diagnostic"
)

// IsElement reports whether n is a non-nil element node with a tag name.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.Data != ""
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the attribute value or def when absent.
func AttrOr(n *html.Node, key, def string) string {
	if v, ok := Attr(n, key); ok {
		return v
	}
	return def
}

// SetAttrRaw sets an attribute without recording a mutation. Use it for
// detached trees and for runtime markers that observers must not see.
func SetAttrRaw(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// Classes returns the class list of n in document order.
func Classes(n *html.Node) []string {
	return strings.Fields(AttrOr(n, "class", ""))
}

// UserClasses returns the class list minus runtime marker classes.
func UserClasses(n *html.Node) []string {
	all := Classes(n)
	out := all[:0:0]
	for _, c := range all {
		if c == HighlightClass {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HasClass reports whether n carries class c.
func HasClass(n *html.Node, c string) bool {
	for _, have := range Classes(n) {
		if have == c {
			return true
		}
	}
	return false
}

// ElementChildren returns the element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	if n == nil {
		return out
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// ElementIndex returns the 1-based position of n among its parent's
// element children, or 0 when n has no parent.
func ElementIndex(n *html.Node) int {
	if n == nil || n.Parent == nil {
		return 0
	}
	idx := 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		idx++
		if c == n {
			return idx
		}
	}
	return 0
}

// Walk visits root and its descendants depth-first. Returning false from
// fn skips the node's children.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// Contains reports whether n is root or one of its descendants.
func Contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Text extracts the visible text of a subtree, whitespace collapsed.
func Text(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if _, diag := Attr(n, DiagnosticAttr); diag {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	if n != nil {
		f(n)
	}
	return sb.String()
}

// Render serialises a node subtree back to HTML.
func Render(n *html.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// XPath computes an absolute XPath for n, with positional predicates only
// where several siblings share the tag.
func XPath(n *html.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case html.DocumentNode:
		return ""
	case html.TextNode:
		return XPath(n.Parent) + "/text()"
	case html.CommentNode:
		return XPath(n.Parent) + "/comment()"
	case html.ElementNode:
	default:
		return XPath(n.Parent)
	}

	parentPath := XPath(n.Parent)
	if n.Parent == nil {
		return "/" + n.Data
	}

	idx, total := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", parentPath, n.Data, idx)
	}
	return parentPath + "/" + n.Data
}

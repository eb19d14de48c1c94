// Package describe turns a picked element into the context block handed
// to the edit-request collaborator: sanitized markup, a markdown reading
// of its content and a compact prompt.
package describe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// maxHTML bounds the markup embedded in a prompt.
const maxHTML = 4000

// promptStyle is the computed style subset worth quoting in a prompt.
var promptStyle = []string{
	"display", "color", "background-color", "font-size", "font-weight",
	"margin", "padding", "border", "border-radius", "width", "height",
}

// Target is the edit-request context for one selection.
type Target struct {
	Snapshot *selection.Snapshot `json:"snapshot"`
	HTML     string              `json:"html"`
	Markdown string              `json:"markdown"`
	Prompt   string              `json:"prompt"`
}

// Describer holds the sanitizing policy and markdown converter.
type Describer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// New creates a Describer.
func New() *Describer {
	p := bluemonday.NewPolicy()
	p.AllowStandardAttributes()
	p.AllowElements(
		"div", "span", "p", "section", "article", "header", "footer", "main", "nav", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
		"form", "fieldset", "legend", "label", "button", "input", "select", "option", "textarea",
		"strong", "em", "b", "i", "u", "small", "code", "pre", "blockquote", "hr", "br",
		"figure", "figcaption", "svg",
	)
	p.AllowAttrs("class", "role", "aria-label").Globally()
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowElements("a")
	p.AllowImages()
	p.AllowAttrs("type", "name", "placeholder", "value", "checked", "disabled").OnElements("input", "button", "select", "textarea", "option")
	p.AllowAttrs("for").OnElements("label")

	return &Describer{
		policy: p,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Describe builds the edit context from a snapshot and the element's
// outer HTML.
func (d *Describer) Describe(snap *selection.Snapshot, outerHTML string) Target {
	t := Target{Snapshot: snap.Clone()}
	t.HTML = strings.TrimSpace(d.policy.Sanitize(outerHTML))
	if t.HTML != "" {
		if md, err := d.md.ConvertString(t.HTML); err == nil {
			t.Markdown = strings.TrimSpace(md)
		}
	}
	t.Prompt = prompt(t)
	return t
}

// OuterHTML serialises n without the runtime markers (identity tag,
// selected flag, highlight class).
func OuterHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	c := clone(n)
	dom.Walk(c, func(x *html.Node) bool {
		if !dom.IsElement(x) {
			return true
		}
		attrs := x.Attr[:0]
		for _, a := range x.Attr {
			switch a.Key {
			case dom.IdentityAttr, dom.SelectedAttr:
				continue
			case "class":
				a.Val = strings.Join(dom.UserClasses(x), " ")
				if a.Val == "" {
					continue
				}
			}
			attrs = append(attrs, a)
		}
		x.Attr = attrs
		return true
	})
	return dom.Render(c)
}

func clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(clone(ch))
	}
	return c
}

func prompt(t Target) string {
	s := t.Snapshot
	var b strings.Builder
	if s == nil {
		return ""
	}
	label := s.TagName
	if s.ID != "" {
		label += "#" + s.ID
	}
	fmt.Fprintf(&b, "Target element: <%s> (identity %s)\n", label, s.IdentityTag)
	fmt.Fprintf(&b, "Path: %s\n", s.StructuralPath)
	if s.ClassName != "" {
		fmt.Fprintf(&b, "Classes: %s\n", s.ClassName)
	}
	if s.TextExcerpt != "" {
		fmt.Fprintf(&b, "Text: %q\n", s.TextExcerpt)
	}
	r := s.BoundingRect
	fmt.Fprintf(&b, "Box: %gx%g at (%g, %g)\n", r.Width, r.Height, r.X, r.Y)

	var style []string
	for _, k := range promptStyle {
		if v := s.ComputedStyle[k]; v != "" {
			style = append(style, k+": "+v)
		}
	}
	if len(style) > 0 {
		fmt.Fprintf(&b, "Style: %s\n", strings.Join(style, "; "))
	}
	if s.Parent != nil {
		fmt.Fprintf(&b, "Parent: %s\n", summary(*s.Parent))
	}
	if len(s.Children) > 0 {
		kids := make([]string, len(s.Children))
		for i, c := range s.Children {
			kids[i] = summary(c)
		}
		fmt.Fprintf(&b, "Children: %s\n", strings.Join(kids, ", "))
	}
	if len(s.Attributes) > 0 {
		keys := make([]string, 0, len(s.Attributes))
		for k := range s.Attributes {
			if k == "class" || k == "id" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "Attribute %s=%q\n", k, s.Attributes[k])
		}
	}
	if t.HTML != "" {
		markup := t.HTML
		if len(markup) > maxHTML {
			markup = markup[:maxHTML] + "…"
		}
		fmt.Fprintf(&b, "HTML:\n```html\n%s\n```\n", markup)
	}
	return b.String()
}

func summary(n selection.NodeSummary) string {
	s := n.TagName
	if n.ID != "" {
		s += "#" + n.ID
	}
	for _, c := range strings.Fields(n.ClassName) {
		s += "." + c
	}
	return s
}

// Package style resolves the layout/paint-relevant computed style subset
// of a rendered element: stylesheet cascade, utility classes, inline
// style, inheritance and per-tag defaults.
package style

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
)

// Properties is the computed style subset captured in snapshots.
var Properties = []string{
	"color", "background-color",
	"font-family", "font-size", "font-weight", "line-height",
	"margin", "padding", "border", "border-radius",
	"display", "position", "width", "height", "top", "left", "z-index", "opacity",
}

var inherited = map[string]bool{
	"color": true, "font-family": true, "font-size": true, "font-weight": true, "line-height": true,
}

// Computed maps property name to resolved value.
type Computed map[string]string

// Px parses a px (or unitless) length. ok is false for keywords and
// relative units.
func (c Computed) Px(prop string) (float64, bool) {
	return parsePx(c[prop])
}

// Engine holds the parsed rules of one stylesheet.
type Engine struct {
	rules []rule
}

type rule struct {
	sel   cascadia.Sel
	spec  cascadia.Specificity
	order int
	decls []*css.Declaration
}

const (
	originUtility = iota
	originSheet
	originInline
)

type candidate struct {
	prop, value string
	important   bool
	origin      int
	spec        cascadia.Specificity
	order       int
}

// Parse builds an Engine from stylesheet text. A stylesheet that fails
// to parse yields an empty engine together with the error, so callers
// can log and keep going.
func Parse(stylesheet string) (*Engine, error) {
	e := &Engine{}
	if strings.TrimSpace(stylesheet) == "" {
		return e, nil
	}
	sheet, err := parser.Parse(stylesheet)
	if err != nil {
		return e, fmt.Errorf("style: parse stylesheet: %w", err)
	}
	e.addRules(sheet.Rules)
	return e, nil
}

// Len returns the number of selector rules retained.
func (e *Engine) Len() int { return len(e.rules) }

func (e *Engine) addRules(rules []*css.Rule) {
	for _, r := range rules {
		if r.Kind == css.AtRule {
			// Media/support conditions are assumed to hold in the preview viewport.
			if r.Name == "@media" || r.Name == "@supports" {
				e.addRules(r.Rules)
			}
			continue
		}
		for _, s := range r.Selectors {
			sel, err := cascadia.Parse(s)
			if err != nil || sel.PseudoElement() != "" {
				continue
			}
			e.rules = append(e.rules, rule{
				sel:   sel,
				spec:  sel.Specificity(),
				order: len(e.rules),
				decls: r.Declarations,
			})
		}
	}
}

// Compute resolves the style subset of n.
func (e *Engine) Compute(n *html.Node) Computed {
	if !dom.IsElement(n) {
		return Computed{}
	}
	var parent Computed
	if dom.IsElement(n.Parent) {
		parent = e.Compute(n.Parent)
	}
	declared := e.cascade(n)

	out := make(Computed, len(Properties))
	for _, p := range Properties {
		out[p] = resolve(p, n, declared, parent)
	}
	return out
}

func (e *Engine) cascade(n *html.Node) map[string]string {
	var cands []candidate
	add := func(decls []*css.Declaration, origin int, spec cascadia.Specificity, order int) {
		for _, d := range decls {
			cands = append(cands, candidate{
				prop:      strings.ToLower(strings.TrimSpace(d.Property)),
				value:     strings.TrimSpace(d.Value),
				important: d.Important,
				origin:    origin,
				spec:      spec,
				order:     order,
			})
		}
	}

	for i, class := range dom.UserClasses(n) {
		add(utilityDeclarations(class), originUtility, cascadia.Specificity{0, 1, 0}, i)
	}
	for _, r := range e.rules {
		if r.sel.Match(n) {
			add(r.decls, originSheet, r.spec, r.order)
		}
	}
	if inline, ok := dom.Attr(n, "style"); ok && strings.TrimSpace(inline) != "" {
		if decls, err := parser.ParseDeclarations(inline); err == nil {
			add(decls, originInline, cascadia.Specificity{1, 0, 0}, 0)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.important != b.important {
			return !a.important
		}
		if a.origin != b.origin {
			return a.origin < b.origin
		}
		if a.spec != b.spec {
			return a.spec.Less(b.spec)
		}
		return a.order < b.order
	})

	declared := make(map[string]string, len(cands))
	for _, c := range cands {
		declared[c.prop] = c.value
		// A shorthand resets longhands declared before it.
		if sides, ok := boxLonghands[c.prop]; ok {
			for _, l := range sides {
				delete(declared, l)
			}
		}
	}
	return declared
}

func resolve(prop string, n *html.Node, declared map[string]string, parent Computed) string {
	switch prop {
	case "font-size":
		return resolveFontSize(n, declared, parent)
	case "margin", "padding":
		return resolveBox(prop, n, declared)
	case "border":
		return resolveBorder(declared)
	case "background-color":
		if v, ok := declared["background-color"]; ok {
			return normalizeColor(v)
		}
		if v, ok := declared["background"]; ok && isColor(v) {
			return normalizeColor(v)
		}
		return "rgba(0, 0, 0, 0)"
	}

	v, ok := declared[prop]
	if ok && v != "inherit" {
		return normalizeValue(prop, v)
	}
	if (inherited[prop] || v == "inherit") && parent != nil {
		return parent[prop]
	}
	return defaultFor(prop, n)
}

func normalizeValue(prop, v string) string {
	switch prop {
	case "color":
		return normalizeColor(v)
	case "font-weight":
		switch v {
		case "normal":
			return "400"
		case "bold":
			return "700"
		}
	case "width", "height", "top", "left", "border-radius":
		if v == "0" {
			return "0px"
		}
	}
	return v
}

func resolveFontSize(n *html.Node, declared map[string]string, parent Computed) string {
	base := 16.0
	if parent != nil {
		if px, ok := parsePx(parent["font-size"]); ok {
			base = px
		}
	}
	v, ok := declared["font-size"]
	if !ok || v == "inherit" {
		if parent != nil {
			if d, has := tagFontScale[n.Data]; has {
				return formatPx(base * d)
			}
			return parent["font-size"]
		}
		return defaultFor("font-size", n)
	}
	if px, ok := parsePx(v); ok {
		return formatPx(px)
	}
	switch {
	case strings.HasSuffix(v, "rem"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "rem"), 64); err == nil {
			return formatPx(f * 16)
		}
	case strings.HasSuffix(v, "em"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "em"), 64); err == nil {
			return formatPx(f * base)
		}
	case strings.HasSuffix(v, "%"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			return formatPx(f * base / 100)
		}
	}
	if px, ok := fontKeywords[v]; ok {
		return formatPx(px)
	}
	return v
}

var boxLonghands = map[string][]string{
	"margin":  {"margin-top", "margin-right", "margin-bottom", "margin-left"},
	"padding": {"padding-top", "padding-right", "padding-bottom", "padding-left"},
}

// Box returns the four side values (top, right, bottom, left) of margin
// or padding from a computed value.
func Box(v string) [4]string {
	f := strings.Fields(v)
	switch len(f) {
	case 1:
		return [4]string{f[0], f[0], f[0], f[0]}
	case 2:
		return [4]string{f[0], f[1], f[0], f[1]}
	case 3:
		return [4]string{f[0], f[1], f[2], f[1]}
	case 4:
		return [4]string{f[0], f[1], f[2], f[3]}
	}
	return [4]string{"0px", "0px", "0px", "0px"}
}

func resolveBox(prop string, n *html.Node, declared map[string]string) string {
	sides := Box(defaultFor(prop, n))
	if v, ok := declared[prop]; ok {
		sides = Box(v)
	}
	for i, l := range boxLonghands[prop] {
		if v, ok := declared[l]; ok {
			sides[i] = v
		}
	}
	for i := range sides {
		if sides[i] == "0" {
			sides[i] = "0px"
		}
	}
	switch {
	case sides[0] == sides[1] && sides[1] == sides[2] && sides[2] == sides[3]:
		return sides[0]
	case sides[0] == sides[2] && sides[1] == sides[3]:
		return sides[0] + " " + sides[1]
	case sides[1] == sides[3]:
		return sides[0] + " " + sides[1] + " " + sides[2]
	}
	return strings.Join(sides[:], " ")
}

func resolveBorder(declared map[string]string) string {
	width, styl, color := "0px", "none", "rgb(0, 0, 0)"
	if v, ok := declared["border"]; ok {
		if v == "none" || v == "0" {
			return "0px none rgb(0, 0, 0)"
		}
		for _, tok := range strings.Fields(v) {
			switch {
			case isColor(tok):
				color = normalizeColor(tok)
			case borderStyles[tok]:
				styl = tok
			default:
				width = tok
			}
		}
		if styl == "none" {
			styl = "solid"
		}
		if width == "0px" {
			width = "medium"
		}
	}
	if v, ok := declared["border-width"]; ok {
		width = v
	}
	if v, ok := declared["border-style"]; ok {
		styl = v
	}
	if v, ok := declared["border-color"]; ok {
		color = normalizeColor(v)
	}
	if width == "0" {
		width = "0px"
	}
	return width + " " + styl + " " + color
}

var borderStyles = map[string]bool{
	"none": true, "solid": true, "dashed": true, "dotted": true, "double": true,
	"groove": true, "ridge": true, "inset": true, "outset": true, "hidden": true,
}

func parsePx(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func formatPx(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64) + "px"
}

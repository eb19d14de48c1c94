// Package layout measures element geometry for snapshots and for
// scrolling highlighted elements into view.
//
// Estimator runs an approximate box model over the headless tree; it is
// deterministic and needs nothing outside the process. ChromeProbe loads
// the serialised preview into headless Chrome for exact rects.
package layout

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/style"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// ErrNotMeasurable is returned for nil, non-element or detached nodes.
var ErrNotMeasurable = errors.New("layout: node not measurable")

// Measurer returns the border box of an element.
type Measurer interface {
	Measure(ctx context.Context, n *html.Node) (selection.Rect, error)
}

// Viewport is the size the preview is laid out against.
type Viewport struct {
	Width  float64
	Height float64
}

func (v *Viewport) defaults() {
	if v.Width <= 0 {
		v.Width = 1280
	}
	if v.Height <= 0 {
		v.Height = 800
	}
}

// glyphWidth is the average advance of one character, as a fraction of
// the font size.
const glyphWidth = 0.55

// Estimator lays out the subtree under root with a simplified flow
// model: block boxes stack, inline boxes wrap on line boxes, explicit
// px/% sizes win, box-sizing is border-box.
type Estimator struct {
	root     *html.Node
	engine   *style.Engine
	viewport Viewport
}

// NewEstimator creates an Estimator for the tree under root.
func NewEstimator(root *html.Node, engine *style.Engine, vp Viewport) *Estimator {
	vp.defaults()
	if engine == nil {
		engine, _ = style.Parse("")
	}
	return &Estimator{root: root, engine: engine, viewport: vp}
}

// Measure lays out the tree and returns n's border box.
func (e *Estimator) Measure(_ context.Context, n *html.Node) (selection.Rect, error) {
	if !dom.IsElement(n) || !dom.Contains(e.root, n) {
		return selection.Rect{}, ErrNotMeasurable
	}
	rects := e.Layout()
	r, ok := rects[n]
	if !ok {
		return selection.Rect{}, ErrNotMeasurable
	}
	return r, nil
}

// Layout computes border boxes for every element under root.
func (e *Estimator) Layout() map[*html.Node]selection.Rect {
	p := &pass{
		engine: e.engine,
		styles: make(map[*html.Node]style.Computed),
		rects:  make(map[*html.Node]selection.Rect),
	}
	if dom.IsElement(e.root) {
		p.box(e.root, 0, 0, e.viewport.Width)
	} else {
		p.flow(e.root, 0, 0, e.viewport.Width, 16, 16*1.2)
	}
	return p.rects
}

type pass struct {
	engine *style.Engine
	styles map[*html.Node]style.Computed
	rects  map[*html.Node]selection.Rect
}

func (p *pass) style(n *html.Node) style.Computed {
	if c, ok := p.styles[n]; ok {
		return c
	}
	c := p.engine.Compute(n)
	p.styles[n] = c
	return c
}

type edges struct{ top, right, bottom, left float64 }

func (p *pass) sides(v string, avail float64) edges {
	s := style.Box(v)
	return edges{length(s[0], avail), length(s[1], avail), length(s[2], avail), length(s[3], avail)}
}

// box lays out element n with its margin edge at (x, y) and returns the
// outer (margin box) size.
func (p *pass) box(n *html.Node, x, y, avail float64) (float64, float64) {
	st := p.style(n)
	if st["display"] == "none" {
		p.rects[n] = selection.NewRect(x, y, 0, 0)
		return 0, 0
	}

	m := p.sides(st["margin"], avail)
	pad := p.sides(st["padding"], avail)
	bw := borderWidth(st["border"])
	fontSize, _ := st.Px("font-size")
	if fontSize <= 0 {
		fontSize = 16
	}
	lh := lineHeight(st["line-height"], fontSize)

	inline := isInline(st["display"])
	width, explicitW := size(st["width"], avail)
	if !explicitW {
		if inline {
			width = math.Min(p.intrinsic(n, fontSize)+pad.left+pad.right+2*bw, avail)
		} else {
			width = math.Max(avail-m.left-m.right, 0)
		}
	}

	bx, by := x+m.left, y+m.top
	if pos := st["position"]; pos == "absolute" || pos == "fixed" {
		if left, ok := st.Px("left"); ok {
			bx = left + m.left
		}
		if top, ok := st.Px("top"); ok {
			by = top + m.top
		}
	}

	cx0 := bx + bw + pad.left
	cy0 := by + bw + pad.top
	cw := math.Max(width-2*bw-pad.left-pad.right, 0)

	contentH := p.flow(n, cx0, cy0, cw, fontSize, lh)

	height, explicitH := size(st["height"], 0)
	if !explicitH {
		height = contentH + pad.top + pad.bottom + 2*bw
	}
	p.rects[n] = selection.NewRect(bx, by, width, height)

	if pos := st["position"]; pos == "absolute" || pos == "fixed" {
		return 0, 0 // out of flow
	}
	return width + m.left + m.right, height + m.top + m.bottom
}

// flow places n's children inside a content box and returns the content
// height.
func (p *pass) flow(n *html.Node, x0, y0, w, fontSize, lh float64) float64 {
	cx, cy := x0, y0
	lineH := 0.0
	newline := func() {
		if lineH > 0 {
			cy += lineH
		}
		cx, lineH = x0, 0
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text := strings.Join(strings.Fields(c.Data), " ")
			if text == "" {
				continue
			}
			tw := float64(utf8.RuneCountInString(text)) * fontSize * glyphWidth
			if cx > x0 && cx+tw > x0+w {
				newline()
			}
			if w > 0 && tw > w {
				lines := math.Ceil(tw / w)
				cy += (lines - 1) * lh
				tw = math.Mod(tw, w)
			}
			cx += tw
			lineH = math.Max(lineH, lh)
		case html.ElementNode:
			if !isInline(p.style(c)["display"]) {
				newline()
				_, h := p.box(c, x0, cy, w)
				cy += h
				continue
			}
			ow, oh := p.box(c, cx, cy, w)
			if cx > x0 && cx+ow > x0+w {
				dx, dy := x0-cx, lineH
				newline()
				p.shift(c, dx, dy)
			}
			cx += ow
			lineH = math.Max(lineH, oh)
		}
	}
	newline()
	return cy - y0
}

// intrinsic estimates the unwrapped content width of an inline subtree.
func (p *pass) intrinsic(n *html.Node, fontSize float64) float64 {
	total := 0.0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text := strings.Join(strings.Fields(c.Data), " ")
			total += float64(utf8.RuneCountInString(text)) * fontSize * glyphWidth
		case html.ElementNode:
			st := p.style(c)
			if st["display"] == "none" {
				continue
			}
			fs, ok := st.Px("font-size")
			if !ok {
				fs = fontSize
			}
			if w, ok := size(st["width"], 0); ok {
				total += w
				continue
			}
			pad := p.sides(st["padding"], 0)
			total += p.intrinsic(c, fs) + pad.left + pad.right + 2*borderWidth(st["border"])
		}
	}
	return total
}

func (p *pass) shift(n *html.Node, dx, dy float64) {
	dom.Walk(n, func(c *html.Node) bool {
		if r, ok := p.rects[c]; ok {
			p.rects[c] = selection.NewRect(r.X+dx, r.Y+dy, r.Width, r.Height)
		}
		return true
	})
}

func isInline(display string) bool {
	switch display {
	case "inline", "inline-block", "inline-flex":
		return true
	}
	return false
}

// length resolves a px or % length; keywords resolve to 0.
func length(v string, avail float64) float64 {
	if strings.HasSuffix(v, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil {
			return 0
		}
		return avail * f / 100
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil {
		return 0
	}
	return f
}

// size resolves width/height; ok is false for auto or unresolvable values.
func size(v string, avail float64) (float64, bool) {
	switch {
	case v == "" || v == "auto":
		return 0, false
	case strings.HasSuffix(v, "%"):
		if avail <= 0 {
			return 0, false
		}
		return length(v, avail), true
	case strings.HasSuffix(v, "px"):
		return length(v, avail), true
	}
	return 0, false
}

func borderWidth(v string) float64 {
	f := strings.Fields(v)
	if len(f) == 0 || (len(f) > 1 && (f[1] == "none" || f[1] == "hidden")) {
		return 0
	}
	switch f[0] {
	case "thin":
		return 1
	case "medium":
		return 3
	case "thick":
		return 5
	}
	return length(f[0], 0)
}

func lineHeight(v string, fontSize float64) float64 {
	if v == "" || v == "normal" {
		return fontSize * 1.2
	}
	if strings.HasSuffix(v, "px") {
		return length(v, 0)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f * fontSize
	}
	return fontSize * 1.2
}

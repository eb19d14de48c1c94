package layout

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/style"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

func setup(t *testing.T, body, css string) (*Estimator, func(id string) *html.Node) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(`<html><body><div id="root">` + body + `</div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	byID := func(id string) *html.Node {
		var found *html.Node
		dom.Walk(doc, func(n *html.Node) bool {
			if v, _ := dom.Attr(n, "id"); v == id && dom.IsElement(n) {
				found = n
				return false
			}
			return true
		})
		if found == nil {
			t.Fatalf("no element #%s", id)
		}
		return found
	}
	eng, err := style.Parse(css)
	if err != nil {
		t.Fatal(err)
	}
	return NewEstimator(byID("root"), eng, Viewport{}), byID
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.01 }

func assertRect(t *testing.T, name string, got, want selection.Rect) {
	t.Helper()
	if !near(got.X, want.X) || !near(got.Y, want.Y) || !near(got.Width, want.Width) || !near(got.Height, want.Height) {
		t.Errorf("%s: got %+v, want %+v", name, got, want)
	}
}

func TestBlocksStack(t *testing.T) {
	est, byID := setup(t,
		`<div id="a" style="height:50px"></div><div id="b" style="padding:10px;width:200px">hi</div>`, "")
	ctx := context.Background()

	a, err := est.Measure(ctx, byID("a"))
	if err != nil {
		t.Fatal(err)
	}
	assertRect(t, "a", a, selection.NewRect(0, 0, 1280, 50))

	b, err := est.Measure(ctx, byID("b"))
	if err != nil {
		t.Fatal(err)
	}
	assertRect(t, "b", b, selection.NewRect(0, 50, 200, 16*1.2+20))
	if !near(b.Bottom, 50+16*1.2+20) {
		t.Errorf("bottom = %v", b.Bottom)
	}
}

func TestStylesheetSizes(t *testing.T) {
	est, byID := setup(t, `<section class="card" id="c"></section>`,
		`.card { width: 300px; height: 120px; margin: 20px; }`)
	r, err := est.Measure(context.Background(), byID("c"))
	if err != nil {
		t.Fatal(err)
	}
	assertRect(t, "card", r, selection.NewRect(20, 20, 300, 120))
}

func TestDisplayNoneIsZero(t *testing.T) {
	est, byID := setup(t, `<p id="p" class="hidden">gone</p><div id="after" style="height:10px"></div>`, "")
	ctx := context.Background()
	r, err := est.Measure(ctx, byID("p"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 0 || r.Height != 0 {
		t.Errorf("hidden rect = %+v", r)
	}
	after, _ := est.Measure(ctx, byID("after"))
	if after.Y != 0 {
		t.Errorf("hidden element took space: after.Y = %v", after.Y)
	}
}

func TestInlineWraps(t *testing.T) {
	est, byID := setup(t, `<div id="w" style="width:100px">`+
		`<span id="s1" style="display:inline-block;width:60px">x</span>`+
		`<span id="s2" style="display:inline-block;width:60px">y</span></div>`, "")
	ctx := context.Background()
	s1, _ := est.Measure(ctx, byID("s1"))
	s2, _ := est.Measure(ctx, byID("s2"))
	assertRect(t, "s1", s1, selection.NewRect(0, 0, 60, 16*1.2))
	assertRect(t, "s2", s2, selection.NewRect(0, 16*1.2, 60, 16*1.2))
}

func TestAbsolutePosition(t *testing.T) {
	est, byID := setup(t,
		`<div id="abs" style="position:absolute;top:30px;left:40px;width:10px;height:10px"></div>`+
			`<div id="next" style="height:5px"></div>`, "")
	ctx := context.Background()
	r, _ := est.Measure(ctx, byID("abs"))
	assertRect(t, "abs", r, selection.NewRect(40, 30, 10, 10))
	next, _ := est.Measure(ctx, byID("next"))
	if next.Y != 0 {
		t.Errorf("absolute element stayed in flow: next.Y = %v", next.Y)
	}
}

func TestMeasureRejectsForeignNodes(t *testing.T) {
	est, _ := setup(t, `<div id="a"></div>`, "")
	ctx := context.Background()
	if _, err := est.Measure(ctx, nil); !errors.Is(err, ErrNotMeasurable) {
		t.Errorf("nil: err = %v", err)
	}
	detached := &html.Node{Type: html.ElementNode, Data: "div"}
	if _, err := est.Measure(ctx, detached); !errors.Is(err, ErrNotMeasurable) {
		t.Errorf("detached: err = %v", err)
	}
}

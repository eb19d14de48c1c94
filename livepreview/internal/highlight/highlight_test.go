package highlight

import (
	"context"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/layout"
	"github.com/hazyhaar/livepick/livepreview/internal/style"
)

type fixture struct {
	doc       *dom.Document
	container *html.Node
	a, b      *html.Node
	layer     *Layer
}

func newFixture(t *testing.T, handlers NodeHandlers) *fixture {
	t.Helper()
	doc := dom.New()
	container := doc.CreateElement("div")
	doc.AppendChild(doc.Body(), container)
	a := doc.CreateElement("div")
	dom.SetAttrRaw(a, "style", "height:100px")
	b := doc.CreateElement("button")
	doc.AppendChild(container, a)
	doc.AppendChild(container, b)

	eng, _ := style.Parse("")
	layer := New(Config{
		Document: doc,
		Measurer: layout.NewEstimator(container, eng, layout.Viewport{}),
		Handlers: handlers,
	})
	return &fixture{doc: doc, container: container, a: a, b: b, layer: layer}
}

func highlighted(doc *dom.Document) []*html.Node {
	var out []*html.Node
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if dom.HasClass(n, dom.HighlightClass) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func TestHighlightIsExclusive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.layer.Highlight(ctx, f.a)
	f.layer.Highlight(ctx, f.b)

	got := highlighted(f.doc)
	if len(got) != 1 || got[0] != f.b {
		t.Fatalf("highlighted = %v, want only B", got)
	}
	if _, ok := dom.Attr(f.a, dom.SelectedAttr); ok {
		t.Error("A still carries the selected marker")
	}
	if v, _ := dom.Attr(f.b, dom.SelectedAttr); v != "true" {
		t.Errorf("B selected = %q", v)
	}
	if f.layer.Current() != f.b {
		t.Error("Current() should be B")
	}
	if f.doc.ScrollY() != 100 {
		t.Errorf("scrollY = %v, want 100", f.doc.ScrollY())
	}
}

func TestRemoveAllHighlightsSweepsDocument(t *testing.T) {
	f := newFixture(t, nil)
	// A stray marker set outside the layer, e.g. left by a previous render.
	f.doc.AddClass(f.a, dom.HighlightClass)
	f.doc.SetAttr(f.a, dom.SelectedAttr, "true")
	f.layer.Highlight(context.Background(), f.b)

	if n := f.layer.RemoveAllHighlights(); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if len(highlighted(f.doc)) != 0 {
		t.Error("markers remain")
	}
	if _, ok := dom.Attr(f.a, "class"); ok {
		t.Error("empty class attribute left behind")
	}
}

func TestHighlightDetachedOnlyClears(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.layer.Highlight(ctx, f.a)
	f.doc.Remove(f.b)
	f.layer.Highlight(ctx, f.b)
	if len(highlighted(f.doc)) != 0 || f.layer.Current() != nil {
		t.Error("detached highlight should leave nothing marked")
	}
}

type handlerMap map[*html.Node]map[string]Handler

func (m handlerMap) Handler(n *html.Node, typ string) (Handler, bool) {
	h, ok := m[n][typ]
	return h, ok
}

func TestDispatchOrderAndStop(t *testing.T) {
	var order []string
	handlers := handlerMap{}
	f := newFixture(t, handlers)
	handlers[f.b] = map[string]Handler{"click": func(ev *Event) { order = append(order, "button") }}
	handlers[f.container] = map[string]Handler{"click": func(ev *Event) { order = append(order, "div") }}

	f.layer.AddEventListener(f.container, "click", func(ev *Event) { order = append(order, "listener") }, ListenerOptions{})
	f.layer.Dispatch(f.container, f.b, "click")
	want := []string{"button", "div", "listener"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	order = nil
	f.layer.AddEventListener(f.container, "click", func(ev *Event) {
		order = append(order, "capture")
		ev.PreventDefault()
		ev.StopPropagation()
	}, ListenerOptions{Capture: true})
	if f.layer.Listeners() != 1 {
		t.Errorf("listeners = %d, replacement expected", f.layer.Listeners())
	}
	ev := f.layer.Dispatch(f.container, f.b, "click")
	if len(order) != 1 || order[0] != "capture" {
		t.Errorf("order = %v", order)
	}
	if !ev.DefaultPrevented() || !ev.Stopped() {
		t.Error("capture listener flags lost")
	}

	f.layer.RemoveAllEventListeners()
	order = nil
	f.layer.Dispatch(f.container, f.b, "click")
	if len(order) != 2 {
		t.Errorf("after teardown order = %v", order)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	handlers := handlerMap{}
	f := newFixture(t, handlers)
	handlers[f.b] = map[string]Handler{"click": func(*Event) { panic("boom") }}
	reached := false
	f.layer.AddEventListener(f.container, "click", func(*Event) { reached = true }, ListenerOptions{})
	f.layer.Dispatch(f.container, f.b, "click")
	if !reached {
		t.Error("panic in node handler should not stop bubbling")
	}
}

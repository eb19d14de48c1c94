package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/style"
)

func mount(t *testing.T, body string) (root *html.Node, all func(tag string) []*html.Node) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(`<html><body><div id="preview-root">` + body + `</div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	all = func(tag string) []*html.Node {
		var out []*html.Node
		dom.Walk(doc, func(n *html.Node) bool {
			if dom.IsElement(n) && n.Data == tag {
				out = append(out, n)
			}
			return true
		})
		return out
	}
	for _, d := range all("div") {
		if dom.AttrOr(d, "id", "") == "preview-root" {
			root = d
		}
	}
	return root, all
}

func TestExtractButton(t *testing.T) {
	root, all := mount(t, `<form class="toolbar"><button id="save" class="primary" data-element-id="el-abc" type="submit">Save <b>now</b></button></form>`)
	eng, _ := style.Parse(`.primary { color: #ff0000; }`)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ex := New(Config{Root: root, Styles: eng, Now: func() time.Time { return at }})

	btn := all("button")[0]
	dom.SetAttrRaw(btn, "class", "primary "+dom.HighlightClass)
	dom.SetAttrRaw(btn, dom.SelectedAttr, "true")

	snap, err := ex.Extract(context.Background(), btn)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TagName != "button" || snap.ID != "save" {
		t.Errorf("tag/id = %q/%q", snap.TagName, snap.ID)
	}
	if snap.ClassName != "primary" {
		t.Errorf("class = %q, highlight marker leaked", snap.ClassName)
	}
	if !strings.HasSuffix(snap.StructuralPath, "button#save") {
		t.Errorf("path = %q", snap.StructuralPath)
	}
	if snap.StructuralPath != "form.toolbar > button#save" {
		t.Errorf("path = %q", snap.StructuralPath)
	}
	if snap.IdentityTag != "el-abc" {
		t.Errorf("identity = %q", snap.IdentityTag)
	}
	if snap.TextExcerpt != "Save now" {
		t.Errorf("excerpt = %q", snap.TextExcerpt)
	}
	if snap.ComputedStyle["color"] != "rgb(255, 0, 0)" {
		t.Errorf("color = %q", snap.ComputedStyle["color"])
	}
	if _, ok := snap.Attributes[dom.IdentityAttr]; ok {
		t.Error("identity attribute copied into attributes")
	}
	if _, ok := snap.Attributes[dom.SelectedAttr]; ok {
		t.Error("selected marker copied into attributes")
	}
	if snap.Attributes["type"] != "submit" {
		t.Errorf("attributes = %v", snap.Attributes)
	}
	if snap.Parent == nil || snap.Parent.TagName != "form" || snap.Parent.ClassName != "toolbar" {
		t.Errorf("parent = %+v", snap.Parent)
	}
	if len(snap.Children) != 1 || snap.Children[0].TagName != "b" {
		t.Errorf("children = %+v", snap.Children)
	}
	if !snap.CapturedAt.Equal(at) {
		t.Errorf("captured at %v", snap.CapturedAt)
	}
	if snap.BoundingRect.Width == 0 {
		t.Error("expected an estimated rect")
	}
}

func TestIdenticalSiblingsDifferByNthChild(t *testing.T) {
	root, all := mount(t, `<ul class="menu"><li class="item">a</li><li class="item">b</li></ul>`)
	lis := all("li")
	p1, p2 := Path(root, lis[0]), Path(root, lis[1])
	if p1 == p2 {
		t.Fatalf("paths equal: %q", p1)
	}
	if p1 != "ul.menu > li.item" {
		t.Errorf("first = %q", p1)
	}
	if p2 != "ul.menu > li.item:nth-child(2)" {
		t.Errorf("second = %q", p2)
	}
	if strings.TrimSuffix(p2, ":nth-child(2)") != p1 {
		t.Errorf("paths differ beyond the index: %q vs %q", p1, p2)
	}
}

func TestPathUsesThreeClassesAndIgnoresMarker(t *testing.T) {
	root, all := mount(t, `<span class="a b c d">x</span>`)
	n := all("span")[0]
	dom.SetAttrRaw(n, "class", dom.HighlightClass+" a b c d")
	if got := Path(root, n); got != "span.a.b.c" {
		t.Errorf("path = %q", got)
	}
}

func TestPathDepthBounded(t *testing.T) {
	body := strings.Repeat("<div>", 15) + `<i id="deep"></i>` + strings.Repeat("</div>", 15)
	root, all := mount(t, body)
	got := Path(root, all("i")[0])
	if n := strings.Count(got, " > ") + 1; n != maxPathDepth {
		t.Errorf("segments = %d in %q", n, got)
	}
}

func TestExtractInvalid(t *testing.T) {
	ex := New(Config{})
	if _, err := ex.Extract(context.Background(), nil); !errors.Is(err, ErrInvalidElement) {
		t.Errorf("nil: %v", err)
	}
	text := &html.Node{Type: html.TextNode, Data: "x"}
	if _, err := ex.Extract(context.Background(), text); !errors.Is(err, ErrInvalidElement) {
		t.Errorf("text: %v", err)
	}
}

func TestExcerptTruncatesRunes(t *testing.T) {
	long := strings.Repeat("é", 150)
	if got := excerpt(long); len([]rune(got)) != maxExcerpt {
		t.Errorf("excerpt runes = %d", len([]rune(got)))
	}
}

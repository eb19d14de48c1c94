package describe

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	var found *html.Node
	dom.Walk(doc, func(n *html.Node) bool {
		if found == nil && dom.IsElement(n) && dom.AttrOr(n, "id", "") == "target" {
			found = n
		}
		return found == nil
	})
	if found == nil {
		t.Fatal("no #target")
	}
	return found
}

func TestOuterHTMLStripsMarkers(t *testing.T) {
	n := parse(t, `<div id="target" class="card element-highlight" data-element-id="div-1" data-selected="true"><b class="element-highlight" data-element-id="b-2">x</b></div>`)
	got := OuterHTML(n)
	want := `<div id="target" class="card"><b>x</b></div>`
	if got != want {
		t.Errorf("OuterHTML = %s, want %s", got, want)
	}
	if !dom.HasClass(n, dom.HighlightClass) {
		t.Error("original node was modified")
	}
}

func TestDescribe(t *testing.T) {
	n := parse(t, `<ul id="target" class="menu" onclick="alert(1)"><li>Home</li><li>About <script>x()</script></li></ul>`)
	snap := &selection.Snapshot{
		IdentityTag:    "ul-3fa1",
		TagName:        "ul",
		ID:             "target",
		ClassName:      "menu",
		TextExcerpt:    "Home About",
		StructuralPath: "nav > ul#target",
		ComputedStyle:  map[string]string{"display": "block", "color": "rgb(0, 0, 0)", "position": "static"},
		BoundingRect:   selection.NewRect(0, 10, 200, 40),
		Attributes:     map[string]string{"id": "target", "class": "menu", "role": "list"},
		Parent:         &selection.NodeSummary{TagName: "nav"},
		Children:       []selection.NodeSummary{{TagName: "li"}, {TagName: "li"}},
	}

	tgt := New().Describe(snap, OuterHTML(n))
	if strings.Contains(tgt.HTML, "onclick") || strings.Contains(tgt.HTML, "script") {
		t.Errorf("unsanitized html: %s", tgt.HTML)
	}
	if !strings.Contains(tgt.HTML, `class="menu"`) {
		t.Errorf("class dropped: %s", tgt.HTML)
	}
	if !strings.Contains(tgt.Markdown, "- Home") || !strings.Contains(tgt.Markdown, "- About") {
		t.Errorf("markdown = %q", tgt.Markdown)
	}
	for _, want := range []string{
		"Target element: <ul#target> (identity ul-3fa1)",
		"Path: nav > ul#target",
		"Box: 200x40 at (0, 10)",
		"Style: display: block; color: rgb(0, 0, 0)",
		"Parent: nav",
		"Children: li, li",
		`Attribute role="list"`,
		"```html",
	} {
		if !strings.Contains(tgt.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, tgt.Prompt)
		}
	}
	if strings.Contains(tgt.Prompt, "position") {
		t.Error("prompt quotes a style outside the prompt subset")
	}
	tgt.Snapshot.ComputedStyle["display"] = "none"
	if snap.ComputedStyle["display"] != "block" {
		t.Error("target shares the caller's snapshot")
	}
}

func TestDescribeNilSnapshot(t *testing.T) {
	tgt := New().Describe(nil, "")
	if tgt.Prompt != "" || tgt.HTML != "" {
		t.Errorf("target = %+v", tgt)
	}
}

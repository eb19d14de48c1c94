package livepreview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

const saveForm = `export default function Form() {
  return <main><h1>Edit</h1><button id="save" className="primary">Save</button></main>;
}`

const counter = `const Counter = () => {
  const [n, setN] = useState(0);
  return <div><button id="inc" onClick={() => setN(n + 1)}>count {n}</button></div>;
};
render(<Counter />)`

type recorder struct {
	mu      sync.Mutex
	events  []selection.Event
	renders []selection.Render
}

func (r *recorder) sink() Sink {
	return NewCallbackSink(
		func(_ context.Context, ev selection.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
			return nil
		},
		func(_ context.Context, rep selection.Render) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.renders = append(r.renders, rep)
			return nil
		},
	)
}

func (r *recorder) types() []selection.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]selection.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func newSession(t *testing.T, cfg *Config) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, logger, rec.sink())
	t.Cleanup(func() { s.Close() })
	return s, rec
}

func mustRender(t *testing.T, s *Session, code, css string) RenderResult {
	t.Helper()
	res, err := s.Render(context.Background(), SourceDocument{RawCode: code, Stylesheet: css})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func highlightedCount(s *Session) int {
	n := 0
	dom.Walk(s.doc.Root(), func(c *html.Node) bool {
		if dom.HasClass(c, dom.HighlightClass) {
			n++
		}
		return true
	})
	return n
}

func TestRenderNormalizesAndTags(t *testing.T) {
	s, rec := newSession(t, nil)
	res := mustRender(t, s, "function Foo(props) { return <div>Hi</div>; }", "")
	if res.Status != StatusRendered || res.Component != "Foo" || !res.RenderAppended {
		t.Fatalf("result = %+v", res)
	}
	if res.Elements != 1 {
		t.Errorf("elements = %d, want 1", res.Elements)
	}
	out := s.HTML()
	if !strings.Contains(out, `id="preview-root"`) || !strings.Contains(out, dom.IdentityAttr+`="`) {
		t.Errorf("document = %s", out)
	}
	if len(rec.renders) != 1 || rec.renders[0].Status != string(StatusRendered) {
		t.Errorf("render reports = %+v", rec.renders)
	}
}

func TestRenderErrorsAreInlineAndRecoverable(t *testing.T) {
	s, _ := newSession(t, nil)
	res := mustRender(t, s, "const App = () => <div>;\nrender(<App />)", "")
	if res.Status != StatusErrored || len(res.Diagnostics) == 0 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(s.HTML(), dom.DiagnosticAttr) {
		t.Error("diagnostic not shown inline")
	}
	if st := s.State(); st.Status != StatusErrored || len(st.Diagnostics) == 0 {
		t.Errorf("state = %+v", st)
	}

	res = mustRender(t, s, saveForm, "")
	if res.Status != StatusRendered || len(res.Diagnostics) != 0 {
		t.Fatalf("later render = %+v", res)
	}
	if strings.Contains(s.HTML(), dom.DiagnosticAttr) {
		t.Error("stale diagnostic left in the document")
	}
}

func TestPickRequiresEditModeAndRender(t *testing.T) {
	s, _ := newSession(t, nil)
	ctx := context.Background()
	if _, err := s.PickSelector(ctx, "button"); !errors.Is(err, ErrNotRendered) {
		t.Errorf("pick before render: %v", err)
	}
	mustRender(t, s, saveForm, "")
	if _, err := s.PickSelector(ctx, "button#save"); !errors.Is(err, ErrNotEditing) {
		t.Errorf("pick without edit mode: %v", err)
	}
	if err := s.SetEditMode(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PickSelector(ctx, "table"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pick missing: %v", err)
	}
	if _, err := s.Pick(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pick unknown tag: %v", err)
	}
	if _, err := s.PickSelector(ctx, "button[["); err == nil {
		t.Error("bad selector accepted")
	}
}

func TestPickCapturesSnapshot(t *testing.T) {
	s, rec := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, saveForm, ".primary { color: #ff0000; padding: 4px }")
	if err := s.SetEditMode(ctx, true); err != nil {
		t.Fatal(err)
	}

	snap, err := s.PickSelector(ctx, "button#save")
	if err != nil {
		t.Fatal(err)
	}
	if snap.TagName != "button" || snap.ID != "save" || snap.ClassName != "primary" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !strings.HasSuffix(snap.StructuralPath, "button#save") {
		t.Errorf("path = %q", snap.StructuralPath)
	}
	if snap.TextExcerpt != "Save" {
		t.Errorf("text = %q", snap.TextExcerpt)
	}
	if snap.ComputedStyle["padding"] != "4px" || snap.ComputedStyle["color"] != "rgb(255, 0, 0)" {
		t.Errorf("computed style = %v", snap.ComputedStyle)
	}
	if snap.IdentityTag == "" {
		t.Fatal("no identity tag")
	}

	st := s.State()
	if !st.Valid || st.Selection == nil || st.Selection.IdentityTag != snap.IdentityTag {
		t.Errorf("state = %+v", st)
	}
	if got := highlightedCount(s); got != 1 {
		t.Errorf("highlighted = %d, want 1", got)
	}
	if got := rec.types(); len(got) != 1 || got[0] != selection.EventPicked {
		t.Errorf("events = %v", got)
	}

	// Picking again by tag moves nothing and keeps one highlight.
	again, err := s.Pick(ctx, snap.IdentityTag)
	if err != nil {
		t.Fatal(err)
	}
	if again.IdentityTag != snap.IdentityTag {
		t.Errorf("tag changed: %s -> %s", snap.IdentityTag, again.IdentityTag)
	}
	h1, err := s.PickSelector(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got := highlightedCount(s); got != 1 {
		t.Errorf("highlighted after second pick = %d", got)
	}
	if s.State().Selection.IdentityTag != h1.IdentityTag {
		t.Error("selection did not move to h1")
	}
}

func TestPickGestureDoesNotReachComponents(t *testing.T) {
	s, _ := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, `const App = () => {
  const [n, setN] = useState(0);
  return <p id="p" onContextMenu={() => setN(n + 1)}>{n}</p>;
};
render(<App />)`, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "#p"); err != nil {
		t.Fatal(err)
	}
	if s.renderer.Dirty() {
		t.Error("component handler saw the pick gesture")
	}
}

const twoItems = `export default function List() {
  return <ul><li className="item">a</li><li className="item">b</li></ul>;
}`

const oneItem = `export default function List() {
  return <ul><li className="item">a</li></ul>;
}`

func TestRerenderKeepsCollidingSibling(t *testing.T) {
	s, rec := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, twoItems, "")
	s.SetEditMode(ctx, true)
	snap, err := s.PickSelector(ctx, "li:nth-child(2)")
	if err != nil {
		t.Fatal(err)
	}
	if snap.TextExcerpt != "b" {
		t.Fatalf("picked %+v", snap)
	}

	mustRender(t, s, twoItems, "")
	st := s.State()
	if !st.Valid || st.Selection.TextExcerpt != "b" || st.Selection.StructuralPath != snap.StructuralPath {
		t.Fatalf("after identical re-render: valid=%v selection=%+v", st.Valid, st.Selection)
	}

	mustRender(t, s, oneItem, "")
	st = s.State()
	if st.Valid {
		t.Errorf("selection moved onto the remaining sibling: %+v", st.Selection)
	}
	if highlightedCount(s) != 0 {
		t.Error("highlight left on an invalid selection")
	}
	types := rec.types()
	if last := types[len(types)-1]; last != selection.EventInvalidated {
		t.Errorf("events = %v", types)
	}
}

func TestRerenderRecoversSelection(t *testing.T) {
	s, rec := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	snap, err := s.PickSelector(ctx, "button#save")
	if err != nil {
		t.Fatal(err)
	}

	mustRender(t, s, saveForm, "")
	st := s.State()
	if !st.Valid {
		t.Fatal("selection not recovered after re-render")
	}
	if st.Selection.IdentityTag != snap.IdentityTag {
		t.Errorf("recovered tag = %s, want %s", st.Selection.IdentityTag, snap.IdentityTag)
	}
	types := rec.types()
	if types[len(types)-1] != selection.EventRecovered {
		t.Errorf("events = %v", types)
	}
	if got := highlightedCount(s); got != 1 {
		t.Errorf("highlighted = %d, want 1", got)
	}
}

func TestRemovedSelectionInvalidates(t *testing.T) {
	s, rec := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}

	mustRender(t, s, `const Gone = () => <section><p>nothing here</p></section>;`, "")
	st := s.State()
	if st.Valid {
		t.Fatal("selection still valid after its node was removed")
	}
	if st.Selection == nil {
		t.Error("snapshot dropped on invalidation")
	}
	if got := highlightedCount(s); got != 0 {
		t.Errorf("highlighted = %d, want 0", got)
	}
	if _, err := s.Target(); err != nil {
		t.Errorf("target of a stale selection: %v", err)
	}
	types := rec.types()
	if types[len(types)-1] != selection.EventInvalidated {
		t.Errorf("events = %v", types)
	}
	if ok, _ := s.Validate(ctx); ok {
		t.Error("manual validation revived a removed node")
	}
}

func TestDispatchRerendersAndKeepsSelection(t *testing.T) {
	s, _ := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, counter, "")
	s.SetEditMode(ctx, true)
	snap, err := s.PickSelector(ctx, "#inc")
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Dispatch(ctx, snap.IdentityTag, "click")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rerendered {
		t.Fatal("state change did not re-render")
	}
	if !strings.Contains(s.HTML(), "count 1") {
		t.Errorf("document = %s", s.HTML())
	}
	st := s.State()
	if !st.Valid {
		t.Error("selection lost across a state update")
	}
	if st.Selection.TextExcerpt != "count 1" {
		t.Errorf("recovered snapshot text = %q", st.Selection.TextExcerpt)
	}

	if _, err := s.Dispatch(ctx, "missing", "click"); !errors.Is(err, ErrNotFound) {
		t.Errorf("dispatch to missing: %v", err)
	}
}

func TestEditModeOffTearsDown(t *testing.T) {
	checkLeaks(t)
	cfg := DefaultConfig()
	cfg.Observer.BackstopInterval = 5 * time.Millisecond
	s, _ := newSession(t, cfg)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}
	if !s.engine.Observing() || s.layer.Listeners() != 1 {
		t.Fatal("edit mode did not start observing")
	}

	if err := s.SetEditMode(ctx, false); err != nil {
		t.Fatal(err)
	}
	if s.engine.Observing() {
		t.Error("still observing")
	}
	if s.layer.Listeners() != 0 {
		t.Error("listeners left")
	}
	if got := highlightedCount(s); got != 0 {
		t.Errorf("highlighted = %d", got)
	}
	if _, err := s.PickSelector(ctx, "button#save"); !errors.Is(err, ErrNotEditing) {
		t.Errorf("pick after edit mode off: %v", err)
	}

	st := s.State()
	if st.EditMode || st.Selection == nil {
		t.Errorf("state = %+v", st)
	}
	if ok, err := s.Validate(ctx); err != nil || !ok {
		t.Errorf("validate with edit mode off = %v, %v", ok, err)
	}

	// Turning it back on re-highlights the kept selection.
	s.SetEditMode(ctx, true)
	if got := highlightedCount(s); got != 1 {
		t.Errorf("highlighted after re-enable = %d", got)
	}
}

func TestUnobservedSelectionValidatedOnRender(t *testing.T) {
	s, _ := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}
	s.SetEditMode(ctx, false)

	mustRender(t, s, `const Other = () => <p>other</p>;`, "")
	if s.State().Valid {
		t.Error("stale selection reported valid")
	}
}

func TestPollingStrategyDetectsRemoval(t *testing.T) {
	checkLeaks(t)
	cfg := DefaultConfig()
	cfg.Observer.Strategy = StrategyPolling
	cfg.Observer.PollInterval = 5 * time.Millisecond
	s, rec := newSession(t, cfg)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}
	mustRender(t, s, `const Other = () => <p>other</p>;`, "")

	deadline := time.Now().Add(2 * time.Second)
	for s.State().Valid {
		if time.Now().After(deadline) {
			t.Fatal("polling never invalidated the selection")
		}
		time.Sleep(5 * time.Millisecond)
	}
	found := false
	for _, typ := range rec.types() {
		if typ == selection.EventInvalidated {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v", rec.types())
	}
}

func TestClearSelection(t *testing.T) {
	s, rec := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.Target(); !errors.Is(err, ErrNoSelection) {
		t.Errorf("target without selection: %v", err)
	}
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSelection(ctx); err != nil {
		t.Fatal(err)
	}
	st := s.State()
	if st.Selection != nil || st.Valid {
		t.Errorf("state = %+v", st)
	}
	if !st.EditMode || s.layer.Listeners() != 1 {
		t.Error("clearing turned edit mode off")
	}
	if s.engine.Observing() {
		t.Error("still observing without a selection")
	}
	types := rec.types()
	if types[len(types)-1] != selection.EventCleared {
		t.Errorf("events = %v", types)
	}

	// The renewed listener still captures gestures.
	if _, err := s.PickSelector(ctx, "h1"); err != nil {
		t.Fatalf("pick after clear: %v", err)
	}
	s.SetEditMode(ctx, false)
	if err := s.ClearSelection(ctx); err != nil {
		t.Fatal(err)
	}
	if s.layer.Listeners() != 0 {
		t.Errorf("listeners after clear with edit mode off = %d", s.layer.Listeners())
	}
}

func TestInvalidSelector(t *testing.T) {
	s, _ := newSession(t, nil)
	mustRender(t, s, saveForm, "")
	if _, err := s.PickSelector(context.Background(), "button[="); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("err = %v, want ErrInvalidSelector", err)
	}
}

func TestConcurrentEditModeToggles(t *testing.T) {
	checkLeaks(t)
	cfg := DefaultConfig()
	cfg.Observer.BackstopInterval = time.Millisecond
	s, _ := newSession(t, cfg)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.SetEditMode(ctx, on)
				s.SetEditMode(ctx, !on)
				s.Validate(ctx)
			}
		}(i%2 == 0)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("edit mode toggles deadlocked")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTargetDescribesSelection(t *testing.T) {
	s, _ := newSession(t, nil)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}
	tg, err := s.Target()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tg.Prompt, "Target element: <button#save>") {
		t.Errorf("prompt = %s", tg.Prompt)
	}
	if strings.Contains(tg.HTML, dom.IdentityAttr) || strings.Contains(tg.HTML, dom.HighlightClass) {
		t.Errorf("runtime markers leaked: %s", tg.HTML)
	}
	if !strings.Contains(tg.Markdown, "Save") {
		t.Errorf("markdown = %q", tg.Markdown)
	}
}

func TestCloseIsFinal(t *testing.T) {
	checkLeaks(t)
	cfg := DefaultConfig()
	cfg.Observer.BackstopInterval = 5 * time.Millisecond
	s, _ := newSession(t, cfg)
	ctx := context.Background()
	mustRender(t, s, saveForm, "")
	s.SetEditMode(ctx, true)
	if _, err := s.PickSelector(ctx, "button#save"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := s.Render(ctx, SourceDocument{RawCode: saveForm}); !errors.Is(err, ErrClosed) {
		t.Errorf("render after close: %v", err)
	}
	if err := s.SetEditMode(ctx, false); !errors.Is(err, ErrClosed) {
		t.Errorf("edit mode after close: %v", err)
	}
	if s.State().Selection != nil {
		t.Error("selection kept after close")
	}
}

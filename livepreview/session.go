// Package livepreview renders AI-generated UI source into a headless
// document and lets an operator pick rendered elements.
//
// A Session owns one document, the renderer for the current source and
// the selection picked from it. Every operation runs as one task under
// the session lock; mutation records made during a task are delivered
// to the change observer when it ends. Selection events and render
// reports go to the configured sinks after the lock is released.
package livepreview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/observability"
	"github.com/hazyhaar/livepick/livepreview/internal/describe"
	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/extract"
	"github.com/hazyhaar/livepick/livepreview/internal/highlight"
	"github.com/hazyhaar/livepick/livepreview/internal/identity"
	"github.com/hazyhaar/livepick/livepreview/internal/layout"
	"github.com/hazyhaar/livepick/livepreview/internal/normalize"
	"github.com/hazyhaar/livepick/livepreview/internal/observer"
	"github.com/hazyhaar/livepick/livepreview/internal/sandbox"
	"github.com/hazyhaar/livepick/livepreview/internal/sink"
	"github.com/hazyhaar/livepick/livepreview/internal/style"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// PickEvent is the gesture that captures a selection in edit mode.
const PickEvent = "contextmenu"

// ContainerID is the id of the element rendered output is mounted into.
const ContainerID = "preview-root"

// maxSettle bounds delivery rounds at the end of a task. Handlers that
// mutate (highlighting a recovered node) need a second round.
const maxSettle = 4

// Target is the edit-request context for the current selection.
type Target = describe.Target

// Session is one live preview. Create it with New and release it with
// Close.
type Session struct {
	mu     sync.Mutex
	cfg    *Config
	id     string
	logger *slog.Logger

	doc       *dom.Document
	container *html.Node
	styleEl   *html.Node

	registry  *identity.Registry
	renderer  *sandbox.Renderer
	layer     *highlight.Layer
	engine    *observer.Engine
	polling   *observer.PollingSource
	chrome    *layout.ChromeProbe
	describer *describe.Describer
	sinks     *sink.Router
	audit     *observability.AuditLogger

	styles    *style.Engine
	extractor *extract.Extractor

	source    SourceDocument
	status    Status
	component string
	diags     []error
	editMode  bool
	closed    bool

	taskCtx context.Context
	picked  *selection.Snapshot
	pickErr error

	outEvents  []selection.Event
	outRenders []selection.Render
}

// New creates a Session. A nil cfg means DefaultConfig. Sinks receive
// every selection event and render report; Close closes them.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:       cfg,
		id:        idgen.Prefixed("ses_", idgen.Default)(),
		logger:    logger,
		doc:       dom.New(),
		registry:  identity.New(logger),
		describer: describe.New(),
		sinks:     sink.NewRouter(logger, sinks...),
		status:    StatusIdle,
		taskCtx:   context.Background(),
	}
	s.styles, _ = style.Parse("")

	s.styleEl = s.doc.CreateElement("style")
	s.doc.AppendChild(s.doc.Head(), s.styleEl)
	s.container = s.doc.CreateElement("div")
	dom.SetAttrRaw(s.container, "id", ContainerID)
	s.doc.AppendChild(s.doc.Body(), s.container)

	s.renderer = sandbox.New(sandbox.Config{Timeout: cfg.Sandbox.Timeout, Logger: logger})

	if cfg.Layout.Probe == ProbeChrome {
		s.chrome = layout.NewChromeProbe(layout.ChromeConfig{
			RemoteURL: cfg.Layout.ChromeRemote,
			Viewport:  s.viewport(),
			Logger:    logger,
		}, s.documentHTML)
	}

	s.layer = highlight.New(highlight.Config{
		Document: s.doc,
		Measurer: currentMeasurer{s},
		Handlers: s.renderer,
		Logger:   logger,
	})

	var src observer.Source = observer.DocumentSource{Doc: s.doc}
	if cfg.Observer.Strategy == StrategyPolling {
		s.polling = &observer.PollingSource{
			Interval: cfg.Observer.PollInterval,
			Run:      s.run,
			Logger:   logger,
		}
		src = s.polling
	}
	s.engine = observer.New(observer.Config{
		Source:           src,
		Extractor:        func() *extract.Extractor { return s.extractor },
		BackstopInterval: cfg.Observer.BackstopInterval,
		Run:              s.run,
		OnChange:         s.onChange,
		Logger:           logger,
	})
	s.engine.SetContainer(s.container)
	s.extractor = s.newExtractor()
	s.doc.Deliver()
	return s
}

// ID returns the session identifier stamped on emitted events.
func (s *Session) ID() string { return s.id }

// Render normalizes and evaluates src, replacing the rendered tree.
// Compile and runtime failures come back as diagnostics, never as the
// error, which is only set when the session is closed.
func (s *Session) Render(ctx context.Context, src SourceDocument) (RenderResult, error) {
	var res RenderResult
	err := s.task(ctx, false, func() error {
		res = s.renderLocked(ctx, src)
		return nil
	})
	return res, err
}

func (s *Session) renderLocked(ctx context.Context, src SourceDocument) RenderResult {
	start := time.Now()
	s.source = src
	s.status = StatusCompiling

	styles, err := style.Parse(src.Stylesheet)
	if err != nil {
		s.logger.Warn("livepreview: stylesheet ignored", "error", err)
		styles, _ = style.Parse("")
	}
	s.styles = styles
	s.doc.ReplaceChildren(s.styleEl, &html.Node{Type: html.TextNode, Data: src.Stylesheet})

	norm := normalize.Normalize(src.RawCode)
	s.component = norm.Component

	var out sandbox.Output
	if norm.Err != nil {
		s.renderer.Close()
		out.Diagnostics = []error{norm.Err}
		s.status = StatusErrored
	} else {
		out = s.renderer.Render(ctx, norm.Code)
		s.status = statusOf(s.renderer.State())
	}
	elements := s.mount(out)

	res := RenderResult{
		Status:         s.status,
		Component:      norm.Component,
		RenderAppended: norm.RenderAppended,
		Elements:       elements,
		Diagnostics:    diagnostics(out.Diagnostics),
	}
	s.report(res, time.Since(start))
	s.logger.Debug("livepreview: rendered",
		"status", res.Status, "component", res.Component,
		"elements", elements, "diagnostics", len(res.Diagnostics))
	return res
}

// mount replaces the container content with out, diagnostics appended
// inline, and tags every element. The previous tree's identity entries,
// listeners and highlights are discarded.
func (s *Session) mount(out sandbox.Output) int {
	s.layer.RemoveAllHighlights()
	s.layer.RemoveAllEventListeners()
	s.registry.Reset()

	nodes := out.Nodes
	if d := sandbox.DiagnosticNode(out.Diagnostics); d != nil {
		nodes = append(nodes, d)
	}
	s.doc.ReplaceChildren(s.container, nodes...)
	n := s.registry.TagContainer(s.container)
	s.diags = out.Diagnostics
	s.extractor = s.newExtractor()

	if s.editMode {
		s.installListeners()
	}
	if _, snap, _ := s.engine.Selection(); snap != nil && !s.engine.Observing() {
		s.engine.Validate(s.taskCtx)
	}
	return n
}

func (s *Session) newExtractor() *extract.Extractor {
	return extract.New(extract.Config{
		Root:     s.container,
		Styles:   s.styles,
		Measurer: currentMeasurer{s},
		Logger:   s.logger,
	})
}

// SetEditMode turns pick gestures on or off. Turning it off disconnects
// the observer, stops the backstop ticker and waits for it, removes the
// listeners and clears highlights. The selection itself is kept.
func (s *Session) SetEditMode(ctx context.Context, on bool) error {
	return s.task(ctx, !on, func() error {
		if on == s.editMode {
			return nil
		}
		s.editMode = on
		if !on {
			s.engine.StopObserving()
			s.layer.RemoveAllEventListeners()
			s.layer.RemoveAllHighlights()
			return nil
		}
		s.installListeners()
		s.syncObservation()
		if n, snap, valid := s.engine.Selection(); snap != nil && valid {
			s.layer.Highlight(ctx, n)
		}
		return nil
	})
}

func (s *Session) installListeners() {
	s.layer.AddEventListener(s.container, PickEvent, s.onPickGesture, highlight.ListenerOptions{Capture: true})
}

// syncObservation observes the container exactly while edit mode is on
// and a selection exists.
func (s *Session) syncObservation() {
	_, snap, _ := s.engine.Selection()
	want := s.editMode && snap != nil
	switch {
	case want && !s.engine.Observing():
		s.engine.Observe(s.container)
	case !want && s.engine.Observing():
		s.engine.StopObserving()
	}
}

// onPickGesture is the capture listener for PickEvent. It keeps the
// gesture away from component handlers.
func (s *Session) onPickGesture(ev *highlight.Event) {
	ev.PreventDefault()
	ev.StopPropagation()

	ctx := s.taskCtx
	snap, err := s.extractor.Extract(ctx, ev.Target)
	if err != nil {
		s.logger.Debug("livepreview: pick ignored", "error", err)
		s.pickErr = err
		return
	}
	s.engine.Select(ev.Target, snap)
	s.syncObservation()
	s.layer.Highlight(ctx, ev.Target)
	s.picked = snap
	s.emit(selection.EventPicked, snap, true)
}

// Pick performs the pick gesture on the element carrying identity tag.
func (s *Session) Pick(ctx context.Context, tag string) (*selection.Snapshot, error) {
	var snap *selection.Snapshot
	err := s.task(ctx, false, func() error {
		if s.status == StatusIdle {
			return ErrNotRendered
		}
		n := s.findByTag(tag)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, tag)
		}
		var err error
		snap, err = s.gestureLocked(n)
		return err
	})
	return snap, err
}

// PickSelector performs the pick gesture on the first element under the
// container matching a CSS selector.
func (s *Session) PickSelector(ctx context.Context, selector string) (*selection.Snapshot, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSelector, selector, err)
	}
	var snap *selection.Snapshot
	err = s.task(ctx, false, func() error {
		if s.status == StatusIdle {
			return ErrNotRendered
		}
		n := cascadia.Query(s.container, sel)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		var err error
		snap, err = s.gestureLocked(n)
		return err
	})
	return snap, err
}

func (s *Session) gestureLocked(n *html.Node) (*selection.Snapshot, error) {
	if !s.editMode {
		return nil, ErrNotEditing
	}
	s.picked, s.pickErr = nil, nil
	s.layer.Dispatch(s.container, n, PickEvent)
	if s.pickErr != nil {
		return nil, s.pickErr
	}
	if s.picked == nil {
		return nil, ErrNotEditing
	}
	return s.picked.Clone(), nil
}

// Dispatch fires a synthetic event of eventType at the element carrying
// identity tag. Component handlers run; if they changed state the tree
// is rebuilt and remounted.
func (s *Session) Dispatch(ctx context.Context, tag, eventType string) (DispatchResult, error) {
	var res DispatchResult
	err := s.task(ctx, false, func() error {
		n := s.findByTag(tag)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, tag)
		}
		ev := s.layer.Dispatch(s.container, n, eventType)
		res.DefaultPrevented = ev.DefaultPrevented()
		if s.renderer.Dirty() {
			start := time.Now()
			out := s.renderer.Rebuild(ctx)
			s.status = statusOf(s.renderer.State())
			elements := s.mount(out)
			s.report(RenderResult{
				Status:      s.status,
				Component:   s.component,
				Elements:    elements,
				Diagnostics: diagnostics(out.Diagnostics),
			}, time.Since(start))
			res.Rerendered = true
		}
		return nil
	})
	return res, err
}

// Validate checks the selection against the current tree now, running
// recovery if it went stale. It reports the resulting validity.
func (s *Session) Validate(ctx context.Context) (bool, error) {
	var valid bool
	err := s.task(ctx, false, func() error {
		valid = s.engine.Validate(ctx)
		return nil
	})
	return valid, err
}

// ClearSelection drops the selection, stops observing, removes the
// listeners and clears highlights. Edit mode stays on if it was, with a
// fresh pick listener.
func (s *Session) ClearSelection(ctx context.Context) error {
	return s.task(ctx, true, func() error {
		_, snap, _ := s.engine.Selection()
		s.engine.Clear()
		s.engine.StopObserving()
		s.layer.RemoveAllEventListeners()
		s.layer.RemoveAllHighlights()
		if s.editMode {
			s.installListeners()
		}
		if snap != nil {
			s.emit(selection.EventCleared, snap, false)
		}
		return nil
	})
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, snap, valid := s.engine.Selection()
	return State{
		SessionID:   s.id,
		EditMode:    s.editMode,
		Selection:   snap.Clone(),
		Valid:       valid,
		Status:      s.status,
		Component:   s.component,
		Diagnostics: diagnostics(s.diags),
		ScrollY:     s.doc.ScrollY(),
	}
}

// Source returns the last rendered source document.
func (s *Session) Source() SourceDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// HTML serialises the preview document, stylesheet included.
func (s *Session) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentHTML()
}

// Target builds the edit-request context for the current selection.
// The markup is only included while the selection is valid.
func (s *Session) Target() (Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, snap, valid := s.engine.Selection()
	if snap == nil {
		return Target{}, ErrNoSelection
	}
	outer := ""
	if valid {
		outer = describe.OuterHTML(n)
	}
	return s.describer.Describe(snap, outer), nil
}

// Close tears the session down: observer, ticker, listeners, highlights,
// the script engine, the Chrome probe and the sinks. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.engine.Clear()
	s.engine.StopObserving()
	s.layer.RemoveAllEventListeners()
	s.layer.RemoveAllHighlights()
	s.renderer.Close()
	s.doc.Deliver()
	stopped := s.stopped()
	s.mu.Unlock()

	stopped.Wait()
	var firstErr error
	if s.chrome != nil {
		if err := s.chrome.Close(); err != nil {
			firstErr = err
		}
	}
	if s.audit != nil {
		s.audit.Close()
	}
	if err := s.sinks.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// task runs fn as one task. Mutations are delivered before the lock is
// released; wait makes the caller block until background goroutines
// stopped so far have exited. Each goroutine is waited on through its
// own done channel, so a later task may start new ones meanwhile.
func (s *Session) task(ctx context.Context, wait bool, fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.taskCtx = ctx
	err := fn()
	s.settle()
	s.taskCtx = context.Background()
	events, renders := s.takeOutbox()
	var stopped observer.Exited
	if wait {
		stopped = s.stopped()
	}
	s.mu.Unlock()

	stopped.Wait()
	s.publish(ctx, events, renders)
	return err
}

// run is the entry point of background goroutines (backstop ticker,
// polling source).
func (s *Session) run(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn()
	s.settle()
	events, renders := s.takeOutbox()
	s.mu.Unlock()
	s.publish(context.Background(), events, renders)
}

func (s *Session) settle() {
	for i := 0; i < maxSettle && s.doc.Deliver() > 0; i++ {
	}
}

// stopped collects the background goroutines told to stop. Called
// under the lock; wait on the result after releasing it.
func (s *Session) stopped() observer.Exited {
	x := s.engine.Stopped()
	if s.polling != nil {
		x = append(x, s.polling.Stopped()...)
	}
	return x
}

func (s *Session) onChange(c observer.Change) {
	switch c.Type {
	case selection.EventInvalidated:
		s.layer.RemoveAllHighlights()
		s.emit(c.Type, c.Snapshot, false)
	case selection.EventRecovered:
		if s.editMode {
			s.layer.Highlight(s.taskCtx, c.Node)
		}
		s.emit(c.Type, c.Snapshot, true)
	}
}

func (s *Session) emit(typ selection.EventType, snap *selection.Snapshot, valid bool) {
	s.outEvents = append(s.outEvents, selection.Event{
		ID:        idgen.New(),
		SessionID: s.id,
		Type:      typ,
		Snapshot:  snap.Clone(),
		Valid:     valid,
		At:        time.Now(),
	})
}

func (s *Session) report(res RenderResult, took time.Duration) {
	r := selection.Render{
		ID:         idgen.New(),
		SessionID:  s.id,
		Status:     string(res.Status),
		Component:  res.Component,
		Elements:   res.Elements,
		DurationMs: took.Milliseconds(),
		At:         time.Now(),
	}
	for _, d := range res.Diagnostics {
		r.Diagnostics = append(r.Diagnostics, d.String())
	}
	s.outRenders = append(s.outRenders, r)
}

func (s *Session) takeOutbox() ([]selection.Event, []selection.Render) {
	events, renders := s.outEvents, s.outRenders
	s.outEvents, s.outRenders = nil, nil
	return events, renders
}

func (s *Session) publish(ctx context.Context, events []selection.Event, renders []selection.Render) {
	for _, r := range renders {
		s.sinks.SendRender(ctx, r)
	}
	for _, ev := range events {
		s.sinks.Send(ctx, ev)
	}
}

func (s *Session) findByTag(tag string) *html.Node {
	if tag == "" {
		return nil
	}
	var found *html.Node
	dom.Walk(s.container, func(n *html.Node) bool {
		if found == nil && n != s.container && dom.AttrOr(n, dom.IdentityAttr, "") == tag {
			found = n
		}
		return found == nil
	})
	return found
}

func (s *Session) documentHTML() string {
	return dom.Render(s.doc.Root())
}

func (s *Session) viewport() layout.Viewport {
	return layout.Viewport{Width: s.cfg.Layout.ViewportWidth, Height: s.cfg.Layout.ViewportHeight}
}

// currentMeasurer measures with whatever the session uses for the
// current tree: the Chrome probe when configured, else an estimate from
// the current stylesheet.
type currentMeasurer struct{ s *Session }

func (m currentMeasurer) Measure(ctx context.Context, n *html.Node) (selection.Rect, error) {
	if m.s.chrome != nil {
		return m.s.chrome.Measure(ctx, n)
	}
	return layout.NewEstimator(m.s.container, m.s.styles, m.s.viewport()).Measure(ctx, n)
}

// Package sandbox evaluates normalized component code in an embedded
// JavaScript engine and mounts its output as HTML nodes.
//
// The engine only sees the capability scope (see Globals). Compile and
// runtime failures never escape: they come back as diagnostics next to
// whatever part of the tree rendered.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/livepick/livepreview/internal/diag"
	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/highlight"
)

// CompileError and RuntimeError are the diagnostics a render produces.
type (
	CompileError = diag.CompileError
	RuntimeError = diag.RuntimeError
)

// State is the renderer's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateRendered
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateRendered:
		return "rendered"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Config configures a Renderer.
type Config struct {
	// Timeout bounds every entry into the engine. Default: 2s.
	Timeout time.Duration
	// Now backs now() and date helpers given no value. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Output is what one render pass produced. Nodes are detached; the
// caller mounts them.
type Output struct {
	Nodes       []*html.Node
	Diagnostics []error
}

// Renderer owns one engine instance per loaded module.
type Renderer struct {
	cfg   Config
	state State

	vm   *goja.Runtime
	ctx  context.Context
	root goja.Value

	hooks   map[string]*hookSlot
	frame   *hookFrame
	effects []pendingEffect
	dirty   bool

	timers   []timer
	timerSeq int64

	handlers map[*html.Node]map[string]goja.Callable
}

// New creates an idle Renderer.
func New(cfg Config) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{
		cfg:      cfg,
		ctx:      context.Background(),
		hooks:    make(map[string]*hookSlot),
		handlers: make(map[*html.Node]map[string]goja.Callable),
	}
}

// State returns the lifecycle state.
func (r *Renderer) State() State { return r.state }

// Dirty reports whether a state setter ran since the last build.
func (r *Renderer) Dirty() bool { return r.dirty }

// Render loads code as a new module and builds it. Hook state of the
// previous module is discarded.
func (r *Renderer) Render(ctx context.Context, code string) Output {
	r.state = StateCompiling
	r.reset()

	js, err := Transpile(code)
	if err != nil {
		r.state = StateErrored
		return Output{Diagnostics: []error{err}}
	}

	vm := goja.New()
	r.vm = vm
	if err := r.installScope(); err != nil {
		r.state = StateErrored
		return Output{Diagnostics: []error{&RuntimeError{Message: err.Error()}}}
	}
	r.bindIcons(js)

	err = r.guard(ctx, func() error {
		_, err := vm.RunScript(sourceFile, js)
		return err
	})
	if err != nil {
		// Top-level throw: render() may still have run first.
		out := Output{Diagnostics: []error{asRuntime(err)}}
		if r.root != nil {
			built := r.Rebuild(ctx)
			out.Nodes = built.Nodes
			out.Diagnostics = append(out.Diagnostics, built.Diagnostics...)
		}
		r.state = StateErrored
		return out
	}
	return r.Rebuild(ctx)
}

// Rebuild mounts the module's root again, keeping hook state. Effects
// run after the mount and queued timers are drained once; if either
// changed state, the tree is mounted one more time.
func (r *Renderer) Rebuild(ctx context.Context) Output {
	if r.vm == nil || r.root == nil {
		r.state = StateRendered
		return Output{}
	}
	var out Output
	for pass := 0; pass < 2; pass++ {
		r.dirty = false
		out = r.build(ctx)
		if !r.dirty {
			break
		}
	}
	if len(out.Diagnostics) > 0 {
		r.state = StateErrored
	} else {
		r.state = StateRendered
	}
	return out
}

func (r *Renderer) build(ctx context.Context) Output {
	mc := &mountCtx{visited: make(map[string]bool)}
	holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	clear(r.handlers)

	err := r.guard(ctx, func() error {
		idx := 0
		r.mountValue(mc, holder, r.root, "", &idx)
		r.dropUnvisited(mc)
		r.runEffects(mc)
		r.drainTimers(mc)
		return nil
	})
	if err != nil {
		mc.diags = append(mc.diags, asRuntime(err))
	}

	var nodes []*html.Node
	for c := holder.FirstChild; c != nil; {
		next := c.NextSibling
		holder.RemoveChild(c)
		nodes = append(nodes, c)
		c = next
	}
	return Output{Nodes: nodes, Diagnostics: mc.diags}
}

// guard runs fn inside the engine with the timeout and ctx armed as
// interrupts. Panics from the engine or host functions are recovered
// into a *RuntimeError.
func (r *Renderer) guard(ctx context.Context, fn func() error) (err error) {
	vm := r.vm
	r.ctx = ctx
	timer := time.AfterFunc(r.cfg.Timeout, func() {
		vm.Interrupt(fmt.Sprintf("timeout after %s", r.cfg.Timeout))
	})
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer func() {
		timer.Stop()
		stop()
		vm.ClearInterrupt()
		r.frame = nil
		r.ctx = context.Background()
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = asRuntime(e)
				return
			}
			err = &RuntimeError{Message: fmt.Sprint(rec)}
		}
	}()
	return fn()
}

// Handler implements highlight.NodeHandlers for nodes of the last build.
func (r *Renderer) Handler(n *html.Node, eventType string) (highlight.Handler, bool) {
	fn, ok := r.handlers[n][eventType]
	if !ok {
		return nil, false
	}
	return func(ev *highlight.Event) {
		err := r.guard(r.ctx, func() error {
			_, err := fn(goja.Undefined(), r.eventObject(ev))
			return err
		})
		if err != nil {
			r.cfg.Logger.Warn("sandbox: event handler failed", "event", eventType, "error", err)
		}
	}, true
}

func (r *Renderer) bindHandler(n *html.Node, eventType string, fn goja.Callable) {
	m := r.handlers[n]
	if m == nil {
		m = make(map[string]goja.Callable)
		r.handlers[n] = m
	}
	m[eventType] = fn
}

func (r *Renderer) eventObject(ev *highlight.Event) *goja.Object {
	o := r.vm.NewObject()
	o.Set("type", ev.Type)
	target := r.vm.NewObject()
	if ev.Target != nil {
		target.Set("tagName", ev.Target.Data)
		target.Set("id", dom.AttrOr(ev.Target, "id", ""))
		target.Set("value", dom.AttrOr(ev.Target, "value", ""))
		target.Set("checked", dom.AttrOr(ev.Target, "checked", "") != "")
	}
	o.Set("target", target)
	o.Set("currentTarget", target)
	o.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		ev.PreventDefault()
		return goja.Undefined()
	})
	o.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		ev.StopPropagation()
		return goja.Undefined()
	})
	return o
}

// Close runs effect cleanups and drops the engine.
func (r *Renderer) Close() {
	r.reset()
	r.state = StateIdle
}

func (r *Renderer) reset() {
	if r.vm != nil {
		_ = r.guard(context.Background(), func() error {
			r.teardownHooks()
			return nil
		})
	}
	r.hooks = make(map[string]*hookSlot)
	r.effects = nil
	r.timers = nil
	r.root = nil
	r.vm = nil
	r.dirty = false
	clear(r.handlers)
}

// DiagnosticNode renders diagnostics as an inline <pre> marked with the
// diagnostic attribute, or nil when there are none.
func DiagnosticNode(diags []error) *html.Node {
	if len(diags) == 0 {
		return nil
	}
	stage := string(diag.StageRuntime)
	var ce *CompileError
	if errors.As(diags[0], &ce) {
		stage = string(ce.Stage)
	}
	pre := &html.Node{
		Type: html.ElementNode, Data: "pre", DataAtom: atom.Pre,
		Attr: []html.Attribute{{Key: dom.DiagnosticAttr, Val: stage}},
	}
	text := ""
	for i, d := range diags {
		if i > 0 {
			text += "\n"
		}
		text += d.Error()
	}
	pre.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return pre
}

func isInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}

func asRuntime(err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce
	}
	return runtimeError(err)
}

// runtimeError converts an engine error to a diagnostic, taking the
// position of the innermost frame that has one.
func runtimeError(err error) *RuntimeError {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return &RuntimeError{Message: "script interrupted: " + fmt.Sprint(ie.Value())}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		re := &RuntimeError{Message: ex.Value().String()}
		for _, f := range ex.Stack() {
			if p := f.Position(); p.Line > 0 {
				re.Line, re.Column = p.Line, p.Column
				break
			}
		}
		return re
	}
	return &RuntimeError{Message: err.Error()}
}

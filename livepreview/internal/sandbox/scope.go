package sandbox

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dop251/goja"
)

// ScopeVersion identifies the capability scope generated code is
// written against. Bump it when a binding is added or removed.
const ScopeVersion = "2025.1"

//go:embed prelude.js
var preludeJS string

// removedGlobals are engine built-ins outside the capability scope.
var removedGlobals = []string{"eval", "Function"}

// Globals lists the bindings of the capability scope, on top of the
// standard built-ins (Math, JSON, Date, Number, String, Array, Object,
// parseInt, parseFloat, isNaN and friends).
var Globals = []string{
	"h", "render", "Fragment", "React",
	"useState", "useEffect", "useMemo", "useCallback", "useRef", "useReducer",
	"icon", "Icon",
	"formatDate", "addDays", "now",
	"cn", "motion", "AnimatePresence", "validate",
	"console", "setTimeout", "clearTimeout",
}

// installScope defines every binding of the capability scope on a fresh
// runtime.
func (r *Renderer) installScope() error {
	vm := r.vm
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	fns := map[string]func(goja.FunctionCall) goja.Value{
		"h":            r.h,
		"render":       r.render,
		"Fragment":     r.fragment,
		"useState":     r.useState,
		"useEffect":    r.useEffect,
		"useMemo":      r.useMemo,
		"useCallback":  r.useCallback,
		"useRef":       r.useRef,
		"useReducer":   r.useReducer,
		"formatDate":   r.formatDate,
		"addDays":      r.addDays,
		"now":          r.nowDate,
		"setTimeout":   r.setTimeout,
		"clearTimeout": r.clearTimeout,
	}
	for name, fn := range fns {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("sandbox: bind %s: %w", name, err)
		}
	}
	if err := vm.Set("console", r.console()); err != nil {
		return fmt.Errorf("sandbox: bind console: %w", err)
	}
	if _, err := vm.RunScript("prelude.js", preludeJS); err != nil {
		return fmt.Errorf("sandbox: prelude: %w", err)
	}
	for _, g := range removedGlobals {
		vm.GlobalObject().Delete(g)
	}
	return nil
}

func (r *Renderer) render(call goja.FunctionCall) goja.Value {
	r.root = call.Argument(0)
	return goja.Undefined()
}

func (r *Renderer) fragment(call goja.FunctionCall) goja.Value {
	props := call.Argument(0)
	if goja.IsUndefined(props) || goja.IsNull(props) {
		return goja.Undefined()
	}
	return props.ToObject(r.vm).Get("children")
}

// console maps script logging onto slog records tagged source=script.
func (r *Renderer) console() *goja.Object {
	o := r.vm.NewObject()
	levels := map[string]slog.Level{
		"log": slog.LevelInfo, "info": slog.LevelInfo, "debug": slog.LevelDebug,
		"warn": slog.LevelWarn, "error": slog.LevelError,
	}
	for name, lvl := range levels {
		o.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = inspect(a)
			}
			r.cfg.Logger.Log(r.ctx, lvl, "sandbox: console", "source", "script", "msg", strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	return o
}

func inspect(v goja.Value) string {
	if o, ok := v.(*goja.Object); ok && o.ClassName() != "Function" && o.ClassName() != "Error" {
		if b, err := o.MarshalJSON(); err == nil {
			return string(b)
		}
	}
	return v.String()
}

// Timers are queued and drained once after mount; nothing runs on a
// clock.
type timer struct {
	id   int64
	fn   goja.Callable
	args []goja.Value
}

func (r *Renderer) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return r.vm.ToValue(0)
	}
	r.timerSeq++
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}
	r.timers = append(r.timers, timer{id: r.timerSeq, fn: fn, args: args})
	return r.vm.ToValue(r.timerSeq)
}

func (r *Renderer) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, t := range r.timers {
		if t.id == id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (r *Renderer) drainTimers(mc *mountCtx) {
	queued := r.timers
	r.timers = nil
	for _, t := range queued {
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			if isInterrupt(err) {
				panic(err)
			}
			re := runtimeError(err)
			re.Component = "setTimeout"
			mc.diags = append(mc.diags, re)
		}
	}
}

// Date helpers. Layout tokens: YYYY YY MMMM MMM MM M DD D HH mm ss.
var dateTokens = strings.NewReplacer(
	"YYYY", "2006", "YY", "06",
	"MMMM", "January", "MMM", "Jan", "MM", "01", "M", "1",
	"DD", "02", "D", "2",
	"HH", "15", "mm", "04", "ss", "05",
)

const defaultDateLayout = "YYYY-MM-DD"

func (r *Renderer) toTime(v goja.Value) time.Time {
	switch x := v.Export().(type) {
	case time.Time:
		return x
	case int64:
		return time.UnixMilli(x).UTC()
	case float64:
		return time.UnixMilli(int64(x)).UTC()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t
			}
		}
		panic(r.vm.NewTypeError("invalid date: " + x))
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return r.cfg.Now()
	}
	panic(r.vm.NewTypeError("invalid date: " + v.String()))
}

func (r *Renderer) dateValue(t time.Time) goja.Value {
	d, err := r.vm.New(r.vm.Get("Date"), r.vm.ToValue(t.UnixMilli()))
	if err != nil {
		panic(err)
	}
	return d
}

func (r *Renderer) formatDate(call goja.FunctionCall) goja.Value {
	t := r.toTime(call.Argument(0))
	layout := defaultDateLayout
	if l := call.Argument(1); !goja.IsUndefined(l) && !goja.IsNull(l) {
		layout = l.String()
	}
	return r.vm.ToValue(t.UTC().Format(dateTokens.Replace(layout)))
}

func (r *Renderer) addDays(call goja.FunctionCall) goja.Value {
	t := r.toTime(call.Argument(0))
	return r.dateValue(t.AddDate(0, 0, int(call.Argument(1).ToInteger())))
}

func (r *Renderer) nowDate(goja.FunctionCall) goja.Value {
	return r.dateValue(r.cfg.Now())
}

// Icon resolution: capitalised JSX tags that the module never declares
// and the scope does not provide are bound to icon components, so
// `<ChevronDown />` renders an svg placeholder instead of throwing.
var (
	jsxComponent = regexp.MustCompile(`\bh\(\s*([A-Z][A-Za-z0-9_$]*)\s*[,)]`)
	declaration  = regexp.MustCompile(`\b(?:const|let|var|function|class)\s+([A-Z][A-Za-z0-9_$]*)`)
)

func (r *Renderer) bindIcons(code string) {
	declared := make(map[string]bool)
	for _, m := range declaration.FindAllStringSubmatch(code, -1) {
		declared[m[1]] = true
	}
	namedIcon, _ := goja.AssertFunction(r.vm.Get("__namedIcon"))
	for _, m := range jsxComponent.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if declared[name] {
			continue
		}
		if v := r.vm.Get(name); v != nil && !goja.IsUndefined(v) {
			continue
		}
		c, err := namedIcon(goja.Undefined(), r.vm.ToValue(iconName(name)))
		if err != nil {
			continue
		}
		r.vm.Set(name, c)
		declared[name] = true
	}
}

// iconName maps a component name to a kebab-case icon name:
// ChevronDown → chevron-down, SearchIcon → search.
func iconName(component string) string {
	component = strings.TrimSuffix(component, "Icon")
	if component == "" {
		return "icon"
	}
	var b strings.Builder
	for i, c := range component {
		if unicode.IsUpper(c) && i > 0 {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(c))
	}
	return b.String()
}

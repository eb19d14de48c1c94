package sandbox

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// hookFrame is the hook cursor of the component being rendered.
type hookFrame struct {
	path string
	next int
}

// hookSlot holds one hook's state across renders of the same module.
type hookSlot struct {
	value   goja.Value
	setter  goja.Value
	deps    []goja.Value
	hasDeps bool
	cleanup goja.Callable
}

type pendingEffect struct {
	slot *hookSlot
	fn   goja.Callable
}

// slot returns the next hook slot of the current component, creating it
// on first render. Hooks called outside a component throw.
func (r *Renderer) slot(hook string) (*hookSlot, bool) {
	if r.frame == nil {
		panic(r.vm.NewTypeError(hook + " can only be called inside a component"))
	}
	key := r.frame.path + "#" + strconv.Itoa(r.frame.next)
	r.frame.next++
	if s, ok := r.hooks[key]; ok {
		return s, false
	}
	s := &hookSlot{}
	r.hooks[key] = s
	return s, true
}

func (r *Renderer) useState(call goja.FunctionCall) goja.Value {
	s, fresh := r.slot("useState")
	if fresh {
		s.value = r.initial(call.Argument(0))
		s.setter = r.vm.ToValue(func(c goja.FunctionCall) goja.Value {
			next := c.Argument(0)
			if fn, ok := goja.AssertFunction(next); ok {
				v, err := fn(goja.Undefined(), s.value)
				if err != nil {
					panic(err)
				}
				next = v
			}
			if !next.SameAs(s.value) {
				s.value = next
				r.dirty = true
			}
			return goja.Undefined()
		})
	}
	return r.vm.NewArray(s.value, s.setter)
}

func (r *Renderer) useReducer(call goja.FunctionCall) goja.Value {
	s, fresh := r.slot("useReducer")
	reducer, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("useReducer: reducer is not a function"))
	}
	if fresh {
		s.value = call.Argument(1)
		if init, ok := goja.AssertFunction(call.Argument(2)); ok {
			v, err := init(goja.Undefined(), s.value)
			if err != nil {
				panic(err)
			}
			s.value = v
		}
	}
	// The reducer of the latest render wins.
	s.setter = r.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		next, err := reducer(goja.Undefined(), s.value, c.Argument(0))
		if err != nil {
			panic(err)
		}
		if !next.SameAs(s.value) {
			s.value = next
			r.dirty = true
		}
		return goja.Undefined()
	})
	return r.vm.NewArray(s.value, s.setter)
}

func (r *Renderer) useEffect(call goja.FunctionCall) goja.Value {
	s, fresh := r.slot("useEffect")
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	deps, has := r.deps(call.Argument(1))
	if fresh || !has || changed(s.deps, deps) {
		r.effects = append(r.effects, pendingEffect{slot: s, fn: fn})
	}
	s.deps, s.hasDeps = deps, has
	return goja.Undefined()
}

func (r *Renderer) useMemo(call goja.FunctionCall) goja.Value {
	s, fresh := r.slot("useMemo")
	deps, has := r.deps(call.Argument(1))
	if fresh || !has || changed(s.deps, deps) {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(r.vm.NewTypeError("useMemo: factory is not a function"))
		}
		v, err := fn(goja.Undefined())
		if err != nil {
			panic(err)
		}
		s.value = v
	}
	s.deps, s.hasDeps = deps, has
	return s.value
}

func (r *Renderer) useCallback(call goja.FunctionCall) goja.Value {
	s, fresh := r.slot("useCallback")
	deps, has := r.deps(call.Argument(1))
	if fresh || !has || changed(s.deps, deps) {
		s.value = call.Argument(0)
	}
	s.deps, s.hasDeps = deps, has
	return s.value
}

func (r *Renderer) useRef(call goja.FunctionCall) goja.Value {
	s, fresh := r.slot("useRef")
	if fresh {
		ref := r.vm.NewObject()
		ref.Set("current", call.Argument(0))
		s.value = ref
	}
	return s.value
}

// initial resolves a lazy initial state.
func (r *Renderer) initial(v goja.Value) goja.Value {
	if fn, ok := goja.AssertFunction(v); ok {
		out, err := fn(goja.Undefined())
		if err != nil {
			panic(err)
		}
		return out
	}
	return v
}

// deps reads a dependency array. has is false when none was passed,
// meaning "run every render".
func (r *Renderer) deps(v goja.Value) ([]goja.Value, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	o := v.ToObject(r.vm)
	n := int(o.Get("length").ToInteger())
	out := make([]goja.Value, n)
	for i := range out {
		out[i] = o.Get(strconv.Itoa(i))
	}
	return out, true
}

func changed(old, cur []goja.Value) bool {
	if len(old) != len(cur) {
		return true
	}
	for i := range old {
		if !old[i].SameAs(cur[i]) {
			return true
		}
	}
	return false
}

// runEffects runs queued effects in mount order, calling the previous
// cleanup of each slot first.
func (r *Renderer) runEffects(mc *mountCtx) {
	effects := r.effects
	r.effects = nil
	for _, e := range effects {
		if e.slot.cleanup != nil {
			if _, err := e.slot.cleanup(goja.Undefined()); err != nil {
				r.effectError(mc, err)
			}
			e.slot.cleanup = nil
		}
		out, err := e.fn(goja.Undefined())
		if err != nil {
			r.effectError(mc, err)
			continue
		}
		if fn, ok := goja.AssertFunction(out); ok {
			e.slot.cleanup = fn
		}
	}
}

func (r *Renderer) effectError(mc *mountCtx, err error) {
	if isInterrupt(err) {
		panic(err)
	}
	re := runtimeError(err)
	re.Component = "effect"
	mc.diags = append(mc.diags, re)
}

// dropUnvisited forgets hook state of components that did not render in
// the last pass, running their effect cleanups.
func (r *Renderer) dropUnvisited(mc *mountCtx) {
	for key, s := range r.hooks {
		path := key
		if i := strings.LastIndexByte(key, '#'); i >= 0 {
			path = key[:i]
		}
		if mc.visited[path] {
			continue
		}
		if s.cleanup != nil {
			s.cleanup(goja.Undefined())
		}
		delete(r.hooks, key)
	}
}

// teardownHooks runs every cleanup and forgets all state.
func (r *Renderer) teardownHooks() {
	for _, s := range r.hooks {
		if s.cleanup != nil {
			s.cleanup(goja.Undefined())
		}
	}
	r.hooks = make(map[string]*hookSlot)
	r.effects = nil
}

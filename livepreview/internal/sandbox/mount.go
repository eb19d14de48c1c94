package sandbox

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/livepick/livepreview/internal/diag"
)

// vnode is the value h() returns: an element or component invocation
// waiting to be mounted.
type vnode struct {
	Type     goja.Value   `json:"type"`
	Props    *goja.Object `json:"props"`
	Children []goja.Value `json:"children"`
	Key      string       `json:"key,omitempty"`
}

// h implements the JSX factory: h(type, props, ...children).
func (r *Renderer) h(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0)
	if goja.IsUndefined(typ) || goja.IsNull(typ) {
		panic(r.vm.NewTypeError("element type is invalid: got " + typ.String()))
	}
	vn := &vnode{Type: typ}
	if p := call.Argument(1); !goja.IsUndefined(p) && !goja.IsNull(p) {
		vn.Props = p.ToObject(r.vm)
		if k := vn.Props.Get("key"); k != nil && !goja.IsUndefined(k) && !goja.IsNull(k) {
			vn.Key = k.String()
		}
	}
	if len(call.Arguments) > 2 {
		vn.Children = append([]goja.Value(nil), call.Arguments[2:]...)
	}
	return r.vm.ToValue(vn)
}

// mountCtx carries the state of one Build pass.
type mountCtx struct {
	diags   []error
	visited map[string]bool
}

// mountChildren mounts a list of child values under parent. path is the
// component path of the enclosing component.
func (r *Renderer) mountChildren(mc *mountCtx, parent *html.Node, children []goja.Value, path string) {
	idx := 0
	for _, c := range children {
		r.mountValue(mc, parent, c, path, &idx)
	}
}

func (r *Renderer) mountValue(mc *mountCtx, parent *html.Node, v goja.Value, path string, idx *int) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return
	}
	if o, ok := v.(*goja.Object); ok {
		if o.ClassName() == "Array" {
			n := int(o.Get("length").ToInteger())
			for i := 0; i < n; i++ {
				r.mountValue(mc, parent, o.Get(strconv.Itoa(i)), path, idx)
			}
			return
		}
		if vn, ok := o.Export().(*vnode); ok {
			r.mountVNode(mc, parent, vn, path, idx)
			return
		}
		if _, isFn := goja.AssertFunction(o); isFn {
			return
		}
		mc.diags = append(mc.diags, &diag.RuntimeError{
			Message: "objects are not valid as a child (found " + o.ClassName() + ")",
		})
		return
	}
	if _, ok := v.Export().(bool); ok {
		return
	}
	parent.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
	*idx++
}

func (r *Renderer) mountVNode(mc *mountCtx, parent *html.Node, vn *vnode, path string, idx *int) {
	slot := strconv.Itoa(*idx)
	if vn.Key != "" {
		slot = "k:" + vn.Key
	}
	*idx++

	if fn, ok := goja.AssertFunction(vn.Type); ok {
		name := componentName(vn.Type)
		r.mountComponent(mc, parent, fn, name, vn, path+"/"+name+"["+slot+"]")
		return
	}

	tag := strings.ToLower(vn.Type.String())
	el := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	parent.AppendChild(el)

	inner := r.applyProps(mc, el, vn.Props)
	if inner != "" {
		nodes, err := html.ParseFragment(strings.NewReader(inner), el)
		if err != nil {
			mc.diags = append(mc.diags, &diag.RuntimeError{Message: "dangerouslySetInnerHTML: " + err.Error()})
		}
		for _, n := range nodes {
			el.AppendChild(n)
		}
		return
	}
	r.mountChildren(mc, el, vn.Children, path)
}

// mountComponent calls a component function with a fresh hook frame.
// A throw is caught here: the component renders nothing, its siblings
// are unaffected and a diagnostic is recorded.
func (r *Renderer) mountComponent(mc *mountCtx, parent *html.Node, fn goja.Callable, name string, vn *vnode, path string) {
	props := r.componentProps(vn)
	mc.visited[path] = true

	prev := r.frame
	r.frame = &hookFrame{path: path}
	out, err := fn(goja.Undefined(), props)
	r.frame = prev

	if err != nil {
		if isInterrupt(err) {
			panic(err)
		}
		re := runtimeError(err)
		re.Component = name
		mc.diags = append(mc.diags, re)
		r.cfg.Logger.Debug("sandbox: component threw", "component", name, "error", re.Message)
		return
	}
	idx := 0
	r.mountValue(mc, parent, out, path, &idx)
}

func (r *Renderer) componentProps(vn *vnode) *goja.Object {
	props := r.vm.NewObject()
	if vn.Props != nil {
		for _, k := range vn.Props.Keys() {
			if k == "key" {
				continue
			}
			props.Set(k, vn.Props.Get(k))
		}
	}
	switch len(vn.Children) {
	case 0:
	case 1:
		props.Set("children", vn.Children[0])
	default:
		arr := make([]any, len(vn.Children))
		for i, c := range vn.Children {
			arr[i] = c
		}
		props.Set("children", r.vm.NewArray(arr...))
	}
	return props
}

// applyProps turns props into attributes and event handlers. It returns
// the raw HTML of dangerouslySetInnerHTML, if any.
func (r *Renderer) applyProps(mc *mountCtx, el *html.Node, props *goja.Object) string {
	if props == nil {
		return ""
	}
	inner := ""
	for _, k := range props.Keys() {
		v := props.Get(k)
		switch {
		case k == "children" || k == "key" || k == "ref":
			continue
		case k == "dangerouslySetInnerHTML":
			if o, ok := v.(*goja.Object); ok {
				if h := o.Get("__html"); h != nil && !goja.IsUndefined(h) {
					inner = h.String()
				}
			}
			continue
		case isEventProp(k):
			if fn, ok := goja.AssertFunction(v); ok {
				r.bindHandler(el, strings.ToLower(k[2:]), fn)
			}
			continue
		}
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		name := attrName(k)
		if b, ok := v.Export().(bool); ok {
			if !b {
				continue
			}
			val := ""
			if strings.HasPrefix(name, "data-") || strings.HasPrefix(name, "aria-") {
				val = "true"
			}
			el.Attr = append(el.Attr, html.Attribute{Key: name, Val: val})
			continue
		}
		if name == "style" {
			if o, ok := v.(*goja.Object); ok {
				el.Attr = append(el.Attr, html.Attribute{Key: "style", Val: styleText(o)})
				continue
			}
		}
		if _, isFn := goja.AssertFunction(v); isFn {
			mc.diags = append(mc.diags, &diag.RuntimeError{
				Message: fmt.Sprintf("function passed as attribute %q of <%s>", k, el.Data),
			})
			continue
		}
		el.Attr = append(el.Attr, html.Attribute{Key: name, Val: v.String()})
	}
	return inner
}

func isEventProp(k string) bool {
	return len(k) > 2 && strings.HasPrefix(k, "on") && unicode.IsUpper(rune(k[2]))
}

func attrName(k string) string {
	switch k {
	case "className":
		return "class"
	case "htmlFor":
		return "for"
	}
	return strings.ToLower(k)
}

var unitless = map[string]bool{
	"opacity": true, "z-index": true, "font-weight": true, "line-height": true,
	"flex": true, "flex-grow": true, "flex-shrink": true, "order": true, "zoom": true,
}

// styleText serialises a React style object: camelCase keys become
// kebab-case, bare numbers get px unless the property is unitless.
func styleText(o *goja.Object) string {
	var parts []string
	for _, k := range o.Keys() {
		v := o.Get(k)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		prop := kebab(k)
		val := v.String()
		switch v.Export().(type) {
		case int64, float64:
			if !unitless[prop] && val != "0" {
				val += "px"
			}
		}
		parts = append(parts, prop+": "+val)
	}
	return strings.Join(parts, "; ")
}

func kebab(s string) string {
	if strings.HasPrefix(s, "--") {
		return s
	}
	var b strings.Builder
	for i, c := range s {
		if unicode.IsUpper(c) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func componentName(v goja.Value) string {
	if o, ok := v.(*goja.Object); ok {
		if n := o.Get("displayName"); n != nil && !goja.IsUndefined(n) && n.String() != "" {
			return n.String()
		}
		if n := o.Get("name"); n != nil && !goja.IsUndefined(n) && n.String() != "" {
			return n.String()
		}
	}
	return "Anonymous"
}

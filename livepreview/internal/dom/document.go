// Package dom is the headless document the preview mounts into. Every
// mutation made through a Document is queued as a mutation.Record and
// delivered to subscribers in one batch per task (Deliver).
package dom

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/livepreview/mutation"
)

const skeleton = `<!DOCTYPE html><html><head></head><body></body></html>`

// Document owns a parsed <html> tree, the pending mutation queue and the
// viewport scroll offset. It is not safe for concurrent use; the session
// serialises access.
type Document struct {
	root *html.Node
	head *html.Node
	body *html.Node

	queue   []mutation.Record
	subs    map[int]*subscription
	nextSub int
	seq     uint64

	scrollY float64
}

type subscription struct {
	root  *html.Node
	attrs map[string]bool // nil = every attribute
	fn    func(mutation.Batch)
}

// New creates an empty document with <head> and <body>.
func New() *Document {
	root, err := html.Parse(strings.NewReader(skeleton))
	if err != nil {
		// The skeleton is constant; a parse failure is a programming error.
		panic("dom: parse skeleton: " + err.Error())
	}
	d := &Document{root: root, subs: make(map[int]*subscription)}
	Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "head":
				d.head = n
			case "body":
				d.body = n
			}
		}
		return true
	})
	return d
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Head returns the <head> element.
func (d *Document) Head() *html.Node { return d.head }

// Body returns the <body> element.
func (d *Document) Body() *html.Node { return d.body }

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
}

// Connected reports whether n is attached to this document.
func (d *Document) Connected(n *html.Node) bool {
	return n != nil && Contains(d.root, n)
}

// AppendChild attaches child as the last child of parent, detaching it
// from any previous parent first.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore attaches child before ref (ref nil = append).
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if parent == nil || child == nil {
		return
	}
	if child.Parent != nil {
		d.RemoveChild(child.Parent, child)
	}
	if ref != nil && ref.Parent != parent {
		ref = nil
	}
	parent.InsertBefore(child, ref)
	d.record(mutation.Record{
		Op:     mutation.OpInsert,
		XPath:  XPath(parent),
		Tag:    child.Data,
		Target: parent,
	})
}

// RemoveChild detaches child from parent. No-op when child is not a
// child of parent.
func (d *Document) RemoveChild(parent, child *html.Node) {
	if parent == nil || child == nil || child.Parent != parent {
		return
	}
	path := XPath(child)
	parent.RemoveChild(child)
	d.record(mutation.Record{
		Op:     mutation.OpRemove,
		XPath:  path,
		Tag:    child.Data,
		Target: parent,
	})
}

// Remove detaches n from its parent, if any.
func (d *Document) Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		d.RemoveChild(n.Parent, n)
	}
}

// ReplaceChildren removes every child of parent and appends children.
func (d *Document) ReplaceChildren(parent *html.Node, children ...*html.Node) {
	for c := parent.FirstChild; c != nil; c = parent.FirstChild {
		d.RemoveChild(parent, c)
	}
	for _, c := range children {
		d.AppendChild(parent, c)
	}
}

// SetAttr sets attribute key on n. Setting the current value is a no-op.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	old, had := Attr(n, key)
	if had && old == val {
		return
	}
	SetAttrRaw(n, key, val)
	d.record(mutation.Record{
		Op:       mutation.OpAttr,
		XPath:    XPath(n),
		Tag:      n.Data,
		Name:     key,
		Value:    val,
		OldValue: old,
		Target:   n,
	})
}

// RemoveAttr removes attribute key from n.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.record(mutation.Record{
				Op:       mutation.OpAttrDel,
				XPath:    XPath(n),
				Tag:      n.Data,
				Name:     key,
				OldValue: a.Val,
				Target:   n,
			})
			return
		}
	}
}

// AddClass adds class c to n when missing.
func (d *Document) AddClass(n *html.Node, c string) {
	if HasClass(n, c) {
		return
	}
	d.SetAttr(n, "class", strings.TrimSpace(AttrOr(n, "class", "")+" "+c))
}

// RemoveClass removes class c from n. The attribute is dropped when it
// becomes empty.
func (d *Document) RemoveClass(n *html.Node, c string) {
	if !HasClass(n, c) {
		return
	}
	var keep []string
	for _, have := range Classes(n) {
		if have != c {
			keep = append(keep, have)
		}
	}
	if len(keep) == 0 {
		d.RemoveAttr(n, "class")
		return
	}
	d.SetAttr(n, "class", strings.Join(keep, " "))
}

// SetText replaces the data of a text node.
func (d *Document) SetText(n *html.Node, text string) {
	if n == nil || n.Type != html.TextNode || n.Data == text {
		return
	}
	old := n.Data
	n.Data = text
	d.record(mutation.Record{
		Op:       mutation.OpText,
		XPath:    XPath(n),
		Value:    text,
		OldValue: old,
		Target:   n.Parent,
	})
}

// ScrollTo sets the viewport's vertical scroll offset.
func (d *Document) ScrollTo(y float64) {
	if y < 0 {
		y = 0
	}
	d.scrollY = y
}

// ScrollY returns the viewport's vertical scroll offset.
func (d *Document) ScrollY() float64 { return d.scrollY }

func (d *Document) record(r mutation.Record) {
	if len(d.subs) == 0 {
		return
	}
	d.queue = append(d.queue, r)
}

// Subscribe registers fn for mutations inside root. attrs restricts
// attribute records to the named attributes (nil = all). The returned
// function cancels the subscription.
func (d *Document) Subscribe(root *html.Node, attrs []string, fn func(mutation.Batch)) (cancel func()) {
	s := &subscription{root: root, fn: fn}
	if attrs != nil {
		s.attrs = make(map[string]bool, len(attrs))
		for _, a := range attrs {
			s.attrs[a] = true
		}
	}
	id := d.nextSub
	d.nextSub++
	d.subs[id] = s
	return func() { delete(d.subs, id) }
}

// Pending returns the number of queued, undelivered records.
func (d *Document) Pending() int { return len(d.queue) }

// Deliver flushes the queue: each subscriber receives at most one batch
// holding the records that concern its subtree. Mutations made by the
// callbacks are queued for the next Deliver. Returns the number of
// batches delivered.
func (d *Document) Deliver() int {
	if len(d.queue) == 0 {
		return 0
	}
	records := d.queue
	d.queue = nil

	ids := make([]int, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	delivered := 0
	for _, id := range ids {
		s, ok := d.subs[id]
		if !ok {
			continue // cancelled by an earlier callback
		}
		var mine []mutation.Record
		for _, r := range records {
			if !s.wants(r) {
				continue
			}
			mine = append(mine, r)
		}
		if len(mine) == 0 {
			continue
		}
		d.seq++
		s.fn(mutation.Batch{
			ID:        idgen.New(),
			Seq:       d.seq,
			Records:   mine,
			Timestamp: time.Now().UnixMilli(),
		})
		delivered++
	}
	return delivered
}

func (s *subscription) wants(r mutation.Record) bool {
	if r.Target == nil || !Contains(s.root, r.Target) {
		return false
	}
	if (r.Op == mutation.OpAttr || r.Op == mutation.OpAttrDel) && s.attrs != nil {
		return s.attrs[r.Name]
	}
	return true
}

// Package identity assigns stable, fingerprint-derived tags to rendered
// elements and keeps a value-keyed registry of what each tag described.
package identity

import (
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
)

// Attr is the attribute carrying the identity tag.
const Attr = dom.IdentityAttr

const (
	tagPrefix      = "el-"
	tagLen         = 9 // base-36 digits kept from the hash
	ancestorLevels = 2
)

// Entry is what the registry remembers about a tag.
type Entry struct {
	Tag     string   `json:"tag"`
	TagName string   `json:"tag_name"`
	ID      string   `json:"id,omitempty"`
	Classes []string `json:"classes,omitempty"`
	XPath   string   `json:"xpath"`
}

// Registry maps identity tags to the metadata they were derived from.
// Identical siblings hash to the same tag; the first entry wins and the
// collision is counted.
type Registry struct {
	entries    map[string]Entry
	collisions int
	logger     *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[string]Entry), logger: logger}
}

// AssignOrReuse returns n's identity tag, computing and attaching one if
// the attribute is absent. An existing tag is read, never recomputed.
// Returns "" for nodes that are not elements.
func (r *Registry) AssignOrReuse(n *html.Node) string {
	if !dom.IsElement(n) {
		return ""
	}
	if tag, ok := dom.Attr(n, Attr); ok && tag != "" {
		if _, known := r.entries[tag]; !known {
			r.entries[tag] = entryFor(tag, n)
		}
		return tag
	}

	tag := Fingerprint(n)
	dom.SetAttrRaw(n, Attr, tag)
	if _, dup := r.entries[tag]; dup {
		r.collisions++
		r.logger.Debug("identity: fingerprint collision", "tag", tag, "xpath", dom.XPath(n))
		return tag
	}
	r.entries[tag] = entryFor(tag, n)
	return tag
}

// TagContainer tags every element descendant of root. Returns the number
// of elements visited.
func (r *Registry) TagContainer(root *html.Node) int {
	count := 0
	dom.Walk(root, func(n *html.Node) bool {
		if n == root {
			return true
		}
		if n.Type == html.ElementNode {
			r.AssignOrReuse(n)
			count++
		}
		return true
	})
	return count
}

// Lookup returns the entry recorded for tag.
func (r *Registry) Lookup(tag string) (Entry, bool) {
	e, ok := r.entries[tag]
	return e, ok
}

// Len returns the number of distinct tags known.
func (r *Registry) Len() int { return len(r.entries) }

// Collisions returns how many elements reused an already-registered tag
// at assignment time.
func (r *Registry) Collisions() int { return r.collisions }

// Reset forgets every entry. Called when the rendered tree is discarded.
func (r *Registry) Reset() {
	r.entries = make(map[string]Entry)
	r.collisions = 0
}

// Fingerprint derives the identity tag for n from its tag name, id, class
// list and up to two ancestor descriptors.
func Fingerprint(n *html.Node) string {
	parts := []string{descriptor(n)}
	p := n.Parent
	for i := 0; i < ancestorLevels && dom.IsElement(p); i++ {
		parts = append(parts, descriptor(p))
		p = p.Parent
	}

	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, "|")))
	sum := strconv.FormatUint(h.Sum64(), 36)
	if len(sum) > tagLen {
		sum = sum[:tagLen]
	}
	return tagPrefix + sum
}

func descriptor(n *html.Node) string {
	return n.Data + "#" + dom.AttrOr(n, "id", "") + "." + strings.Join(dom.UserClasses(n), ".")
}

func entryFor(tag string, n *html.Node) Entry {
	return Entry{
		Tag:     tag,
		TagName: n.Data,
		ID:      dom.AttrOr(n, "id", ""),
		Classes: dom.UserClasses(n),
		XPath:   dom.XPath(n),
	}
}

// Package extract captures immutable snapshots of rendered elements.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/layout"
	"github.com/hazyhaar/livepick/livepreview/internal/style"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// ErrInvalidElement is returned for nil, non-element or tag-less nodes.
var ErrInvalidElement = errors.New("extract: invalid element")

const (
	maxPathDepth   = 10
	maxExcerpt     = 100
	maxPathClasses = 3
)

// Config configures an Extractor.
type Config struct {
	// Root bounds structural paths; segments stop below it.
	Root     *html.Node
	Styles   *style.Engine
	Measurer layout.Measurer
	Logger   *slog.Logger
	// Now stamps CapturedAt. Default: time.Now.
	Now func() time.Time
}

// Extractor builds selection snapshots for one mounted tree.
type Extractor struct {
	cfg Config
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Styles == nil {
		cfg.Styles, _ = style.Parse("")
	}
	if cfg.Measurer == nil {
		cfg.Measurer = layout.NewEstimator(cfg.Root, cfg.Styles, layout.Viewport{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Extractor{cfg: cfg}
}

// Root returns the node structural paths are relative to.
func (e *Extractor) Root() *html.Node { return e.cfg.Root }

// Extract captures a snapshot of n. A geometry failure is logged and
// leaves the rect zeroed; it does not fail the extraction.
func (e *Extractor) Extract(ctx context.Context, n *html.Node) (*selection.Snapshot, error) {
	if !dom.IsElement(n) {
		return nil, ErrInvalidElement
	}

	snap := &selection.Snapshot{
		IdentityTag:    dom.AttrOr(n, dom.IdentityAttr, ""),
		TagName:        n.Data,
		ID:             dom.AttrOr(n, "id", ""),
		ClassName:      strings.Join(dom.UserClasses(n), " "),
		TextExcerpt:    excerpt(dom.Text(n)),
		ComputedStyle:  e.cfg.Styles.Compute(n),
		StructuralPath: Path(e.cfg.Root, n),
		Attributes:     attributes(n),
		Parent:         summary(n.Parent),
		CapturedAt:     e.cfg.Now(),
	}
	for _, c := range dom.ElementChildren(n) {
		snap.Children = append(snap.Children, *summary(c))
	}

	rect, err := e.cfg.Measurer.Measure(ctx, n)
	if err != nil {
		e.cfg.Logger.Debug("extract: measure failed", "tag", snap.IdentityTag, "error", err)
	} else {
		snap.BoundingRect = rect
	}
	return snap, nil
}

// Path builds the structural path of n, walking at most ten levels and
// stopping below root. Each segment is tag plus #id or up to three
// classes, with :nth-child(k) when an earlier sibling has the same
// segment.
func Path(root, n *html.Node) string {
	if !dom.IsElement(n) {
		return ""
	}
	var segs []string
	for cur := n; dom.IsElement(cur) && len(segs) < maxPathDepth; cur = cur.Parent {
		if cur == root && len(segs) > 0 {
			break
		}
		segs = append(segs, indexedSegment(cur))
		if cur == root {
			break
		}
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, " > ")
}

// Segment renders the tag/id/class part of one path segment.
func Segment(n *html.Node) string {
	var sb strings.Builder
	sb.WriteString(n.Data)
	if id, ok := dom.Attr(n, "id"); ok && id != "" {
		sb.WriteByte('#')
		sb.WriteString(id)
		return sb.String()
	}
	classes := dom.UserClasses(n)
	if len(classes) > maxPathClasses {
		classes = classes[:maxPathClasses]
	}
	for _, c := range classes {
		sb.WriteByte('.')
		sb.WriteString(c)
	}
	return sb.String()
}

func indexedSegment(n *html.Node) string {
	seg := Segment(n)
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if dom.IsElement(s) && Segment(s) == seg {
			return seg + ":nth-child(" + strconv.Itoa(dom.ElementIndex(n)) + ")"
		}
	}
	return seg
}

func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= maxExcerpt {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxExcerpt])
}

func attributes(n *html.Node) map[string]string {
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		switch a.Key {
		case dom.IdentityAttr, dom.SelectedAttr:
			continue
		case "class":
			if c := strings.Join(dom.UserClasses(n), " "); c != "" {
				out["class"] = c
			}
			continue
		}
		out[a.Key] = a.Val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func summary(n *html.Node) *selection.NodeSummary {
	if !dom.IsElement(n) {
		return nil
	}
	return &selection.NodeSummary{
		TagName:     n.Data,
		ID:          dom.AttrOr(n, "id", ""),
		ClassName:   strings.Join(dom.UserClasses(n), " "),
		IdentityTag: dom.AttrOr(n, dom.IdentityAttr, ""),
	}
}

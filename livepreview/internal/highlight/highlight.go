// Package highlight owns the visual selection marker and the event
// listeners the preview installs on its container.
package highlight

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/layout"
)

// markedQuery finds every node carrying a highlight marker.
var markedQuery = fmt.Sprintf(
	"//*[@%s or contains(concat(' ', normalize-space(@class), ' '), ' %s ')]",
	dom.SelectedAttr, dom.HighlightClass)

// Config configures a Layer.
type Config struct {
	Document *dom.Document
	// Measurer positions the viewport on the highlighted node. Nil
	// disables scrolling.
	Measurer layout.Measurer
	// Handlers resolves handlers attached to rendered nodes. Nil means
	// rendered nodes carry none.
	Handlers NodeHandlers
	Logger   *slog.Logger
}

// Layer highlights at most one node and routes synthetic events.
type Layer struct {
	cfg       Config
	current   *html.Node
	listeners map[listenerKey]listener
}

// New creates a Layer.
func New(cfg Config) *Layer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Layer{cfg: cfg, listeners: make(map[listenerKey]listener)}
}

// Current returns the highlighted node, or nil.
func (l *Layer) Current() *html.Node { return l.current }

// Highlight clears any existing highlight, marks n and scrolls the
// viewport to its top edge. Detached or non-element nodes only clear.
func (l *Layer) Highlight(ctx context.Context, n *html.Node) {
	l.RemoveAllHighlights()
	if !dom.IsElement(n) || !l.cfg.Document.Connected(n) {
		return
	}
	l.cfg.Document.AddClass(n, dom.HighlightClass)
	l.cfg.Document.SetAttr(n, dom.SelectedAttr, "true")
	l.current = n

	if l.cfg.Measurer == nil {
		return
	}
	r, err := l.cfg.Measurer.Measure(ctx, n)
	if err != nil {
		l.cfg.Logger.Debug("highlight: scroll skipped", "error", err)
		return
	}
	l.cfg.Document.ScrollTo(r.Top)
}

// RemoveAllHighlights strips the markers from every node in the
// document, not only the tracked one.
func (l *Layer) RemoveAllHighlights() int {
	l.current = nil
	nodes, err := htmlquery.QueryAll(l.cfg.Document.Root(), markedQuery)
	if err != nil {
		l.cfg.Logger.Error("highlight: query markers", "error", err)
		return 0
	}
	for _, n := range nodes {
		l.cfg.Document.RemoveClass(n, dom.HighlightClass)
		l.cfg.Document.RemoveAttr(n, dom.SelectedAttr)
	}
	return len(nodes)
}

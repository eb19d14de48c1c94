package observer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/internal/extract"
	"github.com/hazyhaar/livepick/livepreview/mutation"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// DefaultBackstopInterval is the period of the validation ticker that
// runs while a selection is observed.
const DefaultBackstopInterval = 3 * time.Second

// Change reports a validity transition of the current selection.
type Change struct {
	Type     selection.EventType // EventInvalidated or EventRecovered
	Node     *html.Node
	Snapshot *selection.Snapshot
}

// Config configures an Engine.
type Config struct {
	Source Source
	// Extractor returns the extractor for the current render.
	Extractor func() *extract.Extractor
	// BackstopInterval defaults to DefaultBackstopInterval.
	BackstopInterval time.Duration
	// Run executes fn as one task on the tree's owner. Default: direct call.
	Run func(fn func())
	// OnChange is called for every validity transition.
	OnChange func(Change)
	Logger   *slog.Logger
}

// Engine tracks one selection inside one observed container.
//
// Every method except Wait must be called from the tree owner's task;
// the backstop ticker enters through Config.Run.
type Engine struct {
	cfg Config

	container *html.Node
	disp      Disposable

	node  *html.Node
	snap  *selection.Snapshot
	valid bool
	// shared counts the elements carrying the selection's identity tag
	// when it was selected or last recovered.
	shared int

	stop   chan struct{}
	done   chan struct{}
	exited Exited
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.BackstopInterval <= 0 {
		cfg.BackstopInterval = DefaultBackstopInterval
	}
	if cfg.Run == nil {
		cfg.Run = func(fn func()) { fn() }
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(Change) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg}
}

// Observe starts watching container, replacing any previous observation.
func (e *Engine) Observe(container *html.Node) {
	e.StopObserving()
	e.container = container
	e.disp = e.cfg.Source.ObserveSubtree(container, e.onBatch)
	if e.snap != nil {
		e.startBackstop()
	}
}

// SetContainer sets the subtree Validate and FindByMetadata search
// without subscribing to its changes.
func (e *Engine) SetContainer(container *html.Node) {
	e.container = container
}

// StopObserving disconnects the source and stops the backstop ticker.
// The selection and the container are kept, so Validate still works on
// demand.
func (e *Engine) StopObserving() {
	if e.disp != nil {
		e.disp.Dispose()
		e.disp = nil
	}
	e.stopBackstop()
}

// Observing reports whether a container is watched.
func (e *Engine) Observing() bool { return e.disp != nil }

// Select makes (n, snap) the current, valid selection.
func (e *Engine) Select(n *html.Node, snap *selection.Snapshot) {
	e.node, e.snap, e.valid = n, snap, true
	e.shared = len(e.withTag(snap.IdentityTag))
	if e.disp != nil {
		e.startBackstop()
	}
}

// Clear drops the selection and stops the backstop ticker.
func (e *Engine) Clear() {
	e.node, e.snap, e.valid = nil, nil, false
	e.stopBackstop()
}

// Selection returns the current node, snapshot and validity flag.
func (e *Engine) Selection() (*html.Node, *selection.Snapshot, bool) {
	return e.node, e.snap, e.valid
}

// Stopped hands over the backstop goroutines stopped since the last
// call. Wait on the result outside whatever lock Config.Run takes.
func (e *Engine) Stopped() Exited {
	x := e.exited
	e.exited = nil
	return x
}

func (e *Engine) onBatch(b mutation.Batch) {
	if e.snap == nil {
		return
	}
	e.cfg.Logger.Debug("observer: batch", "seq", b.Seq, "records", len(b.Records))
	e.Validate(context.Background())
}

// Validate checks the selected node is still attached and still at its
// recorded structural path. On failure the selection turns invalid and
// recovery is attempted at once. Running it twice in a row yields the
// same flag.
func (e *Engine) Validate(ctx context.Context) bool {
	if e.snap == nil {
		return false
	}
	ex := e.extractor()
	reason := ""
	switch {
	case e.container == nil || !dom.Contains(e.container, e.node):
		reason = "detached"
	case ex != nil && extract.Path(ex.Root(), e.node) != e.snap.StructuralPath:
		reason = "moved"
	}
	if reason == "" {
		return e.valid
	}

	if e.valid {
		e.valid = false
		e.cfg.Logger.Debug("observer: selection invalidated",
			"tag", e.snap.IdentityTag, "reason", reason)
		e.cfg.OnChange(Change{Type: selection.EventInvalidated, Node: e.node, Snapshot: e.snap})
	}
	e.recover(ctx)
	return e.valid
}

// recover re-matches the selection. Failure is silent: the flag stays
// false and nothing is returned to the caller.
func (e *Engine) recover(ctx context.Context) {
	n, ok := e.FindByMetadata(e.snap)
	if !ok {
		e.cfg.Logger.Debug("observer: recovery found no match", "tag", e.snap.IdentityTag)
		return
	}
	ex := e.extractor()
	if ex == nil {
		return
	}
	snap, err := ex.Extract(ctx, n)
	if err != nil {
		e.cfg.Logger.Debug("observer: recovery extract failed", "error", err)
		return
	}
	e.node, e.snap, e.valid = n, snap, true
	e.shared = len(e.withTag(snap.IdentityTag))
	e.cfg.Logger.Debug("observer: selection recovered", "tag", snap.IdentityTag, "path", snap.StructuralPath)
	e.cfg.OnChange(Change{Type: selection.EventRecovered, Node: n, Snapshot: snap})
}

// FindByMetadata locates the element snap describes inside the observed
// container.
//
// An identity tag carried by one element at selection time is enough,
// preferring a candidate whose tag, id and class also agree. Identical
// siblings share a tag; for those the candidate must also sit at the
// recorded structural path, and the set of siblings must be intact, so
// losing one of them never moves the selection onto another. Without
// tagged candidates the structural path is queried, filtered on tag, id
// and class.
func (e *Engine) FindByMetadata(snap *selection.Snapshot) (*html.Node, bool) {
	if snap == nil || e.container == nil {
		return nil, false
	}

	cands := e.withTag(snap.IdentityTag)
	if e.shared > 1 && len(cands) > 0 {
		if len(cands) != e.shared {
			return nil, false
		}
		root := e.container
		if ex := e.extractor(); ex != nil {
			root = ex.Root()
		}
		for _, c := range cands {
			if agrees(c, snap) && extract.Path(root, c) == snap.StructuralPath {
				return c, true
			}
		}
		return nil, false
	}
	for _, c := range cands {
		if agrees(c, snap) {
			return c, true
		}
	}
	if len(cands) > 0 {
		return cands[0], true
	}

	if snap.StructuralPath == "" {
		return nil, false
	}
	sel, err := cascadia.Parse(snap.StructuralPath)
	if err != nil {
		e.cfg.Logger.Debug("observer: path selector", "path", snap.StructuralPath, "error", err)
		return nil, false
	}
	for _, c := range cascadia.QueryAll(e.container, sel) {
		if agrees(c, snap) {
			return c, true
		}
	}
	return nil, false
}

// withTag returns the elements under the container carrying tag.
func (e *Engine) withTag(tag string) []*html.Node {
	if tag == "" || e.container == nil {
		return nil
	}
	expr := fmt.Sprintf(".//*[@%s='%s']", dom.IdentityAttr, tag)
	cands, err := htmlquery.QueryAll(e.container, expr)
	if err != nil {
		e.cfg.Logger.Debug("observer: identity query", "error", err)
	}
	return cands
}

func agrees(n *html.Node, snap *selection.Snapshot) bool {
	return n.Data == snap.TagName &&
		dom.AttrOr(n, "id", "") == snap.ID &&
		strings.Join(dom.UserClasses(n), " ") == snap.ClassName
}

func (e *Engine) extractor() *extract.Extractor {
	if e.cfg.Extractor == nil {
		return nil
	}
	return e.cfg.Extractor()
}

func (e *Engine) startBackstop() {
	if e.stop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	e.stop, e.done = stop, done
	interval := e.cfg.BackstopInterval

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.cfg.Run(func() {
					select {
					case <-stop:
						return
					default:
					}
					e.Validate(context.Background())
				})
			}
		}
	}()
}

func (e *Engine) stopBackstop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	e.exited = append(e.exited, e.done)
	e.stop, e.done = nil, nil
}

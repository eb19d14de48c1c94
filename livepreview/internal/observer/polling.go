package observer

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/mutation"
)

// PollingSource re-samples a structural fingerprint of the subtree on an
// interval and reports a doc_reset batch whenever it changes. It serves
// hosts that cannot deliver mutation events.
type PollingSource struct {
	// Interval between samples. Default: 500ms.
	Interval time.Duration
	// Run executes fn as one task on the tree's owner. Default: direct call.
	Run    func(fn func())
	Logger *slog.Logger

	mu     sync.Mutex
	exited Exited
}

// ObserveSubtree starts sampling root. The first sample is taken
// synchronously so only later changes are reported.
func (p *PollingSource) ObserveSubtree(root *html.Node, cb func(mutation.Batch)) Disposable {
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	run := p.Run
	if run == nil {
		run = func(fn func()) { fn() }
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	last := Fingerprint(root)
	var seq uint64
	stop, done := make(chan struct{}), make(chan struct{})
	var once sync.Once

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				run(func() {
					select {
					case <-stop:
						return
					default:
					}
					fp := Fingerprint(root)
					if fp == last {
						return
					}
					last = fp
					seq++
					logger.Debug("observer: structure changed", "fingerprint", fp)
					cb(mutation.Batch{
						ID:        idgen.New(),
						Seq:       seq,
						Records:   []mutation.Record{{Op: mutation.OpDocReset, XPath: dom.XPath(root), Target: root}},
						Timestamp: time.Now().UnixMilli(),
					})
				})
			}
		}
	}()

	return DisposeFunc(func() {
		once.Do(func() {
			close(stop)
			p.mu.Lock()
			p.exited = append(p.exited, done)
			p.mu.Unlock()
		})
	})
}

// Stopped hands over the sampling goroutines disposed since the last
// call. Wait on the result outside any lock Run takes.
func (p *PollingSource) Stopped() Exited {
	p.mu.Lock()
	defer p.mu.Unlock()
	x := p.exited
	p.exited = nil
	return x
}

// Fingerprint hashes the element skeleton of root: depth, tag, id and
// user classes, ignoring text and runtime markers.
func Fingerprint(root *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if dom.IsElement(n) {
			fmt.Fprintf(&b, "%d:%s", depth, n.Data)
			if id, ok := dom.Attr(n, "id"); ok {
				b.WriteString("#" + id)
			}
			for _, c := range dom.UserClasses(n) {
				b.WriteString("." + c)
			}
			b.WriteByte(';')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	if root != nil {
		walk(root, 0)
	}
	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h[:16])
}

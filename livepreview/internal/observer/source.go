// Package observer watches the mounted preview for structural change,
// keeps the current selection's validity flag honest and re-matches the
// selection after regeneration.
package observer

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
	"github.com/hazyhaar/livepick/livepreview/mutation"
)

// WatchedAttrs are the attribute changes that can move or rename a
// selected node.
var WatchedAttrs = []string{"class", "id", "style", dom.IdentityAttr}

// Disposable releases an observation.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a func to Disposable.
type DisposeFunc func()

// Dispose calls f.
func (f DisposeFunc) Dispose() { f() }

// Exited holds the done channels of goroutines that were told to stop.
type Exited []<-chan struct{}

// Wait blocks until every goroutine in x has returned.
func (x Exited) Wait() {
	for _, done := range x {
		<-done
	}
}

// Source delivers batched change notifications for a subtree. Callbacks
// run on the caller's task; a Source never invokes cb concurrently with
// other work on the tree.
type Source interface {
	ObserveSubtree(root *html.Node, cb func(mutation.Batch)) Disposable
}

// DocumentSource observes through the document's own mutation queue.
// Batches arrive once per task from Document.Deliver.
type DocumentSource struct {
	Doc *dom.Document
}

// ObserveSubtree subscribes to child-list and watched attribute changes
// under root. Batches that only touch text are dropped; consecutive
// attribute records are compressed.
func (s DocumentSource) ObserveSubtree(root *html.Node, cb func(mutation.Batch)) Disposable {
	cancel := s.Doc.Subscribe(root, WatchedAttrs, func(b mutation.Batch) {
		b.Records = compress(b.Records)
		if textOnly(b.Records) {
			return
		}
		cb(b)
	})
	return DisposeFunc(cancel)
}

func textOnly(records []mutation.Record) bool {
	for _, r := range records {
		if r.Op != mutation.OpText {
			return false
		}
	}
	return true
}

// compress folds runs of records that supersede each other:
// - consecutive attr on same (xpath, name) → keep last, old_value from first
// - consecutive text on same xpath → keep last
// - insert/remove/attr_del/doc_reset are kept as-is
func compress(records []mutation.Record) []mutation.Record {
	if len(records) <= 1 {
		return records
	}

	result := make([]mutation.Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]

		switch rec.Op {
		case mutation.OpAttr, mutation.OpText:
			firstOld := rec.OldValue
			j := i + 1
			for j < len(records) &&
				records[j].Op == rec.Op &&
				records[j].XPath == rec.XPath &&
				records[j].Name == rec.Name {
				rec = records[j]
				j++
			}
			rec.OldValue = firstOld
			result = append(result, rec)
			i = j - 1

		default:
			result = append(result, rec)
		}
	}
	return result
}

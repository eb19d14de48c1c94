// Package mutation defines the change records emitted by the preview
// document. Observers receive them in batches, one batch per task.
package mutation

import (
	"encoding/json"

	"golang.org/x/net/html"
)

// Op is the type of tree mutation observed.
type Op string

const (
	OpInsert   Op = "insert"    // child node inserted
	OpRemove   Op = "remove"    // child node removed
	OpText     Op = "text"      // character data modified
	OpAttr     Op = "attr"      // attribute set
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpDocReset Op = "doc_reset" // whole subtree replaced or resampled
)

// Record is a single tree mutation.
type Record struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value
	OldValue string `json:"old_value,omitempty"` // previous value

	// Target is the node whose child list or attributes changed. For
	// insert/remove it is the parent. Never serialised.
	Target *html.Node `json:"-"`
}

// Structural reports whether the record changes the shape of the tree.
func (r Record) Structural() bool {
	switch r.Op {
	case OpInsert, OpRemove, OpDocReset:
		return true
	}
	return false
}

// Batch is the unit delivered to an observer callback: every record
// queued during one task.
type Batch struct {
	ID        string   `json:"id"`
	Seq       uint64   `json:"seq"` // monotonically increasing per document
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds at delivery
}

// Structural reports whether any record in the batch is structural.
func (b Batch) Structural() bool {
	for _, r := range b.Records {
		if r.Structural() {
			return true
		}
	}
	return false
}

// MarshalBatch serialises a Batch to JSON.
func MarshalBatch(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBatch deserialises a Batch from JSON.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Package selection defines the public description of a picked element.
// A Snapshot is immutable once captured; re-selection produces a new one.
package selection

import "time"

// Rect is an element's border box in document coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// NewRect fills the derived edges from origin and size.
func NewRect(x, y, w, h float64) Rect {
	return Rect{X: x, Y: y, Width: w, Height: h, Top: y, Left: x, Right: x + w, Bottom: y + h}
}

// NodeSummary identifies an immediate relative of the selected element.
type NodeSummary struct {
	TagName     string `json:"tag_name"`
	ID          string `json:"id,omitempty"`
	ClassName   string `json:"class_name,omitempty"`
	IdentityTag string `json:"identity_tag,omitempty"`
}

// Snapshot is the captured description of a picked element.
type Snapshot struct {
	IdentityTag    string            `json:"identity_tag"`
	TagName        string            `json:"tag_name"`
	ID             string            `json:"id,omitempty"`
	ClassName      string            `json:"class_name,omitempty"`
	TextExcerpt    string            `json:"text_excerpt,omitempty"`
	ComputedStyle  map[string]string `json:"computed_style"`
	BoundingRect   Rect              `json:"bounding_rect"`
	StructuralPath string            `json:"structural_path"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Children       []NodeSummary     `json:"children,omitempty"`
	Parent         *NodeSummary      `json:"parent,omitempty"`
	CapturedAt     time.Time         `json:"captured_at"`
}

// Clone returns a deep copy, so callers can hand snapshots out without
// sharing maps or slices.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.ComputedStyle = cloneMap(s.ComputedStyle)
	c.Attributes = cloneMap(s.Attributes)
	if s.Children != nil {
		c.Children = append([]NodeSummary(nil), s.Children...)
	}
	if s.Parent != nil {
		p := *s.Parent
		c.Parent = &p
	}
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EventType names a selection lifecycle transition.
type EventType string

const (
	EventPicked      EventType = "picked"
	EventRecovered   EventType = "recovered"
	EventInvalidated EventType = "invalidated"
	EventCleared     EventType = "cleared"
)

// Event is emitted to sinks whenever the selection or its validity changes.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Valid     bool      `json:"valid"`
	At        time.Time `json:"at"`
}

// Render reports the outcome of one render of a source document.
type Render struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Component   string    `json:"component,omitempty"`
	Elements    int       `json:"elements"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	At          time.Time `json:"at"`
}

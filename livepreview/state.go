package livepreview

import (
	"errors"

	"github.com/hazyhaar/livepick/livepreview/internal/diag"
	"github.com/hazyhaar/livepick/livepreview/internal/sandbox"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// Sentinel errors returned by Session operations.
var (
	ErrClosed          = errors.New("livepreview: session closed")
	ErrNotEditing      = errors.New("livepreview: edit mode is off")
	ErrNotFound        = errors.New("livepreview: no such element")
	ErrNoSelection     = errors.New("livepreview: nothing selected")
	ErrNotRendered     = errors.New("livepreview: nothing rendered")
	ErrInvalidSelector = errors.New("livepreview: invalid selector")
)

// SourceDocument is one generation result: component source and the
// stylesheet that goes with it.
type SourceDocument struct {
	RawCode    string `json:"raw_code"`
	Stylesheet string `json:"stylesheet,omitempty"`
}

// Status is the renderer lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusCompiling Status = "compiling"
	StatusRendered  Status = "rendered"
	StatusErrored   Status = "errored"
)

func statusOf(s sandbox.State) Status {
	switch s {
	case sandbox.StateCompiling:
		return StatusCompiling
	case sandbox.StateRendered:
		return StatusRendered
	case sandbox.StateErrored:
		return StatusErrored
	}
	return StatusIdle
}

// Diagnostic is the wire form of a compile or runtime error.
type Diagnostic struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Stage == string(diag.StageRuntime) {
		return (&diag.RuntimeError{Message: d.Message, Component: d.Component, Line: d.Line, Column: d.Column}).Error()
	}
	return (&diag.CompileError{Stage: diag.Stage(d.Stage), Message: d.Message, Line: d.Line, Column: d.Column}).Error()
}

func diagnostics(errs []error) []Diagnostic {
	if len(errs) == 0 {
		return nil
	}
	out := make([]Diagnostic, 0, len(errs))
	for _, err := range errs {
		var (
			ce *diag.CompileError
			re *diag.RuntimeError
		)
		switch {
		case errors.As(err, &ce):
			out = append(out, Diagnostic{Stage: string(ce.Stage), Message: ce.Message, Line: ce.Line, Column: ce.Column})
		case errors.As(err, &re):
			out = append(out, Diagnostic{Stage: string(diag.StageRuntime), Message: re.Message, Component: re.Component, Line: re.Line, Column: re.Column})
		default:
			out = append(out, Diagnostic{Stage: string(diag.StageRuntime), Message: err.Error()})
		}
	}
	return out
}

// RenderResult reports what one Render produced.
type RenderResult struct {
	Status         Status       `json:"status"`
	Component      string       `json:"component,omitempty"`
	RenderAppended bool         `json:"render_appended"`
	Elements       int          `json:"elements"`
	Diagnostics    []Diagnostic `json:"diagnostics,omitempty"`
}

// DispatchResult reports the outcome of a synthetic event.
type DispatchResult struct {
	DefaultPrevented bool `json:"default_prevented"`
	Rerendered       bool `json:"rerendered"`
}

// State is a point-in-time view of the session, safe to hand out.
type State struct {
	SessionID   string              `json:"session_id"`
	EditMode    bool                `json:"edit_mode"`
	Selection   *selection.Snapshot `json:"selection,omitempty"`
	Valid       bool                `json:"valid"`
	Status      Status              `json:"status"`
	Component   string              `json:"component,omitempty"`
	Diagnostics []Diagnostic        `json:"diagnostics,omitempty"`
	ScrollY     float64             `json:"scroll_y"`
}

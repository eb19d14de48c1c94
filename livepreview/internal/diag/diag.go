// Package diag holds the diagnostics the preview shows inline when
// generated code fails to compile or run.
package diag

import "fmt"

// Stage names where a diagnostic was raised.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageCompile   Stage = "compile"
	StageRuntime   Stage = "runtime"
)

// CompileError is a failure before any code ran: normalization or
// transpilation. Line and Column are 1-based; 0 means unknown.
type CompileError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (e *CompileError) Error() string {
	return format(e.Stage, e.Message, e.Line, e.Column, "")
}

// RuntimeError is a failure while evaluating or mounting. Component
// names the boundary that caught it, when known.
type RuntimeError struct {
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

func (e *RuntimeError) Error() string {
	return format(StageRuntime, e.Message, e.Line, e.Column, e.Component)
}

func format(stage Stage, msg string, line, col int, component string) string {
	s := string(stage) + " error"
	if component != "" {
		s += " in <" + component + ">"
	}
	if line > 0 {
		s += fmt.Sprintf(" at %d:%d", line, col)
	}
	return s + ": " + msg
}

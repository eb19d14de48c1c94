package sink

import (
	"context"

	"github.com/hazyhaar/livepick/livepreview/selection"
)

// EventFunc is called for each selection event.
type EventFunc func(ctx context.Context, ev selection.Event) error

// RenderFunc is called for each render report.
type RenderFunc func(ctx context.Context, r selection.Render) error

// Callback delivers events via Go function calls, for collaborators
// living in the same binary (the edit-request client, tests).
type Callback struct {
	onEvent  EventFunc
	onRender RenderFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onEvent EventFunc, onRender RenderFunc) *Callback {
	return &Callback{onEvent: onEvent, onRender: onRender}
}

func (c *Callback) Send(ctx context.Context, ev selection.Event) error {
	if c.onEvent != nil {
		return c.onEvent(ctx, ev)
	}
	return nil
}

func (c *Callback) SendRender(ctx context.Context, r selection.Render) error {
	if c.onRender != nil {
		return c.onRender(ctx, r)
	}
	return nil
}

func (c *Callback) Close() error { return nil }

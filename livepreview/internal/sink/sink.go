// Package sink defines output backends for selection events and render
// reports.
package sink

import (
	"context"

	"github.com/hazyhaar/livepick/livepreview/selection"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, in-process callback, journal).
type Sink interface {
	Send(ctx context.Context, ev selection.Event) error
	SendRender(ctx context.Context, r selection.Render) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

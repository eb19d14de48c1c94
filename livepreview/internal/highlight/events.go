package highlight

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/livepick/livepreview/internal/dom"
)

// Event is a synthetic DOM event routed through Dispatch.
type Event struct {
	Type          string
	Target        *html.Node
	CurrentTarget *html.Node

	defaultPrevented bool
	stopped          bool
}

// PreventDefault marks the event's default action as cancelled.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation stops the event after the current handler.
func (e *Event) StopPropagation() { e.stopped = true }

// Stopped reports whether propagation was stopped.
func (e *Event) Stopped() bool { return e.stopped }

// Handler reacts to an event.
type Handler func(ev *Event)

// NodeHandlers resolves the handler a rendered node declared for an
// event type (onClick and friends).
type NodeHandlers interface {
	Handler(n *html.Node, eventType string) (Handler, bool)
}

// ListenerOptions control when a container listener runs.
type ListenerOptions struct {
	// Capture runs the listener before node handlers.
	Capture bool
}

type listenerKey struct {
	container *html.Node
	eventType string
}

type listener struct {
	fn   Handler
	opts ListenerOptions
}

// AddEventListener installs fn on container for eventType, replacing
// any listener previously installed for the same pair.
func (l *Layer) AddEventListener(container *html.Node, eventType string, fn Handler, opts ListenerOptions) {
	l.listeners[listenerKey{container, eventType}] = listener{fn: fn, opts: opts}
}

// RemoveEventListener removes the listener for (container, eventType).
func (l *Layer) RemoveEventListener(container *html.Node, eventType string) {
	delete(l.listeners, listenerKey{container, eventType})
}

// RemoveAllEventListeners drops every container listener.
func (l *Layer) RemoveAllEventListeners() {
	clear(l.listeners)
}

// Listeners returns the number of installed listeners.
func (l *Layer) Listeners() int { return len(l.listeners) }

// Dispatch routes an event of eventType from target up to container:
// capture listeners on the container first, then node handlers from
// target upward, then bubbling container listeners. The returned event
// reports whether the default was prevented. Panicking handlers are
// logged and treated as returning normally.
func (l *Layer) Dispatch(container, target *html.Node, eventType string) *Event {
	ev := &Event{Type: eventType, Target: target}
	if !dom.IsElement(target) || !dom.Contains(container, target) {
		return ev
	}
	lis, hasListener := l.listeners[listenerKey{container, eventType}]

	if hasListener && lis.opts.Capture {
		l.invoke(lis.fn, ev, container)
		if ev.stopped {
			return ev
		}
	}

	if l.cfg.Handlers != nil {
		for n := target; n != nil; n = n.Parent {
			if h, ok := l.cfg.Handlers.Handler(n, eventType); ok {
				l.invoke(h, ev, n)
				if ev.stopped {
					return ev
				}
			}
			if n == container {
				break
			}
		}
	}

	if hasListener && !lis.opts.Capture {
		l.invoke(lis.fn, ev, container)
	}
	return ev
}

func (l *Layer) invoke(fn Handler, ev *Event, current *html.Node) {
	defer func() {
		if r := recover(); r != nil {
			l.cfg.Logger.Error("highlight: handler panicked",
				"event", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	ev.CurrentTarget = current
	fn(ev)
}

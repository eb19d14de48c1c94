package observability

import (
	"context"

	"github.com/hazyhaar/livepick/livepreview/selection"
)

// SelectionMetrics turns selection events and render reports into
// metrics. It implements the livepreview Sink interface; closing it
// flushes and stops the MetricsManager.
type SelectionMetrics struct {
	mm *MetricsManager
}

// NewSelectionMetrics wraps mm.
func NewSelectionMetrics(mm *MetricsManager) *SelectionMetrics {
	return &SelectionMetrics{mm: mm}
}

func (s *SelectionMetrics) Send(_ context.Context, ev selection.Event) error {
	s.mm.Record(&Metric{
		Name:      MetricSelectionEvents,
		Timestamp: ev.At,
		Value:     1,
		Unit:      "count",
		Labels:    map[string]string{"type": string(ev.Type), "session": ev.SessionID},
	})
	return nil
}

func (s *SelectionMetrics) SendRender(_ context.Context, r selection.Render) error {
	labels := map[string]string{"status": r.Status, "session": r.SessionID}
	if r.Component != "" {
		labels["component"] = r.Component
	}
	s.mm.Record(&Metric{Name: MetricRenderDurationMs, Timestamp: r.At, Value: float64(r.DurationMs), Unit: "milliseconds", Labels: labels})
	s.mm.Record(&Metric{Name: MetricRenderElements, Timestamp: r.At, Value: float64(r.Elements), Unit: "count", Labels: labels})
	s.mm.Record(&Metric{Name: MetricRenderDiagnostics, Timestamp: r.At, Value: float64(len(r.Diagnostics)), Unit: "count", Labels: labels})
	return nil
}

func (s *SelectionMetrics) Close() error {
	return s.mm.Close()
}

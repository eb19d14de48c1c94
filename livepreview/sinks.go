package livepreview

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/livepick/dbopen"
	"github.com/hazyhaar/livepick/livepreview/internal/journal"
	"github.com/hazyhaar/livepick/livepreview/internal/sink"
	"github.com/hazyhaar/livepick/livepreview/selection"
	"github.com/hazyhaar/livepick/observability"
)

// Sink is the output interface for selection events and render reports.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
	if retries > 0 {
		opts = append(opts, sink.WithWebhookRetries(retries))
	}
	return sink.NewWebhook(url, opts...)
}

// NewCallbackSink creates an in-process callback sink. Either func may
// be nil.
func NewCallbackSink(
	onEvent func(ctx context.Context, ev selection.Event) error,
	onRender func(ctx context.Context, r selection.Render) error,
) Sink {
	return sink.NewCallback(onEvent, onRender)
}

// SinksFromConfig builds the stdout and webhook sinks described by cfg.
// Callback sinks need code and are skipped; pass them to New. The
// journal is opened by Open.
func SinksFromConfig(cfg *Config, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(stdout))
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, sc.Retries, logger))
		case "callback":
		default:
			return nil, fmt.Errorf("livepreview: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}

// Open creates a Session with every sink cfg describes, followed by
// extra. When cfg.Journal.Path is set the selection journal is opened,
// along with the metrics and audit tables it enables. The caller must
// blank-import the modernc.org/sqlite driver.
func Open(cfg *Config, logger *slog.Logger, stdout io.Writer, extra ...Sink) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	sinks, err := SinksFromConfig(cfg, stdout, logger)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, extra...)

	if cfg.Journal.Path == "" {
		return New(cfg, logger, sinks...), nil
	}

	var opts []dbopen.Option
	if cfg.Journal.Metrics || cfg.Journal.Audit {
		opts = append(opts, dbopen.WithSchema(observability.Schema))
	}
	j, err := journal.Open(cfg.Journal.Path, opts...)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return nil, fmt.Errorf("livepreview: journal: %w", err)
	}

	// The router closes sinks in order: metrics flush before the
	// journal closes the shared database.
	if cfg.Journal.Metrics {
		mm := observability.NewMetricsManager(j.DB, 0, 0, logger)
		sinks = append(sinks, observability.NewSelectionMetrics(mm))
	}
	sinks = append(sinks, j)

	s := New(cfg, logger, sinks...)
	if cfg.Journal.Audit {
		s.audit = observability.NewAuditLogger(j.DB, 0, logger)
	}
	return s, nil
}

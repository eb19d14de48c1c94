package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/livepick/livepreview/selection"
)

// Webhook POSTs one delivery per selection event or render report.
//
// Selection events are retried with exponential backoff. Render reports
// are superseded by the next render, so they get a single attempt unless
// WithWebhookRenderRetries says otherwise. A 4xx answer other than 408
// and 429 is final for both.
type Webhook struct {
	url           string
	client        *http.Client
	maxRetries    int
	renderRetries int
	backoff       time.Duration
	logger        *slog.Logger
}

// delivery is the body of every webhook POST.
type delivery struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data"`
}

// Headers set on every delivery so receivers can route without parsing.
const (
	HeaderEvent   = "X-Livepick-Event"
	HeaderSession = "X-Livepick-Session"
	HeaderID      = "Idempotency-Key"
)

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries for selection
// events. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookRenderRetries sets the maximum number of retries for render
// reports. Default: 0.
func WithWebhookRenderRetries(n int) WebhookOption {
	return func(w *Webhook) { w.renderRetries = n }
}

// WithWebhookBackoff sets the first retry delay; it doubles on each
// attempt. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting the given URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, ev selection.Event) error {
	return w.post(ctx, w.maxRetries, delivery{
		Kind:      string(ev.Type),
		ID:        ev.ID,
		SessionID: ev.SessionID,
		At:        ev.At,
		Data:      ev,
	})
}

func (w *Webhook) SendRender(ctx context.Context, r selection.Render) error {
	return w.post(ctx, w.renderRetries, delivery{
		Kind:      "render",
		ID:        r.ID,
		SessionID: r.SessionID,
		At:        r.At,
		Data:      r,
	})
}

func (w *Webhook) Close() error { return nil }

// errPermanent marks an answer that a retry cannot change.
var errPermanent = errors.New("webhook: rejected")

func (w *Webhook) post(ctx context.Context, retries int, d delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := w.backoff << uint(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = w.attempt(ctx, body, d)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) {
			return lastErr
		}
		w.logger.Warn("webhook: delivery failed",
			"kind", d.Kind, "session_id", d.SessionID, "attempt", attempt+1, "error", lastErr)
	}
	if retries == 0 {
		return lastErr
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

func (w *Webhook) attempt(ctx context.Context, body []byte, d delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: new request: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, d.Kind)
	if d.SessionID != "" {
		req.Header.Set(HeaderSession, d.SessionID)
	}
	if d.ID != "" {
		req.Header.Set(HeaderID, d.ID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("webhook: status %d", code)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, code)
	}
}

// Package notify delivers operator notifications. Delivery is best-effort
// by contract: callers go through BestEffort, which logs failures and never
// propagates them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Iram04hack/network-management-system-sub002/errors"
)

// Urgency grades a notification.
type Urgency string

// Urgency levels
const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Sink delivers one notification.
type Sink interface {
	Notify(ctx context.Context, title, message string, urgency Urgency) error
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(context.Context, string, string, Urgency) error { return nil }

// Webhook posts notifications as JSON to an HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// NewWebhook creates a webhook sink.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Webhook", "NewWebhook", "url cannot be empty")
	}

	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Notify posts the notification.
func (w *Webhook) Notify(ctx context.Context, title, message string, urgency Urgency) error {
	body, err := json.Marshal(map[string]any{
		"title":     title,
		"message":   message,
		"urgency":   urgency,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return errors.WrapInvalid(err, "Webhook", "Notify", "encode notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "Webhook", "Notify", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Webhook", "Notify", "post notification")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.WrapTransient(
			fmt.Errorf("webhook returned status %d", resp.StatusCode),
			"Webhook", "Notify", "post notification")
	}
	return nil
}

// BestEffort wraps a sink so failures are logged and swallowed, never
// surfaced to callers.
type BestEffort struct {
	sink   Sink
	logger *slog.Logger
}

// NewBestEffort wraps sink. A nil sink becomes a Nop.
func NewBestEffort(sink Sink, logger *slog.Logger) *BestEffort {
	if sink == nil {
		sink = Nop{}
	}
	return &BestEffort{sink: sink, logger: logger}
}

// Notify delivers and always returns nil.
func (b *BestEffort) Notify(ctx context.Context, title, message string, urgency Urgency) error {
	if err := b.sink.Notify(ctx, title, message, urgency); err != nil {
		b.logger.Warn("notification delivery failed",
			"title", title,
			"urgency", string(urgency),
			"error", err)
	}
	return nil
}

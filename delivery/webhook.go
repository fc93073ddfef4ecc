package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"telegram-keyword-notifier/pkg/notifier"
)

// WebhookTimeout bounds a single webhook request.
const WebhookTimeout = 10 * time.Second

// StatusError indicates the webhook answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsStatusError checks if an error is a non-2xx webhook response.
func IsStatusError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}

// WebhookProvider posts payloads as JSON to an HTTP endpoint (a Make.com
// scenario in the usual deployment).
type WebhookProvider struct {
	client *http.Client
	logger *slog.Logger
	url    string
}

// NewWebhookProvider creates a new webhook provider.
func NewWebhookProvider(url string, logger *slog.Logger) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: WebhookTimeout},
		logger: logger,
	}
}

// Name implements Provider.
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// Deliver posts the payload once. Any 2xx response is success.
func (w *WebhookProvider) Deliver(ctx context.Context, p notifier.Payload) error {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	w.logger.Debug("Webhook request starting",
		"method", "POST",
		"channel", p.Channel,
		"message_id", p.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			w.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: w.url, StatusCode: resp.StatusCode}
	}
	return nil
}

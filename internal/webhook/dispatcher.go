// Package webhook delivers library events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/harmonia-music/harmonia/internal/config"
	"github.com/harmonia-music/harmonia/internal/event"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher posts matching events to the configured webhook endpoints.
// Register HandleEvent on the bus with SubscribeAll.
type Dispatcher struct {
	hooks      []config.WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a webhook dispatcher over the configured endpoints.
func NewDispatcher(hooks []config.WebhookConfig, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(hooks, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(hooks []config.WebhookConfig, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		hooks:      hooks,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "webhook")),
	}
}

// HandleEvent is an event.Handler that delivers the event to every endpoint
// subscribed to its type. Deliveries run in their own goroutines so a slow
// endpoint never backs up bus dispatch.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.hooks {
		h := d.hooks[i]
		if !wants(h, e.Type) {
			continue
		}
		go d.deliver(h, e)
	}
}

func wants(h config.WebhookConfig, t event.Type) bool {
	if len(h.Events) == 0 {
		return true
	}
	for _, name := range h.Events {
		if name == string(t) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliver(h config.WebhookConfig, e event.Event) {
	body, err := json.Marshal(map[string]any{
		"event":     string(e.Type),
		"uri":       e.URI,
		"timestamp": e.Timestamp,
		"data":      e.Data,
	})
	if err != nil {
		d.logger.Error("encoding webhook payload", "webhook", h.Name, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}

		lastErr = d.send(h.URL, body)
		if lastErr == nil {
			d.logger.Debug("webhook delivered",
				"webhook", h.Name,
				"event", string(e.Type),
				"attempt", attempt+1,
			)
			return
		}

		d.logger.Warn("webhook delivery failed",
			"webhook", h.Name,
			"event", string(e.Type),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	d.logger.Error("webhook delivery exhausted retries",
		"webhook", h.Name,
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (d *Dispatcher) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

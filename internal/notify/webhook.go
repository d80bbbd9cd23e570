// Package notify provides concrete dispatch.Sink implementations: a
// generic JSON webhook notifier and an MQTT event notifier (spec §4.7's
// dispatched events; grounded on the teacher's publisher.MQTTPublisher
// connection idiom).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sweeney/ups-guardian/internal/dispatch"
)

// WebhookNotifier posts a JSON payload to one or more configured URLs.
type WebhookNotifier struct {
	urls   []string
	title  string
	client *http.Client
}

// webhookPayload is the JSON body posted to each configured URL.
type webhookPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp int64  `json:"timestamp"`
}

// NewWebhookNotifier creates a notifier posting to urls with a shared
// per-request timeout.
func NewWebhookNotifier(urls []string, title string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		urls:  urls,
		title: title,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify posts n to every configured URL. The first failure is returned;
// delivery to remaining URLs is still attempted (a single bad endpoint
// should not suppress notifications to the others).
func (w *WebhookNotifier) Notify(ctx context.Context, n dispatch.Notification) error {
	if len(w.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Title:     w.title,
		Message:   n.Message,
		Severity:  string(n.Severity),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	var firstErr error
	for _, url := range w.urls {
		if err := w.post(ctx, url, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request for %q: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook to %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %q returned status %d", url, resp.StatusCode)
	}
	return nil
}

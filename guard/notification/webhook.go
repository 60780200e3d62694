package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// SlackSink posts notifications to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
	guardName  string
	client     *http.Client
}

// NewSlackSink creates a Slack sink. guardName prefixes every message.
func NewSlackSink(webhookURL, guardName string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		guardName:  guardName,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, n Notification) error {
	emoji := ":information_source:"
	switch n.Severity {
	case SeverityWarning:
		emoji = ":warning:"
	case SeverityError:
		emoji = ":x:"
	case SeverityCritical:
		emoji = ":rotating_light:"
	}
	text := fmt.Sprintf("%s *[%s]* %s: %s\n%s", emoji, n.Severity, s.guardName, n.Title, n.Message)
	return postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": text})
}

// WebhookSink posts notifications as JSON to a generic endpoint.
type WebhookSink struct {
	url       string
	guardName string
	client    *http.Client
}

// NewWebhookSink creates a generic webhook sink.
func NewWebhookSink(url, guardName string) *WebhookSink {
	return &WebhookSink{
		url:       url,
		guardName: guardName,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, n Notification) error {
	return postJSON(ctx, w.client, w.url, map[string]any{
		"guard":    w.guardName,
		"severity": string(n.Severity),
		"title":    n.Title,
		"message":  n.Message,
		"time":     n.Time.Format(time.RFC3339),
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal notification payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

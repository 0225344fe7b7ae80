package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Notifier delivers admin alerts for raid transitions and critical
// enforcement actions.
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// WebhookNotifier posts alerts to a chat-workspace "incoming webhook".
// The webhook must already be configured on the receiving side.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

type webhookBody struct {
	Text string `json:"text"`
}

func (n *WebhookNotifier) Send(ctx context.Context, msg string) error {
	body, err := json.Marshal(webhookBody{Text: "⚠️ Governor Alert ⚠️\n" + msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("failed notification webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

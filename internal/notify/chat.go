package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/threat"
)

// chatPayload renders a Slack-compatible block message.
var chatPayload = template.Must(template.New("chat").Parse(`{
  "text": "Security Alert: {{.Type}} from {{.Source}} (severity {{.Severity}}/5)",
  "blocks": [
    {
      "type": "section",
      "text": {
        "type": "mrkdwn",
        "text": "*Security Alert: {{.Type}}*\nSource: {{.Source}}\nSeverity: {{.Severity}}/5\nThreat: {{.ID}}"
      }
    }
  ]
}`))

// ChatChannel posts alerts to a Slack-style incoming webhook.
type ChatChannel struct {
	cfg    config.ChatChannelConfig
	client *http.Client
}

func NewChatChannel(cfg config.ChatChannelConfig) *ChatChannel {
	return &ChatChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
	}
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) Send(ctx context.Context, t threat.Threat) error {
	var buf bytes.Buffer
	if err := chatPayload.Execute(&buf, t); err != nil {
		return fmt.Errorf("render chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, &buf)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat post: HTTP %d", resp.StatusCode)
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/threat"
)

// EmailChannel sends plain-text alerts over SMTP.
type EmailChannel struct {
	cfg config.EmailChannelConfig

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg config.EmailChannelConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, send: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, t threat.Threat) error {
	var auth smtp.Auth
	if c.cfg.Username != "" {
		host := c.cfg.SMTPAddr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, host)
	}

	msg := buildEmail(c.cfg.From, c.cfg.To, t)

	// net/smtp has no context support; bound it with a goroutine so a hung
	// SMTP server cannot stall the response path past its deadline.
	done := make(chan error, 1)
	go func() { done <- c.send(c.cfg.SMTPAddr, auth, c.cfg.From, c.cfg.To, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func buildEmail(from string, to []string, t threat.Threat) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: Security Alert: %s detected\r\n", t.Type)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Security Alert: %s detected\r\n\r\n", t.Type)
	fmt.Fprintf(&b, "Severity:   %d/5\r\n", t.Severity)
	fmt.Fprintf(&b, "Confidence: %.2f\r\n", t.Confidence)
	fmt.Fprintf(&b, "Source:     %s\r\n", t.Source)
	fmt.Fprintf(&b, "Time:       %s\r\n\r\n", t.Timestamp.Format(time.RFC3339))
	if len(t.Details) > 0 {
		if detail, err := json.MarshalIndent(t.Details, "", "  "); err == nil {
			b.WriteString("Details:\r\n")
			b.Write(detail)
			b.WriteString("\r\n")
		}
	}
	return []byte(b.String())
}

// Package notify fans threat alerts out to the configured channels. Channel
// selection is severity-driven; one unreachable channel never prevents the
// others from being attempted.
package notify

import (
	"context"
	"io"
	"log/slog"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/threat"
)

// Channel delivers one alert to one destination. Send must respect ctx and
// carry its own short network timeout so a dead endpoint cannot stall the
// caller's loop.
type Channel interface {
	Name() string
	Send(ctx context.Context, t threat.Threat) error
}

type boundChannel struct {
	ch          Channel
	minSeverity int
}

// Notifier routes alerts to channels by severity.
type Notifier struct {
	channels []boundChannel
	simulate bool
	logger   *slog.Logger
	onError  func()
}

// OnSendError registers a hook invoked once per failed channel send.
func (n *Notifier) OnSendError(fn func()) { n.onError = fn }

// New builds a notifier from the notification config. In simulation mode
// the channel selection and validation still run, but nothing is sent.
func New(cfg config.NotificationConfig, simulate bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n := &Notifier{simulate: simulate, logger: logger}
	if cfg.Email.Enabled {
		n.register(NewEmailChannel(cfg.Email), cfg.Email.MinSeverity)
	}
	if cfg.Chat.Enabled {
		n.register(NewChatChannel(cfg.Chat), cfg.Chat.MinSeverity)
	}
	if cfg.Webhook.Enabled {
		n.register(NewWebhookChannel(cfg.Webhook), cfg.Webhook.MinSeverity)
	}
	return n
}

// NewWithChannels builds a notifier over explicit channels, for tests and
// custom wiring.
func NewWithChannels(simulate bool, logger *slog.Logger, chs ...Channel) *Notifier {
	n := &Notifier{simulate: simulate, logger: logger}
	if n.logger == nil {
		n.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, ch := range chs {
		n.register(ch, 0)
	}
	return n
}

func (n *Notifier) register(ch Channel, minSeverity int) {
	n.channels = append(n.channels, boundChannel{ch: ch, minSeverity: minSeverity})
}

// Dispatch sends the alert on every channel whose severity floor the threat
// meets. It returns per-channel outcomes and the count of successes; when no
// channel qualifies both maps are empty and attempted is zero.
func (n *Notifier) Dispatch(ctx context.Context, t threat.Threat) (methods map[string]any, attempted, succeeded int) {
	methods = make(map[string]any)
	for _, bc := range n.channels {
		if t.Severity < bc.minSeverity {
			continue
		}
		attempted++
		if n.simulate {
			n.logger.Info("simulation: would send notification",
				"channel", bc.ch.Name(), "threat", t.ID, "severity", t.Severity)
			methods[bc.ch.Name()] = map[string]any{"success": true, "simulated": true}
			succeeded++
			continue
		}
		if err := bc.ch.Send(ctx, t); err != nil {
			n.logger.Warn("notification channel failed",
				"channel", bc.ch.Name(), "threat", t.ID, "error", err)
			methods[bc.ch.Name()] = map[string]any{"success": false, "error": err.Error()}
			if n.onError != nil {
				n.onError()
			}
			continue
		}
		methods[bc.ch.Name()] = map[string]any{"success": true}
		succeeded++
	}
	return methods, attempted, succeeded
}

// ChannelNames lists the configured channels.
func (n *Notifier) ChannelNames() []string {
	out := make([]string, len(n.channels))
	for i, bc := range n.channels {
		out[i] = bc.ch.Name()
	}
	return out
}

package respond

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/leshsec/lesh/internal/notify"
	"github.com/leshsec/lesh/internal/threat"
)

// NotificationExecutor fans an alert out through the notifier. It succeeds
// when at least one attempted channel succeeds; a threat is never resolved on
// the strength of a notification.
type NotificationExecutor struct {
	notifier *notify.Notifier
	logger   *slog.Logger
}

func NewNotificationExecutor(n *notify.Notifier, logger *slog.Logger) *NotificationExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NotificationExecutor{notifier: n, logger: logger.With("executor", ActionNotification)}
}

func (e *NotificationExecutor) Name() string { return ActionNotification }

func (e *NotificationExecutor) Execute(ctx context.Context, t threat.Threat) threat.ResponseResult {
	methods, attempted, succeeded := e.notifier.Dispatch(ctx, t)

	outcome := threat.OutcomeSuccess
	details := map[string]any{threat.ResultMethods: methods}
	switch {
	case attempted == 0:
		// No channel met the severity floor. Not a failure; there was
		// nothing to send.
		details["note"] = "no channel configured for this severity"
	case succeeded == 0:
		outcome = threat.OutcomeFailed
		details[threat.ResultError] = "all notification channels failed"
		e.logger.Warn("every notification channel failed", "threat", t.ID, "attempted", attempted)
	}

	return threat.ResponseResult{
		ThreatID:  t.ID,
		Action:    ActionNotification,
		Outcome:   outcome,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Package respond decides and carries out actions against detected threats.
// The engine applies cooldown, severity, and policy gates per threat; the
// executors perform (or simulate) one concrete action each.
package respond

import (
	"context"
	"errors"

	"github.com/leshsec/lesh/internal/threat"
)

// errUnsupportedPlatform marks an action that does not exist on this OS, as
// opposed to one that was attempted and failed.
var errUnsupportedPlatform = errors.New("unsupported platform")

// ResultTarget records what an executor acted on.
const ResultTarget = "target"

// Action names as they appear in rule tables and resolution records.
const (
	ActionNetworkBlock     = "network_block"
	ActionProcessTerminate = "process_terminate"
	ActionNotification     = "notification"
)

// Executor performs one response action. Implementations never panic and
// never change the system when the target is malformed or safe-listed; all
// failure modes travel inside the ResponseResult.
type Executor interface {
	Name() string
	Execute(ctx context.Context, t threat.Threat) threat.ResponseResult
}

// ruleTable maps a threat type to its ordered action list. Unknown types
// fall back to notification only.
var ruleTable = map[threat.Type][]string{
	threat.TypeSuspiciousConnection: {ActionNetworkBlock, ActionNotification},
	threat.TypeSuspiciousProcess:    {ActionProcessTerminate, ActionNotification},
	threat.TypeBruteForceAttempt:    {ActionNetworkBlock, ActionNotification},
}

var defaultActions = []string{ActionNotification}

func actionsFor(tt threat.Type) []string {
	if acts, ok := ruleTable[tt]; ok {
		return acts
	}
	return defaultActions
}

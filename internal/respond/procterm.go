package respond

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/gobwas/glob"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/threat"
)

const (
	terminateGrace = 5 * time.Second
	alivePollEvery = 100 * time.Millisecond
)

// procHandle is the slice of a live process the executor needs. Backed by
// gopsutil in production and by fakes in tests.
type procHandle interface {
	Name(ctx context.Context) (string, error)
	Username(ctx context.Context) (string, error)
	Terminate(ctx context.Context) error
	Kill(ctx context.Context) error
	Running(ctx context.Context) (bool, error)
}

type gopsutilHandle struct{ p *process.Process }

func (h gopsutilHandle) Name(ctx context.Context) (string, error) { return h.p.NameWithContext(ctx) }
func (h gopsutilHandle) Username(ctx context.Context) (string, error) {
	return h.p.UsernameWithContext(ctx)
}
func (h gopsutilHandle) Terminate(ctx context.Context) error { return h.p.TerminateWithContext(ctx) }
func (h gopsutilHandle) Kill(ctx context.Context) error      { return h.p.KillWithContext(ctx) }
func (h gopsutilHandle) Running(ctx context.Context) (bool, error) {
	return h.p.IsRunningWithContext(ctx)
}

// ProcessTerminateExecutor ends a suspicious process: graceful terminate
// first, bounded wait, then a forced kill. The process being gone counts as
// success either way.
type ProcessTerminateExecutor struct {
	simulate  bool
	safeNames []glob.Glob
	safeUsers []glob.Glob
	grace     time.Duration
	logger    *slog.Logger

	// openProcess is swappable for tests.
	openProcess func(ctx context.Context, pid int32) (procHandle, error)
}

func NewProcessTerminateExecutor(cfg config.ResponseConfig, logger *slog.Logger) *ProcessTerminateExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &ProcessTerminateExecutor{
		simulate: cfg.Simulation,
		grace:    terminateGrace,
		logger:   logger.With("executor", ActionProcessTerminate),
		openProcess: func(ctx context.Context, pid int32) (procHandle, error) {
			p, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				return nil, err
			}
			return gopsutilHandle{p: p}, nil
		},
	}
	e.safeNames = compileGlobs(cfg.SafeList.Processes)
	e.safeUsers = compileGlobs(cfg.SafeList.Users)
	return e
}

// compileGlobs drops unparseable patterns. Config validation rejects them at
// load time, so a drop here only happens for hand-built test configs.
func compileGlobs(patterns []string) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if g, err := glob.Compile(p); err == nil {
			out = append(out, g)
		}
	}
	return out
}

func (e *ProcessTerminateExecutor) Name() string { return ActionProcessTerminate }

func (e *ProcessTerminateExecutor) Execute(ctx context.Context, t threat.Threat) threat.ResponseResult {
	pid, ok := extractPID(t.Details[threat.DetailPID])
	if !ok {
		return threat.FailedResult(t, ActionProcessTerminate, "missing or malformed pid in threat details")
	}
	if pid <= 1 {
		return threat.FailedResult(t, ActionProcessTerminate, fmt.Sprintf("refused: pid %d is protected", pid))
	}

	proc, err := e.openProcess(ctx, pid)
	if err != nil {
		return threat.FailedResult(t, ActionProcessTerminate, fmt.Sprintf("process %d not found", pid))
	}

	// Name and owner may be unreadable for privileged processes; the
	// safe-list check only applies to what we can see.
	name, _ := proc.Name(ctx)
	owner, _ := proc.Username(ctx)
	if reason := e.safeListed(name, owner); reason != "" {
		e.logger.Warn("refusing to terminate safe-listed process",
			"pid", pid, "name", name, "owner", owner, "reason", reason, "threat", t.ID)
		return threat.FailedResult(t, ActionProcessTerminate,
			fmt.Sprintf("refused: process %d (%s) %s", pid, name, reason))
	}

	if e.simulate {
		e.logger.Info("simulation: would terminate process", "pid", pid, "name", name, "threat", t.ID)
		return threat.ResponseResult{
			ThreatID: t.ID,
			Action:   ActionProcessTerminate,
			Outcome:  threat.OutcomeSuccess,
			Details: map[string]any{
				ResultTarget:           pid,
				threat.ResultSimulated: true,
			},
			Timestamp: time.Now().UTC(),
		}
	}

	if err := proc.Terminate(ctx); err != nil {
		return threat.FailedResult(t, ActionProcessTerminate,
			fmt.Sprintf("terminate process %d: %v", pid, err))
	}
	if e.waitGone(ctx, proc) {
		e.logger.Info("terminated process", "pid", pid, "name", name, "threat", t.ID)
		return e.successResult(t, pid, false)
	}

	if err := proc.Kill(ctx); err != nil {
		// The terminate may have landed between the wait and the kill.
		if gone, rerr := proc.Running(ctx); rerr == nil && !gone {
			return e.successResult(t, pid, false)
		}
		return threat.FailedResult(t, ActionProcessTerminate,
			fmt.Sprintf("kill process %d: %v", pid, err))
	}
	if e.waitGone(ctx, proc) {
		e.logger.Info("killed process after terminate timed out", "pid", pid, "name", name, "threat", t.ID)
		return e.successResult(t, pid, true)
	}
	return threat.FailedResult(t, ActionProcessTerminate,
		fmt.Sprintf("process %d still running after kill", pid))
}

func (e *ProcessTerminateExecutor) successResult(t threat.Threat, pid int32, forced bool) threat.ResponseResult {
	return threat.ResponseResult{
		ThreatID:  t.ID,
		Action:    ActionProcessTerminate,
		Outcome:   threat.OutcomeSuccess,
		Details:   map[string]any{ResultTarget: pid, "forced": forced},
		Timestamp: time.Now().UTC(),
	}
}

// waitGone polls until the process exits, the grace period lapses, or ctx is
// cancelled.
func (e *ProcessTerminateExecutor) waitGone(ctx context.Context, proc procHandle) bool {
	deadline := time.NewTimer(e.grace)
	defer deadline.Stop()
	tick := time.NewTicker(alivePollEvery)
	defer tick.Stop()
	for {
		if running, err := proc.Running(ctx); err != nil || !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

func (e *ProcessTerminateExecutor) safeListed(name, owner string) string {
	for _, g := range e.safeNames {
		if name != "" && g.Match(name) {
			return "matches a safe-listed process pattern"
		}
	}
	for _, g := range e.safeUsers {
		if owner != "" && g.Match(owner) {
			return "is owned by a safe-listed user"
		}
	}
	return ""
}

// extractPID accepts the numeric shapes a pid takes after crossing a JSON or
// YAML boundary.
func extractPID(v any) (int32, bool) {
	switch n := v.(type) {
	case int:
		return int32(n), true
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case uint32:
		return int32(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int32(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 32)
		if err != nil {
			return 0, false
		}
		return int32(parsed), true
	default:
		return 0, false
	}
}

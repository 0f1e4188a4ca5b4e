package respond

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/notify"
	"github.com/leshsec/lesh/internal/store"
	"github.com/leshsec/lesh/internal/threat"
)

// Engine is the response policy engine. Per threat it applies, in order, the
// cooldown check, the severity gate, the auto-response toggle, and the rule
// table, then records resolution and refreshes the cooldown window.
type Engine struct {
	store     *store.Store
	executors map[string]Executor
	cooldown  *cooldownCache

	autoResponse bool
	maxSeverity  int
	logger       *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats is a snapshot of engine counters for the status surface.
type Stats struct {
	ThreatsHandled  int       `json:"threats_handled"`
	Responses       int       `json:"responses"`
	Successful      int       `json:"successful"`
	CooldownSkips   int       `json:"cooldown_skips"`
	SeverityGated   int       `json:"severity_gated"`
	ThreatsResolved int       `json:"threats_resolved"`
	LastResponse    time.Time `json:"last_response,omitzero"`
}

func NewEngine(cfg config.ResponseConfig, st *store.Store, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "respond")
	return &Engine{
		store:        st,
		cooldown:     newCooldownCache(cfg.CooldownDuration()),
		autoResponse: cfg.AutoResponseEnabled(),
		maxSeverity:  cfg.MaxSeverity,
		logger:       logger,
		executors: map[string]Executor{
			ActionNetworkBlock:     NewNetworkBlockExecutor(cfg, logger),
			ActionProcessTerminate: NewProcessTerminateExecutor(cfg, logger),
			ActionNotification:     NewNotificationExecutor(notifier, logger),
		},
	}
}

// NewEngineWithExecutors builds an engine over explicit executors, for tests
// and custom wiring. Executors are keyed by their Name.
func NewEngineWithExecutors(cfg config.ResponseConfig, st *store.Store, logger *slog.Logger, execs ...Executor) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		store:        st,
		cooldown:     newCooldownCache(cfg.CooldownDuration()),
		autoResponse: cfg.AutoResponseEnabled(),
		maxSeverity:  cfg.MaxSeverity,
		logger:       logger,
		executors:    make(map[string]Executor, len(execs)),
	}
	for _, ex := range execs {
		e.executors[ex.Name()] = ex
	}
	return e
}

// HandleThreats runs the response policy for each threat in order and returns
// every produced result. A cooled-down threat contributes zero results.
func (e *Engine) HandleThreats(ctx context.Context, threats []threat.Threat) []threat.ResponseResult {
	var results []threat.ResponseResult
	for _, t := range threats {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.handleOne(ctx, t)...)
	}
	return results
}

func (e *Engine) handleOne(ctx context.Context, t threat.Threat) []threat.ResponseResult {
	e.mu.Lock()
	e.stats.ThreatsHandled++
	e.mu.Unlock()

	// Cooldown first, so a persistently re-reported condition does not
	// re-spam notifications either.
	if e.cooldown.Active(t.ID) {
		e.mu.Lock()
		e.stats.CooldownSkips++
		e.mu.Unlock()
		e.logger.Debug("threat in cooldown, skipping", "threat", t.ID, "type", t.Type)
		return nil
	}

	var results []threat.ResponseResult
	switch {
	case t.Severity > e.maxSeverity:
		e.mu.Lock()
		e.stats.SeverityGated++
		e.mu.Unlock()
		e.logger.Info("severity above auto-response limit, notifying only",
			"threat", t.ID, "severity", t.Severity, "max_severity", e.maxSeverity)
		results = e.dispatch(ctx, t, []string{ActionNotification})
	case !e.autoResponse:
		e.logger.Info("auto-response disabled, notifying only", "threat", t.ID, "type", t.Type)
		results = e.dispatch(ctx, t, []string{ActionNotification})
	default:
		results = e.dispatch(ctx, t, actionsFor(t.Type))
	}

	if action, ok := firstResolvingAction(results); ok {
		detail := fmt.Sprintf("automatic response by %s", action)
		if e.store.MarkResolved(t.ID, action, detail) {
			e.mu.Lock()
			e.stats.ThreatsResolved++
			e.mu.Unlock()
			e.logger.Info("threat resolved", "threat", t.ID, "action", action)
		}
	}

	e.cooldown.Touch(t.ID)
	return results
}

func (e *Engine) dispatch(ctx context.Context, t threat.Threat, actions []string) []threat.ResponseResult {
	results := make([]threat.ResponseResult, 0, len(actions))
	for _, action := range actions {
		ex, ok := e.executors[action]
		if !ok {
			results = append(results, threat.FailedResult(t, action, "no executor registered for action"))
			continue
		}
		res := ex.Execute(ctx, t)
		results = append(results, res)

		e.mu.Lock()
		e.stats.Responses++
		if res.Success() {
			e.stats.Successful++
		}
		e.stats.LastResponse = res.Timestamp
		e.mu.Unlock()

		if !res.Success() {
			e.logger.Warn("response action did not succeed",
				"threat", t.ID, "action", action, "outcome", res.Outcome, "error", res.Err())
		}
	}
	return results
}

// firstResolvingAction returns the first successful non-notification action.
func firstResolvingAction(results []threat.ResponseResult) (string, bool) {
	for _, r := range results {
		if r.Action != ActionNotification && r.Success() {
			return r.Action, true
		}
	}
	return "", false
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

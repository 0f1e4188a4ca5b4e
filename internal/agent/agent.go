// Package agent supervises the long-running detection, analytics, and health
// loops and exposes the status and control surface the CLI and API consume.
package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/leshsec/lesh/internal/analytics"
	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/detect"
	"github.com/leshsec/lesh/internal/health"
	"github.com/leshsec/lesh/internal/metrics"
	"github.com/leshsec/lesh/internal/notify"
	"github.com/leshsec/lesh/internal/respond"
	"github.com/leshsec/lesh/internal/store"
	"github.com/leshsec/lesh/internal/threat"
)

// defaultStopGrace bounds how long Stop waits for each loop before
// abandoning it.
const defaultStopGrace = 5 * time.Second

// Orchestrator owns the agent's subsystems and their supervised loops. The
// response engine runs synchronously inside the detection loop; analytics and
// health run on their own schedules and never delay a detection pass.
type Orchestrator struct {
	store     *store.Store
	registry  *detect.Registry
	engine    *respond.Engine
	checker   *health.Checker
	recorder  *analytics.Recorder
	collector *metrics.Collector
	logger    *slog.Logger

	detectInterval time.Duration
	healthInterval time.Duration
	sweepInterval  time.Duration
	errorBackoff   time.Duration
	stopGrace      time.Duration
	simulationMode bool

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	loops     []loopHandle
}

type loopHandle struct {
	name string
	done chan struct{}
}

// New wires the subsystems from one immutable config snapshot. The analytics
// recorder may be nil when history persistence is disabled.
func New(cfg *config.Config, recorder *analytics.Recorder, collector *metrics.Collector, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	st := store.New()
	notifier := notify.New(cfg.Response.Notification, cfg.Response.Simulation, logger)
	notifier.OnSendError(collector.IncNotificationError)
	registry := detect.NewRegistry(st, cfg.Detection.ProbeTimeoutDuration(), logger, detect.BuildProbes(cfg.Detection)...)
	registry.OnProbeError(collector.IncDetectionError)
	return &Orchestrator{
		store:     st,
		registry:  registry,
		engine:    respond.NewEngine(cfg.Response, st, notifier, logger),
		checker:   health.NewChecker(cfg.System.Health, logger),
		recorder:  recorder,
		collector: collector,
		logger:    logger.With("component", "agent"),

		detectInterval: cfg.Detection.IntervalDuration(),
		healthInterval: cfg.System.HealthCheckIntervalDuration(),
		sweepInterval:  cfg.Analytics.IntervalDuration(),
		errorBackoff:   cfg.Detection.ErrorBackoffDuration(),
		stopGrace:      defaultStopGrace,
		simulationMode: cfg.Response.Simulation,
	}
}

// Store exposes the threat record store for the API surface. Consumers read
// and resolve through it; they never mutate threats directly.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Health exposes the health checker's latest status.
func (o *Orchestrator) Health() *health.Checker { return o.checker }

// Recorder returns the analytics recorder, or nil when disabled.
func (o *Orchestrator) Recorder() *analytics.Recorder { return o.recorder }

// Start launches the supervised loops. Calling Start on a running
// orchestrator is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		o.logger.Warn("start ignored, agent already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true
	o.startedAt = time.Now().UTC()
	o.loops = nil

	o.spawn(ctx, "detection", o.detectInterval, o.errorBackoff, o.detectionPass)
	o.spawn(ctx, "health", o.healthInterval, o.errorBackoff, o.healthPass)
	if o.recorder != nil {
		o.spawn(ctx, "analytics", o.sweepInterval, o.errorBackoff, o.analyticsPass)
	}
	o.logger.Info("agent started",
		"probes", o.registry.Probes(),
		"simulation", o.simulationMode,
		"detection_interval", o.detectInterval)
}

func (o *Orchestrator) spawn(ctx context.Context, name string, interval, backoff time.Duration, work func(ctx context.Context) error) {
	done := make(chan struct{})
	o.loops = append(o.loops, loopHandle{name: name, done: done})
	go func() {
		defer close(done)
		o.logger.Info("loop started", "loop", name, "interval", interval)
		for {
			wait := interval
			if err := work(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Error("loop iteration failed", "loop", name, "error", err)
				wait = backoff
			}
			select {
			case <-ctx.Done():
				o.logger.Info("loop stopped", "loop", name)
				return
			case <-time.After(wait):
			}
		}
	}()
}

// Stop signals every loop to exit and waits up to a bounded grace period per
// loop. A loop stuck in slow I/O is abandoned rather than blocking shutdown.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	loops := o.loops
	o.mu.Unlock()

	cancel()
	grace := o.stopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	for _, l := range loops {
		select {
		case <-l.done:
		case <-time.After(grace):
			o.logger.Warn("loop did not stop within grace period, abandoning", "loop", l.name)
		}
	}
	o.logger.Info("agent stopped")
}

// Scan runs one full detection-and-response pass synchronously and returns
// the newly detected threats. Used by the API and CLI.
func (o *Orchestrator) Scan(ctx context.Context) ([]threat.Threat, error) {
	return o.runPass(ctx)
}

func (o *Orchestrator) detectionPass(ctx context.Context) error {
	_, err := o.runPass(ctx)
	return err
}

func (o *Orchestrator) runPass(ctx context.Context) ([]threat.Threat, error) {
	newThreats := o.registry.RunAll(ctx)
	for _, t := range newThreats {
		o.collector.IncThreat(string(t.Type))
	}
	if o.recorder != nil && len(newThreats) > 0 {
		if err := o.recorder.RecordThreats(ctx, newThreats); err != nil {
			o.logger.Error("recording threats failed", "error", err)
		}
	}

	results := o.engine.HandleThreats(ctx, newThreats)
	for _, r := range results {
		o.collector.IncResponse(r.Success())
	}
	if o.recorder != nil && len(results) > 0 {
		if err := o.recorder.RecordResponses(ctx, results); err != nil {
			o.logger.Error("recording responses failed", "error", err)
		}
	}
	return newThreats, ctx.Err()
}

func (o *Orchestrator) healthPass(ctx context.Context) error {
	st := o.checker.Check(ctx)
	if !st.Healthy {
		o.logger.Warn("health check failed", "message", st.Message)
	}
	return nil
}

func (o *Orchestrator) analyticsPass(ctx context.Context) error {
	_, err := o.recorder.Sweep(ctx)
	return err
}

// Status is the control-surface snapshot.
type Status struct {
	Running        bool          `json:"running"`
	SimulationMode bool          `json:"simulation_mode"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
	Detection      Detection     `json:"detection"`
	Response       respond.Stats `json:"response"`
	Health         health.Status `json:"health"`
}

type Detection struct {
	Probes        []string  `json:"probes"`
	LastDetection time.Time `json:"last_detection,omitzero"`
	ThreatsSeen   int       `json:"threats_seen"`
	ActiveThreats int       `json:"active_threats"`
}

// Status returns a point-in-time snapshot. Safe to call from any goroutine.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := o.running
	startedAt := o.startedAt
	o.mu.Unlock()

	var uptime float64
	if running {
		uptime = time.Since(startedAt).Seconds()
	}
	seen, active := o.store.Counts()
	return Status{
		Running:        running,
		SimulationMode: o.simulationMode,
		UptimeSeconds:  uptime,
		Detection: Detection{
			Probes:        o.registry.Probes(),
			LastDetection: o.registry.LastDetection(),
			ThreatsSeen:   seen,
			ActiveThreats: active,
		},
		Response: o.engine.Stats(),
		Health:   o.checker.Last(),
	}
}

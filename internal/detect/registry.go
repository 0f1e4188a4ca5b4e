// Package detect runs detection probes and merges their findings into the
// threat record store.
package detect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leshsec/lesh/internal/store"
	"github.com/leshsec/lesh/internal/threat"
)

// Probe inspects one signal source and returns candidate threats. A probe
// must populate the detail fields its paired executor needs (remote address,
// pid) so that no executor has to re-query the source.
type Probe interface {
	Name() string
	Detect(ctx context.Context) ([]threat.Threat, error)
}

// Registry invokes every enabled probe in a fixed, configuration-determined
// order. A probe failure or panic is logged and treated as zero findings; it
// never aborts the remaining probes.
type Registry struct {
	probes  []Probe
	store   *store.Store
	timeout time.Duration
	logger  *slog.Logger
	onError func()

	mu      sync.Mutex
	lastRun time.Time
}

// NewRegistry builds a registry over the given probes. timeout bounds each
// probe invocation; pass nil for logger to disable logging.
func NewRegistry(st *store.Store, timeout time.Duration, logger *slog.Logger, probes ...Probe) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Registry{
		probes:  probes,
		store:   st,
		timeout: timeout,
		logger:  logger,
	}
}

// OnProbeError registers a hook invoked once per failed probe invocation.
// Call before Start-style use; the hook must be safe for concurrent calls.
func (r *Registry) OnProbeError(fn func()) { r.onError = fn }

// Probes returns the names of the registered probes in invocation order.
func (r *Registry) Probes() []string {
	names := make([]string, len(r.probes))
	for i, p := range r.probes {
		names[i] = p.Name()
	}
	return names
}

// RunAll executes one detection pass and returns only threats that were not
// already known to the store. Known threats are recorded but not re-emitted.
func (r *Registry) RunAll(ctx context.Context) []threat.Threat {
	var collected []threat.Threat
	seen := make(map[string]struct{})

	// One id per pass so a pass's probe logs and threat logs correlate.
	logger := r.logger.With("pass", uuid.NewString())

	for _, p := range r.probes {
		found, err := r.runProbe(ctx, p)
		if err != nil {
			logger.Warn("probe failed, treating as zero findings",
				"probe", p.Name(), "error", err)
			if r.onError != nil {
				r.onError()
			}
			continue
		}
		for _, t := range found {
			if t.ID == "" {
				t.ID = t.StableID()
			}
			if t.Timestamp.IsZero() {
				t.Timestamp = time.Now().UTC()
			}
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			collected = append(collected, t)
		}
	}

	added := r.store.Add(collected)
	for _, t := range added {
		logger.Warn("threat detected",
			"id", t.ID, "type", t.Type, "source", t.Source,
			"severity", t.Severity, "confidence", t.Confidence)
	}

	r.mu.Lock()
	r.lastRun = time.Now().UTC()
	r.mu.Unlock()
	return added
}

// LastDetection returns the time of the most recent completed pass.
func (r *Registry) LastDetection() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

func (r *Registry) runProbe(ctx context.Context, p Probe) (found []threat.Threat, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			found = nil
			err = fmt.Errorf("probe panic: %v", rec)
		}
	}()
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Detect(pctx)
}

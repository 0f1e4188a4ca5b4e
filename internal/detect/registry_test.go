package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leshsec/lesh/internal/store"
	"github.com/leshsec/lesh/internal/threat"
)

type fakeProbe struct {
	name    string
	threats []threat.Threat
	err     error
	panics  bool
	calls   int
}

func (f *fakeProbe) Name() string { return f.name }

func (f *fakeProbe) Detect(ctx context.Context) ([]threat.Threat, error) {
	f.calls++
	if f.panics {
		panic("probe exploded")
	}
	return f.threats, f.err
}

func connFinding(addr string) threat.Threat {
	return threat.Threat{
		Type:     threat.TypeSuspiciousConnection,
		Source:   addr,
		Severity: 3,
		Details:  map[string]any{threat.DetailRemoteAddress: addr},
	}
}

func TestRunAll_DedupAcrossPasses(t *testing.T) {
	st := store.New()
	probe := &fakeProbe{name: "network", threats: []threat.Threat{connFinding("203.0.113.5:4444")}}
	r := NewRegistry(st, time.Second, nil, probe)

	first := r.RunAll(context.Background())
	require.Len(t, first, 1)
	assert.NotEmpty(t, first[0].ID)

	// Second pass re-reports the same ongoing condition.
	second := r.RunAll(context.Background())
	assert.Empty(t, second, "known threats are not re-emitted")
	assert.Len(t, st.ListAll(), 1)
}

func TestRunAll_ProbeFailureIsolated(t *testing.T) {
	st := store.New()
	failing := &fakeProbe{name: "logscan", err: errors.New("log unreadable")}
	healthy := &fakeProbe{name: "network", threats: []threat.Threat{connFinding("198.51.100.9:3333")}}
	r := NewRegistry(st, time.Second, nil, failing, healthy)

	got := r.RunAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, threat.TypeSuspiciousConnection, got[0].Type)
	assert.Equal(t, 1, healthy.calls, "remaining probes still run after a failure")
}

func TestRunAll_ProbePanicIsolated(t *testing.T) {
	st := store.New()
	panicking := &fakeProbe{name: "process", panics: true}
	healthy := &fakeProbe{name: "network", threats: []threat.Threat{connFinding("198.51.100.9:3333")}}
	r := NewRegistry(st, time.Second, nil, panicking, healthy)

	got := r.RunAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, 1, healthy.calls)
}

func TestRunAll_OrderAndTimestamps(t *testing.T) {
	st := store.New()
	a := &fakeProbe{name: "a", threats: []threat.Threat{connFinding("203.0.113.1")}}
	b := &fakeProbe{name: "b", threats: []threat.Threat{connFinding("203.0.113.2")}}
	r := NewRegistry(st, time.Second, nil, a, b)

	got := r.RunAll(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "203.0.113.1", got[0].Source)
	assert.Equal(t, "203.0.113.2", got[1].Source)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.False(t, r.LastDetection().IsZero())
}

func TestRunAll_DuplicateWithinPass(t *testing.T) {
	st := store.New()
	// Two probes report the same condition in one pass.
	a := &fakeProbe{name: "a", threats: []threat.Threat{connFinding("203.0.113.1")}}
	b := &fakeProbe{name: "b", threats: []threat.Threat{connFinding("203.0.113.1")}}
	r := NewRegistry(st, time.Second, nil, a, b)

	got := r.RunAll(context.Background())
	assert.Len(t, got, 1)
}

func TestProbes_Names(t *testing.T) {
	r := NewRegistry(store.New(), time.Second, nil,
		&fakeProbe{name: "network"}, &fakeProbe{name: "process"})
	assert.Equal(t, []string{"network", "process"}, r.Probes())
}

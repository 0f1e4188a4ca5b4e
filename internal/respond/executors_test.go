package respond

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/threat"
)

func responseCfg(simulate bool) config.ResponseConfig {
	return config.ResponseConfig{
		MaxSeverity:    3,
		CooldownPeriod: "300s",
		Simulation:     simulate,
		SafeList: config.SafeListConfig{
			Networks:  []string{"10.0.0.0/8", "192.0.2.1"},
			Processes: []string{"systemd*", "sshd"},
			Users:     []string{"root"},
		},
	}
}

func connectionThreat(addr string) threat.Threat {
	return threat.Threat{
		ID:       "suspicious-connection-cafe00000001",
		Type:     threat.TypeSuspiciousConnection,
		Source:   "network_monitor",
		Severity: 3,
		Details:  map[string]any{threat.DetailRemoteAddress: addr},
	}
}

func processThreat(pid any) threat.Threat {
	return threat.Threat{
		ID:       "suspicious-process-cafe00000002",
		Type:     threat.TypeSuspiciousProcess,
		Source:   "process_monitor",
		Severity: 3,
		Details:  map[string]any{threat.DetailPID: pid},
	}
}

func TestNetworkBlock_MissingOrMalformedAddress(t *testing.T) {
	e := NewNetworkBlockExecutor(responseCfg(true), nil)

	res := e.Execute(context.Background(), threat.Threat{ID: "x", Type: threat.TypeSuspiciousConnection})
	assert.Equal(t, threat.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err(), "missing remote_address")

	res = e.Execute(context.Background(), connectionThreat("not-an-ip:99"))
	assert.Equal(t, threat.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err(), "unparseable")
}

func TestNetworkBlock_SafeListRefusal(t *testing.T) {
	for _, simulate := range []bool{true, false} {
		e := NewNetworkBlockExecutor(responseCfg(simulate), nil)
		e.runCommand = func(context.Context, string, ...string) ([]byte, error) {
			t.Fatal("safe-listed address must never reach the firewall")
			return nil, nil
		}

		for _, addr := range []string{"127.0.0.1:4444", "0.0.0.0", "10.1.2.3:8545", "192.0.2.1"} {
			res := e.Execute(context.Background(), connectionThreat(addr))
			assert.Equal(t, threat.OutcomeFailed, res.Outcome, "simulate=%v addr=%s", simulate, addr)
			assert.Contains(t, res.Err(), "refused", "simulate=%v addr=%s", simulate, addr)
		}
	}
}

func TestNetworkBlock_SimulationSucceedsWithoutEffect(t *testing.T) {
	e := NewNetworkBlockExecutor(responseCfg(true), nil)
	e.runCommand = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("simulation must not run commands")
		return nil, nil
	}

	res := e.Execute(context.Background(), connectionThreat("203.0.113.5:4444"))
	require.True(t, res.Success())
	assert.Equal(t, true, res.Details[threat.ResultSimulated])
	assert.Equal(t, "203.0.113.5", res.Details[ResultTarget])
}

func TestNetworkBlock_LinuxCommand(t *testing.T) {
	e := NewNetworkBlockExecutor(responseCfg(false), nil)
	e.goos = "linux"
	var gotName string
	var gotArgs []string
	e.runCommand = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, nil
	}

	// Bare IP, as port-scan findings report it.
	res := e.Execute(context.Background(), connectionThreat("203.0.113.9"))
	require.True(t, res.Success())
	assert.Equal(t, "iptables", gotName)
	assert.Equal(t, []string{"-A", "INPUT", "-s", "203.0.113.9", "-j", "DROP"}, gotArgs)
}

func TestNetworkBlock_CommandFailure(t *testing.T) {
	e := NewNetworkBlockExecutor(responseCfg(false), nil)
	e.goos = "linux"
	e.runCommand = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("iptables: Permission denied\n"), errors.New("exit status 4")
	}

	res := e.Execute(context.Background(), connectionThreat("203.0.113.5:4444"))
	assert.Equal(t, threat.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err(), "Permission denied")
}

func TestNetworkBlock_UnsupportedPlatform(t *testing.T) {
	e := NewNetworkBlockExecutor(responseCfg(false), nil)
	e.goos = "plan9"

	res := e.Execute(context.Background(), connectionThreat("203.0.113.5:4444"))
	assert.Equal(t, threat.OutcomeUnsupported, res.Outcome)
	assert.False(t, res.Success())
}

// fakeProc is a controllable process handle.
type fakeProc struct {
	name       string
	owner      string
	alive      bool
	termErr    error
	killErr    error
	terminated int
	killed     int

	// dieOnKill controls whether Kill actually stops the process.
	surviveTerm bool
}

func (f *fakeProc) Name(context.Context) (string, error)     { return f.name, nil }
func (f *fakeProc) Username(context.Context) (string, error) { return f.owner, nil }
func (f *fakeProc) Running(context.Context) (bool, error)    { return f.alive, nil }

func (f *fakeProc) Terminate(context.Context) error {
	f.terminated++
	if f.termErr != nil {
		return f.termErr
	}
	if !f.surviveTerm {
		f.alive = false
	}
	return nil
}

func (f *fakeProc) Kill(context.Context) error {
	f.killed++
	if f.killErr != nil {
		return f.killErr
	}
	f.alive = false
	return nil
}

func newProcExecutor(t *testing.T, simulate bool, proc *fakeProc) *ProcessTerminateExecutor {
	t.Helper()
	e := NewProcessTerminateExecutor(responseCfg(simulate), nil)
	e.grace = 50 * time.Millisecond
	e.openProcess = func(_ context.Context, pid int32) (procHandle, error) {
		if proc == nil {
			return nil, fmt.Errorf("process %d does not exist", pid)
		}
		return proc, nil
	}
	return e
}

func TestProcessTerminate_MissingOrProtectedPID(t *testing.T) {
	e := newProcExecutor(t, true, &fakeProc{alive: true})

	res := e.Execute(context.Background(), threat.Threat{ID: "x", Type: threat.TypeSuspiciousProcess})
	assert.Equal(t, threat.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err(), "missing or malformed pid")

	res = e.Execute(context.Background(), processThreat(1))
	assert.Contains(t, res.Err(), "protected")
}

func TestProcessTerminate_PIDShapes(t *testing.T) {
	cases := []struct {
		in   any
		pid  int32
		ok   bool
	}{
		{1234, 1234, true},
		{int64(1234), 1234, true},
		{float64(1234), 1234, true},
		{"1234", 1234, true},
		{float64(12.5), 0, false},
		{"none", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		pid, ok := extractPID(tc.in)
		assert.Equal(t, tc.ok, ok, "input %v", tc.in)
		if ok {
			assert.Equal(t, tc.pid, pid, "input %v", tc.in)
		}
	}
}

func TestProcessTerminate_SafeListRefusal(t *testing.T) {
	for _, tc := range []struct {
		name  string
		owner string
	}{
		{name: "systemd-journald", owner: "messagebus"},
		{name: "sshd", owner: "nobody"},
		{name: "xmrig", owner: "root"},
	} {
		proc := &fakeProc{name: tc.name, owner: tc.owner, alive: true}
		e := newProcExecutor(t, false, proc)
		res := e.Execute(context.Background(), processThreat(4242))
		assert.Equal(t, threat.OutcomeFailed, res.Outcome, "%s/%s", tc.name, tc.owner)
		assert.Contains(t, res.Err(), "refused")
		assert.Zero(t, proc.terminated, "safe-listed process must not be signalled")
	}
}

func TestProcessTerminate_SimulationSucceedsWithoutEffect(t *testing.T) {
	proc := &fakeProc{name: "xmrig", owner: "games", alive: true}
	e := newProcExecutor(t, true, proc)

	res := e.Execute(context.Background(), processThreat(4242))
	require.True(t, res.Success())
	assert.Equal(t, true, res.Details[threat.ResultSimulated])
	assert.Zero(t, proc.terminated)
	assert.True(t, proc.alive)
}

func TestProcessTerminate_GracefulThenSuccess(t *testing.T) {
	proc := &fakeProc{name: "xmrig", owner: "games", alive: true}
	e := newProcExecutor(t, false, proc)

	res := e.Execute(context.Background(), processThreat(float64(4242)))
	require.True(t, res.Success())
	assert.Equal(t, 1, proc.terminated)
	assert.Zero(t, proc.killed, "graceful exit must not escalate")
	assert.Equal(t, false, res.Details["forced"])
}

func TestProcessTerminate_EscalatesToKill(t *testing.T) {
	proc := &fakeProc{name: "xmrig", owner: "games", alive: true, surviveTerm: true}
	e := newProcExecutor(t, false, proc)

	start := time.Now()
	res := e.Execute(context.Background(), processThreat(4242))
	require.True(t, res.Success())
	assert.Equal(t, 1, proc.terminated)
	assert.Equal(t, 1, proc.killed)
	assert.Equal(t, true, res.Details["forced"])
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestProcessTerminate_NotFound(t *testing.T) {
	e := newProcExecutor(t, false, nil)
	res := e.Execute(context.Background(), processThreat(99999))
	assert.Equal(t, threat.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err(), "not found")
}

package respond

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/threat"
)

const blockCommandTimeout = 10 * time.Second

// NetworkBlockExecutor inserts a firewall drop rule for the threat's remote
// peer. The safe-list check runs before any effect, including in simulation
// mode, so simulated output mirrors what a live run would refuse.
type NetworkBlockExecutor struct {
	simulate  bool
	safeNets  []*net.IPNet
	safeAddrs []net.IP
	logger    *slog.Logger

	// goos and runCommand are swappable for tests.
	goos       string
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewNetworkBlockExecutor(cfg config.ResponseConfig, logger *slog.Logger) *NetworkBlockExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &NetworkBlockExecutor{
		simulate: cfg.Simulation,
		logger:   logger.With("executor", ActionNetworkBlock),
		goos:     runtime.GOOS,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
	for _, entry := range cfg.SafeList.Networks {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			e.safeNets = append(e.safeNets, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			e.safeAddrs = append(e.safeAddrs, ip)
		}
	}
	return e
}

func (e *NetworkBlockExecutor) Name() string { return ActionNetworkBlock }

func (e *NetworkBlockExecutor) Execute(ctx context.Context, t threat.Threat) threat.ResponseResult {
	raw, ok := t.Details[threat.DetailRemoteAddress].(string)
	if !ok || raw == "" {
		return threat.FailedResult(t, ActionNetworkBlock, "missing remote_address in threat details")
	}

	// Accept both host:port and bare addresses; port-scan findings carry
	// only the IP.
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return threat.FailedResult(t, ActionNetworkBlock, fmt.Sprintf("unparseable remote address %q", raw))
	}

	if reason := e.safeListed(ip); reason != "" {
		e.logger.Warn("refusing to block safe-listed address", "ip", ip.String(), "reason", reason, "threat", t.ID)
		return threat.FailedResult(t, ActionNetworkBlock, fmt.Sprintf("refused: %s is %s", ip, reason))
	}

	if e.simulate {
		e.logger.Info("simulation: would block address", "ip", ip.String(), "threat", t.ID)
		return threat.ResponseResult{
			ThreatID: t.ID,
			Action:   ActionNetworkBlock,
			Outcome:  threat.OutcomeSuccess,
			Details: map[string]any{
				ResultTarget:           ip.String(),
				threat.ResultSimulated: true,
			},
			Timestamp: time.Now().UTC(),
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, blockCommandTimeout)
	defer cancel()

	out, err := e.block(cmdCtx, ip.String())
	if errors.Is(err, errUnsupportedPlatform) {
		return threat.ResponseResult{
			ThreatID:  t.ID,
			Action:    ActionNetworkBlock,
			Outcome:   threat.OutcomeUnsupported,
			Details:   map[string]any{threat.ResultError: fmt.Sprintf("network blocking not implemented for %s", e.goos)},
			Timestamp: time.Now().UTC(),
		}
	}
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		e.logger.Error("block failed", "ip", ip.String(), "threat", t.ID, "error", err)
		return threat.FailedResult(t, ActionNetworkBlock, fmt.Sprintf("block %s: %s", ip, msg))
	}

	e.logger.Info("blocked address", "ip", ip.String(), "threat", t.ID)
	return threat.ResponseResult{
		ThreatID:  t.ID,
		Action:    ActionNetworkBlock,
		Outcome:   threat.OutcomeSuccess,
		Details:   map[string]any{ResultTarget: ip.String()},
		Timestamp: time.Now().UTC(),
	}
}

// safeListed returns a non-empty reason when the address must never be
// blocked.
func (e *NetworkBlockExecutor) safeListed(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "a loopback address"
	case ip.IsUnspecified():
		return "an unspecified address"
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return "a link-local address"
	}
	for _, safe := range e.safeAddrs {
		if safe.Equal(ip) {
			return "on the safe list"
		}
	}
	for _, ipnet := range e.safeNets {
		if ipnet.Contains(ip) {
			return "inside a safe-listed network"
		}
	}
	return ""
}

func (e *NetworkBlockExecutor) block(ctx context.Context, ip string) ([]byte, error) {
	switch e.goos {
	case "linux":
		return e.runCommand(ctx, "iptables", "-A", "INPUT", "-s", ip, "-j", "DROP")
	case "darwin":
		// pfctl reads rules from stdin; route through sh to keep the
		// injectable command shape uniform.
		rule := fmt.Sprintf("echo 'block in from %s to any' | pfctl -ef -", ip)
		return e.runCommand(ctx, "sh", "-c", rule)
	case "windows":
		name := fmt.Sprintf("Lesh block %s", ip)
		return e.runCommand(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
			"name="+name, "dir=in", "action=block", "remoteip="+ip)
	default:
		return nil, errUnsupportedPlatform
	}
}

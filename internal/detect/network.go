package detect

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/leshsec/lesh/internal/threat"
)

// Remote ports commonly associated with reverse shells and mining pools.
var suspiciousPorts = map[uint32]struct{}{
	3333: {}, 4444: {}, 8545: {}, 9999: {}, 14444: {},
}

// NetworkProbeConfig tunes the network probe.
type NetworkProbeConfig struct {
	// AnomalyThreshold is the score in [0,1] above which a connection is
	// reported.
	AnomalyThreshold float64

	// KnownBadIPs are reported whenever they appear as a remote peer.
	KnownBadIPs []string

	// PortScanThreshold is the distinct remote-port count per peer within
	// the tracking window that indicates a scan.
	PortScanThreshold int
}

// NetworkProbe reports suspicious connections: traffic to known-bad peers or
// suspicious ports, connections owned by unnamed processes, and port scans.
type NetworkProbe struct {
	cfg      NetworkProbeConfig
	knownBad map[string]struct{}

	// Injectable for tests.
	connections func(ctx context.Context) ([]gnet.ConnectionStat, error)
	processName func(ctx context.Context, pid int32) string

	mu          sync.Mutex
	portHistory map[string]map[uint32]time.Time // remote IP -> ports seen
	lastCleanup time.Time
}

const (
	portHistoryWindow  = 10 * time.Minute
	portHistoryCleanup = 5 * time.Minute
)

func NewNetworkProbe(cfg NetworkProbeConfig) *NetworkProbe {
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.8
	}
	if cfg.PortScanThreshold <= 0 {
		cfg.PortScanThreshold = 10
	}
	known := make(map[string]struct{}, len(cfg.KnownBadIPs))
	for _, ip := range cfg.KnownBadIPs {
		known[ip] = struct{}{}
	}
	return &NetworkProbe{
		cfg:      cfg,
		knownBad: known,
		connections: func(ctx context.Context) ([]gnet.ConnectionStat, error) {
			return gnet.ConnectionsWithContext(ctx, "inet")
		},
		processName: func(ctx context.Context, pid int32) string {
			p, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				return ""
			}
			name, err := p.NameWithContext(ctx)
			if err != nil {
				return ""
			}
			return name
		},
		portHistory: make(map[string]map[uint32]time.Time),
		lastCleanup: time.Now(),
	}
}

func (p *NetworkProbe) Name() string { return "network" }

func (p *NetworkProbe) Detect(ctx context.Context) ([]threat.Threat, error) {
	conns, err := p.connections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	now := time.Now().UTC()
	var threats []threat.Threat
	for _, c := range conns {
		if c.Raddr.IP == "" || c.Laddr.IP == "" {
			continue
		}
		ip := net.ParseIP(c.Raddr.IP)
		if ip == nil || ip.IsLoopback() {
			continue
		}
		p.trackPort(c.Raddr.IP, c.Raddr.Port)

		score := 0.0
		var reasons []string

		if _, ok := suspiciousPorts[c.Raddr.Port]; ok {
			score += 0.6
			reasons = append(reasons, fmt.Sprintf("suspicious remote port %d", c.Raddr.Port))
		}
		if _, ok := p.knownBad[c.Raddr.IP]; ok {
			score += 0.8
			reasons = append(reasons, "remote peer on known-bad list")
		}
		name := ""
		if c.Pid != 0 {
			if name = p.processName(ctx, c.Pid); name == "" {
				score += 0.4
				reasons = append(reasons, fmt.Sprintf("network activity from unnamed process (pid %d)", c.Pid))
			}
		}

		if score < p.cfg.AnomalyThreshold {
			continue
		}
		if score > 1 {
			score = 1
		}
		severity := 3
		if _, ok := p.knownBad[c.Raddr.IP]; ok {
			severity = 4
		}
		threats = append(threats, threat.Threat{
			Type:       threat.TypeSuspiciousConnection,
			Source:     c.Raddr.IP,
			Severity:   severity,
			Confidence: score,
			Timestamp:  now,
			Details: map[string]any{
				"local_address":            fmt.Sprintf("%s:%d", c.Laddr.IP, c.Laddr.Port),
				threat.DetailRemoteAddress: fmt.Sprintf("%s:%d", c.Raddr.IP, c.Raddr.Port),
				threat.DetailPID:           int(c.Pid),
				threat.DetailProcessName:   name,
				"state":                    c.Status,
				threat.DetailAnomalyReasons: reasons,
			},
		})
	}

	threats = append(threats, p.detectPortScans(now)...)
	return threats, nil
}

func (p *NetworkProbe) trackPort(ip string, port uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.portHistory[ip]
	if !ok {
		m = make(map[uint32]time.Time)
		p.portHistory[ip] = m
	}
	m[port] = time.Now()
}

// detectPortScans flags peers that touched many distinct local-facing ports
// within the tracking window. History is swept lazily on a fixed cadence.
func (p *NetworkProbe) detectPortScans(now time.Time) []threat.Threat {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastCleanup) > portHistoryCleanup {
		cutoff := time.Now().Add(-portHistoryWindow)
		for ip, ports := range p.portHistory {
			for port, seen := range ports {
				if seen.Before(cutoff) {
					delete(ports, port)
				}
			}
			if len(ports) == 0 {
				delete(p.portHistory, ip)
			}
		}
		p.lastCleanup = time.Now()
	}

	var threats []threat.Threat
	for ip, ports := range p.portHistory {
		if len(ports) <= p.cfg.PortScanThreshold {
			continue
		}
		// Bare IP keeps the identity stable across passes; the block
		// executor accepts addresses without a port.
		threats = append(threats, threat.Threat{
			Type:       threat.TypeSuspiciousConnection,
			Source:     ip,
			Severity:   3,
			Confidence: 0.75,
			Timestamp:  now,
			Details: map[string]any{
				threat.DetailRemoteAddress: ip,
				"connection_count":         len(ports),
				threat.DetailAnomalyReasons: []string{
					"many distinct ports contacted in a short window",
				},
			},
		})
	}
	return threats
}

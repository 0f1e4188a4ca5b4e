package detect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/leshsec/lesh/internal/threat"
)

var failedLoginRe = regexp.MustCompile(
	`Failed password for (?:invalid user )?(\S+) from (\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)

// LogProbeConfig tunes the auth-log probe.
type LogProbeConfig struct {
	// Path is the auth log to tail, e.g. /var/log/auth.log.
	Path string

	// FailureThreshold is the failed-attempt count per source IP within
	// the window that constitutes a brute-force attempt.
	FailureThreshold int

	// Window bounds how long failures are remembered.
	Window time.Duration
}

// LogProbe tails an auth log between passes and reports source IPs with
// bursts of failed logins as brute-force attempts.
type LogProbe struct {
	cfg LogProbeConfig

	mu       sync.Mutex
	offset   int64
	failures map[string][]attempt // source IP -> recent failures
}

type attempt struct {
	user string
	at   time.Time
}

func NewLogProbe(cfg LogProbeConfig) *LogProbe {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	return &LogProbe{
		cfg:      cfg,
		offset:   -1, // start at EOF so old history is not replayed at boot
		failures: make(map[string][]attempt),
	}
}

func (p *LogProbe) Name() string { return "logscan" }

func (p *LogProbe) Detect(ctx context.Context) ([]threat.Threat, error) {
	f, err := os.Open(p.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open auth log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat auth log: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.offset
	if start < 0 || start > info.Size() {
		// First pass, or the log was rotated underneath us.
		start = info.Size()
		if p.offset < 0 {
			p.offset = start
			return nil, nil
		}
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek auth log: %w", err)
	}

	now := time.Now().UTC()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		m := failedLoginRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		user, ip := m[1], m[2]
		p.failures[ip] = append(p.failures[ip], attempt{user: user, at: now})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read auth log: %w", err)
	}
	p.offset = info.Size()

	return p.sweepLocked(now), nil
}

// sweepLocked prunes stale attempts and reports IPs over threshold. Called
// with p.mu held.
func (p *LogProbe) sweepLocked(now time.Time) []threat.Threat {
	cutoff := now.Add(-p.cfg.Window)
	var threats []threat.Threat
	for ip, attempts := range p.failures {
		kept := attempts[:0]
		users := map[string]struct{}{}
		for _, a := range attempts {
			if a.at.After(cutoff) {
				kept = append(kept, a)
				users[a.user] = struct{}{}
			}
		}
		if len(kept) == 0 {
			delete(p.failures, ip)
			continue
		}
		p.failures[ip] = kept
		if len(kept) < p.cfg.FailureThreshold {
			continue
		}

		confidence := 0.7 + 0.05*float64(len(kept)-p.cfg.FailureThreshold)
		if confidence > 0.99 {
			confidence = 0.99
		}
		threats = append(threats, threat.Threat{
			Type:       threat.TypeBruteForceAttempt,
			Source:     ip,
			Severity:   4,
			Confidence: confidence,
			Timestamp:  now,
			Details: map[string]any{
				threat.DetailRemoteAddress: ip,
				"attempt_count":            len(kept),
				"distinct_users":           len(users),
				threat.DetailAnomalyReasons: []string{
					"repeated failed logins from a single source",
				},
			},
		})
		// Reported; drop the history so the same burst is not re-counted
		// into the next pass. Continuing attacks re-cross the threshold.
		delete(p.failures, ip)
	}
	return threats
}

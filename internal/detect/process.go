package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/leshsec/lesh/internal/threat"
)

// Names associated with mining, credential theft and lateral movement tools.
var suspiciousProcessNames = []string{
	"miner", "xmrig", "cryptonight", "monero",
	"mimikatz", "psexec", "powersploit", "bitsadmin",
}

var suspiciousCmdlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)base64 -d`),
	regexp.MustCompile(`(?i)wget .* \| *(ba)?sh`),
	regexp.MustCompile(`(?i)curl .* \| *(ba)?sh`),
	regexp.MustCompile(`(?i)powershell.*bypass`),
	regexp.MustCompile(`(?i)powershell.*hidden`),
	regexp.MustCompile(`(?i)powershell.*encodedcommand`),
}

// ProcessSample is the per-process view the probe scores. Extracted as a
// plain struct so tests can inject samples without live processes.
type ProcessSample struct {
	PID           int32
	Name          string
	Username      string
	Cmdline       string
	CPUPercent    float64
	MemoryPercent float64
}

// ProcessProbeConfig tunes the process probe.
type ProcessProbeConfig struct {
	// AnomalyThreshold is the score in [0,1] above which a process is
	// reported.
	AnomalyThreshold float64
}

// ProcessProbe reports processes with suspicious names, suspicious command
// lines, or runaway resource usage.
type ProcessProbe struct {
	cfg ProcessProbeConfig

	// Injectable for tests.
	listProcesses func(ctx context.Context) ([]ProcessSample, error)
}

func NewProcessProbe(cfg ProcessProbeConfig) *ProcessProbe {
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.7
	}
	return &ProcessProbe{
		cfg:           cfg,
		listProcesses: liveProcessSamples,
	}
}

func (p *ProcessProbe) Name() string { return "process" }

func (p *ProcessProbe) Detect(ctx context.Context) ([]threat.Threat, error) {
	procs, err := p.listProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	now := time.Now().UTC()
	var threats []threat.Threat
	for _, proc := range procs {
		score := 0.0
		var reasons []string

		lower := strings.ToLower(proc.Name)
		for _, bad := range suspiciousProcessNames {
			if strings.Contains(lower, bad) {
				score += 0.7
				reasons = append(reasons, fmt.Sprintf("suspicious process name %q", proc.Name))
				break
			}
		}
		if proc.CPUPercent > 90 {
			score += 0.4
			reasons = append(reasons, fmt.Sprintf("high CPU usage (%.0f%%)", proc.CPUPercent))
		}
		if proc.MemoryPercent > 50 {
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("high memory usage (%.0f%%)", proc.MemoryPercent))
		}
		for _, re := range suspiciousCmdlinePatterns {
			if proc.Cmdline != "" && re.MatchString(proc.Cmdline) {
				score += 0.6
				reasons = append(reasons, "suspicious command line pattern")
				break
			}
		}

		if score < p.cfg.AnomalyThreshold {
			continue
		}
		if score > 1 {
			score = 1
		}
		threats = append(threats, threat.Threat{
			Type:       threat.TypeSuspiciousProcess,
			Source:     fmt.Sprintf("PID:%d", proc.PID),
			Severity:   4,
			Confidence: score,
			Timestamp:  now,
			Details: map[string]any{
				threat.DetailPID:          int(proc.PID),
				threat.DetailProcessName:  proc.Name,
				threat.DetailUsername:     proc.Username,
				"cmdline":                 proc.Cmdline,
				"cpu_percent":             proc.CPUPercent,
				"memory_percent":          proc.MemoryPercent,
				threat.DetailAnomalyReasons: reasons,
			},
		})
	}
	return threats, nil
}

func liveProcessSamples(ctx context.Context) ([]ProcessSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	samples := make([]ProcessSample, 0, len(procs))
	for _, proc := range procs {
		// Processes can vanish mid-iteration; skip on any lookup error.
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		s := ProcessSample{PID: proc.Pid, Name: name}
		if user, err := proc.UsernameWithContext(ctx); err == nil {
			s.Username = user
		}
		if cmd, err := proc.CmdlineWithContext(ctx); err == nil {
			s.Cmdline = cmd
		}
		if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
			s.CPUPercent = cpu
		}
		if mem, err := proc.MemoryPercentWithContext(ctx); err == nil {
			s.MemoryPercent = float64(mem)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

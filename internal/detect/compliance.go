package detect

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/leshsec/lesh/internal/threat"
)

// complianceCheck inspects one configuration aspect and returns a finding
// description, or "" when compliant.
type complianceCheck struct {
	rule     string
	target   string // file or subsystem the rule applies to
	severity int
	run      func(ctx context.Context) (finding string, err error)
}

// ComplianceProbeConfig tunes the compliance probe.
type ComplianceProbeConfig struct {
	// SSHDConfigPath overrides the sshd_config location, for tests.
	SSHDConfigPath string

	// WorldWritablePaths are system files checked for loose permissions.
	WorldWritablePaths []string
}

// ComplianceProbe checks host configuration against security baselines and
// reports deviations as low-severity compliance issues.
type ComplianceProbe struct {
	checks []complianceCheck
}

func NewComplianceProbe(cfg ComplianceProbeConfig) *ComplianceProbe {
	sshd := cfg.SSHDConfigPath
	if sshd == "" {
		sshd = "/etc/ssh/sshd_config"
	}
	paths := cfg.WorldWritablePaths
	if paths == nil {
		paths = []string{"/etc/passwd", "/etc/shadow", "/etc/sudoers"}
	}

	p := &ComplianceProbe{}
	p.checks = []complianceCheck{
		{
			rule:     "ssh_root_login_disabled",
			target:   sshd,
			severity: 2,
			run:      func(ctx context.Context) (string, error) { return checkRootLogin(sshd) },
		},
	}
	for _, path := range paths {
		path := path
		p.checks = append(p.checks, complianceCheck{
			rule:     "system_file_permissions",
			target:   path,
			severity: 3,
			run:      func(ctx context.Context) (string, error) { return checkWorldWritable(path) },
		})
	}
	return p
}

func (p *ComplianceProbe) Name() string { return "compliance" }

func (p *ComplianceProbe) Detect(ctx context.Context) ([]threat.Threat, error) {
	now := time.Now().UTC()
	var threats []threat.Threat
	for _, check := range p.checks {
		select {
		case <-ctx.Done():
			return threats, ctx.Err()
		default:
		}
		finding, err := check.run(ctx)
		if err != nil {
			// A file we cannot read is not a finding; skip the check.
			continue
		}
		if finding == "" {
			continue
		}
		threats = append(threats, threat.Threat{
			Type:       threat.TypeComplianceIssue,
			Source:     "compliance:" + check.rule,
			Severity:   check.severity,
			Confidence: 1.0,
			Timestamp:  now,
			Details: map[string]any{
				threat.DetailRule:     check.rule,
				threat.DetailFilePath: check.target,
				"finding":             finding,
			},
		})
	}
	return threats, nil
}

func checkRootLogin(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.EqualFold(fields[0], "PermitRootLogin") &&
			strings.EqualFold(fields[1], "yes") {
			return "sshd permits direct root login", nil
		}
	}
	return "", scanner.Err()
}

func checkWorldWritable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Mode().Perm()&0o002 != 0 {
		return fmt.Sprintf("%s is world-writable (%v)", path, info.Mode().Perm()), nil
	}
	return "", nil
}

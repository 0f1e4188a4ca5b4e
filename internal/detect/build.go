package detect

import (
	"github.com/leshsec/lesh/internal/config"
)

// BuildProbes constructs the probes named by detection.enabled_modules, in
// the configured order. Unknown names are rejected at config validation, so
// this only sees known modules.
func BuildProbes(cfg config.DetectionConfig) []Probe {
	var probes []Probe
	for _, m := range cfg.EnabledModules {
		switch m {
		case "network":
			probes = append(probes, NewNetworkProbe(NetworkProbeConfig{
				AnomalyThreshold:  cfg.Thresholds["network_anomaly"],
				KnownBadIPs:       cfg.KnownBadIPs,
				PortScanThreshold: cfg.PortScanThreshold,
			}))
		case "process":
			probes = append(probes, NewProcessProbe(ProcessProbeConfig{
				AnomalyThreshold: cfg.Thresholds["system_anomaly"],
			}))
		case "logscan":
			probes = append(probes, NewLogProbe(LogProbeConfig{
				Path: cfg.AuthLogPath,
			}))
		case "compliance":
			probes = append(probes, NewComplianceProbe(ComplianceProbeConfig{}))
		}
	}
	return probes
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a config duration. Bare numbers are interpreted as
// seconds for compatibility with numeric-second configs; otherwise the value
// must be a Go duration string such as "90s" or "5m".
func ParseDuration(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseFloat(in, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(in)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// MustDuration parses s, falling back to def when s is empty or malformed.
// Config validation guarantees parseability for loaded configs, so the
// fallback only matters for zero-value structs in tests.
func MustDuration(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Typed accessors used by component wiring.

func (c DetectionConfig) IntervalDuration() time.Duration {
	return MustDuration(c.Interval, 60*time.Second)
}

func (c DetectionConfig) ErrorBackoffDuration() time.Duration {
	return MustDuration(c.ErrorBackoff, 10*time.Second)
}

func (c DetectionConfig) ProbeTimeoutDuration() time.Duration {
	return MustDuration(c.ProbeTimeout, 15*time.Second)
}

func (c ResponseConfig) CooldownDuration() time.Duration {
	return MustDuration(c.CooldownPeriod, 300*time.Second)
}

func (c ResponseConfig) AutoResponseEnabled() bool {
	return c.AutoResponse == nil || *c.AutoResponse
}

func (c SystemConfig) HealthCheckIntervalDuration() time.Duration {
	return MustDuration(c.HealthCheckInterval, 120*time.Second)
}

func (c AnalyticsConfig) IntervalDuration() time.Duration {
	return MustDuration(c.Interval, 300*time.Second)
}

func (c ChatChannelConfig) TimeoutDuration() time.Duration {
	return MustDuration(c.Timeout, 5*time.Second)
}

func (c WebhookChannelConfig) TimeoutDuration() time.Duration {
	return MustDuration(c.Timeout, 5*time.Second)
}

func (c WebhookChannelConfig) RetryDelayDuration() time.Duration {
	return MustDuration(c.RetryDelay, time.Second)
}

func (c ServerHTTPConfig) ReadTimeoutDuration() time.Duration {
	return MustDuration(c.ReadTimeout, 30*time.Second)
}

func (c ServerHTTPConfig) WriteTimeoutDuration() time.Duration {
	return MustDuration(c.WriteTimeout, 60*time.Second)
}

// Package health samples host resource usage and grades it against the
// configured warning and error thresholds.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/leshsec/lesh/internal/config"
)

// Level grades one check result.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Status is the outcome of one health pass.
type Status struct {
	Healthy bool      `json:"healthy"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Checked time.Time `json:"checked"`

	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DiskPercent   float64  `json:"disk_percent"`
	Issues        []string `json:"issues,omitempty"`
}

// Checker samples CPU, memory, and disk usage. The samplers are swappable for
// tests.
type Checker struct {
	warningPercent float64
	errorPercent   float64
	diskPath       string
	logger         *slog.Logger

	cpuPercent  func(ctx context.Context) (float64, error)
	memPercent  func(ctx context.Context) (float64, error)
	diskPercent func(ctx context.Context, path string) (float64, error)

	mu   sync.RWMutex
	last Status
}

func NewChecker(cfg config.HealthThresholds, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	diskPath := cfg.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	return &Checker{
		warningPercent: cfg.WarningPercent,
		errorPercent:   cfg.ErrorPercent,
		diskPath:       diskPath,
		logger:         logger.With("component", "health"),
		cpuPercent: func(ctx context.Context) (float64, error) {
			vals, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(vals) == 0 {
				return 0, fmt.Errorf("sample cpu: %w", err)
			}
			return vals[0], nil
		},
		memPercent: func(ctx context.Context) (float64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, fmt.Errorf("sample memory: %w", err)
			}
			return vm.UsedPercent, nil
		},
		diskPercent: func(ctx context.Context, path string) (float64, error) {
			du, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return 0, fmt.Errorf("sample disk %s: %w", path, err)
			}
			return du.UsedPercent, nil
		},
	}
}

// Check runs one health pass. A sampler error degrades that signal to zero
// with an issue recorded rather than failing the pass.
func (c *Checker) Check(ctx context.Context) Status {
	st := Status{Checked: time.Now().UTC(), Level: LevelOK}

	var err error
	if st.CPUPercent, err = c.cpuPercent(ctx); err != nil {
		st.Issues = append(st.Issues, err.Error())
	}
	if st.MemoryPercent, err = c.memPercent(ctx); err != nil {
		st.Issues = append(st.Issues, err.Error())
	}
	if st.DiskPercent, err = c.diskPercent(ctx, c.diskPath); err != nil {
		st.Issues = append(st.Issues, err.Error())
	}

	grade := func(name string, pct float64) {
		switch {
		case pct >= c.errorPercent:
			st.Level = LevelError
			st.Issues = append(st.Issues, fmt.Sprintf("%s usage critical: %.1f%%", name, pct))
		case pct >= c.warningPercent:
			if st.Level == LevelOK {
				st.Level = LevelWarning
			}
			st.Issues = append(st.Issues, fmt.Sprintf("%s usage high: %.1f%%", name, pct))
		}
	}
	grade("cpu", st.CPUPercent)
	grade("memory", st.MemoryPercent)
	grade("disk", st.DiskPercent)

	st.Healthy = st.Level != LevelError
	if len(st.Issues) == 0 {
		st.Message = "system healthy"
	} else {
		st.Message = fmt.Sprintf("%d health issue(s) detected", len(st.Issues))
		c.logger.Warn("health check found issues", "level", st.Level, "issues", st.Issues)
	}

	c.mu.Lock()
	c.last = st
	c.mu.Unlock()
	return st
}

// Last returns the most recent status, or a zero Status before the first
// pass.
func (c *Checker) Last() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

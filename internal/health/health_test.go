package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leshsec/lesh/internal/config"
)

func newTestChecker(cpu, mem, disk float64) *Checker {
	c := NewChecker(config.HealthThresholds{WarningPercent: 80, ErrorPercent: 95}, nil)
	c.cpuPercent = func(context.Context) (float64, error) { return cpu, nil }
	c.memPercent = func(context.Context) (float64, error) { return mem, nil }
	c.diskPercent = func(context.Context, string) (float64, error) { return disk, nil }
	return c
}

func TestCheck_Healthy(t *testing.T) {
	c := newTestChecker(20, 45, 60)
	st := c.Check(context.Background())
	assert.True(t, st.Healthy)
	assert.Equal(t, LevelOK, st.Level)
	assert.Empty(t, st.Issues)
	assert.Equal(t, "system healthy", st.Message)
}

func TestCheck_WarningAndError(t *testing.T) {
	st := newTestChecker(85, 45, 60).Check(context.Background())
	assert.True(t, st.Healthy, "a warning alone is still healthy")
	assert.Equal(t, LevelWarning, st.Level)
	require.Len(t, st.Issues, 1)
	assert.Contains(t, st.Issues[0], "cpu usage high")

	st = newTestChecker(85, 97, 60).Check(context.Background())
	assert.False(t, st.Healthy)
	assert.Equal(t, LevelError, st.Level)
	assert.Len(t, st.Issues, 2)
}

func TestCheck_SamplerFailureDegrades(t *testing.T) {
	c := newTestChecker(20, 45, 60)
	c.diskPercent = func(context.Context, string) (float64, error) {
		return 0, errors.New("sample disk /: statfs failed")
	}
	st := c.Check(context.Background())
	assert.True(t, st.Healthy, "a sampler failure does not fail the pass")
	require.Len(t, st.Issues, 1)
	assert.Contains(t, st.Issues[0], "statfs failed")
}

func TestLast(t *testing.T) {
	c := newTestChecker(20, 45, 60)
	assert.Zero(t, c.Last().Checked)
	st := c.Check(context.Background())
	assert.Equal(t, st, c.Last())
}

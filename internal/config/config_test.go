package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Sane(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.Detection.IntervalDuration())
	assert.Equal(t, 10*time.Second, cfg.Detection.ErrorBackoffDuration())
	assert.Equal(t, 300*time.Second, cfg.Response.CooldownDuration())
	assert.Equal(t, 3, cfg.Response.MaxSeverity)
	assert.True(t, cfg.Response.AutoResponseEnabled())
	assert.Equal(t, []string{"network", "process", "logscan"}, cfg.Detection.EnabledModules)
	assert.InDelta(t, 0.8, cfg.Detection.Thresholds["network_anomaly"], 1e-9)
	require.NoError(t, validateConfig(cfg))
}

func TestLoadFromBytes_Overrides(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
detection:
  interval: 30s
  enabled_modules: [network]
response:
  auto_response: false
  max_severity: 2
  cooldown_period: "120"
  notification:
    chat:
      enabled: true
      webhook_url: https://hooks.example.com/T000/B000
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Detection.IntervalDuration())
	assert.Equal(t, []string{"network"}, cfg.Detection.EnabledModules)
	assert.False(t, cfg.Response.AutoResponseEnabled())
	assert.Equal(t, 2, cfg.Response.MaxSeverity)
	assert.Equal(t, 120*time.Second, cfg.Response.CooldownDuration())
	// Defaults still fill the gaps.
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTP.Addr)
	assert.Equal(t, 4, cfg.Response.Notification.Chat.MinSeverity)
}

func TestLoadFromBytes_BareSecondsDuration(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("detection:\n  interval: \"45\"\n"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Detection.IntervalDuration())
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad severity", "response:\n  max_severity: 9\n", "max_severity"},
		{"bad module", "detection:\n  enabled_modules: [psychic]\n", "unknown detection module"},
		{"bad duration", "detection:\n  interval: soon\n", "detection.interval"},
		{"bad threshold", "detection:\n  thresholds:\n    network_anomaly: 1.5\n", "thresholds"},
		{"bad cidr", "response:\n  safe_list:\n    networks: [999.1.2.3]\n", "safe_list.networks"},
		{"bad glob", "response:\n  safe_list:\n    processes: [\"[\"]\n", "safe_list.processes"},
		{"email incomplete", "response:\n  notification:\n    email:\n      enabled: true\n", "email"},
		{"chat missing url", "response:\n  notification:\n    chat:\n      enabled: true\n", "chat"},
		{"api key empty", "auth:\n  type: api_key\n", "api_key"},
		{"bad auth", "auth:\n  type: mtls\n", "auth.type"},
		{"bad log level", "logging:\n  level: chatty\n", "logging.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	t.Setenv("LESH_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("LESH_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"300":  300 * time.Second,
		"1.5":  1500 * time.Millisecond,
		"90s":  90 * time.Second,
		"5m":   5 * time.Minute,
		" 10 ": 10 * time.Second,
	} {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "soon", "-5"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("response:\n  max_severity: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	s := NewStore(path, cfg, nil)

	var got *Config
	s.OnReload(func(c *Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte("response:\n  max_severity: 2\n"), 0o644))
	require.NoError(t, s.Reload())

	assert.Equal(t, 2, s.Current().Response.MaxSeverity)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Response.MaxSeverity)
}

func TestStore_ReloadKeepsSnapshotOnInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("response:\n  max_severity: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	s := NewStore(path, cfg, nil)

	require.NoError(t, os.WriteFile(path, []byte("response:\n  max_severity: 11\n"), 0o644))
	require.Error(t, s.Reload())
	assert.Equal(t, 3, s.Current().Response.MaxSeverity)
}

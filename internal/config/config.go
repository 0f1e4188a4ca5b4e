package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

type Config struct {
	System    SystemConfig    `yaml:"system"`
	Detection DetectionConfig `yaml:"detection"`
	Response  ResponseConfig  `yaml:"response"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`

	Development DevelopmentConfig `yaml:"development"`
}

type SystemConfig struct {
	// Name identifies the agent in notifications and logs.
	Name string `yaml:"name"`

	// HealthCheckInterval is how often the health loop runs.
	HealthCheckInterval string `yaml:"health_check_interval"`

	Health HealthThresholds `yaml:"health"`
}

// HealthThresholds set the resource-usage percentages at which health checks
// report warnings and errors.
type HealthThresholds struct {
	WarningPercent float64 `yaml:"warning_percent"`
	ErrorPercent   float64 `yaml:"error_percent"`
	DiskPath       string  `yaml:"disk_path"`
}

type DetectionConfig struct {
	// Interval is the nominal wait between detection passes.
	Interval string `yaml:"interval"`

	// ErrorBackoff is the shorter wait used after a failed pass.
	ErrorBackoff string `yaml:"error_backoff"`

	// ProbeTimeout bounds a single probe invocation so one slow probe
	// cannot starve the detection loop.
	ProbeTimeout string `yaml:"probe_timeout"`

	// EnabledModules lists probes to run, in order. Known modules:
	// network, process, logscan, compliance.
	EnabledModules []string `yaml:"enabled_modules"`

	// Thresholds are per-signal anomaly score cutoffs in [0,1].
	Thresholds map[string]float64 `yaml:"thresholds"`

	// AuthLogPath is the log file scanned for failed-login bursts.
	AuthLogPath string `yaml:"auth_log_path"`

	// KnownBadIPs are flagged immediately when seen as a remote peer.
	KnownBadIPs []string `yaml:"known_bad_ips"`

	// PortScanThreshold is the distinct-port count per remote IP above
	// which a port scan is reported.
	PortScanThreshold int `yaml:"port_scan_threshold"`
}

type ResponseConfig struct {
	// AutoResponse globally enables automatic action dispatch. When
	// disabled only notifications are sent.
	AutoResponse *bool `yaml:"auto_response"`

	// MaxSeverity is the highest severity (1-5) eligible for automatic
	// response; above it a human is notified instead.
	MaxSeverity int `yaml:"max_severity"`

	// CooldownPeriod suppresses repeated responses to the same threat
	// identity within the window.
	CooldownPeriod string `yaml:"cooldown_period"`

	// Simulation logs intended effects without changing the system.
	Simulation bool `yaml:"simulation"`

	SafeList     SafeListConfig     `yaml:"safe_list"`
	Notification NotificationConfig `yaml:"notification"`
}

// SafeListConfig names targets that response actions must never touch,
// regardless of simulation mode.
type SafeListConfig struct {
	// Networks are IPs or CIDRs never blocked. Loopback and unspecified
	// addresses are always protected even if this list is empty.
	Networks []string `yaml:"networks"`

	// Processes are glob patterns of process names never terminated.
	Processes []string `yaml:"processes"`

	// Users are process owners never terminated.
	Users []string `yaml:"users"`
}

type NotificationConfig struct {
	Email   EmailChannelConfig   `yaml:"email"`
	Chat    ChatChannelConfig    `yaml:"chat"`
	Webhook WebhookChannelConfig `yaml:"webhook"`
}

type EmailChannelConfig struct {
	Enabled bool `yaml:"enabled"`

	// MinSeverity is the lowest severity routed to this channel.
	MinSeverity int `yaml:"min_severity"`

	SMTPAddr string   `yaml:"smtp_addr"` // host:port
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

type ChatChannelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity int    `yaml:"min_severity"`
	WebhookURL  string `yaml:"webhook_url"`
	Timeout     string `yaml:"timeout"`
}

type WebhookChannelConfig struct {
	Enabled     bool              `yaml:"enabled"`
	MinSeverity int               `yaml:"min_severity"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     string            `yaml:"timeout"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  string            `yaml:"retry_delay"`
}

type AnalyticsConfig struct {
	// Interval is how often the retention sweep runs.
	Interval string `yaml:"interval"`

	// RetentionDays bounds how long threat/response history is kept.
	RetentionDays int `yaml:"retention_days"`

	// DBPath is the SQLite database file for history.
	DBPath string `yaml:"db_path"`
}

type ServerConfig struct {
	HTTP ServerHTTPConfig `yaml:"http"`
}

type ServerHTTPConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"` // none | api_key
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	Keys       []string `yaml:"keys"`
	HeaderName string   `yaml:"header_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type DevelopmentConfig struct {
	Debug bool `yaml:"debug"`

	PProf DevelopmentPProfConfig `yaml:"pprof"`
}

type DevelopmentPProfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// KnownModules are the probe names accepted in detection.enabled_modules.
var KnownModules = []string{"network", "process", "logscan", "compliance"}

func applyDefaults(cfg *Config) {
	if cfg.System.Name == "" {
		cfg.System.Name = "lesh"
	}
	if cfg.System.HealthCheckInterval == "" {
		cfg.System.HealthCheckInterval = "120s"
	}
	if cfg.System.Health.WarningPercent == 0 {
		cfg.System.Health.WarningPercent = 80
	}
	if cfg.System.Health.ErrorPercent == 0 {
		cfg.System.Health.ErrorPercent = 95
	}
	if cfg.System.Health.DiskPath == "" {
		cfg.System.Health.DiskPath = "/"
	}

	if cfg.Detection.Interval == "" {
		cfg.Detection.Interval = "60s"
	}
	if cfg.Detection.ErrorBackoff == "" {
		cfg.Detection.ErrorBackoff = "10s"
	}
	if cfg.Detection.ProbeTimeout == "" {
		cfg.Detection.ProbeTimeout = "15s"
	}
	if cfg.Detection.EnabledModules == nil {
		cfg.Detection.EnabledModules = []string{"network", "process", "logscan"}
	}
	if cfg.Detection.Thresholds == nil {
		cfg.Detection.Thresholds = map[string]float64{}
	}
	if _, ok := cfg.Detection.Thresholds["network_anomaly"]; !ok {
		cfg.Detection.Thresholds["network_anomaly"] = 0.8
	}
	if _, ok := cfg.Detection.Thresholds["system_anomaly"]; !ok {
		cfg.Detection.Thresholds["system_anomaly"] = 0.7
	}
	if cfg.Detection.AuthLogPath == "" {
		cfg.Detection.AuthLogPath = "/var/log/auth.log"
	}
	if cfg.Detection.PortScanThreshold <= 0 {
		cfg.Detection.PortScanThreshold = 10
	}

	if cfg.Response.AutoResponse == nil {
		t := true
		cfg.Response.AutoResponse = &t
	}
	if cfg.Response.MaxSeverity == 0 {
		cfg.Response.MaxSeverity = 3
	}
	if cfg.Response.CooldownPeriod == "" {
		cfg.Response.CooldownPeriod = "300s"
	}
	if cfg.Response.Notification.Email.MinSeverity == 0 {
		cfg.Response.Notification.Email.MinSeverity = 2
	}
	if cfg.Response.Notification.Chat.MinSeverity == 0 {
		cfg.Response.Notification.Chat.MinSeverity = 4
	}
	if cfg.Response.Notification.Chat.Timeout == "" {
		cfg.Response.Notification.Chat.Timeout = "5s"
	}
	if cfg.Response.Notification.Webhook.MinSeverity == 0 {
		cfg.Response.Notification.Webhook.MinSeverity = 4
	}
	if cfg.Response.Notification.Webhook.Timeout == "" {
		cfg.Response.Notification.Webhook.Timeout = "5s"
	}
	if cfg.Response.Notification.Webhook.RetryDelay == "" {
		cfg.Response.Notification.Webhook.RetryDelay = "1s"
	}

	if cfg.Analytics.Interval == "" {
		cfg.Analytics.Interval = "300s"
	}
	if cfg.Analytics.RetentionDays <= 0 {
		cfg.Analytics.RetentionDays = 30
	}
	if cfg.Analytics.DBPath == "" {
		cfg.Analytics.DBPath = "/var/lib/lesh/history.db"
	}

	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.HTTP.ReadTimeout == "" {
		cfg.Server.HTTP.ReadTimeout = "30s"
	}
	if cfg.Server.HTTP.WriteTimeout == "" {
		cfg.Server.HTTP.WriteTimeout = "60s"
	}

	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Development.PProf.Addr == "" {
		cfg.Development.PProf.Addr = "localhost:6060"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LESH_HTTP_ADDR"); v != "" {
		cfg.Server.HTTP.Addr = v
	}
	if v := os.Getenv("LESH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LESH_DB_PATH"); v != "" {
		cfg.Analytics.DBPath = v
	}
	if v := os.Getenv("LESH_API_KEY"); v != "" {
		cfg.Auth.Type = "api_key"
		cfg.Auth.APIKey.Keys = append(cfg.Auth.APIKey.Keys, v)
	}
}

func validateConfig(cfg *Config) error {
	durations := []struct{ key, val string }{
		{"system.health_check_interval", cfg.System.HealthCheckInterval},
		{"detection.interval", cfg.Detection.Interval},
		{"detection.error_backoff", cfg.Detection.ErrorBackoff},
		{"detection.probe_timeout", cfg.Detection.ProbeTimeout},
		{"response.cooldown_period", cfg.Response.CooldownPeriod},
		{"response.notification.chat.timeout", cfg.Response.Notification.Chat.Timeout},
		{"response.notification.webhook.timeout", cfg.Response.Notification.Webhook.Timeout},
		{"response.notification.webhook.retry_delay", cfg.Response.Notification.Webhook.RetryDelay},
		{"analytics.interval", cfg.Analytics.Interval},
		{"server.http.read_timeout", cfg.Server.HTTP.ReadTimeout},
		{"server.http.write_timeout", cfg.Server.HTTP.WriteTimeout},
	}
	for _, d := range durations {
		v, err := ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.val, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
	}

	if cfg.Response.MaxSeverity < 1 || cfg.Response.MaxSeverity > 5 {
		return fmt.Errorf("response.max_severity must be in 1..5, got %d", cfg.Response.MaxSeverity)
	}

	for _, m := range cfg.Detection.EnabledModules {
		if !knownModule(m) {
			return fmt.Errorf("unknown detection module %q (known: %s)",
				m, strings.Join(KnownModules, ", "))
		}
	}
	for name, v := range cfg.Detection.Thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("detection.thresholds.%s must be in [0,1], got %g", name, v)
		}
	}

	for _, entry := range cfg.Response.SafeList.Networks {
		if !strings.Contains(entry, "/") {
			if net.ParseIP(entry) == nil {
				return fmt.Errorf("invalid response.safe_list.networks entry %q", entry)
			}
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("invalid response.safe_list.networks entry %q: %w", entry, err)
		}
	}
	for _, pat := range cfg.Response.SafeList.Processes {
		if _, err := glob.Compile(pat); err != nil {
			return fmt.Errorf("invalid response.safe_list.processes pattern %q: %w", pat, err)
		}
	}

	if cfg.Response.Notification.Email.Enabled {
		e := cfg.Response.Notification.Email
		if e.SMTPAddr == "" || e.From == "" || len(e.To) == 0 {
			return fmt.Errorf("response.notification.email requires smtp_addr, from and to")
		}
	}
	if cfg.Response.Notification.Chat.Enabled && cfg.Response.Notification.Chat.WebhookURL == "" {
		return fmt.Errorf("response.notification.chat requires webhook_url")
	}
	if cfg.Response.Notification.Webhook.Enabled && cfg.Response.Notification.Webhook.URL == "" {
		return fmt.Errorf("response.notification.webhook requires url")
	}

	switch cfg.Auth.Type {
	case "none":
	case "api_key":
		if len(cfg.Auth.APIKey.Keys) == 0 {
			return fmt.Errorf("auth.type api_key requires at least one key")
		}
	default:
		return fmt.Errorf("invalid auth.type %q", cfg.Auth.Type)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}

	return nil
}

func knownModule(name string) bool {
	for _, m := range KnownModules {
		if m == name {
			return true
		}
	}
	return false
}

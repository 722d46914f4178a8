package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultQueueCapacity   = 4096
	defaultIntervalSeconds = 2.0
)

// Config defines one reporting pipeline. It is immutable once the
// pipeline starts; only the active flag and the flush interval can be
// changed afterwards, through the pipeline's own mutators.
type Config struct {
	// Subsystem names the reporting channel and is attached to every
	// emitted series as the "subsystem" label.
	Subsystem string

	// BackendURL holds one or more comma-separated Prometheus remote
	// write endpoints. Empty means no backend: metrics are aggregated
	// and, if LogMetrics is set, logged, but never sent.
	BackendURL string

	// IntervalSeconds is the flush cadence. Values <= 0 disable the
	// pipeline entirely.
	IntervalSeconds float64

	// LogMetrics emits one log line per flushed metric.
	LogMetrics bool

	// ProcessIntervalSeconds controls self-monitoring of the host
	// process (CPU, memory, fds): negative disables it, zero means
	// "use the flush interval", positive is an explicit cadence.
	ProcessIntervalSeconds int

	// QueueCapacity bounds each sample queue. Samples pushed beyond
	// capacity are dropped.
	QueueCapacity int

	LogLevel string
	Logger   *zap.Logger

	// Sink overrides the backend-URL sink when the host application
	// injects its own transport.
	Sink Sink

	// DNS resolver options for the backend host (optional).
	DNSUDPServers []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers []string // e.g. ["1.1.1.1:853", "9.9.9.9:853"]
	DNSCacheTTL   time.Duration
	DNSTimeout    time.Duration
}

// DefaultConfig returns a configuration with sane defaults and no
// backend configured.
func DefaultConfig() Config {
	return Config{
		Subsystem:              "default",
		IntervalSeconds:        defaultIntervalSeconds,
		ProcessIntervalSeconds: -1,
		QueueCapacity:          defaultQueueCapacity,
		LogLevel:               "info",
	}
}

// LoadConfig reads configuration from (in decreasing priority)
// environment variables (MONITOR_BACKEND_URL, ...) and an optional
// yaml file ./configs/monitor.yaml, falling back to DefaultConfig
// values.
func LoadConfig() (Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("subsystem", def.Subsystem)
	v.SetDefault("backend_url", def.BackendURL)
	v.SetDefault("interval_seconds", def.IntervalSeconds)
	v.SetDefault("log_metrics", def.LogMetrics)
	v.SetDefault("process_interval_seconds", def.ProcessIntervalSeconds)
	v.SetDefault("queue_capacity", def.QueueCapacity)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("monitor")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("monitor")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // file is optional

	cfg := Config{
		Subsystem:              v.GetString("subsystem"),
		BackendURL:             v.GetString("backend_url"),
		IntervalSeconds:        v.GetFloat64("interval_seconds"),
		LogMetrics:             v.GetBool("log_metrics"),
		ProcessIntervalSeconds: v.GetInt("process_interval_seconds"),
		QueueCapacity:          v.GetInt("queue_capacity"),
		LogLevel:               v.GetString("log_level"),
	}

	if cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("queue_capacity must be positive, got %d", cfg.QueueCapacity)
	}

	return cfg, nil
}

// interval converts the configured cadence to a duration, reporting
// false when the pipeline should stay disabled.
func (c Config) interval() (time.Duration, bool) {
	if c.IntervalSeconds <= 0 {
		return 0, false
	}
	return time.Duration(c.IntervalSeconds * float64(time.Second)), true
}

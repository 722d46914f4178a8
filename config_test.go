package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2.0, cfg.IntervalSeconds)
	assert.Equal(t, 4096, cfg.QueueCapacity)
	assert.Equal(t, -1, cfg.ProcessIntervalSeconds)
	assert.Empty(t, cfg.BackendURL)
	assert.False(t, cfg.LogMetrics)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().IntervalSeconds, cfg.IntervalSeconds)
	assert.Equal(t, DefaultConfig().QueueCapacity, cfg.QueueCapacity)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MONITOR_BACKEND_URL", "http://prom:9090/api/v1/write")
	t.Setenv("MONITOR_INTERVAL_SECONDS", "0.5")
	t.Setenv("MONITOR_LOG_METRICS", "true")
	t.Setenv("MONITOR_PROCESS_INTERVAL_SECONDS", "30")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://prom:9090/api/v1/write", cfg.BackendURL)
	assert.Equal(t, 0.5, cfg.IntervalSeconds)
	assert.True(t, cfg.LogMetrics)
	assert.Equal(t, 30, cfg.ProcessIntervalSeconds)
}

func TestLoadConfigRejectsNonPositiveCapacity(t *testing.T) {
	t.Setenv("MONITOR_QUEUE_CAPACITY", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfigInterval(t *testing.T) {
	cfg := DefaultConfig()

	d, ok := cfg.interval()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	cfg.IntervalSeconds = 0
	_, ok = cfg.interval()
	assert.False(t, ok, "non-positive interval disables the pipeline")
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := NewLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, l)
	}

	_, err := NewLogger("loud")
	assert.Error(t, err)
}

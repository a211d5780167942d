package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetDuration(t *testing.T) {
	t.Setenv("LOCK_TTL_TEST", "250ms")
	assert.Equal(t, 250*time.Millisecond, GetDuration("LOCK_TTL_TEST", time.Second))

	t.Setenv("LOCK_TTL_TEST", "soon")
	assert.Equal(t, time.Second, GetDuration("LOCK_TTL_TEST", time.Second))

	assert.Equal(t, 3*time.Second, GetDuration("LOCK_TTL_UNSET", 3*time.Second))
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("STREAM_METRICS_INTERVAL_SECONDS", "2")
	cfg := LoadAPIConfig()

	assert.Equal(t, 2*time.Second, cfg.MetricsInterval)
	assert.Equal(t, 10*time.Minute, cfg.MetricsMaxAge)
	assert.Equal(t, 60*time.Minute, cfg.LogsMaxAge)
	assert.Equal(t, 3, cfg.StreamErrorBudget)
	assert.Equal(t, int64(1_000_000_000), cfg.ContainerNanoCPUs)
}

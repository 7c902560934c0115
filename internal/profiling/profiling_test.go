package profiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	t.Setenv("PYROSCOPE_APPLICATION_NAME", "")
	t.Setenv("PYROSCOPE_SERVER_ADDRESS", "http://pyroscope:4040")
	t.Setenv("PYROSCOPE_BASIC_AUTH_USER", "ops")
	t.Setenv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")

	cfg := Config("gtfs-reconciler")
	assert.Equal(t, "gtfs-reconciler", cfg.ApplicationName)
	assert.Equal(t, "http://pyroscope:4040", cfg.ServerAddress)
	assert.Empty(t, cfg.BasicAuthUser, "credentials need both user and password")

	t.Setenv("PYROSCOPE_BASIC_AUTH_PASSWORD", "secret")
	cfg = Config("gtfs-reconciler")
	assert.Equal(t, "ops", cfg.BasicAuthUser)
	assert.Equal(t, "secret", cfg.BasicAuthPassword)
}

func TestInit_Disabled(t *testing.T) {
	t.Setenv("PYROSCOPE_PROFILING_ENABLED", "false")
	stop := Init("gtfs-reconciler")
	stop()
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/config"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[scheduler]
period = "20ms"

[scheduler.timeouts]
connecting_link = "45s"
connected = "0s"

[health]
auto_recovery = false

[health.weights]
network = 0.5

[network]
smoothing = 0.25

[[network.candidates]]
id = "depot"
credential = "secret"
priority = 1
auto_connect = true

[[network.candidates]]
id = "cabin"
priority = 2

[network.sim.conditions]
depot = "poor"

[persistence]
backend = "memory"

[telemetry]
enabled = true
db_path = "/tmp/telemetry.db"
`)
	t.Setenv("STREAMCTL_CONFIG", path)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.FileUsed())
	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel())
	assert.Equal(t, 20*time.Millisecond, cfg.Scheduler.Period)
	assert.False(t, cfg.Health.AutoRecovery)
	assert.InDelta(t, 0.5, cfg.Health.Weights.Network, 1e-9)
	assert.InDelta(t, 0.3, cfg.Health.Weights.Memory, 1e-9, "unset weights keep their defaults")
	assert.InDelta(t, 0.25, cfg.Network.Smoothing, 1e-9)
	assert.Equal(t, "poor", cfg.Network.Sim.Conditions["depot"])
	assert.Equal(t, "memory", cfg.Persistence.Backend)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/tmp/telemetry.db", cfg.TelemetryConfig().DBPath)

	require.Len(t, cfg.Network.Candidates, 2)
	assert.Equal(t, "depot", cfg.Network.Candidates[0].ID)
	assert.Equal(t, "secret", cfg.Network.Candidates[0].Credential)
	assert.True(t, cfg.Network.Candidates[0].AutoConnect)
	assert.Equal(t, 2, cfg.Network.Candidates[1].Priority)

	timeouts := cfg.SchedulerConfig().Timeouts
	assert.Equal(t, 45*time.Second, timeouts[scheduler.ConnectingLink])
	assert.Equal(t, time.Duration(0), timeouts[scheduler.Connected])
	assert.Equal(t, 10*time.Second, timeouts[scheduler.Initializing])
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STREAMCTL_CONFIG", "")

	cfg, err := config.Load(config.WithConfigFile(writeConfig(t, "")))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, scheduler.DefaultConfig(), cfg.SchedulerConfig())
	assert.Equal(t, "sim", cfg.Network.Driver)
	assert.Equal(t, "file", cfg.Persistence.Backend)
	assert.True(t, cfg.Health.AutoRecovery)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 100, cfg.Events.QueueSize)
	assert.Equal(t, 32, cfg.Events.MaxDispatch)
	assert.Empty(t, cfg.Network.Candidates)

	th := cfg.Thresholds()
	assert.Equal(t, 5, th.Breaker.FailureThreshold)
	assert.InDelta(t, 0.3, th.Smoothing, 1e-9)
	assert.Equal(t, -85, th.Selector.SwitchBelowRSSI)
	assert.InDelta(t, 90.0, th.Health.CPULoad, 1e-9)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
[status]
listen = "127.0.0.1:1000"

[network.server]
address = "file:9000"
`)
	t.Setenv("STREAMCTL_NETWORK_SERVER_ADDRESS", "env:9000")
	t.Setenv("STREAMCTL_STATUS_LISTEN", "127.0.0.1:2000")

	cfg, err := config.Load(
		config.WithConfigFile(path),
		config.WithArgs([]string{"--listen", "127.0.0.1:3000", "--debug"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "env:9000", cfg.Network.Server.Address, "env overrides file")
	assert.Equal(t, "127.0.0.1:3000", cfg.Status.Listen, "flag overrides env")
	assert.True(t, cfg.Debug)
}

func TestLoadConfigFlag(t *testing.T) {
	path := writeConfig(t, `
[events]
nats_url = "nats://broker:4222"
`)

	cfg, err := config.Load(config.WithArgs([]string{"--config", path}))
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.Events.NATSURL)
}

func TestLoadCustomEnvPrefix(t *testing.T) {
	t.Setenv("NODE_PID_FILE", "/run/node.pid")

	cfg, err := config.Load(
		config.WithConfigFile(writeConfig(t, "")),
		config.WithEnvPrefix("NODE"),
	)
	require.NoError(t, err)
	assert.Equal(t, "/run/node.pid", cfg.PIDFile)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load(config.WithConfigFile(path))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrRead))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrRead))
}

func TestLoadUnknownFlag(t *testing.T) {
	_, err := config.Load(
		config.WithConfigFile(writeConfig(t, "")),
		config.WithArgs([]string{"--no-such-flag"}),
	)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "log level",
			content: "[log]\nlevel = \"loud\"",
			field:   "log.level",
		},
		{
			name:    "driver",
			content: "[network]\ndriver = \"nl80211\"",
			field:   "network.driver",
		},
		{
			name:    "smoothing",
			content: "[network]\nsmoothing = 1.5",
			field:   "network.smoothing",
		},
		{
			name:    "duplicate candidate",
			content: "[[network.candidates]]\nid = \"a\"\n[[network.candidates]]\nid = \"a\"",
			field:   "network.candidates",
		},
		{
			name:    "scheme",
			content: "[network.server]\nscheme = \"udp\"",
			field:   "network.server.scheme",
		},
		{
			name:    "condition",
			content: "[network.sim.conditions]\ndepot = \"stormy\"",
			field:   "network.sim.conditions.depot",
		},
		{
			name:    "backend",
			content: "[persistence]\nbackend = \"nvram\"",
			field:   "persistence.backend",
		},
		{
			name:    "status listen",
			content: "[status]\nlisten = \"\"",
			field:   "status.listen",
		},
		{
			name:    "scheduler period",
			content: "[scheduler]\nperiod = \"0s\"",
			field:   "scheduler",
		},
		{
			name:    "degradation order",
			content: "[degradation]\nsafe_below = 0.9",
			field:   "degradation",
		},
		{
			name:    "telemetry path",
			content: "[telemetry]\nenabled = true\ndb_path = \"\"",
			field:   "telemetry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(config.WithConfigFile(writeConfig(t, tt.content)))
			require.Error(t, err)

			var verr config.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field())
			assert.NotEmpty(t, verr.Reason())
		})
	}
}

func TestLogLevel(t *testing.T) {
	assert.True(t, config.LogLevelWarning.IsValid())
	assert.False(t, config.LogLevel("trace").IsValid())
	assert.Equal(t, "error", config.LogLevelError.String())
}

package main

import (
	"path/filepath"
	"testing"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/config"
	"codeberg.org/mutker/streamctl/internal/persistence"
	"codeberg.org/mutker/streamctl/internal/sim"
	"codeberg.org/mutker/streamctl/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(
		config.WithConfigFile(filepath.Join("testdata", "streamctl.toml")),
		config.WithArgs([]string{"--state-dir", dir, "--pid-file", filepath.Join(dir, "streamctl.pid")}),
	)
	require.NoError(t, err)
	cfg.Persistence.Path = filepath.Join(dir, "state")
	return cfg
}

func TestOpenStore(t *testing.T) {
	cfg := testConfig(t)

	for _, backend := range []string{"file", "badger", "memory"} {
		t.Run(backend, func(t *testing.T) {
			cfg.Persistence.Backend = backend
			cfg.Persistence.Path = filepath.Join(t.TempDir(), "state")

			store, err := openStore(cfg)
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Save([]byte{1, 2, 3}))
			got, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3}, got)
		})
	}
}

func TestNewDialer(t *testing.T) {
	d, err := newDialer("sim")
	require.NoError(t, err)
	assert.IsType(t, &sim.Dialer{}, d)

	d, err = newDialer("tcp")
	require.NoError(t, err)
	assert.IsType(t, transport.TCPDialer{}, d)

	_, err = newDialer("carrier-pigeon")
	assert.Error(t, err)
}

func TestNewSimLinkConditions(t *testing.T) {
	cfg := testConfig(t)
	link := newSimLink(cfg, clock.NewFake(0))

	depot, ok := link.SignalOf("depot")
	require.True(t, ok)
	assert.Equal(t, sim.Poor.RSSI(), depot)

	cabin, ok := link.SignalOf("cabin")
	require.True(t, ok)
	assert.Equal(t, sim.Good.RSSI(), cabin)
}

func TestAssembleAndBoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.Backend = "memory"

	markers := persistence.NewMarkers(cfg.Persistence.StateDir)
	d, err := assemble(cfg, markers)
	require.NoError(t, err)
	defer d.close()

	assert.Nil(t, d.server, "status API disabled in the test config")
	assert.Nil(t, d.telemetry)
	require.NotNil(t, d.watchdog)

	_, restored := d.scheduler.Boot(persistence.BootClean)
	assert.False(t, restored)

	d.scheduler.RunOnce()
	st := d.scheduler.Status()
	require.NotNil(t, st)
	assert.Len(t, st.Candidates, 2)
}

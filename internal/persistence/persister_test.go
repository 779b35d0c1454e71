package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"codeberg.org/mutker/streamctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersister(t *testing.T, store Store) (*Persister, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(0)
	return NewPersister(DefaultConfig(), store, clk, logger.Nop()), clk
}

func TestLoadOnBootWithoutRecordUsesDefaults(t *testing.T) {
	p, _ := newTestPersister(t, NewMemoryStore())

	s, restored := p.LoadOnBoot()

	assert.False(t, restored)
	assert.Equal(t, Default(), s)
	assert.Equal(t, NoNetwork, s.ActiveNetwork)
}

func TestPersistAndRestore(t *testing.T) {
	store := NewMemoryStore()
	p, _ := newTestPersister(t, store)
	s := sampleSnapshot()

	wrote, err := p.MaybePersist(s)
	require.NoError(t, err)
	require.True(t, wrote)

	next, _ := newTestPersister(t, store)
	got, restored := next.LoadOnBoot()

	require.True(t, restored)
	assert.Equal(t, uint8(1), got.Mode)
	assert.Equal(t, int16(2), got.ActiveNetwork)
	assert.Equal(t, uint32(3600), got.Stats.UptimeSeconds)
	assert.Equal(t, uint32(5), got.Stats.Errors)
}

func TestCorruptRecordAlwaysYieldsDefault(t *testing.T) {
	good := Encode(sampleSnapshot())

	for i := range good {
		store := NewMemoryStore()
		b := append([]byte(nil), good...)
		b[i] ^= 0x5A
		require.NoError(t, store.Save(b))

		p, _ := newTestPersister(t, store)
		s, restored := p.LoadOnBoot()

		assert.False(t, restored, "byte %d", i)
		assert.Equal(t, Default(), s, "byte %d", i)
		assert.Equal(t, uint64(1), p.Stats().Corruptions)
	}
}

func TestInsignificantChangesAreNotWritten(t *testing.T) {
	store := NewMemoryStore()
	p, clk := newTestPersister(t, store)
	s := sampleSnapshot()

	_, err := p.MaybePersist(s)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	s.Stats.UptimeSeconds += 120
	s.Stats.BytesSent += 1000
	wrote, err := p.MaybePersist(s)

	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, store.Saves())
}

func TestWritesAreRateLimited(t *testing.T) {
	store := NewMemoryStore()
	p, clk := newTestPersister(t, store)
	s := sampleSnapshot()

	_, err := p.MaybePersist(s)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	s.Mode = 2
	wrote, err := p.MaybePersist(s)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.True(t, p.Pending())

	clk.Advance(49 * time.Second)
	wrote, _ = p.MaybePersist(s)
	assert.False(t, wrote)

	// The pending change is written once the interval has passed, even
	// though the snapshot did not change again.
	clk.Advance(time.Second)
	wrote, err = p.MaybePersist(s)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.False(t, p.Pending())
	assert.Equal(t, 2, store.Saves())
	assert.Equal(t, uint64(1), p.Stats().Suppressed)
}

func TestRestoredSnapshotIsNotRewritten(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(Encode(sampleSnapshot())))
	p, _ := newTestPersister(t, store)

	s, restored := p.LoadOnBoot()
	require.True(t, restored)

	wrote, err := p.MaybePersist(s)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, store.Saves())
}

func TestFlushBypassesLimiter(t *testing.T) {
	store := NewMemoryStore()
	p, _ := newTestPersister(t, store)
	s := sampleSnapshot()

	_, err := p.MaybePersist(s)
	require.NoError(t, err)
	s.Mode = 3
	require.NoError(t, p.Flush(s))

	assert.Equal(t, 2, store.Saves())
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state", "snapshot.bin"))
	require.NoError(t, err)

	_, err = store.Load()
	require.Error(t, err)

	p, _ := newTestPersister(t, store)
	_, err = p.MaybePersist(sampleSnapshot())
	require.NoError(t, err)

	got, restored := p.LoadOnBoot()
	require.True(t, restored)
	assert.Equal(t, sampleSnapshot(), got)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadgerStore(dir, nil)
	require.NoError(t, err)

	p, _ := newTestPersister(t, store)
	_, err = p.MaybePersist(sampleSnapshot())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	next, _ := newTestPersister(t, reopened)
	got, restored := next.LoadOnBoot()
	require.True(t, restored)
	assert.Equal(t, sampleSnapshot(), got)
}

func TestBootClassification(t *testing.T) {
	assert.Equal(t, BootClean, Classify(BootClean, false, false))
	assert.Equal(t, BootPowerLoss, Classify(BootClean, false, true))
	assert.Equal(t, BootWatchdog, Classify(BootWatchdog, true, true))

	assert.True(t, BootWatchdog.ForcesSafeMode())
	assert.True(t, BootException.ForcesSafeMode())
	assert.False(t, BootPowerLoss.ForcesSafeMode())
	assert.False(t, BootClean.ForcesSafeMode())
}

func TestMarkers(t *testing.T) {
	m := NewMarkers(t.TempDir())

	_, ok := m.Read()
	assert.False(t, ok)

	require.NoError(t, m.Write(BootWatchdog))
	reason, ok := m.Read()
	require.True(t, ok)
	assert.Equal(t, BootWatchdog, reason)

	require.NoError(t, m.Clear())
	_, ok = m.Read()
	assert.False(t, ok)
	require.NoError(t, m.Clear())
}

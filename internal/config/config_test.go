package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	events []any
}

func (f *fakeBus) Dispatch(event any) { f.events = append(f.events, event) }

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	view, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 500, view.SchedulerTickIntervalMs())
	assert.True(t, view.WatchEnabled())
	assert.Equal(t, "AUTO", view.RecyclerStrategy())
}

func TestLoadParsesYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
copy:
  work_path: "D:\\mirror"
  copy_rate_limit: 5242880
storage:
  reserved_bytes: 1073741824
recycler:
  strategy: "SIZE_FIRST"
deviceBlacklistBySerial:
  - "BADSERIAL1"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	view, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, `D:\mirror`, view.WorkPath())
	assert.EqualValues(t, 5242880, view.CopyRateLimit())
	assert.EqualValues(t, 1073741824, view.StorageReservedBytes())
	assert.Equal(t, "SIZE_FIRST", view.RecyclerStrategy())
	assert.Equal(t, []string{"BADSERIAL1"}, view.BlacklistBySerial())
}

func TestLoadUnsetKeysKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("copy:\n  work_path: \"E:\\\\mirror\"\n"), 0o644))

	view, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, `E:\mirror`, view.WorkPath())
	assert.Equal(t, 10, view.WatchThreshold(), "unset keys fall back to defaults even when the file overrides siblings")
}

func TestWatchReloadsOnFileChangeAndPublishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recycler:\n  strategy: \"TIME_FIRST\"\n"), 0o644))

	bus := &fakeBus{}
	view, err := Load(path, bus)
	require.NoError(t, err)
	require.NoError(t, view.Watch())
	defer view.Close()

	require.Equal(t, "TIME_FIRST", view.RecyclerStrategy())

	require.NoError(t, os.WriteFile(path, []byte("recycler:\n  strategy: \"SIZE_FIRST\"\n"), 0o644))

	require.Eventually(t, func() bool {
		return view.RecyclerStrategy() == "SIZE_FIRST"
	}, 2*time.Second, 10*time.Millisecond)

	require.NotEmpty(t, bus.events)
	_, ok := bus.events[len(bus.events)-1].(Reloaded)
	assert.True(t, ok)
}

func TestBlacklistBySerialReturnsDefensiveCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deviceBlacklistBySerial:\n  - \"A\"\n"), 0o644))

	view, err := Load(path, nil)
	require.NoError(t, err)

	got := view.BlacklistBySerial()
	got[0] = "MUTATED"

	assert.Equal(t, []string{"A"}, view.BlacklistBySerial())
}

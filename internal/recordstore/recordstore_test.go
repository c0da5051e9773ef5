package recordstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/usbthief/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usbthief.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadOnEmptyStoreReturnsEmptySlice(t *testing.T) {
	s := openTestStore(t)

	records, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := openTestStore(t)

	records := []model.DeviceRecord{
		{Serial: "SER1", VolumeName: "USB1"},
		{Serial: "SER2", VolumeName: "USB2"},
	}
	require.NoError(t, s.Save(records))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, records, loaded)
}

func TestSaveOverwritesPreviousRecords(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save([]model.DeviceRecord{{Serial: "OLD", VolumeName: "OLD"}}))
	require.NoError(t, s.Save([]model.DeviceRecord{{Serial: "NEW", VolumeName: "NEW"}}))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []model.DeviceRecord{{Serial: "NEW", VolumeName: "NEW"}}, loaded)
}

func TestClearRemovesPersistedRecords(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save([]model.DeviceRecord{{Serial: "SER1", VolumeName: "USB1"}}))
	require.NoError(t, s.Clear())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestReopenStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbthief.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Save([]model.DeviceRecord{{Serial: "SER1", VolumeName: "USB1"}}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.Load()
	require.NoError(t, err)
	assert.Equal(t, []model.DeviceRecord{{Serial: "SER1", VolumeName: "USB1"}}, loaded)
}

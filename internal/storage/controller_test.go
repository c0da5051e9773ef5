package storage

import (
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/model"
)

type fakeBus struct {
	events []any
}

func (f *fakeBus) Dispatch(event any) {
	f.events = append(f.events, event)
}

func TestStatusReportsOKWhenReserveIsTiny(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{WorkDir: dir, ReservedBytes: 1}, nil)

	status := c.Status()
	assert.Equal(t, model.StorageOK, status.Level)
	assert.Greater(t, status.TotalBytes, uint64(0))
}

func TestStatusReportsCriticalWhenReserveExceedsFreeSpace(t *testing.T) {
	dir := t.TempDir()
	usage, err := disk.Usage(dir)
	require.NoError(t, err)

	c := New(Config{WorkDir: dir, ReservedBytes: usage.Free * 2}, nil)
	status := c.Status()

	assert.Equal(t, model.StorageCritical, status.Level)
}

func TestStatusReportsCriticalOnUsageError(t *testing.T) {
	c := New(Config{WorkDir: "/no/such/path/at/all"}, nil)
	status := c.Status()

	assert.Equal(t, model.StorageCritical, status.Level)
	assert.EqualValues(t, 0, status.FreeBytes)
}

func TestIsCriticalAndFreeBytesDelegateToStatus(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{WorkDir: dir, ReservedBytes: 1}, nil)

	assert.False(t, c.IsCritical())
	assert.Greater(t, c.FreeBytes(), uint64(0))
}

func TestStatusPublishesStorageLowOnTransitionToCritical(t *testing.T) {
	dir := t.TempDir()
	usage, err := disk.Usage(dir)
	require.NoError(t, err)

	bus := &fakeBus{}
	c := New(Config{WorkDir: dir, ReservedBytes: 1}, bus)
	c.Status()
	assert.Empty(t, bus.events, "healthy initial status should not publish")

	c.cfg.ReservedBytes = usage.Free * 2
	c.Status()

	require.Len(t, bus.events, 1)
	low, ok := bus.events[0].(eventbus.StorageLow)
	require.True(t, ok)
	assert.Equal(t, model.StorageCritical, low.Level)
}

func TestStatusPublishesStorageRecoveredOnReturnToOK(t *testing.T) {
	dir := t.TempDir()
	usage, err := disk.Usage(dir)
	require.NoError(t, err)

	bus := &fakeBus{}
	c := New(Config{WorkDir: dir, ReservedBytes: usage.Free * 2}, bus)
	c.Status()
	require.Len(t, bus.events, 1)

	c.cfg.ReservedBytes = 1
	c.Status()

	require.Len(t, bus.events, 2)
	_, ok := bus.events[1].(eventbus.StorageRecovered)
	assert.True(t, ok)
}

func TestStatusDoesNotRepublishOnRepeatedSameLevel(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	c := New(Config{WorkDir: dir, ReservedBytes: 1}, bus)

	c.Status()
	c.Status()
	c.Status()

	assert.Empty(t, bus.events)
}

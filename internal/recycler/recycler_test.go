package recycler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/model"
)

type fakeLevels struct {
	status model.StorageStatus
}

func (f *fakeLevels) Status() model.StorageStatus { return f.status }

type fakeBus struct {
	events []any
}

func (f *fakeBus) Dispatch(event any) { f.events = append(f.events, event) }

func writeFile(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestTickAtOKDeletesEmptyFoldersDeepestFirst(t *testing.T) {
	workDir := t.TempDir()
	nested := filepath.Join(workDir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "a", "c"), 0o755))

	bus := &fakeBus{}
	levels := &fakeLevels{status: model.StorageStatus{Level: model.StorageOK}}
	s := New(levels, nil, bus, Config{WorkDir: workDir})

	require.NoError(t, s.Tick(context.Background()))

	assert.NoDirExists(t, nested)
	assert.NoDirExists(t, filepath.Join(workDir, "a", "c"))
	assert.DirExists(t, filepath.Join(workDir, "a"), "a only becomes empty after its children are removed, so this tick leaves it for the next one")

	require.Len(t, bus.events, 1)
	deleted, ok := bus.events[0].(eventbus.EmptyFoldersDeleted)
	require.True(t, ok)
	assert.Equal(t, 2, deleted.Count)
}

func TestTickAtOKLeavesNonEmptyDirectoriesAlone(t *testing.T) {
	workDir := t.TempDir()
	dir := filepath.Join(workDir, "keep")
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeFile(t, filepath.Join(dir, "file.txt"), 10, time.Now())

	levels := &fakeLevels{status: model.StorageStatus{Level: model.StorageOK}}
	s := New(levels, nil, nil, Config{WorkDir: workDir})

	require.NoError(t, s.Tick(context.Background()))
	assert.DirExists(t, dir)
}

func TestRecycleFilesUsesTimeFirstAtLowLevel(t *testing.T) {
	workDir := t.TempDir()
	old := filepath.Join(workDir, "old.bin")
	newer := filepath.Join(workDir, "newer.bin")
	writeFile(t, old, 2<<20, time.Now().Add(-48*time.Hour))
	writeFile(t, newer, 2<<20, time.Now().Add(-47*time.Hour))

	bus := &fakeBus{}
	levels := &fakeLevels{status: model.StorageStatus{Level: model.StorageLow}}
	s := New(levels, nil, bus, Config{WorkDir: workDir, ProtectedAgeHours: 1})

	require.NoError(t, s.Tick(context.Background()))

	require.Len(t, bus.events, 1)
	recycled, ok := bus.events[0].(eventbus.FilesRecycled)
	require.True(t, ok)
	assert.Equal(t, string(TimeFirst), recycled.Strategy)
	assert.Contains(t, recycled.Paths, old)
	assert.NoFileExists(t, old)
}

func TestRecycleFilesUsesSizeFirstAtCriticalLevel(t *testing.T) {
	workDir := t.TempDir()
	small := filepath.Join(workDir, "small.bin")
	big := filepath.Join(workDir, "big.bin")
	writeFile(t, small, 1<<20, time.Now().Add(-48*time.Hour))
	writeFile(t, big, 5<<20, time.Now().Add(-48*time.Hour))

	bus := &fakeBus{}
	levels := &fakeLevels{status: model.StorageStatus{Level: model.StorageCritical}}
	s := New(levels, nil, bus, Config{WorkDir: workDir, ProtectedAgeHours: 1})

	require.NoError(t, s.Tick(context.Background()))

	require.Len(t, bus.events, 1)
	recycled, ok := bus.events[0].(eventbus.FilesRecycled)
	require.True(t, ok)
	assert.Equal(t, string(SizeFirst), recycled.Strategy)
	assert.Contains(t, recycled.Paths, big)
}

func TestRecycleFilesNeverSelectsNewlyModifiedFiles(t *testing.T) {
	workDir := t.TempDir()
	fresh := filepath.Join(workDir, "fresh.bin")
	writeFile(t, fresh, 5<<20, time.Now())

	bus := &fakeBus{}
	levels := &fakeLevels{status: model.StorageStatus{Level: model.StorageCritical}}
	s := New(levels, nil, bus, Config{WorkDir: workDir, ProtectedAgeHours: 1})

	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, bus.events, "a file younger than the protected age must never be recycled")
	assert.FileExists(t, fresh)
}

func TestRecycleFilesSkipsSystemPaths(t *testing.T) {
	workDir := t.TempDir()
	systemDir := filepath.Join(workDir, "Windows")
	require.NoError(t, os.Mkdir(systemDir, 0o755))
	systemFile := filepath.Join(systemDir, "system.bin")
	writeFile(t, systemFile, 5<<20, time.Now().Add(-48*time.Hour))

	bus := &fakeBus{}
	levels := &fakeLevels{status: model.StorageStatus{Level: model.StorageCritical}}
	s := New(levels, nil, bus, Config{WorkDir: workDir, ProtectedAgeHours: 1})

	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, bus.events, "a path under a system directory fragment must never be recycled")
	assert.FileExists(t, systemFile)
}

func TestResolveStrategyFixedStrategyIgnoresLevel(t *testing.T) {
	levels := &fakeLevels{}
	s := New(levels, nil, nil, Config{WorkDir: t.TempDir(), Strategy: SizeFirst})

	assert.Equal(t, SizeFirst, s.resolveStrategy(model.StorageLow))
	assert.Equal(t, SizeFirst, s.resolveStrategy(model.StorageCritical))
}

func TestResolveStrategyAutoSwitchesByLevel(t *testing.T) {
	levels := &fakeLevels{}
	s := New(levels, nil, nil, Config{WorkDir: t.TempDir(), Strategy: Auto})

	assert.Equal(t, TimeFirst, s.resolveStrategy(model.StorageLow))
	assert.Equal(t, SizeFirst, s.resolveStrategy(model.StorageCritical))
}

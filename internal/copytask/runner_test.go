package copytask

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/model"
	"github.com/cuemby/usbthief/internal/speed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	critical  bool
	freeBytes uint64
}

func (f *fakeStorage) IsCritical() bool  { return f.critical }
func (f *fakeStorage) FreeBytes() uint64 { return f.freeBytes }

type fakeIndex struct {
	duplicate bool
	added     []string
}

func (f *fakeIndex) CheckDuplicate(source, hash string) bool { return f.duplicate }
func (f *fakeIndex) AddFile(hash, source string, size int64) {
	f.added = append(f.added, source)
}

type fakeLimiter struct {
	acquired int64
}

func (f *fakeLimiter) Acquire(bytes int64) { f.acquired += bytes }

type fakeBus struct {
	events []any
}

func (f *fakeBus) Dispatch(event any) { f.events = append(f.events, event) }

func newTask(t *testing.T, root, name string, isDir bool, device *model.Device) model.PriorityTask {
	t.Helper()
	path := filepath.Join(root, name)
	return model.NewPriorityTask(model.CopyTask{SourcePath: path, DeviceSerial: "SER1", IsDir: isDir}, 50, device, time.Now())
}

func TestExecuteSkipsWhenStorageCritical(t *testing.T) {
	r := New(&fakeStorage{critical: true}, nil, nil, nil, nil, speed.NewGroup(), Config{WorkDir: t.TempDir()})

	task := newTask(t, t.TempDir(), "missing.txt", false, nil)
	outcome := r.execute(context.Background(), task)

	assert.Equal(t, model.CopySkipped, outcome.Result)
	assert.Equal(t, int64(0), outcome.BytesCopied)
}

func TestExecuteFailsOnMissingSource(t *testing.T) {
	r := New(nil, nil, nil, nil, nil, speed.NewGroup(), Config{WorkDir: t.TempDir()})

	task := newTask(t, t.TempDir(), "missing.txt", false, nil)
	outcome := r.execute(context.Background(), task)

	assert.Equal(t, model.CopyFail, outcome.Result)
}

func TestExecuteCreatesDestinationDirectory(t *testing.T) {
	srcRoot := t.TempDir()
	subdir := filepath.Join(srcRoot, "sub")
	require.NoError(t, os.Mkdir(subdir, 0o755))

	workDir := t.TempDir()
	device := model.NewDevice("SER1", srcRoot, "USB1", false)
	r := New(nil, nil, nil, nil, nil, speed.NewGroup(), Config{WorkDir: workDir})

	task := model.NewPriorityTask(model.CopyTask{SourcePath: subdir, DeviceSerial: "SER1", IsDir: true}, 50, device, time.Now())
	outcome := r.execute(context.Background(), task)

	assert.Equal(t, model.CopySuccess, outcome.Result)
	assert.DirExists(t, filepath.Join(workDir, "USB1_SER1", "sub"))
}

func TestExecuteSkipsWhenBeyondFreeSpaceHeadroom(t *testing.T) {
	srcRoot := t.TempDir()
	src := filepath.Join(srcRoot, "big.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 1000), 0o644))

	r := New(&fakeStorage{freeBytes: 1000}, nil, nil, nil, nil, speed.NewGroup(), Config{WorkDir: t.TempDir()})
	device := model.NewDevice("SER1", srcRoot, "USB1", false)
	task := model.NewPriorityTask(model.CopyTask{SourcePath: src, DeviceSerial: "SER1"}, 50, device, time.Now())

	outcome := r.execute(context.Background(), task)
	assert.Equal(t, model.CopySkipped, outcome.Result, "1000 bytes exceeds 90%% of 1000 free bytes")
}

func TestExecuteShortCircuitsOnDuplicate(t *testing.T) {
	srcRoot := t.TempDir()
	src := filepath.Join(srcRoot, "dup.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))

	index := &fakeIndex{duplicate: true}
	r := New(nil, index, nil, nil, nil, speed.NewGroup(), Config{WorkDir: t.TempDir()})
	device := model.NewDevice("SER1", srcRoot, "USB1", false)
	task := model.NewPriorityTask(model.CopyTask{SourcePath: src, DeviceSerial: "SER1"}, 50, device, time.Now())

	outcome := r.execute(context.Background(), task)

	assert.Equal(t, model.CopySuccess, outcome.Result)
	assert.EqualValues(t, 11, outcome.BytesCopied)
	_, err := os.Stat(outcome.DestPath)
	assert.True(t, os.IsNotExist(err), "duplicate short-circuit must not write the destination file")
}

func TestExecuteCopiesFileContentAndUsesRateLimiter(t *testing.T) {
	srcRoot := t.TempDir()
	src := filepath.Join(srcRoot, "data.txt")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	limiter := &fakeLimiter{}
	index := &fakeIndex{}
	workDir := t.TempDir()
	r := New(nil, index, limiter, nil, nil, speed.NewGroup(), Config{WorkDir: workDir, BufferSize: 4})
	device := model.NewDevice("SER1", srcRoot, "USB1", false)
	task := model.NewPriorityTask(model.CopyTask{SourcePath: src, DeviceSerial: "SER1"}, 50, device, time.Now())

	outcome := r.execute(context.Background(), task)

	require.Equal(t, model.CopySuccess, outcome.Result)
	assert.EqualValues(t, len(content), outcome.BytesCopied)
	written, err := os.ReadFile(outcome.DestPath)
	require.NoError(t, err)
	assert.Equal(t, content, written)
	assert.EqualValues(t, len(content), limiter.acquired)
	assert.Len(t, index.added, 1)
}

func TestExecuteCancelsOnContextDone(t *testing.T) {
	srcRoot := t.TempDir()
	src := filepath.Join(srcRoot, "data.txt")
	require.NoError(t, os.WriteFile(src, []byte("some bytes to copy"), 0o644))

	r := New(nil, nil, nil, nil, nil, speed.NewGroup(), Config{WorkDir: t.TempDir()})
	device := model.NewDevice("SER1", srcRoot, "USB1", false)
	task := model.NewPriorityTask(model.CopyTask{SourcePath: src, DeviceSerial: "SER1"}, 50, device, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := r.execute(ctx, task)
	assert.Equal(t, model.CopyCancel, outcome.Result)
}

func TestRunPublishesCopyCompleted(t *testing.T) {
	srcRoot := t.TempDir()
	src := filepath.Join(srcRoot, "data.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	bus := &fakeBus{}
	r := New(nil, nil, nil, nil, bus, speed.NewGroup(), Config{WorkDir: t.TempDir()})
	device := model.NewDevice("SER1", srcRoot, "USB1", false)
	task := model.NewPriorityTask(model.CopyTask{SourcePath: src, DeviceSerial: "SER1"}, 50, device, time.Now())

	r.Run(context.Background(), task)

	require.Len(t, bus.events, 1)
	completed, ok := bus.events[0].(eventbus.CopyCompleted)
	require.True(t, ok)
	assert.Equal(t, model.CopySuccess, completed.Outcome.Result)
}

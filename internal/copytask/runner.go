// Package copytask implements the eight-step CopyTask spec.md §4.10
// describes: storage gating, destination layout, duplicate short-circuit,
// chunked rate-limited copy, and best-effort attribute preservation.
package copytask

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/djherbis/times"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/model"
	"github.com/cuemby/usbthief/internal/speed"
)

const (
	defaultBufferSize   = 64 * 1024
	headroomFraction    = 0.9 // destination must leave 10% of free space
	throughputLogPeriod = time.Second
)

// StorageGate is the narrow storage-controller surface a CopyTask
// consults before writing. internal/storage implements it.
type StorageGate interface {
	IsCritical() bool
	FreeBytes() uint64
}

// Index is the out-of-scope duplicate-detection collaborator (spec.md
// §6). internal/dedup implements it.
type Index interface {
	CheckDuplicate(source, hash string) bool
	AddFile(hash, source string, size int64)
}

// RateLimiter is the collaborator a CopyTask acquires bytes from after
// every write. internal/ratelimit implements it.
type RateLimiter interface {
	Acquire(bytes int64)
}

// Attributes is the portable projection of a file's Windows DOS
// attribute bits.
type Attributes struct {
	ReadOnly bool
	Hidden   bool
	System   bool
	Archive  bool
}

// AttributeIO reads and writes DOS attributes. internal/platform
// implements it on Windows; elsewhere it is nil and skipped.
type AttributeIO interface {
	Read(path string) (Attributes, error)
	Write(path string, attrs Attributes) error
}

// Publisher is the narrow eventbus surface a CopyTask depends on.
type Publisher interface {
	Dispatch(event any)
}

// Config configures the destination layout and the copy buffer size.
type Config struct {
	WorkDir    string
	BufferSize int64
}

// Runner executes CopyTasks. It implements internal/scheduler.Runner.
type Runner struct {
	storage StorageGate
	index   Index
	limiter RateLimiter
	attrs   AttributeIO
	bus     Publisher
	probes  *speed.Group
	cfg     Config
}

// New constructs a Runner. storage, index, limiter, attrs, and bus may
// all be nil; probeGroup defaults to speed.Global when nil.
func New(storage StorageGate, index Index, limiter RateLimiter, attrs AttributeIO, bus Publisher, probeGroup *speed.Group, cfg Config) *Runner {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if probeGroup == nil {
		probeGroup = speed.Global
	}
	return &Runner{
		storage: storage,
		index:   index,
		limiter: limiter,
		attrs:   attrs,
		bus:     bus,
		probes:  probeGroup,
		cfg:     cfg,
	}
}

// Run executes task and publishes its CopyCompleted outcome.
func (r *Runner) Run(ctx context.Context, task model.PriorityTask) {
	outcome := r.execute(ctx, task)
	if r.bus != nil {
		r.bus.Dispatch(eventbus.CopyCompleted{Outcome: outcome})
	}
}

func (r *Runner) execute(ctx context.Context, task model.PriorityTask) model.CopyOutcome {
	timer := metrics.NewTimer()
	outcome := model.CopyOutcome{
		SourcePath:   task.Task.SourcePath,
		DeviceSerial: task.Task.DeviceSerial,
	}
	defer func() {
		timer.ObserveDuration(metrics.CopyDuration)
		metrics.CopyResultsTotal.WithLabelValues(string(outcome.Result)).Inc()
		metrics.BytesCopiedTotal.Add(float64(outcome.BytesCopied))
	}()

	if r.storage != nil && r.storage.IsCritical() {
		outcome.Result = model.CopySkipped
		return outcome
	}

	info, err := os.Stat(task.Task.SourcePath)
	if err != nil {
		outcome.Result = model.CopyFail
		return outcome
	}
	outcome.Size = info.Size()

	dest := r.destinationFor(task)
	outcome.DestPath = dest

	if r.storage != nil {
		free := r.storage.FreeBytes()
		if float64(info.Size()) > float64(free)*headroomFraction {
			outcome.Result = model.CopySkipped
			return outcome
		}
	}

	if task.Task.IsDir || info.IsDir() {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			outcome.Result = model.CopyFail
			return outcome
		}
		outcome.Result = model.CopySuccess
		return outcome
	}

	hash, err := checksum(task.Task.SourcePath)
	if err != nil {
		outcome.Result = model.CopyFail
		return outcome
	}

	if r.index != nil && r.index.CheckDuplicate(task.Task.SourcePath, hash) {
		outcome.Result = model.CopySuccess
		outcome.BytesCopied = info.Size()
		return outcome
	}

	bytesCopied, copyErr, cancelled := r.copyFile(ctx, task.Task.SourcePath, dest, task.Task.DeviceSerial)
	outcome.BytesCopied = bytesCopied

	switch {
	case cancelled:
		outcome.Result = model.CopyCancel
	case copyErr != nil:
		outcome.Result = model.CopyFail
	default:
		outcome.Result = model.CopySuccess
		r.finalizeAttributes(task.Task.SourcePath, dest)
		if r.index != nil {
			r.index.AddFile(hash, task.Task.SourcePath, info.Size())
		}
	}

	// SUCCESS is downgraded to CANCEL if the interruption flag is still
	// set after the copy loop returned cleanly.
	if outcome.Result == model.CopySuccess && ctx.Err() != nil {
		outcome.Result = model.CopyCancel
	}
	return outcome
}

// destinationFor computes work_path / (volume_name + "_" + serial) /
// relative_source.
func (r *Runner) destinationFor(task model.PriorityTask) string {
	folder := task.Task.DeviceSerial
	if task.Device != nil && task.Device.VolumeName != "" {
		folder = task.Device.VolumeName + "_" + task.Task.DeviceSerial
	}

	rel := filepath.Base(task.Task.SourcePath)
	if task.Device != nil && task.Device.RootPath != "" {
		if r, err := filepath.Rel(task.Device.RootPath, task.Task.SourcePath); err == nil {
			rel = r
		}
	}
	return filepath.Join(r.cfg.WorkDir, folder, rel)
}

// copyFile streams src into dest in cfg.BufferSize chunks, recording
// every write to a per-task probe (registered with the global group) and
// acquiring the rate limiter after each write. Returns bytes written, a
// non-nil error on I/O failure, and whether the copy was cancelled
// mid-stream.
func (r *Runner) copyFile(ctx context.Context, src, dest, serial string) (int64, error, bool) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err, false
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err, false
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err, false
	}
	defer out.Close()

	probe := speed.NewProbe()
	r.probes.Register(probe)
	defer probe.Close()

	buf := make([]byte, r.cfg.BufferSize)
	var total int64
	lastLog := time.Now()

	for {
		if ctx.Err() != nil {
			return total, nil, true
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return total, writeErr, false
			}
			total += int64(n)
			probe.Record(int64(n))
			if r.limiter != nil {
				r.limiter.Acquire(int64(n))
			}
			if time.Since(lastLog) >= throughputLogPeriod {
				log.WithDeviceSerial(serial).Debug().Float64("mb_s", probe.SmoothedMBs()).Msg("copy throughput")
				lastLog = time.Now()
			}
		}
		if readErr == io.EOF {
			return total, nil, false
		}
		if readErr != nil {
			return total, readErr, false
		}
	}
}

func (r *Runner) finalizeAttributes(src, dest string) {
	if ts, err := times.Stat(src); err == nil {
		_ = os.Chtimes(dest, ts.AccessTime(), ts.ModTime())
	}
	if r.attrs != nil {
		if attrs, err := r.attrs.Read(src); err == nil {
			_ = r.attrs.Write(dest, attrs)
		}
	}
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

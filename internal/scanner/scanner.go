// Package scanner implements the per-device sniffer spec.md §4.9
// describes: an initial filtered parallel walk, then an optional fsnotify
// watch phase that re-triggers copies once its change counter crosses a
// threshold, with a lifecycle manager governing restart delay after exit.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/usbthief/internal/device"
	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/model"
	"github.com/cuemby/usbthief/internal/priority"
)

const walkConcurrency = 4

// Submitter is the scheduler collaborator a scanner submits discovered
// paths to. internal/scheduler implements it.
type Submitter interface {
	Submit(task model.PriorityTask) bool
}

// Publisher is the narrow eventbus surface a scanner depends on.
type Publisher interface {
	Dispatch(event any)
}

// Config configures filtering, watch behavior, and restart cooldowns
// shared by every scanner a Factory starts.
type Config struct {
	Filter FilterConfig

	WatchEnabled       bool
	WatchThreshold     int
	WatchResetInterval time.Duration

	Lifecycle LifecycleConfig
}

func (c *Config) applyDefaults() {
	c.Filter.applyDefaults()
	if c.WatchThreshold <= 0 {
		c.WatchThreshold = 10
	}
	if c.WatchResetInterval <= 0 {
		c.WatchResetInterval = 60 * time.Second
	}
	c.Lifecycle.applyDefaults()
}

// Factory starts Scanners, consulting a shared LifecycleManager so a
// device whose scanner recently exited waits out its cooldown before a
// new one is spawned.
type Factory struct {
	submitter Submitter
	bus       Publisher
	cfg       Config
	lifecycle *LifecycleManager
}

// NewFactory constructs a Factory. bus may be nil.
func NewFactory(submitter Submitter, bus Publisher, cfg Config) *Factory {
	cfg.applyDefaults()
	return &Factory{
		submitter: submitter,
		bus:       bus,
		cfg:       cfg,
		lifecycle: NewLifecycleManager(cfg.Lifecycle),
	}
}

// Start implements internal/device.ScannerFactory. If the device's
// cooldown has not elapsed it returns a dormant stub instead of spawning
// a goroutine; the device manager will observe it as already terminated
// on its next arbitration pass and retry.
func (f *Factory) Start(d *model.Device) device.Scanner {
	if !f.lifecycle.Ready(d.Serial) {
		return dormantScanner{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scanner{
		device:    d,
		submitter: f.submitter,
		bus:       f.bus,
		cfg:       f.cfg,
		lifecycle: f.lifecycle,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// dormantScanner represents a device still in cooldown: no goroutine, no
// filesystem activity, immediately reported terminated.
type dormantScanner struct{}

func (dormantScanner) Terminated() bool { return true }
func (dormantScanner) Stop()            {}

// Scanner walks and optionally watches one device's root.
type Scanner struct {
	device    *model.Device
	submitter Submitter
	bus       Publisher
	cfg       Config
	lifecycle *LifecycleManager

	cancel     context.CancelFunc
	terminated atomic.Bool
	done       chan struct{}
}

// Terminated implements internal/device.Scanner.
func (s *Scanner) Terminated() bool { return s.terminated.Load() }

// Stop implements internal/device.Scanner. It requests cancellation
// without blocking for the goroutine to exit; the device manager polls
// Terminated on subsequent ticks.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)

	reason := s.walkAndSubmit(ctx, s.device.RootPath)
	if reason != "" {
		s.finish(reason)
		return
	}
	if !s.cfg.WatchEnabled {
		s.finish(ExitNormal)
		return
	}
	s.finish(s.watch(ctx))
}

func (s *Scanner) finish(reason ExitReason) {
	s.lifecycle.Record(s.device.Serial, reason)
	s.terminated.Store(true)
}

// walkAndSubmit runs the BasicFileFilter/SuffixFilter parallel traversal
// over root, submitting a CopyTask for every directory and matching
// file. Returns "" on a clean completion, or the ExitReason to report if
// the walk was cut short.
func (s *Scanner) walkAndSubmit(ctx context.Context, root string) ExitReason {
	type walkItem struct {
		path  string
		isDir bool
		size  int64
	}

	items := make(chan walkItem, 64)
	var wg sync.WaitGroup
	for i := 0; i < walkConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				s.submitPath(item.path, item.isDir, item.size)
			}
		}()
	}

	interrupted := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			interrupted = true
			return fs.SkipAll
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && s.cfg.Filter.skipHiddenDir(d.Name()) {
				return filepath.SkipDir
			}
			items <- walkItem{path: path, isDir: true}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && s.cfg.Filter.Symlink == SymlinkSkip {
			return nil
		}
		info, infoErr := d.Info()
		if d.Type()&fs.ModeSymlink != 0 {
			info, infoErr = os.Stat(path)
		}
		if infoErr != nil {
			return nil
		}
		if s.cfg.Filter.AcceptFile(path, info) {
			items <- walkItem{path: path, size: info.Size()}
		}
		return nil
	})
	close(items)
	wg.Wait()

	if interrupted {
		return ExitNormal
	}
	if walkErr != nil {
		log.WithDeviceSerial(s.device.Serial).Error().Err(walkErr).Msg("initial walk failed")
		return ExitError
	}
	return ""
}

func (s *Scanner) submitPath(path string, isDir bool, size int64) {
	pr := priority.For(path, isDir, size)
	task := model.NewPriorityTask(model.CopyTask{
		SourcePath:   path,
		DeviceSerial: s.device.Serial,
		IsDir:        isDir,
	}, pr, s.device, time.Now())

	if !s.submitter.Submit(task) {
		log.WithDeviceSerial(s.device.Serial).Warn().Str("path", path).
			Msg("scheduler refused task, accumulation cap reached")
	}
	if s.bus != nil {
		s.bus.Dispatch(eventbus.FileDiscovered{Path: path, Size: size, DeviceSerial: s.device.Serial})
	}
}

// watch registers the device root and every discovered directory with
// fsnotify and reacts to changes, re-triggering copies each time the
// change counter reaches the threshold, until cancellation or the watcher's
// channels close.
func (s *Scanner) watch(ctx context.Context) ExitReason {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithDeviceSerial(s.device.Serial).Error().Err(err).Msg("watch init failed")
		return ExitError
	}
	defer watcher.Close()

	if err := watcher.Add(s.device.RootPath); err != nil {
		log.WithDeviceSerial(s.device.Serial).Error().Err(err).Msg("watch root failed")
		return ExitError
	}
	s.addWatchRecursive(watcher, s.device.RootPath)

	var counter atomic.Int32
	resetTicker := time.NewTicker(s.cfg.WatchResetInterval)
	defer resetTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExitExternalStop

		case <-resetTicker.C:
			counter.Store(0)

		case err, ok := <-watcher.Errors:
			if !ok {
				return ExitNormal
			}
			if err != nil {
				log.WithDeviceSerial(s.device.Serial).Warn().Err(err).Msg("watch error")
			}

		case ev, ok := <-watcher.Events:
			if !ok {
				return ExitNormal
			}
			if ev.Name == "" || isHiddenPath(ev.Name) {
				continue
			}
			info, statErr := os.Stat(ev.Name)
			if statErr != nil {
				continue // vanished target
			}
			if counter.Add(1) >= int32(s.cfg.WatchThreshold) {
				counter.Store(0)
				s.handleChangeBurst(watcher, ev.Name, info)
			}
		}
	}
}

func (s *Scanner) handleChangeBurst(watcher *fsnotify.Watcher, path string, info os.FileInfo) {
	if info.IsDir() {
		_ = watcher.Add(path)
		s.walkAndSubmit(context.Background(), path)
		return
	}
	if s.cfg.Filter.AcceptFile(path, info) {
		s.submitPath(path, false, info.Size())
	}
}

func (s *Scanner) addWatchRecursive(watcher *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = watcher.Add(path)
		}
		return nil
	})
}

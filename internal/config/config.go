// Package config implements the out-of-scope configuration-store
// collaborator spec.md describes: a typed key/value map with defaults,
// exposed to every component as a narrow read-only View, with
// mutation notifications delivered over fsnotify when the backing YAML
// file changes on disk.
package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/usbthief/internal/log"
)

// View is the read-only projection every component consumes. Each
// accessor is a snapshot of the current settings; callers never see a
// torn read across a concurrent reload.
type View interface {
	CorePoolSize() int
	MaxPoolSize() int
	KeepAliveSeconds() int
	TaskQueueCapacity() int

	WatchEnabled() bool
	WatchThreshold() int
	WatchResetIntervalSeconds() int
	MaxFileSize() int64

	BufferSize() int64
	WorkPath() string
	CopyRateLimit() int64
	CopyRateBurstSize() int64
	CopyRateLimitBase() int64

	SchedulerTickIntervalMs() int
	SchedulerAccumulationMaxQueue() int
	SchedulerMediumBatch() int
	SchedulerLowBatch() int
	SchedulerHighBatch() int
	SchedulerHighPriorityThreshold() int
	LoadHighThreshold() float64
	LoadLowThreshold() float64

	StorageReservedBytes() uint64
	StorageMaxBytes() uint64
	RecyclerStrategy() string
	RecyclerProtectedAgeHours() int

	SnifferWaitNormalMinutes() int
	SnifferWaitErrorMinutes() int

	BlacklistBySerial() []string
}

// settings is the YAML-serializable document backing a Static view.
// Field names mirror the dotted configuration keys spec.md §7 lists.
type settings struct {
	ThreadPool struct {
		CorePoolSize      int `yaml:"core_pool_size"`
		MaxPoolSize       int `yaml:"max_pool_size"`
		KeepAliveSeconds  int `yaml:"keep_alive_seconds"`
		TaskQueueCapacity int `yaml:"task_queue_capacity"`
	} `yaml:"thread_pool"`

	Scanner struct {
		WatchEnabled              bool  `yaml:"watch_enabled"`
		WatchThreshold            int   `yaml:"watch_threshold"`
		WatchResetIntervalSeconds int   `yaml:"watch_reset_interval_seconds"`
		MaxFileSize               int64 `yaml:"max_file_size"`
	} `yaml:"scanner"`

	Copy struct {
		BufferSize         int64  `yaml:"buffer_size"`
		WorkPath           string `yaml:"work_path"`
		RateLimit          int64  `yaml:"copy_rate_limit"`
		RateBurstSize      int64  `yaml:"copy_rate_burst_size"`
		RateLimitBase      int64  `yaml:"copy_rate_limit_base"`
	} `yaml:"copy"`

	Scheduler struct {
		TickIntervalMs          int     `yaml:"tick_interval_ms"`
		AccumulationMaxQueue    int     `yaml:"accumulation_max_queue"`
		MediumBatch             int     `yaml:"medium_batch"`
		LowBatch                int     `yaml:"low_batch"`
		HighBatch               int     `yaml:"high_batch"`
		HighPriorityThreshold   int     `yaml:"high_priority_threshold"`
		Load struct {
			HighThreshold float64 `yaml:"highThreshold"`
			LowThreshold  float64 `yaml:"lowThreshold"`
		} `yaml:"load"`
	} `yaml:"scheduler"`

	Storage struct {
		ReservedBytes uint64 `yaml:"reserved_bytes"`
		MaxBytes      uint64 `yaml:"max_bytes"`
	} `yaml:"storage"`

	Recycler struct {
		Strategy          string `yaml:"strategy"`
		ProtectedAgeHours int    `yaml:"protected_age_hours"`
	} `yaml:"recycler"`

	Sniffer struct {
		WaitNormalMinutes int `yaml:"wait_normal_minutes"`
		WaitErrorMinutes  int `yaml:"wait_error_minutes"`
	} `yaml:"sniffer"`

	DeviceBlacklistBySerial []string `yaml:"deviceBlacklistBySerial"`
}

func defaultSettings() settings {
	var s settings
	s.ThreadPool.CorePoolSize = 2
	s.ThreadPool.MaxPoolSize = 8
	s.ThreadPool.KeepAliveSeconds = 60
	s.ThreadPool.TaskQueueCapacity = 256

	s.Scanner.WatchEnabled = true
	s.Scanner.WatchThreshold = 10
	s.Scanner.WatchResetIntervalSeconds = 60

	s.Copy.BufferSize = 64 * 1024
	s.Copy.WorkPath = `C:\usbthief`

	s.Scheduler.TickIntervalMs = 500
	s.Scheduler.AccumulationMaxQueue = 2000
	s.Scheduler.MediumBatch = 50
	s.Scheduler.LowBatch = 30
	s.Scheduler.HighBatch = 20
	s.Scheduler.Load.HighThreshold = 0.7
	s.Scheduler.Load.LowThreshold = 0.4

	s.Recycler.Strategy = "AUTO"
	s.Recycler.ProtectedAgeHours = 1

	s.Sniffer.WaitNormalMinutes = 30
	s.Sniffer.WaitErrorMinutes = 5
	return s
}

// Publisher is the narrow eventbus surface Static dispatches reload
// notifications on.
type Publisher interface {
	Dispatch(event any)
}

// Reloaded is published whenever Static picks up a changed file.
type Reloaded struct {
	Path string
}

// Static loads settings from a YAML file and keeps them current by
// watching the file with fsnotify; View accessors always read the most
// recently loaded snapshot under a read lock.
type Static struct {
	path string
	bus  Publisher

	mu       sync.RWMutex
	current  settings
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// Load reads path (applying defaults for any key YAML leaves unset) and
// returns a Static view over it. bus may be nil. Watch starts the
// fsnotify-driven reload loop; callers that only need a one-shot read
// may skip calling it.
func Load(path string, bus Publisher) (*Static, error) {
	s := &Static{path: path, bus: bus, current: defaultSettings(), done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Static) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // defaults only
		}
		return err
	}

	merged := defaultSettings()
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = merged
	s.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch on the backing file and reloads on
// every write, publishing Reloaded on success. Call at most once.
func (s *Static) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					log.WithComponent("config").Warn().Err(err).Msg("config reload failed")
					continue
				}
				if s.bus != nil {
					s.bus.Dispatch(Reloaded{Path: s.path})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithComponent("config").Warn().Err(err).Msg("config watch error")
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watch, if started.
func (s *Static) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Static) snapshot() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Static) CorePoolSize() int      { return s.snapshot().ThreadPool.CorePoolSize }
func (s *Static) MaxPoolSize() int       { return s.snapshot().ThreadPool.MaxPoolSize }
func (s *Static) KeepAliveSeconds() int  { return s.snapshot().ThreadPool.KeepAliveSeconds }
func (s *Static) TaskQueueCapacity() int { return s.snapshot().ThreadPool.TaskQueueCapacity }

func (s *Static) WatchEnabled() bool               { return s.snapshot().Scanner.WatchEnabled }
func (s *Static) WatchThreshold() int              { return s.snapshot().Scanner.WatchThreshold }
func (s *Static) WatchResetIntervalSeconds() int   { return s.snapshot().Scanner.WatchResetIntervalSeconds }
func (s *Static) MaxFileSize() int64               { return s.snapshot().Scanner.MaxFileSize }

func (s *Static) BufferSize() int64        { return s.snapshot().Copy.BufferSize }
func (s *Static) WorkPath() string         { return s.snapshot().Copy.WorkPath }
func (s *Static) CopyRateLimit() int64     { return s.snapshot().Copy.RateLimit }
func (s *Static) CopyRateBurstSize() int64 { return s.snapshot().Copy.RateBurstSize }
func (s *Static) CopyRateLimitBase() int64 { return s.snapshot().Copy.RateLimitBase }

func (s *Static) SchedulerTickIntervalMs() int {
	if ms := s.snapshot().Scheduler.TickIntervalMs; ms > 0 {
		return ms
	}
	return 500
}
func (s *Static) SchedulerAccumulationMaxQueue() int  { return s.snapshot().Scheduler.AccumulationMaxQueue }
func (s *Static) SchedulerMediumBatch() int           { return s.snapshot().Scheduler.MediumBatch }
func (s *Static) SchedulerLowBatch() int              { return s.snapshot().Scheduler.LowBatch }
func (s *Static) SchedulerHighBatch() int             { return s.snapshot().Scheduler.HighBatch }
func (s *Static) SchedulerHighPriorityThreshold() int {
	return s.snapshot().Scheduler.HighPriorityThreshold
}
func (s *Static) LoadHighThreshold() float64 { return s.snapshot().Scheduler.Load.HighThreshold }
func (s *Static) LoadLowThreshold() float64  { return s.snapshot().Scheduler.Load.LowThreshold }

func (s *Static) StorageReservedBytes() uint64    { return s.snapshot().Storage.ReservedBytes }
func (s *Static) StorageMaxBytes() uint64         { return s.snapshot().Storage.MaxBytes }
func (s *Static) RecyclerStrategy() string        { return s.snapshot().Recycler.Strategy }
func (s *Static) RecyclerProtectedAgeHours() int  { return s.snapshot().Recycler.ProtectedAgeHours }

func (s *Static) SnifferWaitNormalMinutes() int { return s.snapshot().Sniffer.WaitNormalMinutes }
func (s *Static) SnifferWaitErrorMinutes() int  { return s.snapshot().Sniffer.WaitErrorMinutes }

func (s *Static) BlacklistBySerial() []string {
	src := s.snapshot().DeviceBlacklistBySerial
	out := make([]string, len(src))
	copy(out, src)
	return out
}

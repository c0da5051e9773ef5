// Package recycler implements the RecyclerService spec.md §4.12
// describes: an empty-directory sweep at the OK storage level and a
// priority-ordered, protection-aware file recycling pass at LOW and
// CRITICAL, modeled on a watermark-driven, heap-ordered eviction loop.
package recycler

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/model"
	"github.com/cuemby/usbthief/internal/svc"
)

const (
	defaultTickInterval        = 5 * time.Minute
	defaultProtectedAgeHours   = 1
	defaultMaxEmptyFoldersTick = 100
	defaultMaxFilesScannedTick = 50
	minBytesNeeded             = 1 << 20 // 1 MiB
)

// Strategy orders candidate files for recycling.
type Strategy string

const (
	TimeFirst Strategy = "TIME_FIRST"
	SizeFirst Strategy = "SIZE_FIRST"
	Auto      Strategy = "AUTO"
)

var systemPathFragments = []string{
	`\windows\`,
	`\program files\`,
	`\program files (x86)\`,
	`\programdata\`,
}

// LevelSource reports the work volume's current storage level. The
// recycler never queries free space itself.
type LevelSource interface {
	Status() model.StorageStatus
}

// HiddenChecker reports whether a path carries the hidden attribute.
// internal/platform implements it on Windows; may be nil elsewhere, in
// which case no path is ever considered hidden.
type HiddenChecker interface {
	IsHidden(path string) (bool, error)
}

// Publisher is the narrow eventbus surface the recycler depends on.
type Publisher interface {
	Dispatch(event any)
}

// Config configures the recycler's tick cadence, protection rules, and
// selection strategy.
type Config struct {
	WorkDir                string
	TickInterval           time.Duration
	Strategy               Strategy
	ProtectedAgeHours      int
	MaxEmptyFoldersPerTick int
	MaxFilesScannedPerTick int
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.Strategy == "" {
		c.Strategy = Auto
	}
	if c.ProtectedAgeHours <= 0 {
		c.ProtectedAgeHours = defaultProtectedAgeHours
	}
	if c.MaxEmptyFoldersPerTick <= 0 {
		c.MaxEmptyFoldersPerTick = defaultMaxEmptyFoldersTick
	}
	if c.MaxFilesScannedPerTick <= 0 {
		c.MaxFilesScannedPerTick = defaultMaxFilesScannedTick
	}
}

// candidate is the metadata the recycler needs to decide whether a file
// may be deleted.
type candidate struct {
	path      string
	size      int64
	copyTime  time.Time
	protected bool
}

// Service is the svc.Service that keeps the work directory's disk usage
// under control.
type Service struct {
	*svc.Base

	levels LevelSource
	hidden HiddenChecker
	bus    Publisher
	cfg    Config
}

// New constructs a Service. hidden and bus may be nil.
func New(levels LevelSource, hidden HiddenChecker, bus Publisher, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		Base:   svc.NewBase("recycler", cfg.TickInterval),
		levels: levels,
		hidden: hidden,
		bus:    bus,
		cfg:    cfg,
	}
}

// Tick runs one recycling pass, choosing behavior by the work volume's
// current storage level.
func (s *Service) Tick(ctx context.Context) error {
	status := s.levels.Status()

	if status.Level == model.StorageOK {
		s.deleteEmptyFolders(ctx)
		return nil
	}

	strategy := s.resolveStrategy(status.Level)
	s.recycleFiles(ctx, strategy)
	return nil
}

// resolveStrategy picks the ordering used to select files for deletion.
// A configured TIME_FIRST or SIZE_FIRST strategy is fixed regardless of
// level; AUTO switches between TIME_FIRST at LOW and SIZE_FIRST at
// CRITICAL.
func (s *Service) resolveStrategy(level model.StorageLevel) Strategy {
	if s.cfg.Strategy != Auto {
		return s.cfg.Strategy
	}
	if level == model.StorageCritical {
		return SizeFirst
	}
	return TimeFirst
}

// deleteEmptyFolders walks the work tree, collects directories with no
// entries, deletes up to MaxEmptyFoldersPerTick of them deepest-first,
// and publishes EmptyFoldersDeleted.
func (s *Service) deleteEmptyFolders(ctx context.Context) {
	var empties []string
	_ = filepath.WalkDir(s.cfg.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || !d.IsDir() || path == s.cfg.WorkDir {
			return nil
		}
		entries, readErr := os.ReadDir(path)
		if readErr == nil && len(entries) == 0 {
			empties = append(empties, path)
		}
		return nil
	})

	sort.Slice(empties, func(i, j int) bool {
		return depth(empties[i]) > depth(empties[j])
	})

	if len(empties) > s.cfg.MaxEmptyFoldersPerTick {
		empties = empties[:s.cfg.MaxEmptyFoldersPerTick]
	}

	var deleted []string
	for _, dir := range empties {
		if err := os.Remove(dir); err != nil {
			log.WithComponent("recycler").Warn().Err(err).Str("path", dir).Msg("empty folder delete failed")
			continue
		}
		deleted = append(deleted, dir)
	}

	if len(deleted) == 0 {
		return
	}
	metrics.EmptyFoldersDeletedTotal.Add(float64(len(deleted)))
	if s.bus != nil {
		s.bus.Dispatch(eventbus.EmptyFoldersDeleted{Folders: deleted, Count: len(deleted)})
	}
}

// recycleFiles scans up to MaxFilesScannedPerTick files, orders them by
// strategy, and deletes unprotected files one by one until the byte
// budget is satisfied.
func (s *Service) recycleFiles(ctx context.Context, strategy Strategy) {
	candidates := s.scanCandidates(ctx)
	if len(candidates) == 0 {
		return
	}

	var totalScanned int64
	for _, c := range candidates {
		totalScanned += c.size
	}
	bytesNeeded := totalScanned / 10
	if bytesNeeded < minBytesNeeded {
		bytesNeeded = minBytesNeeded
	}

	sortCandidates(candidates, strategy)

	var selected []candidate
	var accumulated int64
	for _, c := range candidates {
		if accumulated >= bytesNeeded {
			break
		}
		if c.protected {
			continue
		}
		selected = append(selected, c)
		accumulated += c.size
	}

	if len(selected) == 0 {
		return
	}

	var paths []string
	var bytesFreed int64
	for _, c := range selected {
		if err := os.Remove(c.path); err != nil {
			log.WithComponent("recycler").Warn().Err(err).Str("path", c.path).Msg("file recycle delete failed")
			continue
		}
		paths = append(paths, c.path)
		bytesFreed += c.size
	}

	if len(paths) == 0 {
		return
	}
	metrics.RecyclerBytesFreedTotal.WithLabelValues(string(strategy)).Add(float64(bytesFreed))
	if s.bus != nil {
		s.bus.Dispatch(eventbus.FilesRecycled{Paths: paths, BytesFreed: bytesFreed, Strategy: string(strategy)})
	}
}

func (s *Service) scanCandidates(ctx context.Context) []candidate {
	var out []candidate
	_ = filepath.WalkDir(s.cfg.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(out) >= s.cfg.MaxFilesScannedPerTick {
			return filepath.SkipAll
		}
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			out = append(out, candidate{path: path, protected: true})
			return nil
		}
		out = append(out, candidate{
			path:      path,
			size:      info.Size(),
			copyTime:  info.ModTime(),
			protected: s.isProtected(path, info),
		})
		return nil
	})
	return out
}

func (s *Service) isProtected(path string, info os.FileInfo) bool {
	if s.isNew(info.ModTime()) {
		return true
	}
	if s.isLocked(path) {
		return true
	}
	if s.isSystem(path) {
		return true
	}
	return false
}

func (s *Service) isNew(modTime time.Time) bool {
	return time.Since(modTime) < time.Duration(s.cfg.ProtectedAgeHours)*time.Hour
}

// isLocked reports whether an exclusive lock on path cannot be acquired.
// Any I/O error while checking is treated as locked (fail-safe).
func (s *Service) isLocked(path string) bool {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return true
	}
	if !locked {
		return true
	}
	_ = fl.Unlock()
	return false
}

func (s *Service) isSystem(path string) bool {
	if s.hidden != nil {
		if hidden, err := s.hidden.IsHidden(path); err != nil {
			return true
		} else if hidden {
			return true
		}
	}
	lower := strings.ToLower(strings.ReplaceAll(path, "/", `\`))
	for _, fragment := range systemPathFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func sortCandidates(candidates []candidate, strategy Strategy) {
	switch strategy {
	case SizeFirst:
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].size > candidates[j].size
		})
	default: // TimeFirst
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].copyTime.Before(candidates[j].copyTime)
		})
	}
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(path), "/")
}

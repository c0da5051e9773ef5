// Package storage implements the StorageController spec.md §4.12
// describes: a read-only, thresholded view of the work volume's free
// space, queried fresh on every call and edge-triggering StorageLow /
// StorageRecovered as the level crosses LOW/CRITICAL and back to OK.
package storage

import (
	"sync"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/model"
)

// Publisher is the narrow eventbus surface the controller depends on.
type Publisher interface {
	Dispatch(event any)
}

// Config configures the monitored work directory and its reserved-space
// threshold.
type Config struct {
	WorkDir       string
	ReservedBytes uint64
}

// Controller queries the work path's volume on every call. It implements
// internal/device.StorageController and internal/copytask.StorageGate.
type Controller struct {
	cfg Config
	bus Publisher

	mu        sync.Mutex
	lastLevel model.StorageLevel
	haveLast  bool
}

// New constructs a Controller. bus may be nil.
func New(cfg Config, bus Publisher) *Controller {
	return &Controller{cfg: cfg, bus: bus}
}

// Status queries the work volume's current usage and classifies it.
// Any I/O error yields (0,0,0,CRITICAL), the conservative reading.
func (c *Controller) Status() model.StorageStatus {
	usage, err := disk.Usage(c.cfg.WorkDir)
	if err != nil {
		log.WithComponent("storage").Warn().Err(err).Str("work_dir", c.cfg.WorkDir).Msg("disk usage query failed")
		status := model.StorageStatus{Level: model.StorageCritical}
		metrics.StorageFreeBytes.Set(0)
		c.publishTransition(status)
		return status
	}

	status := model.StorageStatus{
		FreeBytes:  usage.Free,
		UsedBytes:  usage.Used,
		TotalBytes: usage.Total,
		Level:      model.StorageLevelFor(usage.Free, c.cfg.ReservedBytes),
	}
	metrics.StorageFreeBytes.Set(float64(usage.Free))
	c.publishTransition(status)
	return status
}

// IsCritical reports whether the work volume is currently at the
// CRITICAL level.
func (c *Controller) IsCritical() bool {
	return c.Status().Level == model.StorageCritical
}

// FreeBytes reports the work volume's current free space.
func (c *Controller) FreeBytes() uint64 {
	return c.Status().FreeBytes
}

// publishTransition dispatches StorageLow/StorageRecovered only on the
// edge between levels, never on every poll.
func (c *Controller) publishTransition(status model.StorageStatus) {
	c.mu.Lock()
	prev := c.lastLevel
	hadLast := c.haveLast
	c.lastLevel = status.Level
	c.haveLast = true
	c.mu.Unlock()

	if c.bus == nil {
		return
	}
	if hadLast && prev == status.Level {
		return
	}

	wasHealthy := !hadLast || prev == model.StorageOK
	isHealthy := status.Level == model.StorageOK
	switch {
	case !isHealthy:
		c.bus.Dispatch(eventbus.StorageLow{
			WorkDir:       c.cfg.WorkDir,
			FreeBytes:     status.FreeBytes,
			ThresholdByte: c.cfg.ReservedBytes,
			Level:         status.Level,
		})
	case isHealthy && !wasHealthy:
		c.bus.Dispatch(eventbus.StorageRecovered{
			WorkDir:   c.cfg.WorkDir,
			FreeBytes: status.FreeBytes,
		})
	}
}

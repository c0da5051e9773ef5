// Package device implements the DeviceManager spec.md §4.8 describes: the
// per-tick discovery, access-state refresh, scanner arbitration, and
// storage-driven pause/resume for every removable volume it tracks.
package device

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/model"
	"github.com/cuemby/usbthief/internal/svc"
)

const defaultTickInterval = 2 * time.Second

// RootSource enumerates the filesystem roots currently visible to mount,
// e.g. drive letters on Windows. Platform-specific; internal/platform
// implements it.
type RootSource interface {
	Roots() ([]string, error)
}

// VolumeIdentifier resolves a mounted root to its stable volume serial,
// its current human-readable label, and its filesystem type.
// internal/platform implements it.
type VolumeIdentifier interface {
	Serial(root string) (string, error)
	Name(root string) (string, error)
	FileSystemType(root string) (string, error)
}

// isRemovableFileSystem reports whether fsType is one spec.md treats as
// removable user media (FAT32 or exFAT). Any other type, including an
// unknown or unreadable one, is treated as a system disk's filesystem.
func isRemovableFileSystem(fsType string) bool {
	switch strings.ToUpper(fsType) {
	case "FAT32", "EXFAT":
		return true
	default:
		return false
	}
}

// RecordStore persists the set of known DeviceRecords across restarts.
// internal/recordstore implements it.
type RecordStore interface {
	Load() ([]model.DeviceRecord, error)
	Save(records []model.DeviceRecord) error
	Clear() error
}

// StorageController reports the work volume's current storage level.
// internal/storage implements it.
type StorageController interface {
	Status() model.StorageStatus
}

// Publisher is the narrow eventbus surface the manager depends on.
type Publisher interface {
	Dispatch(event any)
}

// Scanner is the per-device worker the manager starts, monitors, and
// stops. internal/scanner implements it.
type Scanner interface {
	Terminated() bool
	Stop()
}

// ScannerFactory starts a new Scanner for a device.
type ScannerFactory interface {
	Start(device *model.Device) Scanner
}

// Blacklist reports whether a serial should never be tracked.
type Blacklist interface {
	Blocked(serial string) bool
}

// Config configures tick interval and system-disk detection.
type Config struct {
	TickInterval time.Duration
	// WorkVolumeRoot is excluded from discovery: the work directory's own
	// volume is never mirrored into itself.
	WorkVolumeRoot string
}

type trackedDevice struct {
	device  *model.Device
	scanner Scanner
}

// Manager is the svc.Service that owns every tracked Device.
type Manager struct {
	*svc.Base

	roots     RootSource
	volumeIDs VolumeIdentifier
	records   RecordStore
	storage   StorageController
	bus       Publisher
	scanners  ScannerFactory
	blacklist Blacklist
	cfg       Config

	mu      sync.Mutex
	devices map[string]*trackedDevice

	lastStorageLevel model.StorageLevel
}

// New constructs a Manager. bus and blacklist may be nil.
func New(roots RootSource, volumeIDs VolumeIdentifier, records RecordStore, storage StorageController, scanners ScannerFactory, bus Publisher, blacklist Blacklist, cfg Config) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Manager{
		Base:             svc.NewBase("devicemanager", cfg.TickInterval),
		roots:            roots,
		volumeIDs:        volumeIDs,
		records:          records,
		storage:          storage,
		bus:              bus,
		scanners:         scanners,
		blacklist:        blacklist,
		cfg:              cfg,
		devices:          make(map[string]*trackedDevice),
		lastStorageLevel: model.StorageOK,
	}
}

// Cleanup stops every running scanner. Invoked once by svc.Manager on
// Stop, after the tick subscription has already been cancelled.
func (m *Manager) Cleanup(ctx context.Context) error {
	for _, td := range m.snapshot() {
		if td.scanner != nil {
			td.scanner.Stop()
			m.setScanner(td.device.Serial, nil)
		}
	}
	return nil
}

// Seed loads persisted DeviceRecords and turns each into a ghost device.
// Call once before starting the manager.
func (m *Manager) Seed() error {
	records, err := m.records.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.blacklist != nil && m.blacklist.Blocked(r.Serial) {
			continue
		}
		m.devices[r.Serial] = &trackedDevice{device: model.NewGhost(r.Serial, r.VolumeName)}
	}
	return nil
}

// ClearDeviceRecords empties the persistent record store. Tracked devices
// already in memory are unaffected; their records are simply not
// rewritten until the next discovery calls persist.
func (m *Manager) ClearDeviceRecords() error {
	return m.records.Clear()
}

// Devices returns a snapshot of every tracked device.
func (m *Manager) Devices() []*model.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Device, 0, len(m.devices))
	for _, td := range m.devices {
		out = append(out, td.device)
	}
	return out
}

// Tick runs one discovery/refresh/arbitration cycle.
func (m *Manager) Tick(ctx context.Context) error {
	if err := m.discover(ctx); err != nil {
		log.WithComponent("devicemanager").Warn().Err(err).Msg("discovery failed")
	}
	if ctx.Err() != nil {
		return nil
	}
	m.refreshAll()
	if ctx.Err() != nil {
		return nil
	}
	m.applyStorageLevel()
	if ctx.Err() != nil {
		return nil
	}
	m.arbitrateScanners()
	m.reportDeviceCounts()
	return nil
}

// reportDeviceCounts resamples DevicesTotal across every tracked state so
// the gauge always reflects the current snapshot rather than drifting via
// incremental adjustments.
func (m *Manager) reportDeviceCounts() {
	counts := map[model.DeviceState]int{
		model.DeviceOffline:     0,
		model.DeviceUnavailable: 0,
		model.DeviceIdle:        0,
		model.DeviceScanning:    0,
		model.DevicePaused:      0,
		model.DeviceDisabled:    0,
	}
	for _, td := range m.snapshot() {
		counts[td.device.State]++
	}
	for state, count := range counts {
		metrics.DevicesTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (m *Manager) discover(ctx context.Context) error {
	roots, err := m.roots.Roots()
	if err != nil {
		return err
	}

	for _, root := range roots {
		if ctx.Err() != nil {
			return nil
		}
		if root == m.cfg.WorkVolumeRoot {
			continue
		}
		serial, err := m.volumeIDs.Serial(root)
		if err != nil {
			continue
		}
		if m.blacklist != nil && m.blacklist.Blocked(serial) {
			continue
		}
		name, err := m.volumeIDs.Name(root)
		if err != nil {
			name = ""
		}
		m.discoverRoot(serial, root, name)
	}
	return nil
}

// isSystemDisk reports spec.md's OR condition: root holds a filesystem
// type that isn't removable user media, or root is the volume backing
// the work directory.
func (m *Manager) isSystemDisk(root string) bool {
	if root == m.cfg.WorkVolumeRoot {
		return true
	}
	fsType, err := m.volumeIDs.FileSystemType(root)
	if err != nil {
		return true
	}
	return !isRemovableFileSystem(fsType)
}

func (m *Manager) discoverRoot(serial, root, volumeName string) {
	m.mu.Lock()
	existing, ok := m.devices[serial]
	m.mu.Unlock()

	if ok && existing.device.IsGhost() {
		existing.device.RootPath = root
		existing.device.VolumeName = volumeName
		existing.device.SetState(model.DeviceIdle)
		if m.bus != nil {
			m.bus.Dispatch(eventbus.DeviceInserted{Device: existing.device})
		}
		m.persist()
		return
	}
	if ok {
		if existing.device.VolumeName != volumeName {
			existing.device.VolumeName = volumeName
			m.persist()
		}
		return
	}

	newDevice := model.NewDevice(serial, root, volumeName, m.isSystemDisk(root))
	m.mu.Lock()
	m.devices[serial] = &trackedDevice{device: newDevice}
	m.mu.Unlock()

	metrics.NewDevicesTotal.Inc()
	m.persist()
	if m.bus != nil {
		m.bus.Dispatch(eventbus.NewDeviceJoined{Device: newDevice})
	}
}

func (m *Manager) refreshAll() {
	for _, td := range m.snapshot() {
		m.refreshOne(td.device)
	}
}

func (m *Manager) refreshOne(d *model.Device) {
	if d.IsGhost() {
		return
	}
	if d.State == model.DeviceDisabled || d.State == model.DevicePaused {
		return
	}

	old := d.State
	switch accessState(d.RootPath) {
	case model.DeviceIdle:
		if old == model.DeviceOffline || old == model.DeviceUnavailable {
			d.SetState(model.DeviceIdle)
		}
	case model.DeviceOffline:
		d.SetState(model.DeviceOffline)
		d.ToGhost()
		if m.bus != nil {
			m.bus.Dispatch(eventbus.DeviceRemoved{Device: d})
		}
	default:
		d.SetState(model.DeviceUnavailable)
	}

	if d.StateChanged() && m.bus != nil {
		m.bus.Dispatch(eventbus.DeviceStateChanged{Device: d, Old: old, New: d.State})
	}
}

// accessState maps a filesystem stat on root to the device state it
// implies: root found and accessible -> IDLE, missing -> OFFLINE,
// permission denied or any other I/O error -> UNAVAILABLE.
func accessState(root string) model.DeviceState {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.DeviceOffline
		}
		return model.DeviceUnavailable
	}
	if !info.IsDir() {
		return model.DeviceUnavailable
	}
	return model.DeviceIdle
}

func (m *Manager) applyStorageLevel() {
	if m.storage == nil {
		return
	}
	status := m.storage.Status()
	prev := m.lastStorageLevel
	m.lastStorageLevel = status.Level

	if status.Level == model.StorageCritical && prev != model.StorageCritical {
		m.pauseAllScanners()
	} else if status.Level == model.StorageOK && prev != model.StorageOK {
		m.resumeAllScanners()
	}
}

func (m *Manager) pauseAllScanners() {
	for _, td := range m.snapshot() {
		if td.device.State == model.DeviceIdle || td.device.State == model.DeviceScanning {
			td.device.SetState(model.DevicePaused)
			if td.scanner != nil {
				td.scanner.Stop()
				td.scanner = nil
			}
		}
	}
}

func (m *Manager) resumeAllScanners() {
	for _, td := range m.snapshot() {
		if td.device.State == model.DevicePaused {
			td.device.SetState(model.DeviceIdle)
		}
	}
}

// HasPausedScanners reports whether any device is currently PAUSED.
func (m *Manager) HasPausedScanners() bool {
	for _, td := range m.snapshot() {
		if td.device.State == model.DevicePaused {
			return true
		}
	}
	return false
}

func (m *Manager) arbitrateScanners() {
	for _, td := range m.snapshot() {
		switch td.device.State {
		case model.DeviceIdle:
			scanner := m.scanners.Start(td.device)
			td.device.SetState(model.DeviceScanning)
			m.setScanner(td.device.Serial, scanner)
		case model.DeviceScanning:
			if td.scanner != nil && td.scanner.Terminated() {
				td.scanner.Stop()
				m.setScanner(td.device.Serial, nil)
				td.device.SetState(model.DeviceIdle)
			}
		case model.DeviceDisabled, model.DevicePaused:
			if td.scanner != nil {
				td.scanner.Stop()
				m.setScanner(td.device.Serial, nil)
			}
		}
	}
}

func (m *Manager) setScanner(serial string, s Scanner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if td, ok := m.devices[serial]; ok {
		td.scanner = s
	}
}

func (m *Manager) snapshot() []*trackedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*trackedDevice, 0, len(m.devices))
	for _, td := range m.devices {
		out = append(out, td)
	}
	return out
}

func (m *Manager) persist() {
	records := make([]model.DeviceRecord, 0, len(m.devices))
	for _, td := range m.snapshot() {
		records = append(records, td.device.Record())
	}
	if err := m.records.Save(records); err != nil {
		log.WithComponent("devicemanager").Error().Err(err).Msg("failed to persist device records")
	}
}

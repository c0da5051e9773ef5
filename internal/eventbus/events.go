package eventbus

import "github.com/cuemby/usbthief/internal/model"

// NewDeviceJoined is published when a volume is seen for the first time.
type NewDeviceJoined struct {
	Device *model.Device
}

// DeviceInserted is published when a ghost device is merged back into a
// mounted device.
type DeviceInserted struct {
	Device *model.Device
}

// DeviceRemoved is published when a mounted device collapses to ghost form.
type DeviceRemoved struct {
	Device *model.Device
}

// DeviceStateChanged is published on any device state transition.
type DeviceStateChanged struct {
	Device *model.Device
	Old    model.DeviceState
	New    model.DeviceState
}

// FileDiscovered is published by the scanner for every filtered path.
type FileDiscovered struct {
	Path         string
	Size         int64
	DeviceSerial string
}

// CopyCompleted is published for every CopyTask outcome, success or not.
type CopyCompleted struct {
	Outcome model.CopyOutcome
}

// StorageLow is published when the work volume crosses into LOW or
// CRITICAL.
type StorageLow struct {
	WorkDir       string
	FreeBytes     uint64
	ThresholdByte uint64
	Level         model.StorageLevel
}

// StorageRecovered is published when the work volume returns to OK.
type StorageRecovered struct {
	WorkDir   string
	FreeBytes uint64
}

// FilesRecycled is published after the recycler deletes a batch of files.
type FilesRecycled struct {
	Paths      []string
	BytesFreed int64
	Strategy   string
}

// EmptyFoldersDeleted is published after the recycler removes empty
// directories.
type EmptyFoldersDeleted struct {
	Folders []string
	Count   int
}

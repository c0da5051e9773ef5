package model

// DeviceState is the lifecycle state of a Device.
type DeviceState string

const (
	DeviceOffline     DeviceState = "OFFLINE"
	DeviceUnavailable DeviceState = "UNAVAILABLE"
	DeviceIdle        DeviceState = "IDLE"
	DeviceScanning    DeviceState = "SCANNING"
	DevicePaused      DeviceState = "PAUSED"
	DeviceDisabled    DeviceState = "DISABLED"
)

// Device is a removable-storage volume tracked by the device manager.
//
// A device with State == DeviceOffline is a "ghost": it has no RootPath and
// represents a previously-seen volume that is not currently mounted.
// Serial uniquely identifies the physical volume and defines equality.
type Device struct {
	Serial       string
	RootPath     string // empty when offline
	VolumeName   string
	SystemDisk   bool
	State        DeviceState
	stateChanged bool
}

// NewDevice creates a mounted device in IDLE state, or DISABLED if it is a
// system disk (invariant ii).
func NewDevice(serial, rootPath, volumeName string, systemDisk bool) *Device {
	d := &Device{
		Serial:     serial,
		RootPath:   rootPath,
		VolumeName: volumeName,
		SystemDisk: systemDisk,
	}
	if systemDisk {
		d.State = DeviceDisabled
	} else {
		d.State = DeviceIdle
	}
	return d
}

// NewGhost creates an offline placeholder device from a persisted record.
func NewGhost(serial, volumeName string) *Device {
	return &Device{
		Serial:     serial,
		VolumeName: volumeName,
		State:      DeviceOffline,
	}
}

// IsGhost reports whether the device currently represents an unmounted volume.
func (d *Device) IsGhost() bool {
	return d.State == DeviceOffline
}

// SetState transitions the device and marks StateChanged when the state
// actually differs from the current one.
func (d *Device) SetState(s DeviceState) {
	if d.State == s {
		return
	}
	d.State = s
	d.stateChanged = true
}

// StateChanged reports and clears the pending state-change flag. It is
// intended for a single consumer to poll; subsequent calls return false
// until the next transition.
func (d *Device) StateChanged() bool {
	changed := d.stateChanged
	d.stateChanged = false
	return changed
}

// Equal implements serial-number equality (invariant iii).
func (d *Device) Equal(other *Device) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Serial == other.Serial
}

// ToGhost collapses a device to its offline, rootless form.
func (d *Device) ToGhost() {
	d.RootPath = ""
	d.SetState(DeviceOffline)
}

// Record returns the persistent projection of this device.
func (d *Device) Record() DeviceRecord {
	return DeviceRecord{Serial: d.Serial, VolumeName: d.VolumeName}
}

// DeviceRecord is the persistent projection (serial_number, volume_name).
type DeviceRecord struct {
	Serial     string
	VolumeName string
}

package model

// StorageLevel classifies remaining free space on the work volume.
type StorageLevel string

const (
	StorageOK       StorageLevel = "OK"
	StorageLow      StorageLevel = "LOW"
	StorageCritical StorageLevel = "CRITICAL"
)

// StorageStatus is a point-in-time read of the work volume's capacity.
// Total always equals Free+Used.
type StorageStatus struct {
	FreeBytes  uint64
	UsedBytes  uint64
	TotalBytes uint64
	Level      StorageLevel
}

// StorageLevelFor derives a StorageLevel from free bytes and the
// reserved-bytes threshold: CRITICAL at or below the threshold, LOW at or
// below 110% of it, OK otherwise.
func StorageLevelFor(freeBytes, reservedBytes uint64) StorageLevel {
	switch {
	case freeBytes <= reservedBytes:
		return StorageCritical
	case float64(freeBytes) <= float64(reservedBytes)*1.1:
		return StorageLow
	default:
		return StorageOK
	}
}

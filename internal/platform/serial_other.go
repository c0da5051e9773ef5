//go:build !windows

package platform

import "fmt"

// querySerial, queryVolumeName, and queryFileSystemType have no
// non-Windows implementation: volume serial numbers and
// GetVolumeInformation are Windows-specific concepts this service only
// ever runs against.
func querySerial(root string) (string, error) {
	return "", fmt.Errorf("platform: volume serial queries are only available on Windows")
}

func queryVolumeName(root string) (string, error) {
	return "", fmt.Errorf("platform: volume name queries are only available on Windows")
}

func queryFileSystemType(root string) (string, error) {
	return "", fmt.Errorf("platform: filesystem type queries are only available on Windows")
}

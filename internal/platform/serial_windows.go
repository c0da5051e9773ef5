//go:build windows

package platform

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/windows"
)

// querySerial resolves root's volume serial via wmic, falling back to
// the `vol` command's scripting output when wmic is unavailable (it is
// deprecated and absent on recent Windows builds).
func querySerial(root string) (string, error) {
	drive := driveLetter(root)
	if serial, err := querySerialWMIC(drive); err == nil {
		return serial, nil
	}
	return querySerialVol(drive)
}

func querySerialWMIC(drive string) (string, error) {
	out, err := exec.Command("wmic", "logicaldisk", "where",
		fmt.Sprintf("DeviceID='%s'", drive), "get", "VolumeSerialNumber", "/value").Output()
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if val, ok := strings.CutPrefix(line, "VolumeSerialNumber="); ok {
			val = strings.TrimSpace(val)
			if val != "" {
				return val, nil
			}
		}
	}
	return "", fmt.Errorf("platform: wmic returned no serial for %s", drive)
}

func querySerialVol(drive string) (string, error) {
	out, err := exec.Command("cmd", "/C", "vol", drive).Output()
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.LastIndex(line, "is "); idx >= 0 && strings.Contains(line, "Serial Number") {
			serial := strings.TrimSpace(line[idx+len("is "):])
			if serial != "" {
				return serial, nil
			}
		}
	}
	return "", fmt.Errorf("platform: vol returned no serial for %s", drive)
}

func queryVolumeName(root string) (string, error) {
	name, _, err := queryVolumeInfo(root)
	return name, err
}

// queryFileSystemType resolves root's filesystem type (e.g. "FAT32",
// "exFAT", "NTFS") via the same GetVolumeInformation call queryVolumeName
// makes, so system-disk detection can tell removable FAT media apart
// from an internal NTFS drive.
func queryFileSystemType(root string) (string, error) {
	_, fsType, err := queryVolumeInfo(root)
	return fsType, err
}

func queryVolumeInfo(root string) (name, fsType string, err error) {
	rootPtr, err := windows.UTF16PtrFromString(ensureTrailingSlash(root))
	if err != nil {
		return "", "", err
	}
	nameBuf := make([]uint16, windows.MAX_PATH+1)
	fsTypeBuf := make([]uint16, windows.MAX_PATH+1)
	err = windows.GetVolumeInformation(rootPtr, &nameBuf[0], uint32(len(nameBuf)), nil, nil, nil, &fsTypeBuf[0], uint32(len(fsTypeBuf)))
	if err != nil {
		return "", "", err
	}
	return windows.UTF16ToString(nameBuf), windows.UTF16ToString(fsTypeBuf), nil
}

func driveLetter(root string) string {
	trimmed := strings.TrimSuffix(root, `\`)
	if len(trimmed) >= 2 && trimmed[1] == ':' {
		return trimmed[:2]
	}
	return trimmed
}

func ensureTrailingSlash(root string) string {
	if strings.HasSuffix(root, `\`) {
		return root
	}
	return root + `\`
}

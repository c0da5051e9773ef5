//go:build windows

package platform

import (
	"golang.org/x/sys/windows"

	"github.com/cuemby/usbthief/internal/copytask"
)

func readAttributes(path string) (copytask.Attributes, error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return copytask.Attributes{}, err
	}
	raw, err := windows.GetFileAttributes(ptr)
	if err != nil {
		return copytask.Attributes{}, err
	}
	return copytask.Attributes{
		ReadOnly: raw&windows.FILE_ATTRIBUTE_READONLY != 0,
		Hidden:   raw&windows.FILE_ATTRIBUTE_HIDDEN != 0,
		System:   raw&windows.FILE_ATTRIBUTE_SYSTEM != 0,
		Archive:  raw&windows.FILE_ATTRIBUTE_ARCHIVE != 0,
	}, nil
}

func writeAttributes(path string, attrs copytask.Attributes) error {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	var raw uint32
	if attrs.ReadOnly {
		raw |= windows.FILE_ATTRIBUTE_READONLY
	}
	if attrs.Hidden {
		raw |= windows.FILE_ATTRIBUTE_HIDDEN
	}
	if attrs.System {
		raw |= windows.FILE_ATTRIBUTE_SYSTEM
	}
	if attrs.Archive {
		raw |= windows.FILE_ATTRIBUTE_ARCHIVE
	}
	if raw == 0 {
		raw = windows.FILE_ATTRIBUTE_NORMAL
	}
	return windows.SetFileAttributes(ptr, raw)
}

func isHidden(path string) (bool, error) {
	attrs, err := readAttributes(path)
	if err != nil {
		return false, err
	}
	return attrs.Hidden, nil
}

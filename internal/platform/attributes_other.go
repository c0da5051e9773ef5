//go:build !windows

package platform

import (
	"fmt"

	"github.com/cuemby/usbthief/internal/copytask"
)

func readAttributes(path string) (copytask.Attributes, error) {
	return copytask.Attributes{}, fmt.Errorf("platform: DOS attributes are not available on this OS")
}

func writeAttributes(path string, attrs copytask.Attributes) error {
	return fmt.Errorf("platform: DOS attributes are not available on this OS")
}

func isHidden(path string) (bool, error) {
	return false, nil
}

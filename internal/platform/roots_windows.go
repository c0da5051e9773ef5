//go:build windows

package platform

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// listRoots enumerates every lettered drive currently visible via
// GetLogicalDrives, returning each as "X:\".
func listRoots() ([]string, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, err
	}
	var roots []string
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		roots = append(roots, fmt.Sprintf("%c:\\", 'A'+i))
	}
	return roots, nil
}

// Package priority implements the pure priority-rule function spec.md
// §4.5 describes: a path and its size map to an urgency in [0,100], with
// higher meaning more urgent (dispatched first by internal/scheduler).
package priority

import (
	"path/filepath"
	"strings"
)

const (
	// Default is returned whenever the path or size cannot be classified.
	Default = 5

	directoryPriority = 11

	smallFileBonus   = 2
	largeFilePenalty = 4

	smallFileThreshold = 1 << 20  // 1 MiB
	largeFileThreshold = 10 << 20 // 10 MiB
)

var extensionTable = map[string]int{
	".pdf":  10,
	".docx": 9,
	".xlsx": 9,
	".pptx": 8,
	".doc":  8,
	".xls":  8,
	".ppt":  7,
	".txt":  7,
	".jpg":  6,
	".jpeg": 6,
	".png":  6,
	".mp4":  5,
	".mp3":  5,
	".mov":  5,
	".avi":  5,
}

// For computes the priority for a filesystem entry. isDir takes precedence
// over any extension lookup. size is ignored for directories.
func For(path string, isDir bool, size int64) int {
	if isDir {
		return directoryPriority
	}

	base, ok := extensionTable[strings.ToLower(filepath.Ext(path))]
	if !ok {
		base = Default
	}

	switch {
	case size < smallFileThreshold:
		base += smallFileBonus
	case size >= largeFileThreshold:
		base -= largeFilePenalty
	}

	return clamp(base)
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

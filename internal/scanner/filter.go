package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HiddenPolicy controls whether hidden files and directories are skipped
// during a walk.
type HiddenPolicy string

const (
	HiddenSkip    HiddenPolicy = "SKIP"
	HiddenInclude HiddenPolicy = "INCLUDE"
)

// SymlinkPolicy controls whether a symlinked file met during a walk is
// skipped or filtered by its target's metadata. Symlinked directories are
// never descended into.
type SymlinkPolicy string

const (
	SymlinkSkip   SymlinkPolicy = "SKIP"
	SymlinkFollow SymlinkPolicy = "FOLLOW"
)

// SuffixMode selects how SuffixFilter.Suffixes is interpreted.
type SuffixMode string

const (
	SuffixNone      SuffixMode = "NONE"
	SuffixWhitelist SuffixMode = "WHITELIST"
	SuffixBlacklist SuffixMode = "BLACKLIST"
)

// PresetOfficeDocuments is the short-list suffix preset offered for
// WHITELIST mode: common office and image formats.
var PresetOfficeDocuments = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".jpg", ".jpeg", ".png",
}

// FilterConfig combines the BasicFileFilter and SuffixFilter spec.md
// describes: a regular, readable file within a size and modification-time
// range, then an extension allow/deny list.
type FilterConfig struct {
	Hidden      HiddenPolicy
	Symlink     SymlinkPolicy
	MaxFileSize int64 // 0 means unlimited

	ModifiedAfter  time.Time // zero means unset
	ModifiedBefore time.Time

	SuffixMode SuffixMode
	Suffixes   []string // lowercase, with leading dot
}

func (c *FilterConfig) applyDefaults() {
	if c.Hidden == "" {
		c.Hidden = HiddenSkip
	}
	if c.Symlink == "" {
		c.Symlink = SymlinkSkip
	}
	if c.SuffixMode == "" {
		c.SuffixMode = SuffixNone
	}
}

// skipHiddenDir reports whether a directory entry's base name should halt
// descent under the hidden-file policy.
func (c FilterConfig) skipHiddenDir(name string) bool {
	return c.Hidden == HiddenSkip && isHiddenName(name)
}

// AcceptFile applies the BasicFileFilter then the SuffixFilter to a
// regular file candidate.
func (c FilterConfig) AcceptFile(path string, info fs.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if c.Hidden == HiddenSkip && isHiddenName(info.Name()) {
		return false
	}
	if !info.Mode().IsRegular() {
		return false
	}
	size := info.Size()
	if size <= 0 {
		return false
	}
	if c.MaxFileSize > 0 && size > c.MaxFileSize {
		return false
	}
	if !c.ModifiedAfter.IsZero() && info.ModTime().Before(c.ModifiedAfter) {
		return false
	}
	if !c.ModifiedBefore.IsZero() && info.ModTime().After(c.ModifiedBefore) {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return c.acceptSuffix(path)
}

func (c FilterConfig) acceptSuffix(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch c.SuffixMode {
	case SuffixWhitelist:
		return containsSuffix(c.Suffixes, ext)
	case SuffixBlacklist:
		return !containsSuffix(c.Suffixes, ext)
	default:
		return true
	}
}

func containsSuffix(suffixes []string, ext string) bool {
	for _, s := range suffixes {
		if strings.EqualFold(s, ext) {
			return true
		}
	}
	return false
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

func isHiddenPath(path string) bool {
	return isHiddenName(filepath.Base(path))
}

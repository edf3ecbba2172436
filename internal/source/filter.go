package source

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// defaultExts covers the formats the thumbnail generator can decode.
var defaultExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// Filter is the configuration-driven exclusion policy applied per entry
// before it is yielded. It is a pure predicate so it can be tested without
// touching the filesystem.
type Filter struct {
	ShowHidden     bool
	FollowSymlinks bool
	// Exts overrides the admitted extension set (lowercase, with dot).
	// Nil means the default image formats.
	Exts map[string]struct{}
}

// AdmitFile reports whether a regular file should be yielded as an entry.
func (f Filter) AdmitFile(name string) bool {
	if !f.ShowHidden && strings.HasPrefix(name, ".") {
		return false
	}
	exts := f.Exts
	if exts == nil {
		exts = defaultExts
	}
	_, ok := exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// AdmitDir reports whether a directory should be descended into.
func (f Filter) AdmitDir(name string, d fs.DirEntry) bool {
	if !f.ShowHidden && strings.HasPrefix(name, ".") {
		return false
	}
	if !f.FollowSymlinks && d.Type()&fs.ModeSymlink != 0 {
		return false
	}
	return true
}

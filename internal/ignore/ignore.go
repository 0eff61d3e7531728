// Package ignore classifies filesystem paths as indexable or excluded.
// The rules are static: no configuration, no state.
package ignore

import (
	"path/filepath"
	"strings"
)

// Directories that are never descended into. Pruning these during a walk
// matters on large trees (node_modules alone can hold hundreds of
// thousands of files).
var skipDirs = map[string]struct{}{
	".git":         {},
	".svn":         {},
	".hg":          {},
	".idea":        {},
	".vscode":      {},
	".obsidian":    {},
	"node_modules": {},
	"vendor":       {},
	"venv":         {},
	".venv":        {},
	"__pycache__":  {},
	"target":       {},
	"build":        {},
	"dist":         {},
	".cache":       {},
}

// File extensions that are never indexed.
var skipExts = map[string]struct{}{
	".tmp":  {},
	".swp":  {},
	".swo":  {},
	".bak":  {},
	".log":  {},
	".lock": {},
}

// SkipDir reports whether a directory with the given base name should be
// excluded from walks and watch registration.
func SkipDir(name string) bool {
	if _, ok := skipDirs[name]; ok {
		return true
	}
	// Hidden directories other than the project root itself.
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// ShouldIndex reports whether the file at relPath (relative to a project
// root, slash-separated or native) is a candidate for indexing.
func ShouldIndex(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	segs := strings.Split(relPath, "/")
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		if i < len(segs)-1 {
			if SkipDir(seg) {
				return false
			}
			continue
		}
		// Final segment: the file itself.
		if strings.HasPrefix(seg, ".") || strings.HasSuffix(seg, "~") {
			return false
		}
		// Vim writes numbered temp files (4913) to probe directory writability.
		if seg == "4913" {
			return false
		}
		if _, ok := skipExts[strings.ToLower(filepath.Ext(seg))]; ok {
			return false
		}
	}
	return true
}

// Parseable reports whether an indexable file carries graph content.
// Non-Markdown files are tracked for existence and movement only.
func Parseable(relPath string) bool {
	return strings.EqualFold(filepath.Ext(relPath), ".md")
}

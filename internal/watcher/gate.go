package watcher

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jeanbovet/semantica/internal/config"
)

// builtinExcludes are always merged with the user's exclude_patterns,
// per §4.5 "defaults include VCS metadata directories, platform
// bundles, build outputs, hidden dotfiles, known media-library
// packages".
var builtinExcludes = []string{
	".git/**",
	"node_modules/**",
	".semantica/**",
	"*.app/**",
	"*.photoslibrary/**",
}

// Gate decides whether a discovered path should enter the indexing
// queue, compiled once from the configured file types, exclude
// patterns, and per-file size cap.
type Gate struct {
	fileTypes    map[string]bool
	excludeGlobs []glob.Glob
	maxFileSize  int64
}

// NewGate compiles a Gate from cfg. Exclude patterns are compiled once
// via gobwas/glob rather than re-matched as strings on every scan.
func NewGate(cfg *config.Config) *Gate {
	patterns := make([]string, 0, len(builtinExcludes)+len(cfg.ExcludePatterns))
	patterns = append(patterns, builtinExcludes...)
	patterns = append(patterns, cfg.ExcludePatterns...)

	// Each pattern is compiled twice: as written, and prefixed with "**/"
	// so that it also matches below any directory of an absolute path.
	globs := make([]glob.Glob, 0, 2*len(patterns))
	for _, p := range patterns {
		for _, candidate := range []string{p, "**/" + p} {
			if g, err := glob.Compile(candidate, '/'); err == nil {
				globs = append(globs, g)
			}
		}
	}

	return &Gate{
		fileTypes:    cfg.FileTypes,
		excludeGlobs: globs,
		maxFileSize:  int64(cfg.MaxFileSizeMB) * 1024 * 1024,
	}
}

// Allow reports whether path (with size in bytes) should be indexed:
// its extension must be enabled, it must not match an exclude pattern
// or contain a dotfile component, and it must not exceed the
// configured max file size. A file exactly at the cap is included; one
// byte larger is excluded.
func (g *Gate) Allow(path string, size int64) bool {
	if size > g.maxFileSize {
		return false
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !g.fileTypes[ext] {
		return false
	}

	if hasDotfileComponent(path) {
		return false
	}

	slashPath := filepath.ToSlash(path)
	for _, pattern := range g.excludeGlobs {
		if pattern.Match(slashPath) {
			return false
		}
	}

	return true
}

func hasDotfileComponent(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

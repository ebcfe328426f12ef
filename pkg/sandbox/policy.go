package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CheckPathAllowed fails unless path resolves under one of allowedPaths.
// An empty list allows everything.
func CheckPathAllowed(path string, allowedPaths []string) error {
	if len(allowedPaths) == 0 {
		return nil
	}

	resolved := resolvePath(path)
	for _, allowed := range allowedPaths {
		if isSubPath(resolved, resolvePath(allowed)) {
			return nil
		}
	}

	return fmt.Errorf("sandbox: path %q is not under any allowed directory", path)
}

// CheckNotExposed fails when mounting dir would make one of the sensitive
// paths visible, either because it lives under dir or because dir lives
// under it.
func CheckNotExposed(dir string, sensitive []string) error {
	resolved := resolvePath(dir)
	for _, s := range sensitive {
		rs := resolvePath(s)
		if isSubPath(rs, resolved) || isSubPath(resolved, rs) {
			return fmt.Errorf("sandbox: directory %q exposes sensitive path %q", dir, s)
		}
	}
	return nil
}

func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	evaled, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return evaled
	}

	// Resolve the longest existing prefix so a missing leaf cannot hide a
	// symlinked parent.
	cur := abs
	var trail []string
	for {
		parent := filepath.Dir(cur)
		trail = append(trail, filepath.Base(cur))
		if parent == cur {
			break
		}
		resolved, resolveErr := filepath.EvalSymlinks(parent)
		if resolveErr == nil {
			for i := len(trail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, trail[i])
			}
			return resolved
		}
		cur = parent
	}
	return abs
}

func isSubPath(child, parent string) bool {
	if child == parent {
		return true
	}
	if parent == string(filepath.Separator) {
		return strings.HasPrefix(child, parent)
	}
	prefix := parent + string(filepath.Separator)
	return strings.HasPrefix(child, prefix)
}

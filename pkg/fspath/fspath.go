// SPDX-License-Identifier: MPL-2.0

// Package fspath provides filesystem path helpers for archive assembly.
//
// The central operation is DereferenceLeaf, which resolves symbolic links in
// the final path component only. This is deliberately narrower than
// filepath.EvalSymlinks: directory-level link structure (e.g. build-output
// directory symlinks) is preserved, while the leaf file identity is
// normalized. Hard-linking a leaf that is itself a symlink behaves
// differently across operating systems, so normalizing just the leaf yields
// consistent archive contents everywhere.
package fspath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxLinkDepth bounds how many leaf symlink layers DereferenceLeaf will
// follow before reporting a cycle. It matches the traversal limit the Linux
// kernel enforces before returning ELOOP.
const MaxLinkDepth = 40

// ErrSymlinkCycle is the sentinel error wrapped by CycleError.
var ErrSymlinkCycle = errors.New("symbolic link cycle")

// CycleError is returned when a chain of leaf symlinks exceeds MaxLinkDepth.
// It wraps ErrSymlinkCycle for errors.Is() compatibility.
type CycleError struct {
	// Path is the original path whose resolution did not terminate.
	Path string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("resolving %q: %v after %d links", e.Path, ErrSymlinkCycle, MaxLinkDepth)
}

// Unwrap returns the sentinel for errors.Is().
func (e *CycleError) Unwrap() error {
	return ErrSymlinkCycle
}

// DereferenceLeaf resolves symbolic links in the final component of path,
// repeatedly replacing the leaf with its link target re-joined against the
// link's containing directory. Intermediate directory components are never
// resolved. The returned path is absolute.
//
// A path whose leaf is not a symlink is returned unchanged (made absolute).
// The path must exist; a missing file is reported as an error so callers can
// fail the whole build rather than archive a dangling reference.
func DereferenceLeaf(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path for %q: %w", path, err)
	}

	cur := abs
	for depth := 0; ; depth++ {
		if depth >= MaxLinkDepth {
			return "", &CycleError{Path: abs}
		}

		info, err := os.Lstat(cur)
		if err != nil {
			return "", fmt.Errorf("resolving source path %q: %w", path, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return cur, nil
		}

		target, err := os.Readlink(cur)
		if err != nil {
			return "", fmt.Errorf("reading link %q: %w", cur, err)
		}
		if filepath.IsAbs(target) {
			cur = filepath.Clean(target)
		} else {
			cur = filepath.Join(filepath.Dir(cur), target)
		}
	}
}

// IsRelativePosix reports whether p is a POSIX-style relative path suitable
// as an archive destination: non-empty, no leading "/", and no traversal
// outside the archive root.
func IsRelativePosix(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return true
}

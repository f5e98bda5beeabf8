// Package clean implements the stale-artifact sweep that precedes the
// builder image build.
//
// Build-output directories (pybuilder's "target") left over from earlier
// runs must not leak into the image build context, so the sweep removes
// them from the working tree before the build. Subtrees containing the
// configured skip marker segment are exempt (virtualenvs ship target-named
// directories of their own), and .git is never entered.
package clean

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options controls a sweep.
type Options struct {
	// Root is the directory the sweep starts from.
	Root string

	// TargetDir is the directory name to remove (e.g. "target").
	TargetDir string

	// SkipMarker is a path segment that exempts a subtree; empty disables
	// the exemption.
	SkipMarker string

	// DryRun reports what would be removed without removing anything.
	DryRun bool
}

// Sweep walks the tree under opts.Root and removes every directory named
// opts.TargetDir, except those under a path containing opts.SkipMarker as
// a segment. It returns the removed directory paths in walk order.
func Sweep(opts Options) ([]string, error) {
	if opts.Root == "" || opts.TargetDir == "" {
		return nil, fmt.Errorf("sweep root and target dir must not be empty")
	}

	var stale []string
	err := filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A subtree may vanish while walking (e.g. a parent target
			// dir was just collected); ignore and continue.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}

		switch {
		case d.Name() == ".git":
			return filepath.SkipDir
		case opts.SkipMarker != "" && hasSegment(path, opts.SkipMarker):
			return filepath.SkipDir
		case d.Name() == opts.TargetDir:
			stale = append(stale, path)
			// No need to walk inside a directory that is about to go.
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stale artifact sweep failed: %w", err)
	}

	if opts.DryRun {
		return stale, nil
	}

	// Remove deepest-first so nested target dirs don't invalidate paths.
	sort.Slice(stale, func(i, j int) bool { return len(stale[i]) > len(stale[j]) })
	removed := make([]string, 0, len(stale))
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		removed = append(removed, dir)
	}

	sort.Strings(removed)
	return removed, nil
}

// hasSegment reports whether marker appears as a whole path segment.
// "/a/.venv/b" matches marker ".venv"; "/a/.venv-cache/b" does not.
func hasSegment(path, marker string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == marker {
			return true
		}
	}
	return false
}

package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lucasnoah/refactorswarm/internal/checks"
)

// ignoredDirs are build and tool directories never searched for sources.
var ignoredDirs = map[string]bool{
	"__pycache__":   true,
	".git":          true,
	".swarm":        true,
	".venv":         true,
	"venv":          true,
	"build":         true,
	"dist":          true,
	"node_modules":  true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".tox":          true,
}

// Discover lists the Python sources under root, sorted. Test modules,
// conftest.py, the test directory and build artifacts are skipped, as is
// anything matching one of the exclude globs (relative to root).
func Discover(root, testDir string, exclude []string) ([]string, error) {
	for _, pat := range exclude {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pat)
		}
	}
	testRoot := ""
	if testDir != "" {
		testRoot = filepath.Join(root, testDir)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			name := d.Name()
			if ignoredDirs[name] || strings.HasSuffix(name, ".egg-info") || path == testRoot || excluded(rel, exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || filepath.Ext(path) != ".py" {
			return nil
		}
		if d.Name() == "conftest.py" || excluded(rel, exclude) {
			return nil
		}
		if ok, _ := doublestar.Match(checks.TestFilePattern, d.Name()); ok {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover sources in %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

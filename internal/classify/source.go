package classify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// SourceFunc returns the source of the test function a test identifier
// names, or "" when it cannot be found.
type SourceFunc func(testID string) string

// WithTestSource makes the classifier consult the failing test's own source
// when the failure record does not say which exception was expected. Short
// pytest tracebacks drop the raises() line.
func (c *Classifier) WithTestSource(fn SourceFunc) *Classifier {
	c.source = fn
	return c
}

// TestSourceLoader resolves test identifiers like
// "tests/test_calc.py::TestCalc::test_divide[1-0]" against each base
// directory in turn. pytest reports node ids relative to its rootdir, which
// is the project root or the test directory depending on the ini files
// present. Parsed files are cached for the lifetime of the loader.
func TestSourceLoader(bases ...string) SourceFunc {
	type parsed struct {
		src []byte
		mod *pysyntax.Module
	}
	var mu sync.Mutex
	cache := make(map[string]*parsed)

	load := func(path string) *parsed {
		mu.Lock()
		defer mu.Unlock()
		if p, ok := cache[path]; ok {
			return p
		}
		var p *parsed
		if src, err := os.ReadFile(path); err == nil {
			if mod, err := pysyntax.Parse(context.Background(), src); err == nil {
				p = &parsed{src: src, mod: mod}
			}
		}
		cache[path] = p
		return p
	}

	return func(testID string) string {
		parts := strings.Split(testID, "::")
		if len(parts) < 2 || !strings.HasSuffix(parts[0], ".py") {
			return ""
		}
		name := parts[len(parts)-1]
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		var class string
		if len(parts) > 2 {
			class = parts[len(parts)-2]
		}

		for _, base := range bases {
			p := load(filepath.Join(base, filepath.FromSlash(parts[0])))
			if p == nil {
				continue
			}
			for _, tf := range p.mod.Tests {
				if tf.Name == name && tf.Class == class && tf.Start < tf.BodyEnd && int(tf.BodyEnd) <= len(p.src) {
					return string(p.src[tf.Start:tf.BodyEnd])
				}
			}
		}
		return ""
	}
}

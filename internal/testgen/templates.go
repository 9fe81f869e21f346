package testgen

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// Conftest renders a conftest.py that inserts the given directories,
// relative to the test directory, at the front of sys.path.
func Conftest(relDirs []string) string {
	var b strings.Builder
	b.WriteString("import os\nimport sys\n\n")
	b.WriteString("_HERE = os.path.dirname(os.path.abspath(__file__))\n")
	b.WriteString("_SOURCE_DIRS = [\n")
	for _, d := range relDirs {
		fmt.Fprintf(&b, "    %q,\n", d)
	}
	b.WriteString("]\n\n")
	b.WriteString("for _rel in reversed(_SOURCE_DIRS):\n")
	b.WriteString("    _path = os.path.normpath(os.path.join(_HERE, _rel))\n")
	b.WriteString("    if _path not in sys.path:\n")
	b.WriteString("        sys.path.insert(0, _path)\n")
	return b.String()
}

// Fallback renders existence and callability checks for every public
// function and class of src.
func Fallback(module string, src *pysyntax.Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"Existence checks for %s.\"\"\"\n", module)
	b.WriteString("import importlib\n\nimport pytest\n\n")
	fmt.Fprintf(&b, "MODULE_NAME = %q\n\n\n", module)
	b.WriteString("@pytest.fixture(scope=\"module\")\n")
	b.WriteString("def module():\n")
	b.WriteString("    return importlib.import_module(MODULE_NAME)\n\n\n")
	b.WriteString("def test_module_imports(module):\n")
	b.WriteString("    assert module is not None\n")

	for _, s := range src.PublicSignatures() {
		fmt.Fprintf(&b, "\n\ndef test_%s_is_callable(module):\n", s.Name)
		fmt.Fprintf(&b, "    assert callable(getattr(module, %q, None))\n", s.Name)
	}
	for _, c := range src.PublicClasses() {
		fmt.Fprintf(&b, "\n\ndef test_class_%s_exists(module):\n", c)
		fmt.Fprintf(&b, "    assert isinstance(getattr(module, %q, None), type)\n", c)
	}
	return b.String()
}

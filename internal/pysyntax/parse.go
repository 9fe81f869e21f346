// Package pysyntax parses Python source with tree-sitter and extracts the
// facts the validation gates and the test generator need: syntax errors,
// top-level function signatures, class names and test functions.
package pysyntax

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxErrors caps how many syntax errors are collected per file.
const maxErrors = 20

// Error is one syntax error location.
type Error struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// Signature is the name and ordered parameter names of a top-level function.
type Signature struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Line   int      `json:"line"`
}

// String renders the signature as name(p1, p2).
func (s Signature) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, strings.Join(s.Params, ", "))
}

// Equal reports whether both signatures have the same name and parameters.
func (s Signature) Equal(o Signature) bool {
	if s.Name != o.Name || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// TestFunc is a pytest-style test function, top level or inside a Test* class.
type TestFunc struct {
	Name         string `json:"name"`
	Class        string `json:"class,omitempty"`
	Line         int    `json:"line"`
	HasAssertion bool   `json:"has_assertion"`
	// Start is the byte offset of the def line, decorators excluded.
	// BodyEnd is the byte offset just past the last statement of the body.
	Start   uint32 `json:"-"`
	BodyEnd uint32 `json:"-"`
	// BodyIndent is the leading whitespace of the body's first statement.
	// Inline is set when the body sits on the def line.
	BodyIndent string `json:"-"`
	Inline     bool   `json:"-"`
}

// Module is the parsed view of one Python file.
type Module struct {
	Errors    []Error     `json:"errors,omitempty"`
	Functions []Signature `json:"functions"`
	Classes   []string    `json:"classes"`
	Tests     []TestFunc  `json:"tests,omitempty"`
}

// Valid reports whether the file parsed without errors.
func (m *Module) Valid() bool {
	return len(m.Errors) == 0
}

// PublicSignatures returns the top-level functions whose names do not start
// with an underscore, in source order.
func (m *Module) PublicSignatures() []Signature {
	var out []Signature
	for _, s := range m.Functions {
		if !strings.HasPrefix(s.Name, "_") {
			out = append(out, s)
		}
	}
	return out
}

// PublicClasses returns the class names that do not start with an underscore.
func (m *Module) PublicClasses() []string {
	var out []string
	for _, c := range m.Classes {
		if !strings.HasPrefix(c, "_") {
			out = append(out, c)
		}
	}
	return out
}

// FunctionNames returns every top-level function name.
func (m *Module) FunctionNames() []string {
	out := make([]string, len(m.Functions))
	for i, s := range m.Functions {
		out[i] = s.Name
	}
	return out
}

// Parse parses src as Python.
func Parse(ctx context.Context, src []byte) (*Module, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root node")
	}

	m := &Module{}
	if root.HasError() {
		collectErrors(root, src, &m.Errors, 0)
		if len(m.Errors) == 0 {
			m.Errors = append(m.Errors, Error{Line: 1, Message: "source contains syntax errors"})
		}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		def := unwrapDecorated(root.NamedChild(i))
		if def == nil {
			continue
		}
		switch def.Type() {
		case "function_definition":
			sig := signatureOf(def, src)
			if sig.Name == "" {
				continue
			}
			m.Functions = append(m.Functions, sig)
			if isTestName(sig.Name) {
				m.Tests = append(m.Tests, testFuncOf(def, sig.Name, "", src))
			}
		case "class_definition":
			name := fieldContent(def, "name", src)
			if name == "" {
				continue
			}
			m.Classes = append(m.Classes, name)
			if strings.HasPrefix(name, "Test") {
				m.Tests = append(m.Tests, classTests(def, name, src)...)
			}
		}
	}
	return m, nil
}

// CheckSyntax returns the syntax errors of src, or nil when it parses.
func CheckSyntax(ctx context.Context, src []byte) ([]Error, error) {
	m, err := Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	return m.Errors, nil
}

func unwrapDecorated(n *sitter.Node) *sitter.Node {
	if n != nil && n.Type() == "decorated_definition" {
		return n.ChildByFieldName("definition")
	}
	return n
}

func fieldContent(n *sitter.Node, field string, src []byte) string {
	c := n.ChildByFieldName(field)
	if c == nil {
		return ""
	}
	return c.Content(src)
}

func signatureOf(def *sitter.Node, src []byte) Signature {
	return Signature{
		Name:   fieldContent(def, "name", src),
		Params: paramNames(def.ChildByFieldName("parameters"), src),
		Line:   int(def.StartPoint().Row) + 1,
	}
}

// paramNames lists parameter names in order. Star markers and splats keep
// their prefix so that moving a parameter across them counts as a change.
func paramNames(params *sitter.Node, src []byte) []string {
	out := []string{}
	if params == nil {
		return out
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "comment":
		case "default_parameter", "typed_default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				out = append(out, n.Content(src))
			}
		case "typed_parameter":
			if p.NamedChildCount() > 0 {
				out = append(out, p.NamedChild(0).Content(src))
			}
		default:
			out = append(out, p.Content(src))
		}
	}
	return out
}

func isTestName(name string) bool {
	return strings.HasPrefix(name, "test")
}

func classTests(class *sitter.Node, className string, src []byte) []TestFunc {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var out []TestFunc
	for i := 0; i < int(body.NamedChildCount()); i++ {
		def := unwrapDecorated(body.NamedChild(i))
		if def == nil || def.Type() != "function_definition" {
			continue
		}
		name := fieldContent(def, "name", src)
		if isTestName(name) {
			out = append(out, testFuncOf(def, name, className, src))
		}
	}
	return out
}

func testFuncOf(def *sitter.Node, name, class string, src []byte) TestFunc {
	tf := TestFunc{
		Name:  name,
		Class: class,
		Line:  int(def.StartPoint().Row) + 1,
		Start: def.StartByte(),
	}
	body := def.ChildByFieldName("body")
	if body == nil {
		tf.BodyEnd = def.EndByte()
		tf.Inline = true
		return tf
	}
	tf.HasAssertion = hasAssertion(body, src, 0)
	tf.BodyEnd = body.EndByte()

	start := body.StartByte()
	lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
	prefix := string(src[lineStart:start])
	if strings.Trim(prefix, " \t") == "" {
		tf.BodyIndent = prefix
	} else {
		tf.Inline = true
	}
	return tf
}

// hasAssertion reports whether a test body contains an assertion-equivalent.
// Nested function and class definitions are not searched.
func hasAssertion(n *sitter.Node, src []byte, depth int) bool {
	if depth > 500 {
		return false
	}
	switch n.Type() {
	case "assert_statement":
		return true
	case "call":
		if fn := n.ChildByFieldName("function"); fn != nil && isAssertCall(fn.Content(src)) {
			return true
		}
	case "function_definition", "class_definition", "lambda":
		if depth > 0 {
			return false
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if hasAssertion(n.NamedChild(i), src, depth+1) {
			return true
		}
	}
	return false
}

// assertCalls are call targets that count as assertions.
var assertCalls = map[string]bool{
	"pytest.raises": true,
	"pytest.fail":   true,
	"pytest.warns":  true,
	"raises":        true,
	"self.fail":     true,
}

func isAssertCall(name string) bool {
	if assertCalls[name] {
		return true
	}
	return strings.HasPrefix(name, "self.assert")
}

func collectErrors(n *sitter.Node, src []byte, errs *[]Error, depth int) {
	if depth > 1000 || len(*errs) >= maxErrors {
		return
	}
	if n.IsError() || n.IsMissing() {
		p := n.StartPoint()
		msg := "syntax error"
		if n.IsMissing() {
			msg = fmt.Sprintf("missing %s", n.Type())
		} else if text := strings.TrimSpace(n.Content(src)); text != "" && len(text) < 60 {
			msg = fmt.Sprintf("unexpected %q", text)
		}
		*errs = append(*errs, Error{Line: int(p.Row) + 1, Column: int(p.Column), Message: msg})
		// Children of an ERROR node rarely add information.
		if n.IsError() {
			return
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectErrors(n.Child(i), src, errs, depth+1)
	}
}

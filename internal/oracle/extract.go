package oracle

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Code markers an oracle may wrap its answer in.
const (
	CodeStartMarker = "CORRECTED CODE START"
	CodeEndMarker   = "CORRECTED CODE END"
	FixReportMarker = "#===== FIX REPORT ====="
)

var markdown = goldmark.New()

// codeBlock is one fenced block of a markdown reply.
type codeBlock struct {
	lang string
	body string
}

// fencedBlocks returns the fenced code blocks of src in document order.
func fencedBlocks(src string) []codeBlock {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var out []codeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		lines := fb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		out = append(out, codeBlock{
			lang: strings.ToLower(string(fb.Language(source))),
			body: buf.String(),
		})
		return ast.WalkSkipChildren, nil
	})
	return out
}

// ExtractCode pulls the Python module out of an oracle reply. Marked
// regions win over fenced blocks, fenced python blocks win over other
// fences, and a reply without either is taken as code. Report trailers and
// marker lines are removed.
func ExtractCode(reply string) string {
	code := reply
	if start := strings.Index(reply, CodeStartMarker); start >= 0 {
		rest := reply[start+len(CodeStartMarker):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = ""
		}
		if end := strings.Index(rest, CodeEndMarker); end >= 0 {
			rest = rest[:end]
		}
		code = rest
	}
	if strings.Contains(code, "```") {
		if body, ok := pickBlock(fencedBlocks(code)); ok {
			code = body
		}
	}

	if i := strings.Index(code, FixReportMarker); i >= 0 {
		code = code[:i]
	}
	var kept []string
	for _, line := range strings.Split(code, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#=====") {
			continue
		}
		kept = append(kept, line)
	}
	code = strings.TrimSpace(strings.Join(kept, "\n"))
	if code == "" {
		return ""
	}
	return code + "\n"
}

func pickBlock(blocks []codeBlock) (string, bool) {
	for _, b := range blocks {
		if b.lang == "python" || b.lang == "py" || b.lang == "python3" {
			return b.body, true
		}
	}
	if len(blocks) > 0 {
		return blocks[0].body, true
	}
	return "", false
}

// ExtractJSON returns the first JSON object or array in reply. A fenced
// json block is preferred; otherwise the first balanced {...} or [...] is
// taken, respecting string literals.
func ExtractJSON(reply string) (string, bool) {
	if strings.Contains(reply, "```") {
		for _, b := range fencedBlocks(reply) {
			if b.lang == "json" || b.lang == "" {
				if s, ok := balanced(b.body); ok {
					return s, true
				}
			}
		}
	}
	return balanced(reply)
}

func balanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end := matchClose(s, start); end > start {
			return s[start : end+1], true
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchClose returns the index of the bracket closing s[open], or -1.
func matchClose(s string, open int) int {
	var stack []byte
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

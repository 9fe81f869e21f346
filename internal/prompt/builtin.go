package prompt

// Template names.
const (
	AuditTemplate         = "audit.md"
	FixTemplate           = "fix.md"
	GenerateTestsTemplate = "generate-tests.md"
	FixContextTemplate    = "fix-context.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	AuditTemplate:         auditTemplate,
	FixTemplate:           fixTemplate,
	GenerateTestsTemplate: generateTestsTemplate,
	FixContextTemplate:    fixContextTemplate,
}

const auditTemplate = `You are a senior Python engineer auditing code before an automated repair.

Find bugs, crashes on edge inputs, wrong exception types, missing input
validation, PEP 8 violations and undocumented public functions.

## File
{{file}}

## Code
` + "```python" + `
{{code}}
` + "```" + `
{{#if truncated}}
(The file was truncated to fit the request.)
{{/if}}

## Static analysis
Score: {{lint_score}}/10
{{#if lint_issues}}
Top issues:
{{lint_issues}}
{{/if}}

## Response format
Reply with JSON only, no prose before or after:

{"file": "{{file}}", "issues": [{"type": "bug|pep8|documentation|test", "line": 12, "description": "what is wrong", "priority": "HIGH|MEDIUM|LOW", "suggestion": "how to fix it"}]}

Use an empty issues list when the file is clean.
{{#if previous_error}}

Your previous reply could not be parsed: {{previous_error}}
Reply with the JSON object only.
{{/if}}
`

const fixTemplate = `You are repairing one Python module. Return the complete corrected module.

## Rules
- Keep every public top-level function and class, with the same name and the
  same parameters in the same order.
- Do not drop code you were not asked to change.
- Return only Python source: no markdown fences, no explanations, no markers.

## Issues to fix
{{findings}}
{{#if context}}

{{context}}
{{/if}}

## Current code
` + "```python" + `
{{source}}
` + "```" + `
`

const generateTestsTemplate = `Write a pytest test module for the Python module "{{module}}".

## Rules
- Import the code under test with: from {{module}} import *
- Name every test function test_<function>_<case>.
- Every test must assert something: use assert, pytest.raises or pytest.fail.
- Test the documented behaviour, edge inputs and expected exceptions.
- Return only Python source: no markdown fences, no explanations.

## Module source
` + "```python" + `
{{source}}
` + "```" + `
{{#if previous_error}}

Your previous reply was not valid Python: {{previous_error}}
Return a complete, syntactically valid test module.
{{/if}}
`

const fixContextTemplate = `{{#if directives}}
## Failing tests from the last validation
{{directives}}
{{/if}}
{{#if signatures}}
## Public signatures to keep exactly
{{signatures}}
{{/if}}
{{#if rejection}}
## Previous attempt rejected ({{rejected_gate}} gate)
{{rejection}}
{{guidance}}
{{/if}}
{{#if final_attempt}}
## Final attempt
Make the smallest change that fixes the issues above. Leave everything else
byte for byte as it is.
{{/if}}
`

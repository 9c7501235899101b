package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/instruction"
)

func newTestRepairer() *Repairer {
	return NewRepairer(instruction.DefaultVocabulary())
}

func write(path, content string) instruction.Instruction {
	in := instruction.New(instruction.WriteFile)
	if path != "" {
		in.Params.Set(instruction.ParamPath, path)
	}
	if content != "" {
		in.Params.Set(instruction.ParamContent, content)
	}
	return in
}

func TestRepair_WriteContentRecoveredFromFencedBlock(t *testing.T) {
	fullText := "Here is the page:\n```html\n<h1>Hello</h1>\n<p>World</p>\n```\n" +
		`<tool_call>{"name":"write_file","params":{"path":"page.html","content":""}}</tool_call>`

	got, issues := newTestRepairer().Repair([]instruction.Instruction{write("page.html", "")}, fullText)

	require.Len(t, got, 1)
	assert.Equal(t, "<h1>Hello</h1>\n<p>World</p>", got[0].Params.GetString(instruction.ParamContent))
	assert.Equal(t, "page.html", got[0].Params.GetString(instruction.ParamPath))
	require.NotEmpty(t, issues)
}

// Content recovered from a fenced block must come back byte-identical:
// recovery is a slice of the original text, never a re-serialization.
func TestRepair_RecoveredContentByteIdentical(t *testing.T) {
	body := `{"config": "a \"quoted\" value", "re": "\\d+"}`
	fullText := "```json5\n" + body + "\n```\nwrite_file please"

	got, _ := newTestRepairer().Repair([]instruction.Instruction{write("cfg.json", "")}, fullText)

	require.Len(t, got, 1)
	assert.Equal(t, body, got[0].Params.GetString(instruction.ParamContent))
}

func TestRepair_InstructionPayloadBlockNotMistakenForContent(t *testing.T) {
	// The only fenced block is the instruction itself; nothing to recover.
	fullText := "```json\n{\"name\":\"write_file\",\"params\":{\"path\":\"a.txt\",\"content\":\"\"}}\n```"

	got, issues := newTestRepairer().Repair([]instruction.Instruction{write("a.txt", "")}, fullText)

	assert.Empty(t, got)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "dropped")
}

func TestRepair_WriteContentRecoveredFromRawDocument(t *testing.T) {
	fullText := "I built the page:\n<!DOCTYPE html>\n<html><body><h1>Hi</h1></body></html>\nDone."

	got, _ := newTestRepairer().Repair([]instruction.Instruction{write("", "")}, fullText)

	require.Len(t, got, 1)
	assert.Contains(t, got[0].Params.GetString(instruction.ParamContent), "<h1>Hi</h1>")
	assert.Equal(t, "index.html", got[0].Params.GetString(instruction.ParamPath))
}

func TestRepair_PathInferredFromNearbyText(t *testing.T) {
	fullText := "Save this as `notes.md`:\n```md\n# Notes\n```\n" +
		`{"name":"write_file","params":{"content":"# Notes"}}`

	got, _ := newTestRepairer().Repair([]instruction.Instruction{write("", "# Notes")}, fullText)

	require.Len(t, got, 1)
	assert.Equal(t, "notes.md", got[0].Params.GetString(instruction.ParamPath))
}

func TestRepair_PathDefaultsFromContentShape(t *testing.T) {
	cases := []struct {
		label, content, want string
	}{
		{"python", "import os\n\ndef main():\n    pass\n", "script.py"},
		{"javascript", "const x = 1;\nfunction go() { return x; }\n", "script.js"},
		{"stylesheet", "body {\n  color: red;\n}\n.card { margin: 0; }\n", "styles.css"},
		{"plain text", "just some words here", "output.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			got, _ := newTestRepairer().Repair(
				[]instruction.Instruction{write("", tc.content)}, "no paths mentioned")
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0].Params.GetString(instruction.ParamPath))
		})
	}
}

func TestRepair_EditWithoutTargetDropped(t *testing.T) {
	in := instruction.New(instruction.EditFile)
	in.Params.Set(instruction.ParamPath, "main.go")

	got, issues := newTestRepairer().Repair([]instruction.Instruction{in}, "")

	assert.Empty(t, got)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "edit_file dropped")
}

func TestRepair_EditWithLineRangeKept(t *testing.T) {
	in := instruction.New(instruction.EditFile)
	in.Params.Set(instruction.ParamPath, "main.go")
	in.Params.Set(instruction.ParamStartLine, float64(3))
	in.Params.Set(instruction.ParamEndLine, float64(5))

	got, _ := newTestRepairer().Repair([]instruction.Instruction{in}, "")
	assert.Len(t, got, 1)
}

func TestRepair_NavigateEmptyTargetDropped(t *testing.T) {
	in := instruction.New(instruction.Navigate)
	in.Params.Set(instruction.ParamURL, "  ")

	got, _ := newTestRepairer().Repair([]instruction.Instruction{in}, "")
	assert.Empty(t, got)
}

func TestRepair_NavigateBareDomainGetsScheme(t *testing.T) {
	in := instruction.New(instruction.Navigate)
	in.Params.Set(instruction.ParamURL, "example.com/docs")

	got, _ := newTestRepairer().Repair([]instruction.Instruction{in}, "")

	require.Len(t, got, 1)
	assert.Equal(t, "https://example.com/docs", got[0].Params.GetString(instruction.ParamURL))
}

func TestRepair_NavigateFullURLUntouched(t *testing.T) {
	in := instruction.New(instruction.Navigate)
	in.Params.Set(instruction.ParamURL, "http://example.com")

	got, _ := newTestRepairer().Repair([]instruction.Instruction{in}, "")

	require.Len(t, got, 1)
	assert.Equal(t, "http://example.com", got[0].Params.GetString(instruction.ParamURL))
}

func TestRepair_SalvagePassProducesSingleWrite(t *testing.T) {
	// Both instructions unrecoverable, but the response carries content.
	edit := instruction.New(instruction.EditFile)
	nav := instruction.New(instruction.Navigate)
	fullText := "I couldn't decide, but here's the script:\n```python\nimport sys\nprint(sys.argv)\n```"

	got, issues := newTestRepairer().Repair([]instruction.Instruction{edit, nav}, fullText)

	require.Len(t, got, 1)
	assert.Equal(t, instruction.WriteFile, got[0].Name)
	assert.Equal(t, "import sys\nprint(sys.argv)", got[0].Params.GetString(instruction.ParamContent))
	assert.Equal(t, "script.py", got[0].Params.GetString(instruction.ParamPath))
	assert.Contains(t, issues[len(issues)-1], "salvaged")
}

func TestRepair_NoSalvageWithoutCandidates(t *testing.T) {
	got, issues := newTestRepairer().Repair(nil, "```python\nimport sys\n```")
	assert.Empty(t, got)
	assert.Empty(t, issues)
}

func TestRepair_HealthyInstructionsPassThrough(t *testing.T) {
	in := write("a.txt", "hello world")
	got, issues := newTestRepairer().Repair([]instruction.Instruction{in}, "irrelevant")

	require.Len(t, got, 1)
	assert.Equal(t, "hello world", got[0].Params.GetString(instruction.ParamContent))
	assert.Empty(t, issues)
}

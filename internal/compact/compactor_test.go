package compact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/conversation"
	"helmsman/internal/instruction"
)

// windowFor returns a window size that puts the arena at roughly the
// given utilization.
func windowFor(t *testing.T, arena *conversation.Arena, util float64) int {
	t.Helper()
	tokens := arena.Tokens(NewTokenCounter())
	require.Positive(t, tokens)
	return int(float64(tokens) / util)
}

func resultWithPayload(name string, n int) instruction.ExecutionResult {
	return instruction.ExecutionResult{
		Instruction: instruction.New(name),
		Success:     true,
		Payload:     strings.Repeat("x", n),
	}
}

func assistantTurn(text string, results ...instruction.ExecutionResult) *conversation.Turn {
	return &conversation.Turn{
		Role:    conversation.RoleAssistant,
		Text:    text,
		Results: results,
	}
}

func TestCompact_BelowThresholdIsNoop(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	arena.Append(assistantTurn("short turn", resultWithPayload(instruction.ReadFile, 2000)))

	c := NewCompactor(windowFor(t, arena, 0.20))
	rep := c.Compact(arena)

	assert.Equal(t, 0, rep.Phase)
	assert.False(t, rep.ShouldRotate)
	assert.Equal(t, 2000, len(arena.Turns()[1].Results[0].Payload))
}

func TestCompact_Phase1StubsOldBulkyResults(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	// 6 results: the first 2 are outside the exempt window of 4.
	for i := 0; i < 6; i++ {
		arena.Append(assistantTurn("turn", resultWithPayload(instruction.ReadFile, 2000)))
	}

	c := NewCompactor(windowFor(t, arena, 0.50))
	rep := c.Compact(arena)

	assert.Equal(t, 1, rep.Phase)
	assert.Equal(t, 2, rep.ResultsStubbed)

	turns := arena.Turns()
	first := turns[1].Results[0]
	assert.True(t, first.Stubbed)
	assert.Contains(t, first.Payload, instruction.ReadFile)
	assert.Contains(t, first.Payload, "ok")
	assert.Less(t, len(first.Payload), 200)
	// Recent results untouched.
	assert.False(t, turns[6].Results[0].Stubbed)
}

func TestCompact_Phase1SkipsSmallResults(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	for i := 0; i < 6; i++ {
		arena.Append(assistantTurn("turn", resultWithPayload(instruction.ReadFile, 100)))
	}
	arena.Append(assistantTurn(strings.Repeat("pad ", 600)))

	c := NewCompactor(windowFor(t, arena, 0.50))
	rep := c.Compact(arena)

	assert.Equal(t, 1, rep.Phase)
	assert.Equal(t, 0, rep.ResultsStubbed)
}

func TestCompact_StubbingIsIdempotent(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	for i := 0; i < 6; i++ {
		arena.Append(assistantTurn("turn", resultWithPayload(instruction.ReadFile, 2000)))
	}

	c := NewCompactor(windowFor(t, arena, 0.50))
	c.Compact(arena)
	after := arena.Turns()[1].Results[0].Payload

	rep := c.Compact(arena)
	assert.Equal(t, after, arena.Turns()[1].Results[0].Payload)
	assert.Equal(t, 0, rep.ResultsStubbed)
}

func TestCompact_Phase2RewritesVerboseTurns(t *testing.T) {
	bulky := "Here is the file:\n```go\n" + strings.Repeat("func line() {}\n", 200) + "```\nthat's all"
	arena := conversation.NewArena("system prompt")
	arena.Append(assistantTurn(bulky))
	// 6 recent filler turns keep the bulky one outside the exempt window.
	for i := 0; i < 6; i++ {
		arena.Append(assistantTurn("filler"))
	}

	c := NewCompactor(windowFor(t, arena, 0.65))
	rep := c.Compact(arena)

	assert.Equal(t, 2, rep.Phase)
	assert.Equal(t, 1, rep.TurnsRewritten)

	rewritten := arena.Turns()[1]
	assert.True(t, rewritten.Compacted)
	assert.Contains(t, rewritten.Text, "chars elided")
	assert.Less(t, len(rewritten.Text), len(bulky)/2)
}

func TestCompact_Phase2NeverTouchesRecentOrSystemTurns(t *testing.T) {
	bulky := "```go\n" + strings.Repeat("func line() {}\n", 200) + "```"
	system := "system: " + strings.Repeat("rule ", 400)
	arena := conversation.NewArena(system)
	for i := 0; i < 3; i++ {
		arena.Append(assistantTurn(bulky))
	}

	c := NewCompactor(windowFor(t, arena, 0.65))
	c.Compact(arena)

	turns := arena.Turns()
	assert.Equal(t, system, turns[0].Text)
	// All three assistant turns are inside the recent-6 window.
	for _, turn := range turns[1:] {
		assert.Equal(t, bulky, turn.Text)
	}
}

func TestCompact_Phase3StatusOnlyAndOutputTrim(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	for i := 0; i < 5; i++ {
		arena.Append(assistantTurn("turn", resultWithPayload(instruction.RunCommand, 3000)))
	}
	arena.AppendOutput(strings.Repeat("o", 20000))

	c := NewCompactor(windowFor(t, arena, 0.78))
	rep := c.Compact(arena)

	assert.Equal(t, 3, rep.Phase)
	assert.True(t, rep.OutputTrimmed)
	assert.Equal(t, 15000, len(arena.Output()))

	// All but the 2 most recent are status-only.
	assert.Equal(t, "[run_command ok]", arena.Turns()[1].Results[0].Payload)
	assert.NotEqual(t, "[run_command ok]", arena.Turns()[5].Results[0].Payload)
}

func TestCompact_Phase4SignalsRotation(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	arena.Append(assistantTurn(strings.Repeat("words and more words. ", 400)))

	c := NewCompactor(windowFor(t, arena, 0.82))
	rep := c.Compact(arena)

	assert.Equal(t, 4, rep.Phase)
	assert.True(t, rep.ShouldRotate)
}

func TestCompact_PhaseDropsWhenUtilizationDrops(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	for i := 0; i < 6; i++ {
		arena.Append(assistantTurn("turn", resultWithPayload(instruction.ReadFile, 2000)))
	}

	c := NewCompactor(windowFor(t, arena, 0.50))
	require.Equal(t, 1, c.Compact(arena).Phase)

	// Stubbing shrank the history; the next pass sees lower utilization.
	rep := c.Compact(arena)
	assert.LessOrEqual(t, rep.Phase, 1)
	assert.Less(t, rep.Utilization, 0.50)
}

func TestCompact_NeverReordersTurns(t *testing.T) {
	arena := conversation.NewArena("system prompt")
	texts := []string{"alpha", "beta", "gamma", "delta"}
	for _, txt := range texts {
		arena.Append(assistantTurn(txt, resultWithPayload(instruction.ReadFile, 2000)))
	}

	c := NewCompactor(windowFor(t, arena, 0.82))
	c.Compact(arena)

	turns := arena.Turns()
	require.Len(t, turns, 5)
	for i, txt := range texts {
		assert.Equal(t, txt, turns[i+1].Text)
	}
}

func TestCompressText_Patterns(t *testing.T) {
	cases := []struct {
		label string
		text  string
		want  string
	}{
		{
			label: "file content",
			text:  "Contents of `main.go`:\n```go\n" + strings.Repeat("x", 300) + "\n```",
			want:  "[file main.go:",
		},
		{
			label: "page snapshot",
			text:  "<html><body>" + strings.Repeat("<p>hi</p>", 50) + "</body></html>",
			want:  "[page snapshot:",
		},
		{
			label: "command output",
			text:  "```console\n" + strings.Repeat("line of output\n", 30) + "```",
			want:  "[command output:",
		},
		{
			label: "search results",
			text:  strings.Repeat("- Result title https://example.com/page with a longer description trailing after the link\n", 4),
			want:  "[search results: 4 entries elided]",
		},
		{
			label: "generic fenced",
			text:  "```\n" + strings.Repeat("data ", 100) + "\n```",
			want:  "[code block:",
		},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			got, fired := compressText(tc.text)
			assert.Contains(t, got, tc.want)
			assert.NotEmpty(t, fired)
		})
	}
}

func TestCompressText_SmallSpansUntouched(t *testing.T) {
	text := "```go\nshort\n```"
	got, fired := compressText(text)
	assert.Equal(t, text, got)
	assert.Empty(t, fired)
}

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"helmsman/internal/instruction"
	"helmsman/internal/modeltier"
	"helmsman/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// fakeExecutor records executed instructions and returns scripted payloads.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []instruction.Instruction
	payload  string
	fail     bool
}

func (f *fakeExecutor) Execute(ctx context.Context, in instruction.Instruction) instruction.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, in)
	res := instruction.ExecutionResult{Instruction: in, Success: !f.fail, Payload: f.payload}
	if f.fail {
		res.Err = "scripted failure"
	}
	return res
}

func (f *fakeExecutor) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, in := range f.executed {
		out = append(out, in.Name)
	}
	return out
}

func middleTier() modeltier.Profile {
	return modeltier.Resolve(7_000_000_000)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Pacing = time.Millisecond
	opts.GenerationTimeout = time.Second
	return opts
}

func TestRun_ExecutesInstructionsAndCompletes(t *testing.T) {
	p := provider.NewMockProvider(
		&provider.Response{Text: `<tool_call>{"name":"write_file","params":{"path":"a.txt","content":"hello"}}</tool_call>`},
		&provider.Response{Text: `<tool_call>{"name":"task_complete","params":{}}</tool_call>`},
	)
	exec := &fakeExecutor{payload: "written"}

	s := New(p, exec, middleTier(), fastOptions(), nil)
	out, err := s.Run(context.Background(), "write hello to a.txt")

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, []string{instruction.WriteFile}, exec.names())
	assert.Equal(t, 1, out.Executions)
}

func TestRun_NativeCallsBypassExtraction(t *testing.T) {
	native := instruction.New("read_file")
	native.Params.Set(instruction.ParamPath, "go.mod")
	native.Provenance.Encoding = instruction.EncodingNative

	p := provider.NewMockProvider(
		&provider.Response{Text: "calling the tool", NativeCalls: []instruction.Instruction{native}},
		&provider.Response{Text: `<tool_call>{"name":"task_complete"}</tool_call>`},
	)
	exec := &fakeExecutor{payload: "module helmsman"}

	s := New(p, exec, middleTier(), fastOptions(), nil)
	out, err := s.Run(context.Background(), "read go.mod")

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, []string{instruction.ReadFile}, exec.names())
}

func TestRun_HallucinationNudgesThenRecovers(t *testing.T) {
	p := provider.NewMockProvider(
		&provider.Response{Text: "I've already created the file and run the tests."},
		&provider.Response{Text: `<tool_call>{"name":"write_file","params":{"path":"t.txt","content":"x"}}</tool_call>`},
		&provider.Response{Text: `<tool_call>{"name":"task_complete"}</tool_call>`},
	)
	exec := &fakeExecutor{}

	s := New(p, exec, middleTier(), fastOptions(), nil)
	out, err := s.Run(context.Background(), "create t.txt")

	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, 3, out.Iterations)

	// The nudge became the user turn the second generation saw.
	calls := p.Calls()
	require.Len(t, calls, 3)
	second := calls[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, provider.RoleUser, last.Role)
	assert.Contains(t, last.Text, "Nothing has been executed")
}

func TestRun_RepetitionTerminates(t *testing.T) {
	loop := "Searching the documentation for relevant installation and configuration examples now, standby for detailed results shortly."
	p := provider.NewMockProvider(&provider.Response{Text: loop})
	exec := &fakeExecutor{}

	opts := fastOptions()
	opts.TaskType = "research"
	s := New(p, exec, middleTier(), opts, nil)
	out, err := s.Run(context.Background(), "research the installer")

	require.NoError(t, err)
	assert.False(t, out.Completed)
	assert.Equal(t, "terminated:repetition", out.Reason)
	assert.Empty(t, exec.names())
}

func TestRun_CancellationStopsTheLoop(t *testing.T) {
	p := provider.NewMockProvider(&provider.Response{Text: "thinking..."})
	exec := &fakeExecutor{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(p, exec, middleTier(), fastOptions(), nil)
	out, err := s.Run(ctx, "anything")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", out.Reason)
}

func TestRun_PacingIsACancellationPoint(t *testing.T) {
	// Two instructions in one turn; cancel during the pacing delay
	// between them. The second must never execute.
	p := provider.NewMockProvider(&provider.Response{
		Text: `<tool_call>{"name":"read_file","params":{"path":"a.txt"}}</tool_call>` +
			`<tool_call>{"name":"read_file","params":{"path":"b.txt"}}</tool_call>`,
	})
	exec := &fakeExecutor{}

	ctx, cancel := context.WithCancel(context.Background())
	opts := fastOptions()
	opts.Pacing = 200 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	s := New(p, exec, middleTier(), opts, nil)
	out, err := s.Run(ctx, "read both files")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", out.Reason)
	assert.Equal(t, []string{instruction.ReadFile}, exec.names())
}

func TestRun_ProviderErrorsRespectRetryBudget(t *testing.T) {
	backendErr := errors.New("backend exploded")
	p := provider.NewMockProvider().FailWith(
		backendErr, backendErr, backendErr, backendErr,
	)
	exec := &fakeExecutor{}

	// Middle tier has a retry budget of 3; the fourth failure is fatal.
	s := New(p, exec, middleTier(), fastOptions(), nil)
	out, err := s.Run(context.Background(), "anything")

	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, "retries_exhausted", out.Reason)
	assert.Len(t, p.Calls(), 4)
}

func TestRun_TimeoutRetryReplaysSameIteration(t *testing.T) {
	p := provider.NewMockProvider(
		&provider.Response{Text: `<tool_call>{"name":"task_complete"}</tool_call>`},
	).FailWith(context.DeadlineExceeded)
	exec := &fakeExecutor{}

	s := New(p, exec, middleTier(), fastOptions(), nil)
	out, err := s.Run(context.Background(), "anything")

	require.NoError(t, err)
	assert.True(t, out.Completed)
	// The timed-out attempt was replayed, not advanced: iteration-keyed
	// windows (narration, repetition, entry sets) see the same turn.
	assert.Equal(t, 1, out.Iterations)

	calls := p.Calls()
	require.Len(t, calls, 2)
	// A timeout retry never replays unmodified.
	assert.Equal(t, 2048, calls[1].MaxTokens)
}

func TestRun_MaxIterationsCap(t *testing.T) {
	// A response that classifies clean but never completes.
	p := provider.NewMockProvider(&provider.Response{
		Text: `<tool_call>{"name":"read_file","params":{"path":"notes.txt"}}</tool_call>`,
	})
	exec := &fakeExecutor{payload: "contents"}

	opts := fastOptions()
	opts.MaxIterations = 3
	s := New(p, exec, middleTier(), opts, nil)
	out, err := s.Run(context.Background(), "keep reading")

	require.NoError(t, err)
	assert.False(t, out.Completed)
	assert.Equal(t, "max_iterations", out.Reason)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, 3, out.Executions)
}

func TestRun_SessionsAreIndependent(t *testing.T) {
	mk := func() (*Session, *fakeExecutor) {
		p := provider.NewMockProvider(
			&provider.Response{Text: `<tool_call>{"name":"task_complete"}</tool_call>`},
		)
		exec := &fakeExecutor{}
		return New(p, exec, middleTier(), fastOptions(), nil), exec
	}
	a, _ := mk()
	b, _ := mk()

	outA, err := a.Run(context.Background(), "task a")
	require.NoError(t, err)
	outB, err := b.Run(context.Background(), "task b")
	require.NoError(t, err)

	assert.NotEqual(t, outA.SessionID, outB.SessionID)
	assert.NotEqual(t, a.arena, b.arena)
}

func TestRun_ResultsFoldedIntoNextPrompt(t *testing.T) {
	p := provider.NewMockProvider(
		&provider.Response{Text: `<tool_call>{"name":"read_file","params":{"path":"a.txt"}}</tool_call>`},
		&provider.Response{Text: `<tool_call>{"name":"task_complete"}</tool_call>`},
	)
	exec := &fakeExecutor{payload: "file body here"}

	s := New(p, exec, middleTier(), fastOptions(), nil)
	_, err := s.Run(context.Background(), "read it")
	require.NoError(t, err)

	calls := p.Calls()
	require.Len(t, calls, 2)
	var joined strings.Builder
	for _, m := range calls[1].Messages {
		joined.WriteString(m.Text)
		joined.WriteString("\n")
	}
	assert.Contains(t, joined.String(), "file body here")
	assert.Contains(t, joined.String(), "[read_file -> ok]")
}

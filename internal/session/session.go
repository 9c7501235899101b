// Package session runs the control loop: disclose a vocabulary, generate,
// extract, repair, execute, classify, recover, compact, repeat. One
// session owns all of its state; nothing is shared across sessions, so a
// poisoned conversation can never leak into another.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"helmsman/internal/compact"
	"helmsman/internal/conversation"
	"helmsman/internal/disclosure"
	"helmsman/internal/extract"
	"helmsman/internal/instruction"
	"helmsman/internal/logging"
	"helmsman/internal/modeltier"
	"helmsman/internal/provider"
	"helmsman/internal/repair"
	"helmsman/internal/store"
	"helmsman/internal/verdict"
)

// Executor runs one instruction against the outside world. Implementations
// must honor ctx cancellation and report timeouts as failed results.
type Executor interface {
	Execute(ctx context.Context, in instruction.Instruction) instruction.ExecutionResult
}

// Options tune one session.
type Options struct {
	TaskType      string
	SystemPrompt  string
	MaxIterations int
	// Pacing is the delay between instruction executions within a turn.
	// It is a cancellation point.
	Pacing time.Duration
	// GenerationTimeout bounds each provider call.
	GenerationTimeout time.Duration
	WindowTokens      int
	Temperature       float32
	MaxTokens         int
}

// DefaultOptions returns sensible defaults for a code task.
func DefaultOptions() Options {
	return Options{
		TaskType:          "code",
		MaxIterations:     25,
		Pacing:            250 * time.Millisecond,
		GenerationTimeout: 120 * time.Second,
		WindowTokens:      32768,
	}
}

// Outcome summarizes a finished session.
type Outcome struct {
	SessionID  string
	Iterations int
	Executions int
	Completed  bool
	// Reason explains a non-completed outcome: "max_iterations",
	// "terminated:<kind>", "cancelled", "retries_exhausted".
	Reason    string
	FinalText string
}

// Session is one control loop instance.
type Session struct {
	id       string
	provider provider.Provider
	executor Executor
	opts     Options
	tier     modeltier.Profile

	vocab      *instruction.Vocabulary
	extractor  *extract.Extractor
	repairer   *repair.Repairer
	classifier *verdict.Classifier
	scorer     *verdict.Scorer
	compactor  *compact.Compactor
	disclosure *disclosure.Engine
	journal    *store.Journal // optional

	arena      *conversation.Arena
	executions int
	lastTurn   string
	lastUsed   string
}

// New creates a session. journal may be nil.
func New(p provider.Provider, exec Executor, tier modeltier.Profile, opts Options, journal *store.Journal) *Session {
	vocab := instruction.DefaultVocabulary()
	classifier := verdict.NewClassifier(vocab)
	windowTokens := opts.WindowTokens
	if windowTokens <= 0 {
		windowTokens = DefaultOptions().WindowTokens
	}
	// Aggressiveness shrinks the effective window so weaker models
	// compact earlier.
	effectiveWindow := int(float64(windowTokens) / tier.CompactionAggressiveness)

	return &Session{
		id:         uuid.NewString(),
		provider:   p,
		executor:   exec,
		opts:       opts,
		tier:       tier,
		vocab:      vocab,
		extractor:  extract.NewExtractor(vocab),
		repairer:   repair.NewRepairer(vocab),
		classifier: classifier,
		scorer:     verdict.NewScorer(classifier),
		compactor:  compact.NewCompactor(effectiveWindow),
		disclosure: disclosure.NewEngine(vocab),
		journal:    journal,
		arena:      conversation.NewArena(opts.SystemPrompt),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Classifier exposes the classifier for policy hot-reload wiring.
func (s *Session) Classifier() *verdict.Classifier { return s.classifier }

// Run drives the loop until completion, termination, cancellation, or
// the iteration cap.
func (s *Session) Run(ctx context.Context, request string) (*Outcome, error) {
	log := logging.Get(logging.CategorySession)
	out := &Outcome{SessionID: s.id}

	s.arena.Append(&conversation.Turn{Role: conversation.RoleUser, Text: request})
	retries := s.tier.RetryBudget
	maxTokens := s.opts.MaxTokens

	for iteration := 1; iteration <= s.opts.MaxIterations; iteration++ {
		out.Iterations = iteration
		if err := ctx.Err(); err != nil {
			out.Reason = "cancelled"
			out.Executions = s.executions
			return out, err
		}

		rep := s.compactor.Compact(s.arena)
		if rep.ShouldRotate {
			s.rotate()
		}

		visible := s.disclosure.Visible(disclosure.State{
			Iteration:       iteration,
			TaskType:        s.opts.TaskType,
			LastInstruction: s.lastUsed,
			Budget:          s.tier.InstructionBudget,
		})

		snapshot := s.arena.Snapshot()
		resp, wasTimeout, err := s.generate(ctx, visible, maxTokens)
		// Post-generation liveness check: the generation is a suspension
		// point and the session may have been superseded during it.
		if cerr := ctx.Err(); cerr != nil {
			out.Reason = "cancelled"
			out.Executions = s.executions
			return out, cerr
		}
		if err != nil && !wasTimeout {
			if retries <= 0 {
				out.Reason = "retries_exhausted"
				out.Executions = s.executions
				return out, fmt.Errorf("generation failed: %w", err)
			}
			retries--
			log.Warnw("generation failed, retrying", "session", s.id, "error", err, "retries_left", retries)
			continue
		}

		text := ""
		if resp != nil {
			text = resp.Text
		}
		turn := &conversation.Turn{Role: conversation.RoleAssistant, Text: text}
		s.arena.Append(turn)
		s.arena.AppendOutput(text)
		out.FinalText = text

		ins := s.instructionsFrom(resp, text)
		turn.Instructions = ins

		done, execErr := s.executeBatch(ctx, turn, ins)
		if execErr != nil {
			out.Reason = "cancelled"
			out.Executions = s.executions
			return out, execErr
		}
		if done {
			out.Completed = true
			out.Executions = s.executions
			s.journalRecord(ctx, iteration, "session_complete", "task_complete_instruction", nil)
			return out, nil
		}

		v := s.classifier.Classify(verdict.Input{
			Text:            text,
			HadInstructions: len(ins) > 0,
			ExecutionsSoFar: s.executions,
			TaskType:        s.opts.TaskType,
			Iteration:       iteration,
			OriginalRequest: request,
			PreviousTurn:    s.lastTurn,
			WasTimeout:      wasTimeout,
		})
		s.lastTurn = text

		if v != nil {
			s.journalRecord(ctx, iteration, "turn_classified", string(v.Kind),
				map[string]interface{}{"severity": string(v.Severity)})
			switch v.Severity {
			case verdict.SeverityTerminate:
				s.arena.Rollback(snapshot)
				if v.Recovery.ClearHistory {
					s.arena.Clear()
				}
				out.Executions = s.executions
				out.Reason = "terminated:" + string(v.Kind)
				return out, nil
			case verdict.SeverityRetrySameTurn:
				if retries <= 0 {
					out.Executions = s.executions
					out.Reason = "retries_exhausted"
					return out, nil
				}
				retries--
				s.arena.Rollback(snapshot)
				// Never retry a timeout unmodified: halve the output
				// budget so the next attempt can finish in time.
				maxTokens = reducedTokens(maxTokens)
				// The retry replays the same iteration; the narration
				// and repetition windows key on the iteration number.
				iteration--
				continue
			default:
				s.nudge(v.Recovery)
				continue
			}
		}

		if len(ins) == 0 && s.scorer.Score(verdict.Input{
			Text: text, TaskType: s.opts.TaskType, Iteration: iteration,
		}) == verdict.ScoreRollback {
			s.arena.Rollback(snapshot)
		}
	}

	out.Executions = s.executions
	out.Reason = "max_iterations"
	return out, nil
}

// generate performs one provider call under the configured timeout.
func (s *Session) generate(ctx context.Context, visible []string, maxTokens int) (*provider.Response, bool, error) {
	gctx := ctx
	if s.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()
	}

	resp, err := s.provider.Generate(gctx, provider.Request{
		Messages:            s.messages(),
		VisibleInstructions: visible,
		Temperature:         s.opts.Temperature,
		MaxTokens:           maxTokens,
	})
	// A deadline on gctx with the parent still alive is a generation
	// timeout, which the classifier must see as an explicit signal.
	wasTimeout := err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	return resp, wasTimeout, err
}

// messages renders the arena as provider messages.
func (s *Session) messages() []provider.Message {
	var out []provider.Message
	for _, t := range s.arena.Turns() {
		m := provider.Message{Text: t.Text}
		switch t.Role {
		case conversation.RoleSystem:
			m.Role = provider.RoleSystem
		case conversation.RoleAssistant:
			m.Role = provider.RoleAssistant
			// Fold execution results into the turn the model sees.
			if len(t.Results) > 0 {
				var sb strings.Builder
				sb.WriteString(t.Text)
				for _, r := range t.Results {
					sb.WriteString("\n[")
					sb.WriteString(r.Instruction.Name)
					sb.WriteString(" -> ")
					sb.WriteString(r.Status())
					sb.WriteString("] ")
					sb.WriteString(r.Payload)
				}
				m.Text = sb.String()
			}
		default:
			m.Role = provider.RoleUser
		}
		out = append(out, m)
	}
	return out
}

// instructionsFrom prefers native structured calls, resolving their names
// against the vocabulary; otherwise it extracts from text, then repairs.
func (s *Session) instructionsFrom(resp *provider.Response, text string) []instruction.Instruction {
	var ins []instruction.Instruction
	if resp != nil && len(resp.NativeCalls) > 0 {
		for _, call := range resp.NativeCalls {
			name, ok := s.vocab.Resolve(call.Name)
			if !ok {
				logging.Decision(logging.CategorySession, "native_call_rejected", "unknown_name",
					"name", call.Name)
				continue
			}
			call.Name = name
			ins = append(ins, call)
		}
	} else {
		ins = s.extractor.Extract(text)
	}

	repaired, issues := s.repairer.Repair(ins, text)
	for _, issue := range issues {
		logging.Get(logging.CategorySession).Debugw("repair issue", "session", s.id, "issue", issue)
	}
	return repaired
}

// executeBatch runs a turn's instructions strictly sequentially. The
// pacing delay between executions is a cancellation point. Returns done
// when a task_complete instruction was executed.
func (s *Session) executeBatch(ctx context.Context, turn *conversation.Turn, ins []instruction.Instruction) (bool, error) {
	done := false
	for i, in := range ins {
		if i > 0 && s.opts.Pacing > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(s.opts.Pacing):
			}
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if in.Name == instruction.TaskComplete {
			done = true
			continue
		}

		res := s.executor.Execute(ctx, in)
		turn.Results = append(turn.Results, res)
		s.executions++
		s.lastUsed = in.Name
	}
	return done, nil
}

// rotate resets the history to a short summary when compaction has given
// up. The summary keeps the model oriented without the bulk.
func (s *Session) rotate() {
	turns := s.arena.Turns()
	var sb strings.Builder
	sb.WriteString("Context was reset to fit the window. Progress so far: ")
	fmt.Fprintf(&sb, "%d turns, %d instructions executed.", len(turns), s.executions)
	if s.lastUsed != "" {
		sb.WriteString(" Last instruction: ")
		sb.WriteString(s.lastUsed)
		sb.WriteString(".")
	}

	s.arena.Clear()
	s.arena.Append(&conversation.Turn{Role: conversation.RoleUser, Text: sb.String()})
	logging.Decision(logging.CategorySession, "history_rotated", "compactor_signal",
		"session", s.id)
}

// nudge appends the recovery message as the next user turn.
func (s *Session) nudge(r verdict.Recovery) {
	msg := r.Message
	if r.PrefillURL != "" {
		msg += " Target URL: " + r.PrefillURL
	}
	if msg == "" {
		return
	}
	s.arena.Append(&conversation.Turn{Role: conversation.RoleUser, Text: msg})
}

func (s *Session) journalRecord(ctx context.Context, iteration int, kind, signal string, detail map[string]interface{}) {
	if s.journal == nil {
		return
	}
	err := s.journal.Record(ctx, store.Entry{
		SessionID: s.id,
		Iteration: iteration,
		Kind:      kind,
		Signal:    signal,
		Detail:    detail,
	})
	if err != nil {
		logging.Get(logging.CategorySession).Warnw("journal write failed",
			"session", s.id, "error", err)
	}
}

func reducedTokens(maxTokens int) int {
	if maxTokens <= 0 {
		// No explicit cap was set; impose one so the retry differs.
		return 2048
	}
	half := maxTokens / 2
	if half < 256 {
		return 256
	}
	return half
}

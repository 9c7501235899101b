// Package verdict classifies completed turns into a fixed failure
// taxonomy and picks a matched recovery. Classification is a pure
// function of the turn and its session context; the pattern tables it
// consults are a swappable policy.
package verdict

import (
	"regexp"
	"strings"
	"sync/atomic"

	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// Kind names one taxonomy entry.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindRefusal      Kind = "refusal"
	KindHallucinated Kind = "hallucinated_completion"
	KindMisencoded   Kind = "misencoded_block"
	KindNarration    Kind = "narrated_not_executed"
	KindContentDump  Kind = "content_dump"
	KindIncoherence  Kind = "incoherence"
	KindTruncation   Kind = "truncation"
	KindRepetition   Kind = "repetition"
)

// Severity decides what the session loop does with a verdict.
type Severity string

const (
	SeverityRetrySameTurn Severity = "retry-same-turn"
	SeverityNudgeNextTurn Severity = "nudge-next-turn"
	SeverityTerminate     Severity = "terminate"
)

// Recovery describes the matched corrective action. Message becomes the
// next user turn for nudges; the other fields steer the session loop.
type Recovery struct {
	Message string
	// SuggestedInstruction names a concrete instruction the nudge should
	// push the model toward.
	SuggestedInstruction string
	// PrefillURL is a target parsed from the original request, for
	// navigation-flavored recoveries.
	PrefillURL string
	// ClearHistory: the conversation state itself is poisoned; retrying
	// on top of it reproduces the failure.
	ClearHistory bool
}

// Verdict is the classifier's output for one failed turn.
type Verdict struct {
	Kind     Kind
	Severity Severity
	Recovery Recovery
}

// Input is everything the classifier sees about one completed turn.
type Input struct {
	Text            string
	HadInstructions bool
	// ExecutionsSoFar counts real instruction executions earlier in the
	// session; it suppresses the refusal check once work has happened.
	ExecutionsSoFar int
	TaskType        string
	Iteration       int
	OriginalRequest string
	PreviousTurn    string
	// WasTimeout is the executor's explicit signal. Timeouts are never
	// inferred from text.
	WasTimeout bool
}

// Conversational reports whether the task type is plain chat, which the
// classifier never fails.
func (in Input) Conversational() bool {
	return in.TaskType == "conversational" || in.TaskType == "chat"
}

var (
	wordRe = regexp.MustCompile(`[a-zA-Z]{3,}`)
	urlRe  = regexp.MustCompile(`(?:https?://|www\.)\S+|\b[\w-]+\.(?:com|org|net|io|dev|gov|edu)(?:/\S*)?`)
)

// check is one ordered classifier step. First match wins, so precedence
// lives in the slice order, not in nested conditionals.
type check struct {
	kind  Kind
	match func(*Classifier, *Policy, Input) bool
	build func(*Classifier, *Policy, Input) Verdict
}

// Classifier assigns at most one verdict per turn. The policy pointer is
// swapped atomically by the hot-reload watcher; a classification in
// flight keeps the table set it started with.
type Classifier struct {
	policy atomic.Pointer[Policy]
	vocab  *instruction.Vocabulary
	checks []check
}

// NewClassifier creates a classifier with the built-in policy.
func NewClassifier(vocab *instruction.Vocabulary) *Classifier {
	c := &Classifier{vocab: vocab}
	c.policy.Store(DefaultPolicy())
	c.checks = []check{
		{KindRefusal, (*Classifier).matchRefusal, (*Classifier).buildRefusal},
		{KindHallucinated, (*Classifier).matchHallucinated, (*Classifier).buildHallucinated},
		{KindMisencoded, (*Classifier).matchMisencoded, (*Classifier).buildMisencoded},
		{KindNarration, (*Classifier).matchNarration, (*Classifier).buildNarration},
		{KindContentDump, (*Classifier).matchContentDump, (*Classifier).buildContentDump},
		{KindIncoherence, (*Classifier).matchIncoherence, (*Classifier).buildIncoherence},
		{KindTruncation, (*Classifier).matchTruncation, (*Classifier).buildTruncation},
		{KindRepetition, (*Classifier).matchRepetition, (*Classifier).buildRepetition},
	}
	return c
}

// SetPolicy swaps the pattern tables.
func (c *Classifier) SetPolicy(p *Policy) {
	c.policy.Store(p)
	logging.Decision(logging.CategoryVerdict, "policy_swapped", "new_policy_installed",
		"version", p.Version)
}

// Policy returns the currently installed pattern tables.
func (c *Classifier) Policy() *Policy {
	return c.policy.Load()
}

// Classify returns the first matching verdict, or nil to accept the turn.
func (c *Classifier) Classify(in Input) *Verdict {
	// Timeout is an explicit executor signal, never a text pattern, and
	// it outranks everything: the text of a timed-out generation is
	// garbage by definition.
	if in.WasTimeout {
		return &Verdict{
			Kind:     KindTimeout,
			Severity: SeverityRetrySameTurn,
			Recovery: Recovery{Message: "generation timed out; retry with a reduced prompt"},
		}
	}

	if in.Conversational() || in.HadInstructions {
		return nil
	}

	p := c.policy.Load()
	for _, ch := range c.checks {
		if ch.match(c, p, in) {
			v := ch.build(c, p, in)
			logging.Decision(logging.CategoryVerdict, "turn_classified", string(ch.kind),
				"severity", string(v.Severity), "iteration", in.Iteration)
			return &v
		}
	}
	return nil
}

// =============================================================================
// Check 1: refusal
// =============================================================================

func (c *Classifier) matchRefusal(p *Policy, in Input) bool {
	// A model that already executed real work is not refusing; it is
	// hedging. Suppress so later checks get their turn.
	if in.ExecutionsSoFar > 0 {
		return false
	}
	return containsAny(strings.ToLower(in.Text), p.Refusal)
}

func (c *Classifier) buildRefusal(p *Policy, in Input) Verdict {
	suggested := inferInstruction(in.OriginalRequest)
	return Verdict{
		Kind:     KindRefusal,
		Severity: SeverityNudgeNextTurn,
		Recovery: Recovery{
			Message: "You do have these capabilities here. Respond with a structured instruction, for example " +
				suggested + ".",
			SuggestedInstruction: suggested,
		},
	}
}

// inferInstruction picks a concrete instruction from request keywords.
func inferInstruction(request string) string {
	r := strings.ToLower(request)
	switch {
	case strings.Contains(r, "navigate") || strings.Contains(r, "go to") ||
		strings.Contains(r, "open the site") || strings.Contains(r, "visit"):
		return instruction.Navigate
	case strings.Contains(r, "write") || strings.Contains(r, "create") ||
		strings.Contains(r, "save"):
		return instruction.WriteFile
	case strings.Contains(r, "read") || strings.Contains(r, "look at") ||
		strings.Contains(r, "show me"):
		return instruction.ReadFile
	case strings.Contains(r, "run") || strings.Contains(r, "execute") ||
		strings.Contains(r, "command"):
		return instruction.RunCommand
	default:
		return instruction.WebSearch
	}
}

// =============================================================================
// Check 2: hallucinated completion
// =============================================================================

func (c *Classifier) matchHallucinated(p *Policy, in Input) bool {
	return containsAny(strings.ToLower(in.Text), p.Completion)
}

func (c *Classifier) buildHallucinated(p *Policy, in Input) Verdict {
	return Verdict{
		Kind:     KindHallucinated,
		Severity: SeverityNudgeNextTurn,
		Recovery: Recovery{
			Message: "Nothing has been executed yet. No file exists and no command has run. " +
				"Issue a real structured instruction to actually do the work.",
		},
	}
}

// =============================================================================
// Check 3: mis-encoded shell block
// =============================================================================

func (c *Classifier) matchMisencoded(p *Policy, in Input) bool {
	for _, label := range []string{"```bash\n", "```sh\n", "```shell\n"} {
		i := strings.Index(in.Text, label)
		if i < 0 {
			continue
		}
		body := in.Text[i+len(label):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		first := strings.Fields(body)
		if len(first) == 0 {
			continue
		}
		if _, ok := c.vocab.Resolve(first[0]); ok {
			return true
		}
	}
	return false
}

func (c *Classifier) buildMisencoded(p *Policy, in Input) Verdict {
	return Verdict{
		Kind:     KindMisencoded,
		Severity: SeverityNudgeNextTurn,
		Recovery: Recovery{
			Message: "Instructions are structured data, not shell blocks. Use this format:\n" +
				"<tool_call>{\"name\": \"read_file\", \"params\": {\"path\": \"...\"}}</tool_call>",
		},
	}
}

// =============================================================================
// Check 4: narrated, not executed
// =============================================================================

func (c *Classifier) matchNarration(p *Policy, in Input) bool {
	if in.Iteration > p.Thresholds.NarrationMaxIteration {
		return false
	}
	return containsAny(strings.ToLower(in.Text), p.FutureIntent)
}

func (c *Classifier) buildNarration(p *Policy, in Input) Verdict {
	v := Verdict{
		Kind:     KindNarration,
		Severity: SeverityNudgeNextTurn,
		Recovery: Recovery{
			Message: "Don't describe the plan; execute it. Emit the instruction itself.",
		},
	}
	if navigationFlavored(in.TaskType, in.OriginalRequest) {
		if url := urlRe.FindString(in.OriginalRequest); url != "" {
			v.Recovery.PrefillURL = ensureScheme(url)
			v.Recovery.SuggestedInstruction = instruction.Navigate
		}
	}
	return v
}

func navigationFlavored(taskType, request string) bool {
	t := strings.ToLower(taskType)
	if strings.Contains(t, "web") || strings.Contains(t, "browse") || strings.Contains(t, "navigation") {
		return true
	}
	r := strings.ToLower(request)
	return strings.Contains(r, "website") || strings.Contains(r, "web page") || urlRe.MatchString(request)
}

func ensureScheme(url string) string {
	if strings.Contains(url, "://") {
		return url
	}
	return "https://" + url
}

// =============================================================================
// Check 5: raw content dump
// =============================================================================

func (c *Classifier) matchContentDump(p *Policy, in Input) bool {
	if len(in.Text) < p.Thresholds.DumpMinLength {
		return false
	}
	lines := strings.Split(in.Text, "\n")
	structured := 0
	for _, line := range lines {
		if looksStructuredLine(line) {
			structured++
		}
	}
	return float64(structured)/float64(len(lines)) > p.Thresholds.DumpLineDensity
}

// looksStructuredLine flags code- or markup-shaped lines.
func looksStructuredLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
		return true
	}
	switch trimmed[0] {
	case '<', '{', '}', ')', ']', '#', '/', '.':
		return true
	}
	switch {
	case strings.HasSuffix(trimmed, ";"), strings.HasSuffix(trimmed, "{"),
		strings.HasSuffix(trimmed, ","), strings.Contains(trimmed, " = "),
		strings.HasPrefix(trimmed, "def "), strings.HasPrefix(trimmed, "function "),
		strings.HasPrefix(trimmed, "import "), strings.HasPrefix(trimmed, "const "):
		return true
	}
	return false
}

func (c *Classifier) buildContentDump(p *Policy, in Input) Verdict {
	return Verdict{
		Kind:     KindContentDump,
		Severity: SeverityNudgeNextTurn,
		Recovery: Recovery{
			Message: "Don't print the content; save it. Wrap it in a write_file instruction " +
				"with a path and the content as its parameter.",
			SuggestedInstruction: instruction.WriteFile,
		},
	}
}

// =============================================================================
// Check 6: incoherent output
// =============================================================================

func (c *Classifier) matchIncoherence(p *Policy, in Input) bool {
	nonASCII, total := 0, 0
	for _, r := range in.Text {
		total++
		if r > 127 {
			nonASCII++
		}
	}
	if total > 0 && float64(nonASCII)/float64(total) > p.Thresholds.NonASCIIRatio {
		return true
	}

	words := significantWords(p, in.Text)
	if len(words) == 0 {
		return false
	}
	counts := make(map[string]int)
	for _, w := range words {
		counts[w]++
	}
	repeatedWords, repeatedOccurrences := 0, 0
	for _, n := range counts {
		if n >= p.Thresholds.RepeatedMinCount {
			repeatedWords++
			repeatedOccurrences += n
		}
	}
	ratio := float64(repeatedOccurrences) / float64(len(words))
	return ratio > p.Thresholds.RepetitionRatio && repeatedWords > p.Thresholds.RepeatedMinWords
}

func (c *Classifier) buildIncoherence(p *Policy, in Input) Verdict {
	return Verdict{
		Kind:     KindIncoherence,
		Severity: SeverityTerminate,
		Recovery: Recovery{
			// Retrying on a poisoned context reproduces the gibberish.
			ClearHistory: true,
		},
	}
}

func significantWords(p *Policy, text string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if !p.IsStopWord(w) {
			out = append(out, w)
		}
	}
	return out
}

// =============================================================================
// Check 7: truncation
// =============================================================================

func (c *Classifier) matchTruncation(p *Policy, in Input) bool {
	trimmed := strings.TrimRight(in.Text, " \t\n\r")
	if len(trimmed) < p.Thresholds.TruncationMinLength {
		return false
	}
	if strings.Count(in.Text, "```")%2 == 1 {
		return true
	}
	last := trimmed[len(trimmed)-1]
	return strings.IndexByte(`{[(,:"\=`, last) >= 0
}

func (c *Classifier) buildTruncation(p *Policy, in Input) Verdict {
	cutMidBlock := strings.Count(in.Text, "```")%2 == 1 ||
		strings.Contains(in.Text, "<tool_call>") && !strings.Contains(in.Text, "</tool_call>")
	msg := "The response was cut off mid-content. Switch to a write_file instruction " +
		"and keep the content short enough to complete."
	if cutMidBlock {
		msg = "The response was cut off inside an instruction block. Re-issue the complete instruction."
	}
	return Verdict{
		Kind:     KindTruncation,
		Severity: SeverityNudgeNextTurn,
		Recovery: Recovery{Message: msg},
	}
}

// =============================================================================
// Check 8: near-duplicate of the previous turn
// =============================================================================

func (c *Classifier) matchRepetition(p *Policy, in Input) bool {
	if in.Iteration <= 2 || in.PreviousTurn == "" {
		return false
	}
	a := wordSet(prefix(in.Text, p.Thresholds.DuplicatePrefix))
	b := wordSet(prefix(in.PreviousTurn, p.Thresholds.DuplicatePrefix))
	return jaccard(a, b) >= p.Thresholds.DuplicateJaccard
}

func (c *Classifier) buildRepetition(p *Policy, in Input) Verdict {
	// No recovery text: a model already looping would loop on the nudge.
	return Verdict{Kind: KindRepetition, Severity: SeverityTerminate}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func containsAny(lower string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

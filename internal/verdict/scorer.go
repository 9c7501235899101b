package verdict

import "strings"

// =============================================================================
// Turn Scorer
// =============================================================================
// The scorer is the classifier's blunt companion: a binary keep/discard
// decision for callers that manage history checkpoints themselves. It
// follows the classifier's precedence but hard-codes a few fast paths.

// Score is the scorer's three-way outcome.
type Score string

const (
	// ScoreCommit: keep the turn in history.
	ScoreCommit Score = "commit"
	// ScoreRollback: truncate history to the pre-generation snapshot.
	ScoreRollback Score = "rollback"
	// ScoreSkip: keep history but don't count the turn as progress.
	ScoreSkip Score = "skip"
)

// shortClaimMax bounds the length of a "completion claim" worth rolling
// back on iteration 1. Long responses claiming completion still carry
// content worth keeping for the classifier's nudge.
const shortClaimMax = 300

// Scorer decides commit/rollback/skip for one turn.
type Scorer struct {
	classifier *Classifier
}

// NewScorer creates a scorer sharing the classifier's policy.
func NewScorer(c *Classifier) *Scorer {
	return &Scorer{classifier: c}
}

// Score evaluates one turn.
func (s *Scorer) Score(in Input) Score {
	if in.Conversational() {
		if strings.TrimSpace(in.Text) == "" {
			return ScoreSkip
		}
		return ScoreCommit
	}
	if in.HadInstructions {
		return ScoreCommit
	}

	if in.Iteration == 1 {
		p := s.classifier.Policy()
		lower := strings.ToLower(in.Text)
		if len(in.Text) < shortClaimMax && containsAny(lower, p.Completion) {
			return ScoreRollback
		}
		if containsAny(lower, p.Greeting) {
			return ScoreRollback
		}
	}

	v := s.classifier.Classify(in)
	switch {
	case v == nil:
		return ScoreCommit
	case v.Severity == SeverityTerminate:
		return ScoreRollback
	default:
		return ScoreSkip
	}
}

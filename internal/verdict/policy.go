package verdict

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Classifier Policy
// =============================================================================
// The natural-language pattern tables and numeric thresholds that drive
// classification live in a versioned, swappable policy, not in control
// flow. Deployments recalibrate a YAML file; the code never changes.

// Thresholds are the numeric knobs of the classifier.
type Thresholds struct {
	// RepetitionRatio: fraction of significant words that belong to a
	// word repeated RepeatedMinCount+ times before a turn is incoherent.
	RepetitionRatio  float64 `yaml:"repetition_ratio"`
	RepeatedMinCount int     `yaml:"repeated_min_count"`
	RepeatedMinWords int     `yaml:"repeated_min_words"`
	// NonASCIIRatio: fraction of non-ASCII runes marking mojibake.
	NonASCIIRatio float64 `yaml:"non_ascii_ratio"`
	// DuplicateJaccard: word-set overlap with the previous turn that
	// counts as a near-duplicate.
	DuplicateJaccard float64 `yaml:"duplicate_jaccard"`
	DuplicatePrefix  int     `yaml:"duplicate_prefix"`
	// Content-dump detection.
	DumpMinLength   int     `yaml:"dump_min_length"`
	DumpLineDensity float64 `yaml:"dump_line_density"`
	// TruncationMinLength: shorter responses ending on a delimiter are
	// just terse, not cut off.
	TruncationMinLength int `yaml:"truncation_min_length"`
	// NarrationMaxIteration: future-tense narration is tolerated only in
	// the first iterations, while the model is still orienting.
	NarrationMaxIteration int `yaml:"narration_max_iteration"`
}

// Policy is one complete versioned pattern table set. Patterns are
// lower-case substrings matched against the lower-cased response.
type Policy struct {
	Version string `yaml:"version"`

	Refusal      []string `yaml:"refusal"`
	Completion   []string `yaml:"completion"`
	FutureIntent []string `yaml:"future_intent"`
	Greeting     []string `yaml:"greeting"`
	StopWords    []string `yaml:"stop_words"`

	Thresholds Thresholds `yaml:"thresholds"`

	stopWordSet map[string]bool
}

// DefaultPolicy returns the built-in pattern tables.
func DefaultPolicy() *Policy {
	p := &Policy{
		Version: "builtin-1",
		Refusal: []string{
			"i cannot", "i can't", "i'm unable", "i am unable",
			"i'm not able", "i am not able", "i won't be able",
			"as an ai", "as a language model", "i don't have the ability",
			"i do not have the ability", "i don't have access",
			"i'm sorry, but", "i apologize, but", "unfortunately, i",
			"is beyond my", "outside my capabilities",
		},
		Completion: []string{
			"i've already", "i have already", "i've completed",
			"i have completed", "i've created", "i have created",
			"i've written", "i have written", "i've finished",
			"i have finished", "the task is complete", "task completed",
			"successfully created", "successfully written", "i've run",
			"i have run", "has been created", "has been written",
		},
		FutureIntent: []string{
			"i will ", "i'll ", "let me ", "i'm going to",
			"i am going to", "first, i", "next, i", "now i will",
			"my plan is", "the next step is",
		},
		Greeting: []string{
			"hello! how can i help",
			"hi! how can i help",
			"hello! how can i assist",
			"how can i assist you today",
			"how can i help you today",
		},
		StopWords: []string{
			"the", "and", "for", "that", "this", "with", "you", "your",
			"are", "was", "were", "have", "has", "had", "not", "but",
			"can", "will", "would", "should", "could", "from", "they",
			"them", "then", "than", "there", "here", "what", "when",
			"which", "into", "about", "been", "being", "also", "its",
		},
		Thresholds: Thresholds{
			RepetitionRatio:       0.6,
			RepeatedMinCount:      3,
			RepeatedMinWords:      10,
			NonASCIIRatio:         0.03,
			DuplicateJaccard:      0.80,
			DuplicatePrefix:       500,
			DumpMinLength:         1500,
			DumpLineDensity:       0.4,
			TruncationMinLength:   100,
			NarrationMaxIteration: 2,
		},
	}
	p.buildIndexes()
	return p
}

// LoadPolicy reads a policy file. Fields absent from the file keep their
// built-in defaults, so a policy file can override a single table.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if p.Version == "" {
		return nil, fmt.Errorf("policy %s: missing version", path)
	}
	p.buildIndexes()
	return p, nil
}

func (p *Policy) buildIndexes() {
	p.stopWordSet = make(map[string]bool, len(p.StopWords))
	for _, w := range p.StopWords {
		p.stopWordSet[w] = true
	}
}

// IsStopWord reports whether w carries no signal for repetition analysis.
func (p *Policy) IsStopWord(w string) bool {
	return p.stopWordSet[w]
}

// Package instruction defines the structured directives extracted from model
// output, and the vocabulary that decides which of them are executable.
package instruction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Encoding records which tolerated encoding an instruction was extracted from.
type Encoding string

const (
	EncodingNative    Encoding = "native"    // Structured call from the provider, trusted directly
	EncodingTagged    Encoding = "tagged"    // <tool_call> ... </tool_call> block
	EncodingFenced    Encoding = "fenced"    // Fenced block labeled json/tool/tool_call
	EncodingBare      Encoding = "bare"      // Payload outside any block, located by its name key
	EncodingCall      Encoding = "call"      // name( payload ) call syntax
	EncodingHeuristic Encoding = "heuristic" // Inferred file-write from path+content fields
)

// Provenance describes where in the response an instruction came from.
type Provenance struct {
	Encoding Encoding
	// Start and End are byte offsets of the source span in the raw text.
	Start, End int
	// Repaired is true if a payload fixer had to run before parsing.
	Repaired bool
}

// Params is an ordered string→value map. Order is preserved so that the
// serialized form of an instruction is stable for deduplication.
type Params struct {
	keys   []string
	values map[string]interface{}
}

// NewParams returns an empty ordered parameter map.
func NewParams() *Params {
	return &Params{values: make(map[string]interface{})}
}

// Set stores a value, appending the key on first sight.
func (p *Params) Set(key string, value interface{}) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the raw value for key.
func (p *Params) Get(key string) (interface{}, bool) {
	v, ok := p.values[key]
	return v, ok
}

// GetString returns the value for key rendered as a string. Non-string
// scalars are formatted; absent keys return "".
func (p *Params) GetString(key string) string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// JSON numbers decode as float64; render integers without the point.
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	case bool:
		return fmt.Sprintf("%t", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Has reports whether key is present.
func (p *Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Delete removes a key, preserving the order of the rest.
func (p *Params) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	return len(p.keys)
}

// Fingerprint returns a canonical serialization used for deduplication.
// Keys are sorted so the same parameters in a different order collapse.
func (p *Params) Fingerprint() string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		raw, _ := json.Marshal(p.values[k])
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.Write(raw)
		sb.WriteByte(';')
	}
	return sb.String()
}

// MarshalJSON serializes the parameters in insertion order.
func (p *Params) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// FromMap builds Params from a plain map with deterministic (sorted) order.
func FromMap(m map[string]interface{}) *Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := NewParams()
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// Instruction is a structured, machine-actionable directive. Name always
// resolves to the vocabulary whitelist post-alias-normalization; unresolved
// candidates are discarded before this type is ever constructed.
type Instruction struct {
	Name       string
	Params     *Params
	Provenance Provenance
}

// New creates an instruction with empty parameters.
func New(name string) Instruction {
	return Instruction{Name: name, Params: NewParams()}
}

// Fingerprint identifies an instruction by name plus canonical parameters.
func (in Instruction) Fingerprint() string {
	return in.Name + "|" + in.Params.Fingerprint()
}

// String renders a compact human-readable form for logs.
func (in Instruction) String() string {
	raw, _ := json.Marshal(in.Params)
	return fmt.Sprintf("%s(%s)", in.Name, raw)
}

// ExecutionResult is the immutable outcome of executing one instruction.
// It is folded into conversation history after one turn.
type ExecutionResult struct {
	Instruction Instruction
	Success     bool
	Payload     string
	Err         string
	DurationMs  int64

	// Stubbed is set once the compactor has replaced the payload with a
	// short stand-in. Stubbing is idempotent.
	Stubbed bool
}

// Status renders the outcome as a short status word.
func (r ExecutionResult) Status() string {
	if r.Success {
		return "ok"
	}
	return "error"
}

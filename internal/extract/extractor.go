// Package extract recovers structured instructions from free-form model
// output. Model text is unreliable: truncated, inconsistently quoted,
// wrapped in the wrong kind of block, or missing the fields it promised.
// The extractor scans every tolerated encoding, repairs what it can, and
// discards what it cannot resolve against the vocabulary whitelist.
package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// MaxInputBytes caps the scanned input. Bracket matching on adversarial
// input is quadratic in the worst case; anything beyond this is cut first.
const MaxInputBytes = 200_000

// taggedMarkers are block markers wrapping one structured payload each.
var taggedMarkers = []struct {
	open, close string
}{
	{"<tool_call>", "</tool_call>"},
	{"<function_call>", "</function_call>"},
	{"<instruction>", "</instruction>"},
}

// fenceLabels mark a fenced block as structured data worth scanning.
var fenceLabels = map[string]bool{
	"json":        true,
	"json5":       true,
	"tool":        true,
	"tool_call":   true,
	"tool_code":   true,
	"instruction": true,
}

var (
	callSyntaxRe = regexp.MustCompile(`(?m)\b([A-Za-z_][A-Za-z0-9_.]*)\s*\(`)
	bareURLRe    = regexp.MustCompile(`^(https?://\S+|www\.\S+|[\w-]+(\.[\w-]+)+(/\S*)?)$`)
)

// Extractor turns raw generated text into whitelisted instructions. It is a
// pure function of its input plus the injected vocabulary; the only side
// effect is diagnostic logging.
type Extractor struct {
	vocab *instruction.Vocabulary
}

// NewExtractor creates an extractor bound to a vocabulary.
func NewExtractor(vocab *instruction.Vocabulary) *Extractor {
	return &Extractor{vocab: vocab}
}

// candidate is a payload span awaiting parsing and validation.
type candidate struct {
	payload  string
	encoding instruction.Encoding
	start    int
	end      int
}

// Extract returns the ordered, de-duplicated instructions found in text.
// Duplicates (same name and parameters) keep their first occurrence.
func (e *Extractor) Extract(text string) []instruction.Instruction {
	log := logging.Get(logging.CategoryExtract)

	if len(text) > MaxInputBytes {
		logging.Decision(logging.CategoryExtract, "input_truncated", "oversized_response",
			"original_len", len(text), "kept", MaxInputBytes)
		text = text[:MaxInputBytes]
	}

	// Encodings 1 and 2 are scanned together: different spans of the same
	// response may use different encodings.
	candidates := e.scanTagged(text)
	candidates = append(candidates, e.scanFenced(text)...)

	// Encodings 3-5 are escalating fallbacks.
	if len(candidates) == 0 {
		candidates = e.scanBare(text)
	}
	if len(candidates) == 0 {
		candidates = e.scanCallSyntax(text)
	}
	if len(candidates) == 0 {
		candidates = e.scanHeuristic(text)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].start < candidates[j].start
	})

	var out []instruction.Instruction
	seen := make(map[string]bool)
	for _, c := range candidates {
		in, ok := e.build(c)
		if !ok {
			continue
		}
		fp := in.Fingerprint()
		if seen[fp] {
			logging.Decision(logging.CategoryExtract, "duplicate_dropped", "identical_fingerprint",
				"name", in.Name)
			continue
		}
		seen[fp] = true
		out = append(out, in)
	}

	log.Debugw("extraction complete", "candidates", len(candidates), "instructions", len(out))
	return out
}

// scanTagged finds encoding 1: tagged block markers, one payload per block.
func (e *Extractor) scanTagged(text string) []candidate {
	var out []candidate
	for _, m := range taggedMarkers {
		from := 0
		for {
			i := strings.Index(text[from:], m.open)
			if i < 0 {
				break
			}
			i += from
			j := strings.Index(text[i+len(m.open):], m.close)
			if j < 0 {
				break
			}
			payload := strings.TrimSpace(text[i+len(m.open) : i+len(m.open)+j])
			out = append(out, candidate{
				payload:  payload,
				encoding: instruction.EncodingTagged,
				start:    i,
				end:      i + len(m.open) + j + len(m.close),
			})
			from = i + len(m.open) + j + len(m.close)
		}
	}
	return out
}

// scanFenced finds encoding 2: fenced blocks labeled as structured data.
// A single block may contain multiple payloads.
func (e *Extractor) scanFenced(text string) []candidate {
	var out []candidate
	for _, block := range FencedBlocks(text) {
		if !fenceLabels[block.Label] {
			continue
		}
		for _, sp := range findObjects(block.Body) {
			out = append(out, candidate{
				payload:  block.Body[sp.start:sp.end],
				encoding: instruction.EncodingFenced,
				start:    block.BodyStart + sp.start,
				end:      block.BodyStart + sp.end,
			})
		}
	}
	return out
}

// scanBare finds encoding 3: payloads outside any block, located by a
// recognizable name key and extended to the enclosing object.
func (e *Extractor) scanBare(text string) []candidate {
	var out []candidate
	seen := make(map[int]bool)
	for _, key := range e.vocab.NameKeys() {
		for _, quoted := range []string{`"` + key + `"`, `'` + key + `'`, key} {
			from := 0
			for {
				i := strings.Index(text[from:], quoted+":")
				if i < 0 {
					i = strings.Index(text[from:], quoted+" :")
					if i < 0 {
						break
					}
				}
				i += from
				// A bare key match like "name:" must not fire inside a
				// longer identifier such as "filename:".
				if quoted == key && i > 0 && isIdentChar(text[i-1]) {
					from = i + len(quoted)
					continue
				}
				sp, ok := objectSpanAround(text, i)
				from = i + len(quoted)
				if !ok || seen[sp.start] {
					continue
				}
				seen[sp.start] = true
				out = append(out, candidate{
					payload:  text[sp.start:sp.end],
					encoding: instruction.EncodingBare,
					start:    sp.start,
					end:      sp.end,
				})
			}
		}
	}
	return out
}

// scanCallSyntax finds encoding 4: name( payload ) for whitelisted or
// aliased names.
func (e *Extractor) scanCallSyntax(text string) []candidate {
	var out []candidate
	for _, m := range callSyntaxRe.FindAllStringSubmatchIndex(text, -1) {
		rawName := text[m[2]:m[3]]
		name, ok := e.vocab.Resolve(rawName)
		if !ok {
			continue
		}
		openParen := strings.IndexByte(text[m[3]:], '(') + m[3]
		end, ok := scanBalanced(text, openParen)
		if !ok {
			continue
		}
		inner := strings.TrimSpace(text[openParen+1 : end-1])
		payload, ok := callPayloadToJSON(name, inner)
		if !ok {
			continue
		}
		out = append(out, candidate{
			payload:  payload,
			encoding: instruction.EncodingCall,
			start:    m[0],
			end:      end,
		})
	}
	return out
}

// scanHeuristic finds encoding 5: a nameless payload carrying a file-path
// shaped field and a content field is inferred as a file-write.
func (e *Extractor) scanHeuristic(text string) []candidate {
	var out []candidate
	for _, sp := range findObjects(text) {
		payload := text[sp.start:sp.end]
		obj, _, ok := parsePayload(payload)
		if !ok {
			continue
		}
		if e.findName(obj) != "" {
			continue
		}
		path, content := "", false
		for k, v := range obj {
			switch e.vocab.CanonicalParam(k) {
			case instruction.ParamPath:
				if s, ok := v.(string); ok && looksLikePath(s) {
					path = s
				}
			case instruction.ParamContent, "text":
				if _, ok := v.(string); ok {
					content = true
				}
			}
		}
		if path == "" || !content {
			continue
		}
		logging.Decision(logging.CategoryExtract, "inferred_file_write", "path_and_content_without_name",
			"path", path)
		out = append(out, candidate{
			payload:  payload,
			encoding: instruction.EncodingHeuristic,
			start:    sp.start,
			end:      sp.end,
		})
	}
	return out
}

// callPayloadToJSON renders the inside of a call-syntax invocation as a JSON
// object string. Accepts an object literal or a single quoted/bare argument,
// which maps to the instruction's primary parameter.
func callPayloadToJSON(name, inner string) (string, bool) {
	if strings.HasPrefix(inner, "{") {
		// Canonical names are plain identifiers; splice the payload in as
		// the params object.
		return `{"name":"` + name + `","params":` + inner + `}`, true
	}

	arg := strings.TrimSpace(inner)
	if len(arg) >= 2 && (arg[0] == '"' || arg[0] == '\'' || arg[0] == '`') && arg[len(arg)-1] == arg[0] {
		arg = arg[1 : len(arg)-1]
	}
	if arg == "" {
		return "", false
	}
	obj := map[string]interface{}{
		"name":   name,
		"params": map[string]interface{}{primaryParam(name): arg},
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// primaryParam is the parameter a lone positional argument binds to.
func primaryParam(name string) string {
	switch name {
	case instruction.RunCommand, instruction.GitCommand:
		return instruction.ParamCommand
	case instruction.WebSearch:
		return instruction.ParamQuery
	case instruction.Navigate, instruction.FetchURL:
		return instruction.ParamURL
	case instruction.Click:
		return instruction.ParamSelector
	case instruction.TypeText:
		return instruction.ParamText
	default:
		return instruction.ParamPath
	}
}

// parsePayload parses a payload into a generic object, running the fixers in
// escalating order and stopping at the first success.
func parsePayload(payload string) (map[string]interface{}, bool, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		return obj, false, true
	}

	fixed := payload
	for _, fix := range []func(string) string{RepairEscapes, NormalizeQuotes, ConvertBlockLiterals} {
		fixed = fix(fixed)
		if err := json.Unmarshal([]byte(fixed), &obj); err == nil {
			return obj, true, true
		}
	}
	return nil, false, false
}

// build validates a candidate against the vocabulary and normalizes it into
// an Instruction. Unresolvable candidates are discarded, never executed.
func (e *Extractor) build(c candidate) (instruction.Instruction, bool) {
	obj, repaired, ok := parsePayload(c.payload)
	if !ok {
		logging.Decision(logging.CategoryExtract, "payload_discarded", "unparseable_after_fixers",
			"encoding", string(c.encoding), "len", len(c.payload))
		return instruction.Instruction{}, false
	}
	if repaired {
		logging.Decision(logging.CategoryExtract, "payload_repaired", "fixer_chain",
			"encoding", string(c.encoding))
	}

	rawName := e.findName(obj)
	if rawName == "" && c.encoding == instruction.EncodingHeuristic {
		rawName = instruction.WriteFile
	}

	name, resolved := e.vocab.Resolve(rawName)
	if !resolved {
		// Recovery rule: a "name" that is really a CLI binary with a command
		// argument is a shell execution of that binary.
		if in, ok := e.recoverCLIBinary(rawName, obj, c); ok {
			return in, true
		}
		logging.Decision(logging.CategoryExtract, "name_rejected", "not_in_whitelist_or_aliases",
			"raw_name", rawName)
		return instruction.Instruction{}, false
	}

	params := e.normalizeParams(name, obj)
	in := instruction.Instruction{
		Name:   name,
		Params: params,
		Provenance: instruction.Provenance{
			Encoding: c.encoding,
			Start:    c.start,
			End:      c.end,
			Repaired: repaired,
		},
	}

	return e.remapDomain(in), true
}

// findName returns the raw instruction name from any accepted name key.
func (e *Extractor) findName(obj map[string]interface{}) string {
	for _, key := range e.vocab.NameKeys() {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// recoverCLIBinary implements the one exception to whitelist rejection:
// {name:"git", params:{command:"status"}} becomes run_command "git status".
func (e *Extractor) recoverCLIBinary(rawName string, obj map[string]interface{}, c candidate) (instruction.Instruction, bool) {
	if !e.vocab.IsCLIBinary(rawName) {
		return instruction.Instruction{}, false
	}
	args := ""
	if container := e.paramContainer(obj); container != nil {
		for k, v := range container {
			if e.vocab.CanonicalParam(k) == instruction.ParamCommand {
				if s, ok := v.(string); ok {
					args = s
				}
			}
		}
	}
	cmd := strings.TrimSpace(strings.ToLower(strings.TrimSpace(rawName)) + " " + args)
	logging.Decision(logging.CategoryExtract, "cli_binary_recovered", "rejected_name_is_cli_binary",
		"binary", rawName, "command", cmd)

	in := instruction.New(instruction.RunCommand)
	in.Params.Set(instruction.ParamCommand, cmd)
	in.Provenance = instruction.Provenance{Encoding: c.encoding, Start: c.start, End: c.end}
	return in, true
}

// paramContainer returns the first accepted container object, tolerating a
// container that arrived as a JSON-encoded string.
func (e *Extractor) paramContainer(obj map[string]interface{}) map[string]interface{} {
	for _, key := range e.vocab.ContainerKeys() {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case map[string]interface{}:
			return t
		case string:
			var nested map[string]interface{}
			if err := json.Unmarshal([]byte(t), &nested); err == nil {
				return nested
			}
		}
	}
	return nil
}

// normalizeParams builds the canonical ordered parameter map: container keys
// are unwrapped, key aliases collapse, and when no container exists the
// recognizable top-level fields are synthesized into one.
func (e *Extractor) normalizeParams(name string, obj map[string]interface{}) *instruction.Params {
	source := e.paramContainer(obj)
	if source == nil {
		source = e.synthesizeParams(obj)
	}

	// Deterministic ordering: sort raw keys, canonical key first-wins.
	keys := make([]string, 0, len(source))
	for k := range source {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := instruction.NewParams()
	for _, k := range keys {
		canon := e.vocab.CanonicalParamFor(name, k)
		if params.Has(canon) {
			continue
		}
		params.Set(canon, source[k])
	}
	return params
}

// synthesizeParams lifts recognizable top-level fields into a parameter map
// when the payload carried no container at all.
func (e *Extractor) synthesizeParams(obj map[string]interface{}) map[string]interface{} {
	recognized := map[string]bool{
		instruction.ParamPath:      true,
		instruction.ParamContent:   true,
		instruction.ParamURL:       true,
		instruction.ParamCommand:   true,
		instruction.ParamQuery:     true,
		instruction.ParamSelector:  true,
		instruction.ParamText:      true,
		instruction.ParamOldText:   true,
		instruction.ParamNewText:   true,
		instruction.ParamStartLine: true,
		instruction.ParamEndLine:   true,
	}

	out := make(map[string]interface{})
	for k, v := range obj {
		if canon := e.vocab.CanonicalParam(k); recognized[canon] {
			out[k] = v
		}
	}
	return out
}

// remapDomain applies post-extraction domain remaps: a search whose query is
// really a shell command becomes run_command, and a search for a bare URL
// becomes navigation.
func (e *Extractor) remapDomain(in instruction.Instruction) instruction.Instruction {
	if in.Name != instruction.WebSearch {
		return in
	}
	query := strings.TrimSpace(in.Params.GetString(instruction.ParamQuery))
	if query == "" {
		return in
	}

	if e.isCommandShaped(query) {
		logging.Decision(logging.CategoryExtract, "remap_search_to_command", "query_is_shell_command",
			"query", query)
		out := instruction.New(instruction.RunCommand)
		out.Params.Set(instruction.ParamCommand, query)
		out.Provenance = in.Provenance
		return out
	}
	if isBareURL(query) {
		logging.Decision(logging.CategoryExtract, "remap_search_to_navigate", "query_is_bare_url",
			"query", query)
		out := instruction.New(instruction.Navigate)
		out.Params.Set(instruction.ParamURL, ensureScheme(query))
		out.Provenance = in.Provenance
		return out
	}
	return in
}

// isCommandShaped reports whether a query string looks like a shell command.
func (e *Extractor) isCommandShaped(q string) bool {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	if first == "sudo" && len(fields) > 1 {
		first = fields[1]
	}
	if e.vocab.IsCLIBinary(first) {
		return true
	}
	switch first {
	case "ls", "cd", "mkdir", "rm", "cp", "mv", "cat", "echo", "touch", "chmod", "pwd":
		return true
	}
	return strings.HasPrefix(first, "./")
}

// isBareURL reports whether a query is a single URL-shaped token.
func isBareURL(q string) bool {
	if strings.ContainsAny(q, " \t\n") {
		return false
	}
	return bareURLRe.MatchString(q)
}

// ensureScheme prepends https:// to scheme-less URLs.
func ensureScheme(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}

// looksLikePath reports whether s is file-path shaped: a relative or
// absolute path with an extension or directory separators, and no spaces.
func looksLikePath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") || len(s) > 300 {
		return false
	}
	if strings.Contains(s, "://") {
		return false
	}
	dot := strings.LastIndexByte(s, '.')
	hasExt := dot > 0 && dot < len(s)-1 && len(s)-dot <= 8
	return hasExt || strings.ContainsRune(s, '/')
}

// FencedBlock is one ``` fenced block with its (lower-cased) label.
type FencedBlock struct {
	Label     string
	Body      string
	Start     int // offset of the opening fence
	BodyStart int // offset of the first body byte
	End       int // offset one past the closing fence
}

// FencedBlocks returns every complete fenced block in text, in order.
func FencedBlocks(text string) []FencedBlock {
	var out []FencedBlock
	i := 0
	for {
		open := strings.Index(text[i:], "```")
		if open < 0 {
			return out
		}
		open += i

		labelEnd := strings.IndexByte(text[open+3:], '\n')
		if labelEnd < 0 {
			return out
		}
		bodyStart := open + 3 + labelEnd + 1
		label := strings.ToLower(strings.TrimSpace(text[open+3 : open+3+labelEnd]))

		closeRel := strings.Index(text[bodyStart:], "```")
		if closeRel < 0 {
			return out
		}
		out = append(out, FencedBlock{
			Label:     label,
			Body:      text[bodyStart : bodyStart+closeRel],
			Start:     open,
			BodyStart: bodyStart,
			End:       bodyStart + closeRel + 3,
		})
		i = bodyStart + closeRel + 3
	}
}

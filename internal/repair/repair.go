// Package repair fixes structurally invalid instructions after extraction.
// Extraction guarantees a whitelisted name; it does not guarantee the
// parameters are usable. The repairer recovers missing file content and
// paths from the surrounding response text, normalizes navigation targets,
// and drops what cannot be salvaged.
package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"helmsman/internal/extract"
	"helmsman/internal/instruction"
	"helmsman/internal/logging"
)

// trivialContent reports whether content is effectively empty. Models that
// lose their payload usually emit "", ".", or a stray "...".
func trivialContent(content string) bool {
	for _, r := range strings.TrimSpace(content) {
		if r > ' ' && !strings.ContainsRune(".,:;-_", r) {
			return false
		}
	}
	return true
}

var (
	pathTokenRe = regexp.MustCompile("[`\"']?([\\w./-]+\\.(?:html?|css|js|ts|py|go|rs|sh|json|ya?ml|md|txt|csv|xml))[`\"']?")
	rawDocRe    = regexp.MustCompile(`(?is)<(?:!doctype\s+html|html)[^>]*>.*</html>`)
	domainRe    = regexp.MustCompile(`^[\w-]+(\.[\w-]+)+(/\S*)?$`)
	selectorRe  = regexp.MustCompile(`(?m)^\s*[.#]?[\w-]+(\s*[,>]\s*[.#]?[\w-]+)*\s*\{`)
)

// Repairer repairs extracted instructions against the full response text
// they came from.
type Repairer struct {
	vocab *instruction.Vocabulary
}

// NewRepairer creates a repairer bound to a vocabulary.
func NewRepairer(vocab *instruction.Vocabulary) *Repairer {
	return &Repairer{vocab: vocab}
}

// Repair returns the repaired instruction list plus diagnostic issue
// strings. Issues are informational only; they never alter control flow.
func (r *Repairer) Repair(ins []instruction.Instruction, fullText string) ([]instruction.Instruction, []string) {
	var out []instruction.Instruction
	var issues []string

	for _, in := range ins {
		repaired, issue, keep := r.repairOne(in, fullText)
		if issue != "" {
			issues = append(issues, issue)
		}
		if keep {
			out = append(out, repaired)
		}
	}

	// Final salvage pass: every instruction dropped, but the model clearly
	// tried. One file-write recovered from the full text beats nothing.
	if len(out) == 0 && len(ins) > 0 {
		if in, ok := r.salvageWrite(fullText); ok {
			logging.Decision(logging.CategoryRepair, "salvage_write", "all_instructions_dropped",
				"path", in.Params.GetString(instruction.ParamPath))
			issues = append(issues, "salvaged a single file-write from the full response")
			out = append(out, in)
		}
	}
	return out, issues
}

func (r *Repairer) repairOne(in instruction.Instruction, fullText string) (instruction.Instruction, string, bool) {
	switch in.Name {
	case instruction.WriteFile:
		return r.repairWrite(in, fullText)
	case instruction.EditFile:
		return r.repairEdit(in)
	case instruction.Navigate:
		return r.repairNavigate(in)
	default:
		return in, "", true
	}
}

func (r *Repairer) repairWrite(in instruction.Instruction, fullText string) (instruction.Instruction, string, bool) {
	content := in.Params.GetString(instruction.ParamContent)
	issue := ""

	if trivialContent(content) {
		recovered, source, ok := r.recoverContent(fullText)
		if !ok {
			logging.Decision(logging.CategoryRepair, "instruction_dropped", "no_recoverable_content",
				"name", in.Name)
			return in, "write_file dropped: empty content and nothing recoverable in the response", false
		}
		in.Params.Set(instruction.ParamContent, recovered)
		content = recovered
		issue = fmt.Sprintf("write_file content recovered from %s (%d bytes)", source, len(recovered))
		logging.Decision(logging.CategoryRepair, "content_recovered", source,
			"bytes", len(recovered))
	}

	if strings.TrimSpace(in.Params.GetString(instruction.ParamPath)) == "" {
		path := r.inferPath(fullText, in.Provenance.Start, content)
		in.Params.Set(instruction.ParamPath, path)
		logging.Decision(logging.CategoryRepair, "path_inferred", "missing_path", "path", path)
		if issue == "" {
			issue = "write_file path inferred: " + path
		}
	}
	return in, issue, true
}

func (r *Repairer) repairEdit(in instruction.Instruction) (instruction.Instruction, string, bool) {
	hasText := in.Params.GetString(instruction.ParamOldText) != "" ||
		in.Params.GetString(instruction.ParamNewText) != ""
	hasRange := in.Params.Has(instruction.ParamStartLine) || in.Params.Has(instruction.ParamEndLine)
	if !hasText && !hasRange {
		logging.Decision(logging.CategoryRepair, "instruction_dropped", "edit_without_target",
			"name", in.Name)
		return in, "edit_file dropped: no old/new text and no line range", false
	}
	return in, "", true
}

func (r *Repairer) repairNavigate(in instruction.Instruction) (instruction.Instruction, string, bool) {
	url := strings.TrimSpace(in.Params.GetString(instruction.ParamURL))
	if url == "" {
		logging.Decision(logging.CategoryRepair, "instruction_dropped", "empty_navigation_target",
			"name", in.Name)
		return in, "navigate dropped: empty target", false
	}
	if !strings.Contains(url, "://") {
		if !domainRe.MatchString(url) {
			logging.Decision(logging.CategoryRepair, "instruction_dropped", "unresolvable_navigation_target",
				"target", url)
			return in, "navigate dropped: target is neither a URL nor a bare domain", false
		}
		in.Params.Set(instruction.ParamURL, "https://"+url)
		logging.Decision(logging.CategoryRepair, "url_scheme_added", "bare_domain", "target", url)
		return in, "navigate target prefixed with https://", true
	}
	return in, "", true
}

// =====================================================================
// Content recovery
// =====================================================================

// recoverContent finds the best content candidate in the full response:
// the largest fenced block that is not itself an instruction payload,
// falling back to a raw document between root tags.
func (r *Repairer) recoverContent(fullText string) (content, source string, ok bool) {
	best := ""
	for _, block := range extract.FencedBlocks(fullText) {
		body := strings.TrimSpace(block.Body)
		if body == "" || r.isInstructionPayload(body) {
			continue
		}
		if len(body) > len(best) {
			best = body
		}
	}
	if best != "" {
		return best, "fenced_block", true
	}

	if m := rawDocRe.FindString(fullText); m != "" {
		return strings.TrimSpace(m), "raw_document", true
	}
	return "", "", false
}

// isInstructionPayload reports whether body is (or contains only) a
// structured instruction, which must never be mistaken for file content.
func (r *Repairer) isInstructionPayload(body string) bool {
	if !strings.HasPrefix(body, "{") {
		return false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return false
	}
	for _, key := range r.vocab.NameKeys() {
		if raw, present := obj[key]; present {
			if s, isStr := raw.(string); isStr {
				if _, resolved := r.vocab.Resolve(s); resolved {
					return true
				}
			}
		}
	}
	return false
}

// salvageWrite builds one file-write from whatever content the response
// carries. Used only when every extracted instruction was dropped.
func (r *Repairer) salvageWrite(fullText string) (instruction.Instruction, bool) {
	content, _, ok := r.recoverContent(fullText)
	if !ok {
		return instruction.Instruction{}, false
	}
	in := instruction.Instruction{
		Name:   instruction.WriteFile,
		Params: instruction.NewParams(),
		Provenance: instruction.Provenance{
			Encoding: instruction.EncodingHeuristic,
			Repaired: true,
		},
	}
	in.Params.Set(instruction.ParamPath, r.inferPath(fullText, len(fullText), content))
	in.Params.Set(instruction.ParamContent, content)
	return in, true
}

// =====================================================================
// Path inference
// =====================================================================

// inferPath picks a destination path for recovered content: path-shaped
// text near the instruction first, then content-type heuristics.
func (r *Repairer) inferPath(fullText string, before int, content string) string {
	if before > len(fullText) {
		before = len(fullText)
	}
	// The last path-shaped token before the instruction is the most likely
	// filename mention ("save this as `index.html`:").
	if ms := pathTokenRe.FindAllStringSubmatch(fullText[:before], -1); len(ms) > 0 {
		return ms[len(ms)-1][1]
	}
	if m := pathTokenRe.FindStringSubmatch(fullText); m != nil {
		return m[1]
	}
	return pathFromContent(content)
}

// pathFromContent maps content shape to a default filename.
func pathFromContent(content string) string {
	if looksLikeHTMLDocument(content) {
		return "index.html"
	}
	if selectorRe.MatchString(content) && strings.Contains(content, ";") {
		return "styles.css"
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "import ") ||
			strings.HasPrefix(trimmed, "from "):
			return "script.py"
		case strings.HasPrefix(trimmed, "function ") || strings.HasPrefix(trimmed, "const ") ||
			strings.HasPrefix(trimmed, "export "):
			return "script.js"
		}
	}
	return "output.txt"
}

// looksLikeHTMLDocument reports whether content parses as a document with
// a real element tree, not just prose with an angle bracket in it.
func looksLikeHTMLDocument(content string) bool {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<!doctype") {
		return false
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return false
	}
	var hasBody func(n *html.Node) bool
	hasBody = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "body" {
			return n.FirstChild != nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if hasBody(c) {
				return true
			}
		}
		return false
	}
	return hasBody(doc)
}

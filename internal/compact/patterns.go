package compact

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Pattern Compressors
// =============================================================================
// Each compressor recognizes one shape of bulk text inside a verbose turn
// and replaces the span with a short metadata placeholder. They run in
// order; the generic fenced-block compressor goes last so the specific
// shapes get first claim on their spans.

// minCompressibleSpan is the smallest span worth replacing. Placeholders
// for tiny spans cost more context than they save.
const minCompressibleSpan = 200

type patternCompressor struct {
	name string
	re   *regexp.Regexp
	repl func(match []string) string
}

var compressors = []patternCompressor{
	{
		name: "file_content",
		re:   regexp.MustCompile("(?is)(?:contents? of|file) [`\"']?([\\w./-]+)[`\"']?:?\\s*\\n```[^\\n]*\\n(.*?)```"),
		repl: func(m []string) string {
			return fmt.Sprintf("[file %s: %d chars elided]", m[1], len(m[2]))
		},
	},
	{
		name: "page_snapshot",
		re:   regexp.MustCompile(`(?is)<(?:!doctype\s+html|html)[^>]*>.*?</html>`),
		repl: func(m []string) string {
			return fmt.Sprintf("[page snapshot: %d chars elided]", len(m[0]))
		},
	},
	{
		name: "command_output",
		re:   regexp.MustCompile("(?s)```(?:console|shell|sh|bash|output|text)\\n(.*?)```"),
		repl: func(m []string) string {
			lines := strings.Count(m[1], "\n")
			return fmt.Sprintf("[command output: %d lines elided]", lines)
		},
	},
	{
		name: "search_results",
		re:   regexp.MustCompile(`(?m)(?:^\s*(?:\d+\.|[-*])\s+.*https?://\S+.*\n?){3,}`),
		repl: func(m []string) string {
			entries := strings.Count(strings.TrimRight(m[0], "\n"), "\n") + 1
			return fmt.Sprintf("[search results: %d entries elided]", entries)
		},
	},
	{
		name: "generic_fenced",
		re:   regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```"),
		repl: func(m []string) string {
			return fmt.Sprintf("[code block: %d chars elided]", len(m[1]))
		},
	},
}

// compressText runs every pattern compressor over text and returns the
// result plus the names of the compressors that fired.
func compressText(text string) (string, []string) {
	var fired []string
	for _, pc := range compressors {
		replaced := false
		text = pc.re.ReplaceAllStringFunc(text, func(span string) string {
			if len(span) < minCompressibleSpan {
				return span
			}
			m := pc.re.FindStringSubmatch(span)
			replaced = true
			return pc.repl(m)
		})
		if replaced {
			fired = append(fired, pc.name)
		}
	}
	return text, fired
}

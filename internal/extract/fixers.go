package extract

import (
	"fmt"
	"strings"
)

// Payload fixers, applied in escalating order until the payload parses:
//  1. RepairEscapes    - invalid escapes and raw control characters
//  2. NormalizeQuotes  - single-quoted strings and bare keys
//  3. ConvertBlockLiterals - triple-quote / backtick literals to strings
//
// Each fixer is a no-op on already-valid JSON, so running them on clean
// payloads never corrupts anything.

// validEscapes are the characters JSON permits after a backslash.
const validEscapes = `"\/bfnrtu`

// RepairEscapes fixes string-literal damage inside a JSON-ish payload:
// invalid escape sequences get their backslash doubled, and raw control
// characters inside strings become their escape sequences. Text outside
// double-quoted strings is untouched.
func RepairEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inStr := false
	i := 0
	for i < len(s) {
		c := s[i]
		if !inStr {
			if c == '"' {
				inStr = true
			}
			b.WriteByte(c)
			i++
			continue
		}

		switch {
		case c == '\\':
			if i+1 >= len(s) {
				b.WriteString(`\\`)
				i++
				continue
			}
			next := s[i+1]
			if strings.IndexByte(validEscapes, next) >= 0 {
				b.WriteByte(c)
				b.WriteByte(next)
			} else {
				// Invalid escape like \d: double the backslash.
				b.WriteString(`\\`)
				b.WriteByte(next)
			}
			i += 2
		case c == '"':
			inStr = false
			b.WriteByte(c)
			i++
		case c == '\n':
			b.WriteString(`\n`)
			i++
		case c == '\r':
			b.WriteString(`\r`)
			i++
		case c == '\t':
			b.WriteString(`\t`)
			i++
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// NormalizeQuotes converts single-quoted strings to double-quoted and wraps
// bare object keys in double quotes. Content of double-quoted strings is
// never altered.
func NormalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var stack []byte
	var lastSig byte
	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '"':
			end, ok := skipString(s, i)
			if !ok {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(s[i:end])
			lastSig = '"'
			i = end
		case '\'':
			end, ok := skipString(s, i)
			if !ok {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(requoteSingle(s[i:end]))
			lastSig = '"'
			i = end
		case '{', '[':
			stack = append(stack, c)
			b.WriteByte(c)
			lastSig = c
			i++
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			b.WriteByte(c)
			lastSig = c
			i++
		default:
			if keyPosition(stack, lastSig) && isIdentStart(c) {
				j := i
				for j < len(s) && isIdentChar(s[j]) {
					j++
				}
				k := j
				for k < len(s) && isSpace(s[k]) {
					k++
				}
				if k < len(s) && s[k] == ':' {
					b.WriteByte('"')
					b.WriteString(s[i:j])
					b.WriteByte('"')
					lastSig = '"'
					i = j
					continue
				}
			}
			b.WriteByte(c)
			if !isSpace(c) {
				lastSig = c
			}
			i++
		}
	}
	return b.String()
}

// keyPosition reports whether a bare identifier here would be an object key.
func keyPosition(stack []byte, lastSig byte) bool {
	if len(stack) == 0 || stack[len(stack)-1] != '{' {
		return false
	}
	return lastSig == '{' || lastSig == ','
}

// requoteSingle rewrites a complete single-quoted literal (delimiters
// included) as a double-quoted one.
func requoteSingle(lit string) string {
	inner := lit[1 : len(lit)-1]
	var b strings.Builder
	b.Grow(len(inner) + 2)
	b.WriteByte('"')
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			// \' loses its escape; every other sequence is kept verbatim.
			if inner[i+1] == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte('\\')
				b.WriteByte(inner[i+1])
			}
			i++
			continue
		}
		if c == '"' {
			b.WriteString(`\"`)
			continue
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// ConvertBlockLiterals rewrites triple-quote and backtick multiline literals
// as single escaped JSON strings.
func ConvertBlockLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], `"""`) {
			rel := strings.Index(s[i+3:], `"""`)
			if rel >= 0 {
				b.WriteString(escapeJSONString(s[i+3 : i+3+rel]))
				i += 3 + rel + 3
				continue
			}
		}
		c := s[i]
		if c == '"' {
			if end, ok := skipString(s, i); ok {
				b.WriteString(s[i:end])
				i = end
				continue
			}
		}
		if c == '`' {
			if end, ok := skipString(s, i); ok {
				b.WriteString(escapeJSONString(s[i+1 : end-1]))
				i = end
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// escapeJSONString renders raw text as a double-quoted JSON string literal.
func escapeJSONString(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 2)
	b.WriteByte('"')
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

package extract

// span marks a half-open byte range in scanned text.
type span struct {
	start, end int
}

// scanBalanced returns the exclusive end offset of the balanced bracket run
// beginning at start, where text[start] is the opening bracket (one of '{',
// '[', '('). The scan is string-literal aware: quoted brackets do not affect
// depth. Returns ok=false when the run never closes.
func scanBalanced(text string, start int) (int, bool) {
	if start >= len(text) {
		return 0, false
	}
	open := text[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	case '(':
		close = ')'
	default:
		return 0, false
	}

	depth := 0
	i := start
	for i < len(text) {
		c := text[i]
		switch c {
		case '"', '\'', '`':
			end, ok := skipString(text, i)
			if !ok {
				return 0, false
			}
			i = end
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
		i++
	}
	return 0, false
}

// skipString advances past the string literal opening at i and returns the
// offset one past its closing quote. Backslash escapes are honored for double
// and single quotes; backtick literals end only at the next backtick.
func skipString(text string, i int) (int, bool) {
	quote := text[i]
	i++
	for i < len(text) {
		c := text[i]
		if c == '\\' && quote != '`' {
			i += 2
			continue
		}
		if c == quote {
			return i + 1, true
		}
		i++
	}
	return 0, false
}

// findObjects returns the spans of all top-level JSON-ish objects in text,
// in order of occurrence.
func findObjects(text string) []span {
	var spans []span
	i := 0
	for i < len(text) {
		if text[i] == '{' {
			if end, ok := scanBalanced(text, i); ok {
				spans = append(spans, span{i, end})
				i = end
				continue
			}
		}
		i++
	}
	return spans
}

// objectSpanAround returns the span of the innermost balanced object that
// contains offset pos, searching opening braces backwards from pos.
func objectSpanAround(text string, pos int) (span, bool) {
	for i := pos; i >= 0; i-- {
		if text[i] != '{' {
			continue
		}
		end, ok := scanBalanced(text, i)
		if ok && end > pos {
			return span{i, end}, true
		}
	}
	return span{}, false
}

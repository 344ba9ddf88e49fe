package extraction

import (
	"regexp"
	"strings"
)

var (
	fenceBlockPattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")

	// Objects or arrays with at most one level of nesting of the same kind.
	balancedPattern = regexp.MustCompile(`\{(?:[^{}]|\{[^{}]*\})*\}|\[(?:[^\[\]]|\[[^\[\]]*\])*\]`)

	unsafeCharsPattern = regexp.MustCompile(`[^\[\]{}":,\s\w\p{Han}\x{3000}-\x{303F}\x{FF00}-\x{FFEF}.\-]`)
)

// parseFenced parses the whole text, then the text with leading and trailing
// fence markers removed, then the body of the first fenced block.
func parseFenced(raw string) (any, error) {
	if v, err := decode(raw); err == nil {
		return v, nil
	}

	stripped := stripFences(raw)
	if v, err := decode(stripped); err == nil {
		return v, nil
	}

	if m := fenceBlockPattern.FindStringSubmatch(raw); m != nil {
		return decode(m[1])
	}
	return nil, errNoCandidate
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop the language tag, if any, up to the end of the opening line.
		if i := strings.IndexAny(s, "\r\n"); i >= 0 {
			if tag := strings.TrimSpace(s[:i]); tag == "" || isLanguageTag(tag) {
				s = s[i+1:]
			}
		} else {
			s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// parseBalanced tries every top-level {...} / [...] span in order of
// appearance. If none decodes it tries the spans whose enclosing bracket is
// never closed, which recovers output cut off before its final bracket. Spans
// inside a structure that does close are never taken for the whole payload.
func parseBalanced(raw string) (any, error) {
	locs := balancedPattern.FindAllStringIndex(raw, -1)
	parents, unclosed := scanParents(raw, locs)

	var truncated [][]int
	for i, loc := range locs {
		if parents[i] >= 0 {
			if unclosed[parents[i]] {
				truncated = append(truncated, loc)
			}
			continue
		}
		if v, err := decodeContainer(stripControl(raw[loc[0]:loc[1]])); err == nil {
			return v, nil
		}
	}
	for _, loc := range truncated {
		if v, err := decodeContainer(stripControl(raw[loc[0]:loc[1]])); err == nil {
			return v, nil
		}
	}
	return nil, errNoCandidate
}

// scanParents walks s once and returns, for each span in locs, the offset of
// the innermost bracket open at its start (-1 at top level), plus the offsets
// of brackets still open at the end of s. Brackets inside double-quoted
// strings are ignored. locs must be sorted by start offset.
func scanParents(s string, locs [][]int) ([]int, map[int]bool) {
	parents := make([]int, len(locs))
	var stack []int
	inString := false
	escaped := false
	next := 0
	for i := 0; i < len(s); i++ {
		for next < len(locs) && locs[next][0] == i {
			parents[next] = -1
			if len(stack) > 0 {
				parents[next] = stack[len(stack)-1]
			}
			next++
		}
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, i)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	unclosed := make(map[int]bool, len(stack))
	for _, pos := range stack {
		unclosed[pos] = true
	}
	return parents, unclosed
}

// parseOuterSpan parses from the first opening bracket to the last matching
// closing bracket.
func parseOuterSpan(raw string) (any, error) {
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return nil, errNoCandidate
	}
	closer := byte('}')
	if raw[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(raw, closer)
	if end <= start {
		return nil, errNoCandidate
	}
	return decodeContainer(stripControl(raw[start : end+1]))
}

func parseFirstJSONLine(raw string) (any, error) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "[") {
			continue
		}
		if v, err := decodeContainer(stripControl(line)); err == nil {
			return v, nil
		}
	}
	return nil, errNoCandidate
}

// parseSanitized drops every character outside a conservative JSON-safe
// allowlist and parses what remains.
func parseSanitized(raw string) (any, error) {
	cleaned := stripControl(unsafeCharsPattern.ReplaceAllString(raw, ""))
	if v, err := decodeContainer(cleaned); err == nil {
		return v, nil
	}
	return parseOuterSpan(cleaned)
}

package jsonutil

import (
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)```")

// ExtractObject pulls the first JSON object out of free model text. It tries,
// in order: fenced code blocks, the whole trimmed text, then a brace-balanced
// scan for the first complete top-level object that parses. ok is false when
// nothing usable was found; that is an expected outcome, not an error.
func ExtractObject(text string) (map[string]any, bool) {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := parseObject(m[1]); ok {
			return obj, true
		}
	}
	if obj, ok := parseObject(text); ok {
		return obj, true
	}
	return scanObject(text)
}

// parseObject accepts an object, or a JSON string that encodes one.
func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := UnmarshalFlex([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// scanObject returns the first balanced {...} span that decodes to an
// object. Each opening brace is tried as a start, so a stray quote in prose
// before the object does not hide it.
func scanObject(text string) (map[string]any, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := balancedEnd(text, start); end > 0 {
			if obj, ok := parseObject(text[start : end+1]); ok {
				return obj, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// balancedEnd returns the index of the brace closing text[start], tracking
// string literals, or -1 when the span never closes.
func balancedEnd(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

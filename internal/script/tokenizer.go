package script

import "strings"

// Delimiter separates the fields of one script line
const Delimiter = '#'

// Split breaks line on delim, keeping quoted and parenthesized spans intact.
// Quote characters and parentheses are retained in the segments; every segment
// is whitespace-trimmed and the final segment is always emitted.
func Split(line string, delim rune) []string {
	var segments []string
	var current strings.Builder
	inQuotes := false
	depth := 0

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteRune(ch)
		case ch == '(' && !inQuotes:
			depth++
			current.WriteRune(ch)
		case ch == ')' && !inQuotes:
			if depth > 0 {
				depth--
			}
			current.WriteRune(ch)
		case ch == delim && !inQuotes && depth == 0:
			segments = append(segments, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}

	return append(segments, strings.TrimSpace(current.String()))
}

// closingParen returns the index of the parenthesis closing the one at s[0], or -1
func closingParen(s string) int {
	inQuotes := false
	depth := 0
	for i, ch := range s {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == '(' && !inQuotes:
			depth++
		case ch == ')' && !inQuotes:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// isBare reports whether v parses back as the same literal when written unquoted
func isBare(v string) bool {
	if v != strings.TrimSpace(v) || isNestedExpr(v) {
		return false
	}
	if _, quoted := unquote(v); quoted {
		return false
	}
	inQuotes := false
	depth := 0
	for _, ch := range v {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == '(' && !inQuotes:
			depth++
		case ch == ')' && !inQuotes:
			if depth > 0 {
				depth--
			}
		case ch == Delimiter && !inQuotes && depth == 0:
			return false
		}
	}
	return !inQuotes && depth == 0
}

// unquote strips one layer of surrounding double quotes
func unquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, false
}

// isNestedExpr reports whether s is written as a parenthesized sub-action
func isNestedExpr(s string) bool {
	return len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')'
}

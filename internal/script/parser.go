package script

import "strings"

// Parse turns script text into one top-level action per non-empty line
func Parse(text string) ([]*Action, error) {
	var actions []*Action
	for _, line := range splitLines(text) {
		action, err := ParseLine(line, len(actions))
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// ParseLine parses a single line into an action with the given step index.
// Parenthesized parameters are parsed recursively and share the step index.
// Stray quotes or parentheses elsewhere are kept as literal text.
func ParseLine(line string, idx int) (*Action, error) {
	line = strings.TrimSpace(line)
	tokens := Split(line, Delimiter)
	typ := tokens[0]
	if typ == "" {
		return nil, &ParseError{Line: idx, Text: line, Reason: "missing action type"}
	}

	params := make([]Param, 0, len(tokens)-1)
	for _, raw := range tokens[1:] {
		// Quoted fields are always literals, even when the quoted text is parenthesized
		if value, quoted := unquote(raw); quoted {
			params = append(params, Literal(value))
			continue
		}
		if !isNestedExpr(raw) {
			params = append(params, Literal(raw))
			continue
		}

		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if closingParen(raw) != len(raw)-1 || inner == "" || strings.ContainsAny(inner, "\r\n") {
			return nil, &ParseError{Line: idx, Text: line, Reason: "nested expression must contain exactly one action"}
		}
		sub, err := ParseLine(inner, idx)
		if err != nil {
			return nil, err
		}
		params = append(params, Nested(sub))
	}

	return NewAction(Type(typ), idx, params...), nil
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

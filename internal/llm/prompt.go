package llm

import "strings"

const systemPrompt = `You answer questions about fragments of web pages for a browser automation script.

You will receive:
1. The outer HTML of one element taken from the live page
2. An instruction describing what to extract or decide

Answer with the requested value only. The answer is substituted verbatim into the next
step of the script (typed into a field, compared, or used as a loop condition), so:
- Do not explain, apologize or add surrounding prose
- Do not wrap the answer in quotes or markdown
- When asked a yes/no question, answer exactly "yes" or "no"
- When the value is not present in the HTML, answer with an empty line`

// BuildInferPrompt combines an element's markup with the script author's instruction
func BuildInferPrompt(markup, instruction string) string {
	return "HTML:\n" + markup + "\n\nInstruction: " + instruction
}

// cleanAnswer strips code fences and surrounding quotes models sometimes add anyway
func cleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

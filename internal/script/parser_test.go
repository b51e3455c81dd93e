package script

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shape strips the derived fields so trees can be compared structurally
type shape struct {
	Type   Type
	Step   int
	Params []any
}

func shapeOf(a *Action) shape {
	s := shape{Type: a.Type, Step: a.StepIndex}
	for _, p := range a.Params {
		if p.IsNested() {
			s.Params = append(s.Params, shapeOf(p.Action))
			continue
		}
		s.Params = append(s.Params, p.Value)
	}
	return s
}

func TestParseOneActionPerLine(t *testing.T) {
	text := "open-tab#\"https://example.com\"\n\n   \r\nwait\r\nclick#\"#submit\"\n"

	actions, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, actions, 3)

	want := []shape{
		{Type: TypeOpenTab, Step: 0, Params: []any{"https://example.com"}},
		{Type: TypeWait, Step: 1},
		{Type: TypeClick, Step: 2, Params: []any{"#submit"}},
	}
	for i, a := range actions {
		if diff := cmp.Diff(want[i], shapeOf(a)); diff != "" {
			t.Errorf("action %d mismatch (-want +got):\n%s", i, diff)
		}
		assert.Equal(t, StatusPending, a.Status)
		assert.NotEmpty(t, a.Message)
	}
}

func TestParseNestedAction(t *testing.T) {
	a, err := ParseLine(`input#"#search-box"#(infer#".title"#"Summarize this page title")`, 4)
	require.NoError(t, err)

	want := shape{
		Type: TypeInput,
		Step: 4,
		Params: []any{
			"#search-box",
			shape{Type: TypeInfer, Step: 4, Params: []any{".title", "Summarize this page title"}},
		},
	}
	if diff := cmp.Diff(want, shapeOf(a)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StatusPending, a.Params[1].Action.Status)
}

func TestParseDeepNesting(t *testing.T) {
	a, err := ParseLine(`input#a#(infer#(infer#".x"#"inner")#"outer")`, 0)
	require.NoError(t, err)

	inner := a.Params[1].Action.Params[0]
	require.True(t, inner.IsNested())
	assert.Equal(t, TypeInfer, inner.Action.Type)
	assert.Equal(t, []Param{Literal(".x"), Literal("inner")}, inner.Action.Params)
}

func TestParseQuotedParenthesesStayLiteral(t *testing.T) {
	a, err := ParseLine(`input#"#note"#"(not an action)"`, 0)
	require.NoError(t, err)
	assert.False(t, a.HasNested())
	assert.Equal(t, "(not an action)", a.Params[1].Value)
}

func TestParseKeepsJSONParamsVerbatim(t *testing.T) {
	a, err := ParseLine(`select#{"selector": "#country", "value": "NL"}`, 0)
	require.NoError(t, err)
	require.Len(t, a.Params, 1)
	assert.Equal(t, `{"selector": "#country", "value": "NL"}`, a.Params[0].Value)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"empty nested expression", "input#a#()", 0},
		{"two actions in one group", "wait\ninput#a#(infer#x#y)(click#z)", 1},
		{"text between two groups", "click#b\ninput#a#(infer#x) or (infer#y)", 1},
		{"missing type", "#a#b", 0},
		{"missing type in nested action", "input#a#(#x)", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, err := Parse(tt.text)
			require.Error(t, err)
			assert.Nil(t, actions)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "expected *ParseError, got %T", err)
			assert.Equal(t, tt.line, perr.Line)
		})
	}
}

func TestParseToleratesStrayQuotesAndParentheses(t *testing.T) {
	tests := []struct {
		line   string
		params []string
	}{
		{`input#"#q"#Hello :)`, []string{"#q", "Hello :)"}},
		{`input#"#q"#5" screen`, []string{"#q", `5" screen`}},
		{"click#a)b", []string{"a)b"}},
		{"input#a#(infer#x", []string{"a", "(infer#x"}},
		{`click#"#submit`, []string{`"#submit`}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			a, err := ParseLine(tt.line, 0)
			require.NoError(t, err)
			assert.False(t, a.HasNested())

			var got []string
			for _, p := range a.Params {
				got = append(got, p.Value)
			}
			assert.Equal(t, tt.params, got)
		})
	}
}

func TestParseDoesNotValidateArityOrType(t *testing.T) {
	actions, err := Parse("click\nteleport#somewhere")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Empty(t, actions[0].Params)
	assert.Equal(t, Type("teleport"), actions[1].Type)
}

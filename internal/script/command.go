package script

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// Command is the typed form of a fully resolved action
type Command interface {
	Kind() Type
}

// OpenTab opens a new browsing context and makes it current
type OpenTab struct{ URL string }

// Open navigates the current browsing context
type Open struct{ URL string }

// Input writes text into the element matched by Selector
type Input struct{ Selector, Text string }

// Click clicks the element matched by Selector
type Click struct{ Selector string }

// Select sets the value of a <select> element
type Select struct{ Selector, Value string }

// Infer asks the language model about the markup of the element matched by Selector
type Infer struct{ Selector, Prompt string }

// Wait blocks until the current page reports load complete.
// Max bounds the wait when non-zero.
type Wait struct{ Max time.Duration }

// Login fills a login form using stored credentials for the URL's host
type Login struct{ URL, UserSelector, PassSelector, SubmitSelector string }

// Fetch downloads URL and extracts the text of Selector (whole body when empty)
type Fetch struct{ URL, Selector string }

// While repeats Body while Cond yields a truthy result; Max of 0 means the executor default
type While struct {
	Cond, Body *Action
	Max        int
}

func (OpenTab) Kind() Type { return TypeOpenTab }
func (Open) Kind() Type    { return TypeOpen }
func (Input) Kind() Type   { return TypeInput }
func (Click) Kind() Type   { return TypeClick }
func (Select) Kind() Type  { return TypeSelect }
func (Infer) Kind() Type   { return TypeInfer }
func (Wait) Kind() Type    { return TypeWait }
func (Login) Kind() Type   { return TypeLogin }
func (Fetch) Kind() Type   { return TypeFetch }
func (While) Kind() Type   { return TypeWhile }

// Command converts the action into its typed form, checking parameter arity.
// All parameters except the bodies of while must already be resolved.
func (a *Action) Command() (Command, error) {
	if !a.Type.Known() {
		return nil, &UnknownActionError{Type: a.Type}
	}
	if a.Type == TypeWhile {
		return a.whileCommand()
	}
	if a.HasNested() {
		return nil, fmt.Errorf("%w in %s (step %d)", ErrUnresolved, a.Type, a.StepIndex)
	}

	args := newArgs(a)
	switch a.Type {
	case TypeOpenTab, TypeNewTab:
		url, err := args.require(0, "url")
		return OpenTab{URL: url}, err
	case TypeOpen:
		url, err := args.require(0, "url")
		return Open{URL: url}, err
	case TypeInput:
		sel, err := args.require(0, "selector")
		if err != nil {
			return nil, err
		}
		text, err := args.require(1, "text")
		return Input{Selector: sel, Text: text}, err
	case TypeClick:
		sel, err := args.require(0, "selector")
		return Click{Selector: sel}, err
	case TypeSelect:
		sel, err := args.require(0, "selector")
		if err != nil {
			return nil, err
		}
		value, err := args.require(1, "value")
		return Select{Selector: sel, Value: value}, err
	case TypeInfer:
		sel, err := args.require(0, "selector")
		if err != nil {
			return nil, err
		}
		prompt, err := args.require(1, "prompt")
		return Infer{Selector: sel, Prompt: prompt}, err
	case TypeWait:
		raw, ok := args.get(0, "ms")
		if !ok || raw == "" {
			return Wait{}, nil
		}
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("%w: wait timeout %q is not a millisecond count", ErrInvalidParam, raw)
		}
		return Wait{Max: time.Duration(ms) * time.Millisecond}, nil
	case TypeLogin:
		var l Login
		var err error
		if l.URL, err = args.require(0, "url"); err != nil {
			return nil, err
		}
		if l.UserSelector, err = args.require(1, "user_selector"); err != nil {
			return nil, err
		}
		if l.PassSelector, err = args.require(2, "pass_selector"); err != nil {
			return nil, err
		}
		l.SubmitSelector, err = args.require(3, "submit_selector")
		return l, err
	case TypeFetch:
		url, err := args.require(0, "url")
		sel, _ := args.get(1, "selector")
		return Fetch{URL: url, Selector: sel}, err
	}
	return nil, &UnknownActionError{Type: a.Type}
}

func (a *Action) whileCommand() (Command, error) {
	if len(a.Params) < 2 {
		return nil, &ArityError{Type: a.Type, Index: len(a.Params), Name: [...]string{"condition", "body"}[len(a.Params)]}
	}
	if !a.Params[0].IsNested() || !a.Params[1].IsNested() {
		return nil, fmt.Errorf("%w: while condition and body must be nested actions", ErrInvalidParam)
	}
	w := While{Cond: a.Params[0].Action, Body: a.Params[1].Action}
	if raw, ok := a.Param(2); ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: while limit %q is not a positive integer", ErrInvalidParam, raw)
		}
		w.Max = n
	}
	return w, nil
}

// args reads parameters by position, or by name when the first parameter
// is a JSON object literal such as {"selector": "#q", "text": "hello"}.
type args struct {
	typ   Type
	pos   []string
	named map[string]string
}

func newArgs(a *Action) args {
	out := args{typ: a.Type}
	for _, p := range a.Params {
		out.pos = append(out.pos, p.Value)
	}
	if len(out.pos) > 0 {
		out.named = decodeObject(out.pos[0])
	}
	return out
}

func (a args) get(i int, name string) (string, bool) {
	if a.named != nil {
		v, ok := a.named[name]
		return v, ok
	}
	if i < len(a.pos) {
		return a.pos[i], true
	}
	return "", false
}

func (a args) require(i int, name string) (string, error) {
	v, ok := a.get(i, name)
	if !ok {
		return "", &ArityError{Type: a.typ, Index: i, Name: name}
	}
	return v, nil
}

// decodeObject returns the fields of a JSON-object-shaped parameter, tolerating
// the small syntax slips hand-written scripts tend to contain.
func decodeObject(s string) map[string]string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(s)
		if rerr != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return nil
		}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out
}

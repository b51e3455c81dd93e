package script

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the command kind of an action
type Type string

const (
	TypeOpenTab Type = "open-tab"
	TypeNewTab  Type = "new-tab"
	TypeOpen    Type = "open"
	TypeInput   Type = "input"
	TypeClick   Type = "click"
	TypeSelect  Type = "select"
	TypeInfer   Type = "infer"
	TypeWait    Type = "wait"
	TypeLogin   Type = "login"
	TypeFetch   Type = "fetch"
	TypeWhile   Type = "while"
)

// Known reports whether t is one of the supported action kinds
func (t Type) Known() bool {
	switch t {
	case TypeOpenTab, TypeNewTab, TypeOpen, TypeInput, TypeClick, TypeSelect,
		TypeInfer, TypeWait, TypeLogin, TypeFetch, TypeWhile:
		return true
	}
	return false
}

// NestedAllowed reports whether an action of type t may be used as a parameter of another action.
// Only actions that produce a string result qualify.
func (t Type) NestedAllowed() bool {
	return t == TypeInfer
}

// Status is the lifecycle state of an action
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusRunning       Status = "RUNNING"
	StatusSuccess       Status = "SUCCESS"
	StatusError         Status = "ERROR"
	StatusFinished      Status = "FINISHED"
	StatusCredsRequired Status = "CREDS_REQUIRED"
)

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCredsRequired || s == StatusFinished
}

// Param is one positional action parameter: a literal string or a nested action
type Param struct {
	Value  string
	Action *Action
}

// Literal wraps a string parameter
func Literal(v string) Param { return Param{Value: v} }

// Nested wraps a sub-action parameter
func Nested(a *Action) Param { return Param{Action: a} }

// IsNested reports whether the slot still holds an unresolved sub-action
func (p Param) IsNested() bool { return p.Action != nil }

func (p Param) MarshalJSON() ([]byte, error) {
	if p.Action != nil {
		return json.Marshal(p.Action)
	}
	return json.Marshal(p.Value)
}

// Action is one parsed script line or nested expression
type Action struct {
	Type      Type    `json:"type"`
	Params    []Param `json:"params"`
	StepIndex int     `json:"stepIndex"`
	Status    Status  `json:"status"`
	Message   string  `json:"message"`
}

// NewAction builds a pending action
func NewAction(t Type, idx int, params ...Param) *Action {
	a := &Action{Type: t, Params: params, StepIndex: idx, Status: StatusPending}
	a.Message = Describe(a, StatusPending)
	return a
}

// Transition moves the action forward in its lifecycle.
// Allowed moves are PENDING -> RUNNING and RUNNING -> SUCCESS | ERROR | CREDS_REQUIRED.
func (a *Action) Transition(to Status) error {
	ok := false
	switch a.Status {
	case StatusPending:
		ok = to == StatusRunning
	case StatusRunning:
		ok = to == StatusSuccess || to == StatusError || to == StatusCredsRequired
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s (%s, step %d)", ErrInvalidTransition, a.Status, to, a.Type, a.StepIndex)
	}
	a.Status = to
	a.Message = Describe(a, to)
	return nil
}

// Param returns the literal at index i; false when the slot is missing or still nested
func (a *Action) Param(i int) (string, bool) {
	if i < 0 || i >= len(a.Params) || a.Params[i].IsNested() {
		return "", false
	}
	return a.Params[i].Value, true
}

// Resolve replaces slot i with the result of its sub-action
func (a *Action) Resolve(i int, value string) {
	a.Params[i] = Literal(value)
}

// HasNested reports whether any slot still holds a sub-action
func (a *Action) HasNested() bool {
	for _, p := range a.Params {
		if p.IsNested() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the action tree in PENDING state
func (a *Action) Clone() *Action {
	out := &Action{Type: a.Type, StepIndex: a.StepIndex, Status: StatusPending}
	if len(a.Params) > 0 {
		out.Params = make([]Param, len(a.Params))
		for i, p := range a.Params {
			if p.IsNested() {
				out.Params[i] = Nested(p.Action.Clone())
				continue
			}
			out.Params[i] = p
		}
	}
	out.Message = Describe(out, StatusPending)
	return out
}

// String renders the action back in script syntax. Literals are written bare
// when that parses back unchanged and quoted otherwise. The syntax has no
// escapes, so a literal that needs quoting but itself contains '"' does not
// survive the round trip.
func (a *Action) String() string {
	var b strings.Builder
	b.WriteString(string(a.Type))
	for _, p := range a.Params {
		b.WriteRune(Delimiter)
		if p.IsNested() {
			b.WriteString("(" + p.Action.String() + ")")
			continue
		}
		if isBare(p.Value) {
			b.WriteString(p.Value)
			continue
		}
		b.WriteString(`"` + p.Value + `"`)
	}
	return b.String()
}

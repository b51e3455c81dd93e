package script

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a status change would move an action backwards
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidParam marks a parameter whose value cannot be interpreted for its action type
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrUnresolved marks a dispatch attempted while a nested parameter is still pending
	ErrUnresolved = errors.New("unresolved nested parameter")
)

// ParseError reports a malformed line
type ParseError struct {
	Line   int // 0-based step index
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on line %d: %s: %q", e.Line+1, e.Reason, e.Text)
}

// ArityError reports a required parameter missing at dispatch time
type ArityError struct {
	Type  Type
	Index int
	Name  string
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s requires parameter %d (%s)", e.Type, e.Index+1, e.Name)
}

// UnknownActionError reports an action type outside the supported set
type UnknownActionError struct {
	Type Type
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type: %s", e.Type)
}

// UnsupportedNestedError reports a sub-action whose type cannot produce a parameter value
type UnsupportedNestedError struct {
	Type Type
}

func (e *UnsupportedNestedError) Error() string {
	return fmt.Sprintf("unsupported nested action: %s cannot be used as a parameter", e.Type)
}

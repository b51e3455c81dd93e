// Package performer defines the contract between the executor and the live
// browsing surface that carries out resolved actions.
package performer

import (
	"context"
	"errors"
	"fmt"
)

// Request actions understood by an execution surface
const (
	ActionInput  = "input"
	ActionClick  = "click"
	ActionSelect = "select"
	ActionInfer  = "infer"
)

var (
	// ErrNoActiveTab is returned when an action needs a surface but none has been opened
	ErrNoActiveTab = errors.New("no active tab")
	// ErrNotConnected is returned when the surface transport is unavailable
	ErrNotConnected = errors.New("execution surface is not connected")
	// ErrUnknownTab is returned for a tab id the performer does not manage
	ErrUnknownTab = errors.New("unknown tab")
)

// TabID identifies one browsing context
type TabID string

// Request is one command sent to a surface
type Request struct {
	Action              string `json:"action"`
	QuerySelector       string `json:"queryselector,omitempty"`
	Text                string `json:"text,omitempty"`
	FilterQuerySelector string `json:"filterQuerySelector,omitempty"`
	FilterValue         string `json:"filterValue,omitempty"`
}

// Response is the surface's answer to a Request
type Response struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Err converts a surface-reported failure into an error
func (r Response) Err(req Request) error {
	if r.Error == "" {
		return nil
	}
	return &SurfaceError{Action: req.Action, Message: r.Error}
}

// SurfaceError is a failure reported by the page itself, such as an unmatched selector
type SurfaceError struct {
	Action  string
	Message string
}

func (e *SurfaceError) Error() string {
	return fmt.Sprintf("%s failed on page: %s", e.Action, e.Message)
}

// Performer carries out resolved actions against browser tabs.
//
// OpenTab and Navigate return once the page has loaded. Send for a select
// request returns after the load that follows the selection.
type Performer interface {
	OpenTab(ctx context.Context, url string) (TabID, error)
	Navigate(ctx context.Context, tab TabID, url string) error
	WaitForLoad(ctx context.Context, tab TabID) error
	Send(ctx context.Context, tab TabID, req Request) (Response, error)
}

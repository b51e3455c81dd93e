// Package session holds the per-observer state of a script run: its task id,
// progress reporter, cancellation and execution state.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/v0xg/tabmacro/internal/content"
	"github.com/v0xg/tabmacro/internal/performer"
	"github.com/v0xg/tabmacro/internal/progress"
	"github.com/v0xg/tabmacro/internal/script"
)

var (
	// ErrRunInProgress is returned when a second script is started on a busy session
	ErrRunInProgress = errors.New("a script is already running in this session")
	// ErrClosed is returned when starting a run on a torn-down session
	ErrClosed = errors.New("session is closed")
)

// ExecutionState is the run-wide mutable state owned by the executor
type ExecutionState struct {
	IsPaused           bool
	CurrentActionIndex int
	Actions            []*script.Action
	TabID              performer.TabID
}

// Session ties one observer channel to the runs it starts
type Session struct {
	ID       string
	Reporter *progress.Reporter

	ctx    context.Context
	cancel context.CancelFunc
	buffer *content.Buffer
	owner  content.Owner

	mu      sync.Mutex
	state   ExecutionState
	running bool
	resume  chan struct{} // closed while not paused
}

// New creates a session. An empty id is replaced by a random one. The session
// claims the task's content bucket, replacing whatever an earlier session with
// the same id collected. Closing the reporter's channel tears the session down.
func New(id string, reporter *progress.Reporter, buffer *content.Buffer) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	resume := make(chan struct{})
	close(resume)

	s := &Session{
		ID:       id,
		Reporter: reporter,
		ctx:      ctx,
		cancel:   cancel,
		buffer:   buffer,
		resume:   resume,
	}
	if buffer != nil {
		s.owner = buffer.Claim(id)
	}
	if reporter != nil {
		reporter.OnDetach(s.Close)
	}
	return s
}

// Context is cancelled when the session is closed
func (s *Session) Context() context.Context { return s.ctx }

// Buffer returns the content buffer collected items are stored in, or nil
func (s *Session) Buffer() *content.Buffer { return s.buffer }

// Collect buffers content taken from source under the session's task.
// Content arriving after Close, or after a newer session claimed the task, is dropped.
func (s *Session) Collect(source, content string) {
	if s.buffer == nil || s.Closed() {
		return
	}
	s.buffer.Add(s.ID, s.owner, source, content)
}

// Close cancels in-flight work and discards the content this session buffered
func (s *Session) Close() {
	if s.buffer != nil {
		s.buffer.Release(s.ID, s.owner)
	}
	s.cancel()
	s.Resume()
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	return s.ctx.Err() != nil
}

// Begin claims the session for a run of actions
func (s *Session) Begin(actions []*script.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if s.running {
		return ErrRunInProgress
	}
	s.running = true
	s.state.Actions = actions
	s.state.CurrentActionIndex = 0
	return nil
}

// End releases the session after a run
func (s *Session) End() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Running reports whether a run currently holds the session
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State returns a snapshot of the execution state
func (s *Session) State() ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Actions = append([]*script.Action(nil), s.state.Actions...)
	return st
}

// Tab returns the current execution surface
func (s *Session) Tab() performer.TabID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TabID
}

// SetTab switches the current execution surface
func (s *Session) SetTab(tab performer.TabID) {
	s.mu.Lock()
	s.state.TabID = tab
	s.mu.Unlock()
}

// SetCurrent records the index of the action being executed
func (s *Session) SetCurrent(idx int) {
	s.mu.Lock()
	s.state.CurrentActionIndex = idx
	s.mu.Unlock()
}

// Pause holds the run before its next step
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsPaused {
		return
	}
	s.state.IsPaused = true
	s.resume = make(chan struct{})
}

// Resume releases a paused run
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsPaused {
		return
	}
	s.state.IsPaused = false
	close(s.resume)
}

// WaitIfPaused blocks while the session is paused
func (s *Session) WaitIfPaused(ctx context.Context) error {
	s.mu.Lock()
	resume := s.resume
	s.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Report forwards an update to the session's reporter
func (s *Session) Report(u progress.Update) {
	if s.Reporter != nil {
		s.Reporter.Report(u)
	}
}

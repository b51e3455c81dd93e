// Package progress streams timestamped, step-indexed status updates to whoever observes a run.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/script"
)

// Update is one progress record
type Update struct {
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	Message   string         `json:"message"`
	StepIndex *int           `json:"stepIndex,omitempty"`
	Status    *script.Status `json:"status,omitempty"`
}

// Message builds an update that is not tied to a step
func Message(msg string) Update {
	return Update{Timestamp: time.Now().UnixMilli(), Message: msg}
}

// ForAction builds an update from an action's current status and message
func ForAction(a *script.Action) Update {
	idx, status := a.StepIndex, a.Status
	return Update{
		Timestamp: time.Now().UnixMilli(),
		Message:   a.Message,
		StepIndex: &idx,
		Status:    &status,
	}
}

// WithStep tags the update with a step index
func (u Update) WithStep(idx int) Update {
	u.StepIndex = &idx
	return u
}

// WithStatus tags the update with a status
func (u Update) WithStatus(s script.Status) Update {
	u.Status = &s
	return u
}

// Sink receives updates
type Sink interface {
	Send(Update) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Update) error

func (f SinkFunc) Send(u Update) error { return f(u) }

// Reporter forwards updates to at most one attached sink. Apart from the
// sink and its detach hooks it holds no state; updates reported while no sink
// is attached are only logged.
type Reporter struct {
	logger *zap.Logger

	mu       sync.Mutex
	sink     Sink
	onDetach []func()
}

// NewReporter creates a reporter with no sink attached
func NewReporter(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger.Named("progress")}
}

// Attach connects a sink, replacing any previous one without running detach hooks
func (r *Reporter) Attach(s Sink) {
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// Attached reports whether a sink is currently connected
func (r *Reporter) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink != nil
}

// OnDetach registers fn to run when the sink is detached
func (r *Reporter) OnDetach(fn func()) {
	r.mu.Lock()
	r.onDetach = append(r.onDetach, fn)
	r.mu.Unlock()
}

// Detach disconnects the sink and runs the detach hooks once
func (r *Reporter) Detach() {
	r.mu.Lock()
	if r.sink == nil {
		r.mu.Unlock()
		return
	}
	r.sink = nil
	hooks := r.onDetach
	r.onDetach = nil
	r.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Report delivers the update. A sink that fails to accept it is detached.
func (r *Reporter) Report(u Update) {
	fields := []zap.Field{zap.String("message", u.Message)}
	if u.StepIndex != nil {
		fields = append(fields, zap.Int("step", *u.StepIndex))
	}
	if u.Status != nil {
		fields = append(fields, zap.String("status", string(*u.Status)))
	}
	r.logger.Debug("Progress update", fields...)

	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Send(u); err != nil {
		r.logger.Warn("Progress channel failed, detaching", zap.Error(err))
		r.Detach()
	}
}

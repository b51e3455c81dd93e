// Package executor runs parsed scripts step by step against a performer,
// resolving nested actions before their parents and reporting every status change.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/v0xg/tabmacro/internal/llm"
	"github.com/v0xg/tabmacro/internal/performer"
	"github.com/v0xg/tabmacro/internal/progress"
	"github.com/v0xg/tabmacro/internal/script"
	"github.com/v0xg/tabmacro/internal/session"
)

const defaultLoopLimit = 10

var (
	// ErrCredentialsRequired fails a login step for a host with no stored credentials
	ErrCredentialsRequired = errors.New("credentials required")
	// ErrNoQuerier fails an infer step when no language model is configured
	ErrNoQuerier = errors.New("no language model configured")
	// ErrNoFetcher fails a fetch step when no HTTP helper is configured
	ErrNoFetcher = errors.New("no fetch client configured")
)

// StepError wraps the failure of one top-level step
type StepError struct {
	Step int
	Type script.Type
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step+1, e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fetcher downloads a page and extracts text from it
type Fetcher interface {
	Fetch(ctx context.Context, url, selector string) (string, error)
}

// Executor interprets actions. It is safe to share between sessions; all
// per-run state lives in the session.
type Executor struct {
	performer   performer.Performer
	querier     llm.Querier
	fetcher     Fetcher
	creds       CredentialStore
	stepEvery   time.Duration
	stepTimeout time.Duration
	loopLimit   int
	metrics     *Metrics
	logger      *zap.Logger
}

// Option configures an Executor
type Option func(*Executor)

func WithLogger(l *zap.Logger) Option          { return func(e *Executor) { e.logger = l } }
func WithQuerier(q llm.Querier) Option         { return func(e *Executor) { e.querier = q } }
func WithFetcher(f Fetcher) Option             { return func(e *Executor) { e.fetcher = f } }
func WithCredentials(c CredentialStore) Option { return func(e *Executor) { e.creds = c } }
func WithMetrics(m *Metrics) Option            { return func(e *Executor) { e.metrics = m } }

// WithStepInterval paces consecutive steps at least d apart
func WithStepInterval(d time.Duration) Option { return func(e *Executor) { e.stepEvery = d } }

// WithStepTimeout bounds every top-level step, including its nested actions
func WithStepTimeout(d time.Duration) Option { return func(e *Executor) { e.stepTimeout = d } }

// WithLoopLimit sets the iteration cap for while actions that do not set one
func WithLoopLimit(n int) Option { return func(e *Executor) { e.loopLimit = n } }

// New creates an executor dispatching to p
func New(p performer.Performer, opts ...Option) *Executor {
	e := &Executor{performer: p, loopLimit: defaultLoopLimit}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.loopLimit <= 0 {
		e.loopLimit = defaultLoopLimit
	}
	e.logger = e.logger.Named("executor")
	return e
}

// ExecuteScript parses text and executes it. Parse errors are reported and
// returned before anything runs.
func (e *Executor) ExecuteScript(ctx context.Context, sess *session.Session, text string) error {
	actions, err := script.Parse(text)
	if err != nil {
		sess.Report(progress.Message(err.Error()).WithStatus(script.StatusError))
		return err
	}
	return e.Execute(ctx, sess, actions)
}

// Execute runs actions in order. The first failing step is marked and reported,
// and the remaining steps are left pending.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, actions []*script.Action) error {
	if err := sess.Begin(actions); err != nil {
		return err
	}
	defer sess.End()

	// Closing the observer channel aborts the run
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.Context(), cancel)
	defer stop()

	e.metrics.runStarted()
	defer e.metrics.runFinished()

	var limiter *rate.Limiter
	if e.stepEvery > 0 {
		limiter = rate.NewLimiter(rate.Every(e.stepEvery), 1)
	}

	logger := e.logger.With(zap.String("task", sess.ID))
	logger.Info("Script started", zap.Int("steps", len(actions)))

	for i, action := range actions {
		if err := sess.WaitIfPaused(ctx); err != nil {
			return fmt.Errorf("run interrupted before step %d: %w", i+1, err)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("run interrupted before step %d: %w", i+1, err)
			}
		}
		sess.SetCurrent(i)

		if err := e.runStep(ctx, sess, action); err != nil {
			logger.Warn("Script aborted", zap.Int("step", action.StepIndex), zap.Error(err))
			return err
		}
	}

	sess.Report(progress.Message("Script execution completed").WithStatus(script.StatusFinished))
	logger.Info("Script completed", zap.Int("steps", len(actions)))
	return nil
}

func (e *Executor) runStep(ctx context.Context, sess *session.Session, a *script.Action) error {
	start := time.Now()
	if err := a.Transition(script.StatusRunning); err != nil {
		return &StepError{Step: a.StepIndex, Type: a.Type, Err: err}
	}
	sess.Report(progress.ForAction(a))

	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	_, err := e.perform(ctx, sess, a)
	if err != nil {
		status := script.StatusError
		if errors.Is(err, ErrCredentialsRequired) {
			status = script.StatusCredsRequired
		}
		_ = a.Transition(status)
		a.Message = a.Message + ": " + err.Error()
		sess.Report(progress.ForAction(a))
		e.metrics.observe(a.Type, status, time.Since(start))
		return &StepError{Step: a.StepIndex, Type: a.Type, Err: err}
	}

	_ = a.Transition(script.StatusSuccess)
	sess.Report(progress.ForAction(a))
	e.metrics.observe(a.Type, script.StatusSuccess, time.Since(start))
	return nil
}

// perform resolves the action's nested parameters, then dispatches it
func (e *Executor) perform(ctx context.Context, sess *session.Session, a *script.Action) (string, error) {
	if a.Type != script.TypeWhile {
		if err := e.resolveParams(ctx, sess, a); err != nil {
			return "", err
		}
	}
	cmd, err := a.Command()
	if err != nil {
		return "", err
	}
	return e.dispatch(ctx, sess, cmd)
}

// resolveParams replaces every nested slot, left to right, with the result of running it
func (e *Executor) resolveParams(ctx context.Context, sess *session.Session, a *script.Action) error {
	for i, p := range a.Params {
		if !p.IsNested() {
			continue
		}
		if !p.Action.Type.NestedAllowed() {
			return &script.UnsupportedNestedError{Type: p.Action.Type}
		}
		result, err := e.runNested(ctx, sess, p.Action)
		if err != nil {
			return fmt.Errorf("resolve parameter %d (%s): %w", i+1, p.Action.Type, err)
		}
		a.Resolve(i, result)
	}
	return nil
}

// runNested executes a sub-action. Its updates carry the parent's step index
// but no status, so the step's own status sequence stays monotonic.
func (e *Executor) runNested(ctx context.Context, sess *session.Session, sub *script.Action) (string, error) {
	if err := sub.Transition(script.StatusRunning); err != nil {
		return "", err
	}
	sess.Report(progress.Message(sub.Message).WithStep(sub.StepIndex))

	result, err := e.perform(ctx, sess, sub)
	if err != nil {
		_ = sub.Transition(script.StatusError)
		return "", err
	}
	_ = sub.Transition(script.StatusSuccess)
	sess.Report(progress.Message(sub.Message).WithStep(sub.StepIndex))
	return result, nil
}

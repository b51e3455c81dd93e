package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/llm"
	"github.com/v0xg/tabmacro/internal/performer"
	"github.com/v0xg/tabmacro/internal/script"
	"github.com/v0xg/tabmacro/internal/session"
)

// dispatch carries out one resolved command and returns its result value,
// which is only meaningful for actions used as parameters.
func (e *Executor) dispatch(ctx context.Context, sess *session.Session, cmd script.Command) (string, error) {
	switch c := cmd.(type) {
	case script.OpenTab:
		tab, err := e.performer.OpenTab(ctx, c.URL)
		if err != nil {
			return "", err
		}
		sess.SetTab(tab)
		return string(tab), nil

	case script.Open:
		return "", e.navigate(ctx, sess, c.URL)

	case script.Input:
		return e.send(ctx, sess, performer.Request{Action: performer.ActionInput, QuerySelector: c.Selector, Text: c.Text})

	case script.Click:
		return e.send(ctx, sess, performer.Request{Action: performer.ActionClick, QuerySelector: c.Selector})

	case script.Select:
		return e.send(ctx, sess, performer.Request{Action: performer.ActionSelect, FilterQuerySelector: c.Selector, FilterValue: c.Value})

	case script.Infer:
		return e.infer(ctx, sess, c)

	case script.Wait:
		tab := sess.Tab()
		if tab == "" {
			return "", performer.ErrNoActiveTab
		}
		if c.Max > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Max)
			defer cancel()
		}
		return "", e.performer.WaitForLoad(ctx, tab)

	case script.Login:
		return "", e.login(ctx, sess, c)

	case script.Fetch:
		if e.fetcher == nil {
			return "", ErrNoFetcher
		}
		text, err := e.fetcher.Fetch(ctx, c.URL, c.Selector)
		if err != nil {
			return "", err
		}
		sess.Collect(c.URL, text)
		return text, nil

	case script.While:
		return e.loop(ctx, sess, c)
	}
	return "", &script.UnknownActionError{Type: cmd.Kind()}
}

// navigate loads url in the current tab, opening one first if needed
func (e *Executor) navigate(ctx context.Context, sess *session.Session, url string) error {
	tab := sess.Tab()
	if tab == "" {
		opened, err := e.performer.OpenTab(ctx, url)
		if err != nil {
			return err
		}
		sess.SetTab(opened)
		return nil
	}
	return e.performer.Navigate(ctx, tab, url)
}

func (e *Executor) send(ctx context.Context, sess *session.Session, req performer.Request) (string, error) {
	tab := sess.Tab()
	if tab == "" {
		return "", performer.ErrNoActiveTab
	}
	resp, err := e.performer.Send(ctx, tab, req)
	if err != nil {
		return "", err
	}
	if err := resp.Err(req); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// infer reads the markup of the target element and asks the model about it
func (e *Executor) infer(ctx context.Context, sess *session.Session, c script.Infer) (string, error) {
	if e.querier == nil {
		return "", ErrNoQuerier
	}
	markup, err := e.send(ctx, sess, performer.Request{Action: performer.ActionInfer, QuerySelector: c.Selector, Text: c.Prompt})
	if err != nil {
		return "", err
	}
	sess.Collect(c.Selector, markup)

	answer, err := e.querier.Query(ctx, llm.BuildInferPrompt(markup, c.Prompt))
	if err != nil {
		return "", fmt.Errorf("infer %s: %w", c.Selector, err)
	}
	e.logger.Debug("Model answered", zap.String("selector", c.Selector), zap.Int("chars", len(answer)))
	return answer, nil
}

func (e *Executor) login(ctx context.Context, sess *session.Session, c script.Login) error {
	host := hostOf(c.URL)
	if e.creds == nil {
		return fmt.Errorf("%w for %s", ErrCredentialsRequired, host)
	}
	creds, ok := e.creds.Lookup(host)
	if !ok {
		return fmt.Errorf("%w for %s", ErrCredentialsRequired, host)
	}

	if err := e.navigate(ctx, sess, c.URL); err != nil {
		return err
	}
	steps := []performer.Request{
		{Action: performer.ActionInput, QuerySelector: c.UserSelector, Text: creds.Username},
		{Action: performer.ActionInput, QuerySelector: c.PassSelector, Text: creds.Password},
		{Action: performer.ActionClick, QuerySelector: c.SubmitSelector},
	}
	for _, req := range steps {
		if _, err := e.send(ctx, sess, req); err != nil {
			return err
		}
	}
	return e.performer.WaitForLoad(ctx, sess.Tab())
}

// loop runs fresh copies of the condition and body until the condition stops
// being truthy or the iteration cap is reached. It returns the iteration count.
func (e *Executor) loop(ctx context.Context, sess *session.Session, c script.While) (string, error) {
	if !c.Cond.Type.NestedAllowed() {
		return "", &script.UnsupportedNestedError{Type: c.Cond.Type}
	}
	limit := c.Max
	if limit <= 0 {
		limit = e.loopLimit
	}

	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cond, err := e.runNested(ctx, sess, c.Cond.Clone())
		if err != nil {
			return "", fmt.Errorf("while condition: %w", err)
		}
		if !truthy(cond) {
			return strconv.Itoa(i), nil
		}
		if _, err := e.runNested(ctx, sess, c.Body.Clone()); err != nil {
			return "", fmt.Errorf("while body (iteration %d): %w", i+1, err)
		}
	}

	e.logger.Warn("Loop reached iteration limit", zap.String("task", sess.ID), zap.Int("limit", limit))
	return strconv.Itoa(limit), nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

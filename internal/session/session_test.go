package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/tabmacro/internal/content"
	"github.com/v0xg/tabmacro/internal/progress"
	"github.com/v0xg/tabmacro/internal/script"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewAssignsID(t *testing.T) {
	s := New("", nil, nil)
	assert.Len(t, s.ID, 36)
	assert.Equal(t, "task-7", New("task-7", nil, nil).ID)
}

func TestOneRunAtATime(t *testing.T) {
	s := New("t", nil, nil)
	actions := []*script.Action{script.NewAction(script.TypeWait, 0)}

	require.NoError(t, s.Begin(actions))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Begin(actions), ErrRunInProgress)

	s.End()
	require.NoError(t, s.Begin(actions))
	s.End()

	s.Close()
	assert.ErrorIs(t, s.Begin(actions), ErrClosed)
}

func TestDetachClosesSession(t *testing.T) {
	buf := content.NewBuffer(4, 0)
	buf.Add("task-2", buf.Claim("task-2"), ".price", "5.00")

	reporter := progress.NewReporter(zaptest.NewLogger(t))
	reporter.Attach(&progress.Recorder{})
	s := New("task-1", reporter, buf)
	s.Collect(".price", "4.20")
	require.Len(t, buf.Items("task-1"), 1)

	reporter.Detach()

	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
	assert.Nil(t, buf.Items("task-1"))
	assert.Len(t, buf.Items("task-2"), 1)
}

func TestReplacedSessionKeepsSuccessorContent(t *testing.T) {
	buf := content.NewBuffer(4, 0)
	old := New("task-1", nil, buf)
	old.Collect(".price", "stale")

	current := New("task-1", nil, buf)
	assert.Nil(t, buf.Items("task-1"))
	current.Collect(".price", "4.20")

	old.Collect(".price", "late")
	old.Close()

	items := buf.Items("task-1")
	require.Len(t, items, 1)
	assert.Equal(t, "4.20", items[0].Content)

	current.Close()
	current.Collect(".price", "after close")
	assert.Nil(t, buf.Items("task-1"))
}

func TestPauseResume(t *testing.T) {
	s := New("t", nil, nil)
	require.NoError(t, s.WaitIfPaused(context.Background()))

	s.Pause()
	assert.True(t, s.State().IsPaused)

	done := make(chan error, 1)
	go func() { done <- s.WaitIfPaused(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	s.Resume()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Resume")
	}
	assert.False(t, s.State().IsPaused)
}

func TestWaitIfPausedHonoursContext(t *testing.T) {
	s := New("t", nil, nil)
	s.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitIfPaused(ctx), context.Canceled)

	// closing the session releases paused runs
	s.Close()
	assert.NoError(t, s.WaitIfPaused(context.Background()))
}

func TestStateSnapshot(t *testing.T) {
	s := New("t", nil, nil)
	actions := []*script.Action{script.NewAction(script.TypeWait, 0), script.NewAction(script.TypeWait, 1)}
	require.NoError(t, s.Begin(actions))
	s.SetTab("tab-1")
	s.SetCurrent(1)

	st := s.State()
	assert.Equal(t, 1, st.CurrentActionIndex)
	assert.Equal(t, "tab-1", string(st.TabID))
	assert.Equal(t, "tab-1", string(s.Tab()))
	st.Actions[0] = nil
	assert.NotNil(t, s.State().Actions[0])
}

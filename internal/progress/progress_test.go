package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/tabmacro/internal/script"
)

func TestUpdateJSON(t *testing.T) {
	raw, err := json.Marshal(Update{Timestamp: 1700000000000, Message: "Script execution completed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":1700000000000,"message":"Script execution completed"}`, string(raw))

	a := script.NewAction(script.TypeClick, 2, script.Literal("#submit"))
	require.NoError(t, a.Transition(script.StatusRunning))
	u := ForAction(a)
	raw, err = json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(2), decoded["stepIndex"])
	assert.Equal(t, "RUNNING", decoded["status"])
	assert.Equal(t, "Clicking #submit", decoded["message"])
	assert.NotZero(t, decoded["timestamp"])
}

func TestForActionSnapshotsStatus(t *testing.T) {
	a := script.NewAction(script.TypeWait, 0)
	u := ForAction(a)
	require.NoError(t, a.Transition(script.StatusRunning))
	assert.Equal(t, script.StatusPending, *u.Status)
}

func TestReporterAttachDetach(t *testing.T) {
	r := NewReporter(zaptest.NewLogger(t))
	assert.False(t, r.Attached())

	// no sink: dropped without error
	r.Report(Message("nobody listening"))

	rec := &Recorder{}
	r.Attach(rec)
	assert.True(t, r.Attached())

	detached := 0
	r.OnDetach(func() { detached++ })

	r.Report(Message("one"))
	r.Report(Message("two").WithStep(1).WithStatus(script.StatusSuccess))

	r.Detach()
	r.Detach()
	assert.False(t, r.Attached())
	assert.Equal(t, 1, detached)

	r.Report(Message("three"))
	updates := rec.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, "one", updates[0].Message)
	assert.Equal(t, 1, *updates[1].StepIndex)
}

func TestReporterDetachesFailingSink(t *testing.T) {
	r := NewReporter(zaptest.NewLogger(t))
	detached := make(chan struct{})
	r.OnDetach(func() { close(detached) })

	r.Attach(SinkFunc(func(Update) error { return errors.New("broken pipe") }))
	r.Report(Message("hello"))

	assert.False(t, r.Attached())
	select {
	case <-detached:
	default:
		t.Fatal("detach hook did not run")
	}
}

func TestConsoleSink(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	require.NoError(t, sink.Send(Message("Opened tab https://example.com").WithStep(0).WithStatus(script.StatusSuccess)))
	require.NoError(t, sink.Send(Message("Script execution completed")))

	out := buf.String()
	assert.Contains(t, out, "[ 1] ✓ Opened tab https://example.com")
	assert.Contains(t, out, "     Script execution completed")
}

package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/v0xg/tabmacro/internal/script"
)

// Recorder keeps every update in memory
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Send(u Update) error {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	return nil
}

// Updates returns a copy of the recorded updates
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// ConsoleSink prints one line per update for terminal use
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (c *ConsoleSink) Send(u Update) error {
	ts := time.UnixMilli(u.Timestamp).Format("15:04:05.000")
	step := "    "
	if u.StepIndex != nil {
		step = fmt.Sprintf("[%2d]", *u.StepIndex+1)
	}
	status := ""
	if u.Status != nil {
		status = colorStatus(*u.Status) + " "
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s %s %s%s\n", gray(ts), step, status, u.Message)
	return err
}

func colorStatus(s script.Status) string {
	switch s {
	case script.StatusSuccess, script.StatusFinished:
		return green("✓")
	case script.StatusError:
		return red("✗")
	case script.StatusCredsRequired:
		return yellow("⚠")
	case script.StatusRunning:
		return cyan("→")
	}
	return gray("·")
}

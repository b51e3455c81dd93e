package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/executor"
	"github.com/v0xg/tabmacro/internal/observability"
	"github.com/v0xg/tabmacro/internal/progress"
	"github.com/v0xg/tabmacro/internal/session"
)

var (
	taskID      string
	dumpContent bool
	connectWait time.Duration
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script-file|->",
		Short: "Execute a script and print progress to the terminal",
		Example: `  tabmacro run checkout.tm
  echo 'open-tab#"https://example.com"' | tabmacro run -`,
		Args: cobra.ExactArgs(1),
		RunE: runScript,
	}
	addSurfaceFlags(cmd)
	cmd.Flags().StringVar(&taskID, "task", "", "Task id for this run (default: random)")
	cmd.Flags().BoolVar(&dumpContent, "dump-content", false, "Print content collected by infer and fetch steps after the run")
	cmd.Flags().DurationVar(&connectWait, "connect-timeout", 30*time.Second, "How long to wait for the browser extension to connect")
	return cmd
}

func runScript(cmd *cobra.Command, args []string) error {
	text, err := readScript(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "→ Starting %s... ", surfaceName(cfg.Bridge.Enabled))
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintln(out, "failed")
		return err
	}
	defer rt.close()
	fmt.Fprintln(out, "done")

	if rt.bridge != nil {
		fmt.Fprintf(out, "→ Waiting for extension on %s... ", rt.bridge.Addr())
		if err := rt.bridge.WaitForConnected(ctx, connectWait); err != nil {
			fmt.Fprintln(out, "failed")
			return err
		}
		fmt.Fprintln(out, "done")
	}

	reporter := progress.NewReporter(logger)
	reporter.Attach(progress.NewConsoleSink(out))
	sess := session.New(taskID, reporter, rt.buffer)
	defer sess.Close()

	runErr := rt.executor.ExecuteScript(ctx, sess, text)

	if dumpContent {
		for _, item := range rt.buffer.Items(sess.ID) {
			fmt.Fprintf(out, "\n--- %s (%s)\n%s\n", item.Source, item.Collected.Format(time.RFC3339), item.Content)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, executor.ErrCredentialsRequired) {
			fmt.Fprintln(out, "⚠ Add credentials for this site to the config file and run again")
		}
		logger.Debug("Run failed", zap.String("task", sess.ID), zap.Error(runErr))
		return runErr
	}
	return nil
}

// readScript reads the script from path, or from stdin when path is "-"
func readScript(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func surfaceName(extension bool) string {
	if extension {
		return "extension bridge"
	}
	return "browser"
}

// signalContext returns a context cancelled on interrupt
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

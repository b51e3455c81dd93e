package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v0xg/tabmacro/internal/script"
)

var parseFormat string

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <script-file|->",
		Short: "Check a script and print its action tree without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  parseScript,
	}
	cmd.Flags().StringVarP(&parseFormat, "format", "f", "text", "Output format: text, json")
	return cmd
}

func parseScript(cmd *cobra.Command, args []string) error {
	text, err := readScript(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	actions, err := script.Parse(text)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch parseFormat {
	case "json":
		if actions == nil {
			actions = []*script.Action{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(actions)
	case "text":
		for _, a := range actions {
			fmt.Fprintf(out, "  [%d] %s\n", a.StepIndex+1, a)
			if _, err := a.Command(); err != nil && !a.HasNested() {
				fmt.Fprintf(out, "      ⚠ %v\n", err)
			}
		}
		fmt.Fprintf(out, "✓ %d steps\n", len(actions))
		return nil
	default:
		return fmt.Errorf("unknown format %q (use text or json)", parseFormat)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/config"
	"github.com/v0xg/tabmacro/internal/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	verbose    bool
	provider   string
	model      string
	headless   bool
	profile    string
	extension  bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tabmacro",
		Short: "Run line-oriented browser macros with LLM-assisted steps",
		Long: `tabmacro executes scripts of browser actions, one per line, in the form
type#param1#param2. A parameter wrapped in parentheses is itself an action
whose result is substituted before the outer action runs:

  open-tab#"https://example.com"
  wait
  input#textarea#(infer#div.article#Summarize this in one sentence)
  click#"#submit"`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./tabmacro.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logging")

	rootCmd.AddCommand(newRunCmd(), newParseCmd(), newServeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tabmacro version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tabmacro %s\n", version)
		},
	}
}

// addSurfaceFlags registers the flags shared by commands that drive a browser
func addSurfaceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&provider, "provider", "", "AI provider for infer: claude, openai (default: from config)")
	cmd.Flags().StringVar(&model, "model", "", "Specific model override")
	cmd.Flags().BoolVar(&headless, "headless", true, "Run the local browser without a window")
	cmd.Flags().StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	cmd.Flags().BoolVar(&extension, "extension", false, "Drive tabs through the browser extension bridge instead of a local browser")
}

// loadConfig reads the config file and environment, then applies flags that were set explicitly
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.LLM.Provider = provider
	}
	if flags.Changed("model") {
		cfg.LLM.Model = model
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("profile") {
		cfg.Browser.ProfileDir = profile
	}
	if flags.Changed("extension") {
		cfg.Bridge.Enabled = extension
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.InitializeLogger(cfg.Logger)
	observability.GetLogger().Debug("Configuration loaded",
		zap.String("provider", cfg.LLM.Provider),
		zap.Bool("extension", cfg.Bridge.Enabled),
	)
	return cfg, nil
}

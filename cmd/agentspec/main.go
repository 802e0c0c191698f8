package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/agentspec/internal/logging"
	"github.com/dshills/agentspec/internal/orchestrator"
)

var version = "dev"

// Exit codes.
const (
	exitCodeFailOn      = 2 // lint findings reached --fail-on
	exitCodeBadInput    = 3 // bad flags, config or paths
	exitCodeUnitsFailed = 4 // one or more units could not be documented
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func badInput(err error) error { return &exitError{code: exitCodeBadInput, err: err} }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	root := &cobra.Command{
		Use:           "agentspec",
		Short:         "Write deterministic metadata and model narrative into documentation blocks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRewriteCmd(orchestrator.ModeGenerate, "Insert blocks for units that have none"),
		newRewriteCmd(orchestrator.ModeUpdate, "Regenerate every block"),
		newRewriteCmd(orchestrator.ModeStrip, "Remove every block, leaving human documentation intact"),
		newRewriteCmd(orchestrator.ModeRefresh, "Re-inject dependency and history sections, keeping the narrative"),
		newLintCmd(),
		newExtractCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// addCommonFlags registers the flags shared by every command.
func addCommonFlags(cmd *cobra.Command, f *commonFlags) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "config file (default .agentspec.yaml)")
	cmd.Flags().StringVar(&f.format, "format", "json", "output format: json or markdown")
	cmd.Flags().StringVar(&f.out, "out", "", "write output to this file instead of stdout")
	cmd.Flags().StringVar(&f.importScope, "import-scope", "", "imports recorded per unit: module or referenced")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "files processed concurrently (default from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging on stderr")
}

func newRewriteCmd(mode orchestrator.Mode, short string) *cobra.Command {
	var f rewriteFlags
	cmd := &cobra.Command{
		Use:   string(mode) + " [path...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.paths = args
			f.mode = mode
			f.historyLimitSet = cmd.Flags().Changed("history-limit")
			return runRewrite(cmd.Context(), f)
		},
	}
	addCommonFlags(cmd, &f.commonFlags)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute every change and report it without writing files")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	if mode.NeedsNarrative() {
		cmd.Flags().StringVar(&f.provider, "provider", "", "LLM provider: anthropic, openai or google")
		cmd.Flags().StringVar(&f.model, "model", "", "model name (default depends on provider)")
		cmd.Flags().StringVar(&f.baseURL, "base-url", "", "provider-compatible endpoint")
		cmd.Flags().StringVar(&f.style, "style", "", "narrative style: full or terse")
		cmd.Flags().BoolVar(&f.summarize, "summarize-changes", false, "add a model-written summary of the unit's recent history")
	}
	if mode != orchestrator.ModeStrip {
		cmd.Flags().IntVar(&f.historyLimit, "history-limit", 0, "commits recorded per unit (0 disables history)")
	}
	return cmd
}

func newLintCmd() *cobra.Command {
	var f lintFlags
	cmd := &cobra.Command{
		Use:   "lint [path...]",
		Short: "Check blocks for structure, schema and stale dependency sections",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.paths = args
			return runLint(cmd.Context(), f)
		},
	}
	addCommonFlags(cmd, &f.commonFlags)
	cmd.Flags().StringVar(&f.failOn, "fail-on", "error", "exit 2 when a finding reaches this severity: error, warn, info or none")
	cmd.Flags().BoolVar(&f.stale, "stale", true, "compare dependency sections with the current source")
	cmd.Flags().BoolVar(&f.missing, "missing", false, "report units without a block")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var f commonFlags
	cmd := &cobra.Command{
		Use:   "extract [path...]",
		Short: "Print the blocks found under the given paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), f, args)
		},
	}
	addCommonFlags(cmd, &f)
	return cmd
}

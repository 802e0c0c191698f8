package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/dshills/agentspec/internal/config"
	"github.com/dshills/agentspec/internal/extract"
	"github.com/dshills/agentspec/internal/history"
	"github.com/dshills/agentspec/internal/lang"
	"github.com/dshills/agentspec/internal/lang/jslang"
	"github.com/dshills/agentspec/internal/lang/pylang"
	"github.com/dshills/agentspec/internal/lint"
	"github.com/dshills/agentspec/internal/llm"
	"github.com/dshills/agentspec/internal/locator"
	"github.com/dshills/agentspec/internal/logging"
	"github.com/dshills/agentspec/internal/metrics"
	"github.com/dshills/agentspec/internal/narrative"
	"github.com/dshills/agentspec/internal/orchestrator"
	"github.com/dshills/agentspec/internal/report"
	"github.com/dshills/agentspec/internal/static"
)

type commonFlags struct {
	configPath  string
	format      string
	out         string
	importScope string
	concurrency int
	verbose     bool
}

type rewriteFlags struct {
	commonFlags
	paths           []string
	mode            orchestrator.Mode
	dryRun          bool
	metricsFile     string
	provider        string
	model           string
	baseURL         string
	style           string
	summarize       bool
	historyLimit    int
	historyLimitSet bool
}

type lintFlags struct {
	commonFlags
	paths   []string
	failOn  string
	stale   bool
	missing bool
}

// stack is what every command builds from flags and config.
type stack struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	registry *lang.Registry
	locator  *locator.Locator
	static   *static.Collector
}

func newRegistry() *lang.Registry {
	return lang.NewRegistry(pylang.New(), jslang.NewJavaScript(), jslang.NewTypeScript(), jslang.NewTSX())
}

func buildStack(f commonFlags) (*stack, error) {
	switch f.format {
	case "json", "markdown":
	default:
		return nil, badInput(fmt.Errorf("--format must be json or markdown, got %q", f.format))
	}
	logging.SetVerbose(f.verbose)
	log := logging.Logger()

	cfg, err := config.Resolve(f.configPath, f.configPath != "")
	if err != nil {
		return nil, badInput(fmt.Errorf("config: %w", err))
	}
	if f.importScope != "" {
		cfg.ImportScope = f.importScope
	}
	if f.concurrency > 0 {
		cfg.FileConcurrency = f.concurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, badInput(fmt.Errorf("config: %w", err))
	}
	scope, err := static.ParseScope(cfg.ImportScope)
	if err != nil {
		return nil, badInput(err)
	}

	reg := newRegistry()
	return &stack{
		cfg:      cfg,
		log:      log,
		registry: reg,
		locator:  locator.New(reg.Extensions(), cfg.Ignore),
		static:   static.New(reg, scope, log),
	}, nil
}

// output writes data to --out or stdout.
func output(f commonFlags, stdout io.Writer, data []byte) error {
	if f.out == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(f.out, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func withNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	return b
}

func discoveryAsBadInput(err error) error {
	var de *locator.DiscoveryError
	if errors.As(err, &de) {
		return badInput(err)
	}
	return err
}

func runRewrite(ctx context.Context, f rewriteFlags) error {
	return runRewriteTo(ctx, f, os.Stdout)
}

func runRewriteTo(ctx context.Context, f rewriteFlags, stdout io.Writer) error {
	st, err := buildStack(f.commonFlags)
	if err != nil {
		return err
	}
	cfg := st.cfg
	if f.provider != "" {
		cfg.LLM.Provider = f.provider
	}
	if f.model != "" {
		cfg.LLM.Model = f.model
	}
	if f.baseURL != "" {
		cfg.LLM.BaseURL = f.baseURL
	}
	if f.style != "" {
		cfg.Style = f.style
	}
	if f.summarize {
		cfg.SummarizeChanges = true
	}
	if f.historyLimitSet {
		if f.historyLimit < 0 {
			return badInput(fmt.Errorf("--history-limit must not be negative"))
		}
		cfg.History.Limit = f.historyLimit
	}

	var metricOpts []metrics.Option
	if f.metricsFile != "" {
		metricOpts = append(metricOpts, metrics.WithDefaultCollectors())
	}
	reg := metrics.NewRegistry(metricOpts...)
	var gen *narrative.Generator
	if f.mode.NeedsNarrative() {
		if _, err := narrative.LoadStyle(cfg.Style); err != nil {
			return badInput(err)
		}
		provider, err := llm.NewProvider(llm.Config{Provider: cfg.LLM.Provider, Model: cfg.LLM.Model, BaseURL: cfg.LLM.BaseURL})
		if err != nil {
			return badInput(err)
		}
		client := llm.NewClient(provider, llm.ClientOptions{
			Name:              cfg.LLM.Provider,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
			Timeout:           cfg.LLM.Timeout,
			Retry: llm.RetryPolicy{
				MaxAttempts: cfg.LLM.Retry.MaxAttempts,
				BaseDelay:   cfg.LLM.Retry.BaseDelay,
				MaxDelay:    cfg.LLM.Retry.MaxDelay,
				Multiplier:  cfg.LLM.Retry.Multiplier,
			},
			Observer: reg,
			Log:      st.log,
		})
		gen = narrative.New(client, narrative.Options{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Concurrency: cfg.LLM.Concurrency,
			Log:         st.log,
		})
	}

	orch := orchestrator.New(orchestrator.Components{
		Registry:  st.registry,
		Locator:   st.locator,
		Static:    st.static,
		History:   history.NewCollector(history.CLI{}, cfg.History.Concurrency, st.log),
		Narrative: gen,
		Metrics:   reg,
		Log:       st.log,
		Version:   version,
	})
	rep, err := orch.Run(ctx, f.paths, orchestrator.Options{
		Mode:             f.mode,
		DryRun:           f.dryRun,
		Style:            cfg.Style,
		HistoryLimit:     cfg.History.Limit,
		SummarizeChanges: cfg.SummarizeChanges,
		FileConcurrency:  cfg.FileConcurrency,
	})
	if err != nil {
		return discoveryAsBadInput(err)
	}

	var data []byte
	if f.format == "markdown" {
		data = []byte(report.RenderMarkdown(rep))
	} else {
		if data, err = report.RenderJSON(rep); err != nil {
			return err
		}
	}
	if err := output(f.commonFlags, stdout, withNewline(data)); err != nil {
		return err
	}
	if f.metricsFile != "" {
		if err := reg.WriteFile(f.metricsFile); err != nil {
			st.log.Warnw("metrics not written", "path", f.metricsFile, "error", err)
		}
	}
	if rep.Summary.Failed > 0 {
		return &exitError{code: exitCodeUnitsFailed, err: fmt.Errorf("%s: %d unit(s) failed", f.mode, rep.Summary.Failed)}
	}
	return nil
}

func runLint(ctx context.Context, f lintFlags) error {
	return runLintTo(ctx, f, os.Stdout)
}

func runLintTo(ctx context.Context, f lintFlags, stdout io.Writer) error {
	threshold, err := lint.ParseSeverity(f.failOn)
	if err != nil {
		return badInput(err)
	}
	st, err := buildStack(f.commonFlags)
	if err != nil {
		return err
	}
	rep, err := lint.New(st.registry, st.locator, st.static, st.log).Run(ctx, f.paths, lint.Options{
		Stale:           f.stale,
		Missing:         f.missing,
		FileConcurrency: st.cfg.FileConcurrency,
	})
	if err != nil {
		return discoveryAsBadInput(err)
	}

	var data []byte
	if f.format == "markdown" {
		data = []byte(lint.RenderMarkdown(rep))
	} else if data, err = lint.RenderJSON(rep); err != nil {
		return err
	}
	if err := output(f.commonFlags, stdout, withNewline(data)); err != nil {
		return err
	}
	if highest := rep.Highest(); lint.Fails(highest, threshold) {
		return &exitError{code: exitCodeFailOn, err: fmt.Errorf("lint: %d finding(s), highest %s reaches --fail-on %s", len(rep.Findings), highest, threshold)}
	}
	return nil
}

func runExtract(ctx context.Context, f commonFlags, paths []string) error {
	return runExtractTo(ctx, f, paths, os.Stdout)
}

func runExtractTo(ctx context.Context, f commonFlags, paths []string, stdout io.Writer) error {
	st, err := buildStack(f)
	if err != nil {
		return err
	}
	entries, err := extract.New(st.registry, st.locator, st.log).Run(ctx, paths, st.cfg.FileConcurrency)
	if err != nil {
		return discoveryAsBadInput(err)
	}
	var data []byte
	if f.format == "markdown" {
		data = []byte(extract.RenderMarkdown(entries))
	} else if data, err = extract.RenderJSON(entries); err != nil {
		return err
	}
	return output(f, stdout, withNewline(data))
}

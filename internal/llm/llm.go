// Package llm handles LLM provider communication: the provider capability,
// the concrete SDK-backed providers, and the bounded retry and rate limiting
// wrapped around them. It knows nothing about prompts or response schemas.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string // anthropic, openai or google
	Model    string
	// BaseURL points the provider at a compatible endpoint (proxy, local
	// server). Empty means the SDK default.
	BaseURL string
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(cfg Config) (Provider, error) = defaultNewProvider

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "gpt-4o-mini"
	case "google":
		return "gemini-1.5-flash"
	default:
		return "claude-3-5-haiku-latest"
	}
}

// GenerationError is a transport or provider failure. Retryable errors are
// retried by a RetryPolicy; the rest fail the request immediately.
type GenerationError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm: %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// classify wraps err from provider into a GenerationError. Rate limits,
// timeouts, conflicts, server errors and transport failures are retryable.
func classify(provider string, err error) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}
	status := statusCode(err)
	retryable := true
	switch {
	case errors.Is(err, context.Canceled):
		retryable = false
	case status == 0:
		// Transport failure or per-attempt timeout.
	case status == 408 || status == 409 || status == 429 || status >= 500:
	default:
		retryable = false
	}
	return &GenerationError{Provider: provider, StatusCode: status, Retryable: retryable, Err: err}
}

// statusCoder is satisfied by errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

func statusCode(err error) int {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	if code := openAIStatus(err); code > 0 {
		return code
	}
	if code := googleStatus(err); code > 0 {
		return code
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// StripFences removes leading/trailing markdown code fences that models
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
// If only an opening fence is present (the response was truncated before the
// closing fence), the opening line is stripped.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// jsonEscapeRe matches one backslash escape pair. Pairs are consumed left to
// right so the second backslash of a valid "\\" is never treated as the
// start of another escape.
var jsonEscapeRe = regexp.MustCompile(`(?s)\\.`)

// FixJSONEscapes double-escapes invalid JSON escape sequences, which models
// emit when quoting regular expressions (\d, \w) inside strings. Valid
// escapes, including escaped backslashes, are left alone.
func FixJSONEscapes(s string) string {
	return jsonEscapeRe.ReplaceAllStringFunc(s, func(pair string) string {
		if strings.ContainsAny(pair[1:], `"\/bfnrtu`) {
			return pair
		}
		return `\` + pair
	})
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(cfg Config) (Provider, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "":
		return newAnthropicProvider(model, cfg.BaseURL)
	case "openai":
		return newOpenAIProvider(model, cfg.BaseURL)
	case "google":
		return newGoogleProvider(model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// ── Anthropic provider ───────────────────────────────────────────────────────

// anthropicProvider implements Provider using the Anthropic SDK.
// anthropic.Client is a value type; the SDK's NewClient returns it by value.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model, baseURL string) (Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY environment variable not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		// "text" is the only content type that carries assistant text output.
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content blocks")
	}
	return strings.Join(parts, ""), nil
}

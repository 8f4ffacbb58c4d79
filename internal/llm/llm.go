// Package llm handles inference provider communication and the decoding of
// untrusted model replies into structured values.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidModelOutput is returned when a reply cannot be decoded into the
// requested structure even after sanitization.
var ErrInvalidModelOutput = errors.New("llm: invalid model output")

// ErrTruncated marks a completion that stopped before the model finished,
// usually because the max token budget was reached.
var ErrTruncated = errors.New("llm: completion truncated")

// Format is the response-format hint passed to a provider.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Normalized finish reasons.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Request is a single completion request.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	Format      Format
}

// Completion is a provider reply with token accounting.
type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
	// FinishReason is FinishStop, FinishLength, or the provider's raw value.
	FinishReason string
	Model        string
}

// Truncated reports whether the completion ended for any reason other than
// a natural stop.
func (c Completion) Truncated() bool {
	return c.FinishReason != "" && c.FinishReason != FinishStop
}

// Provider is the interface for inference backends.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL is only used by the compatible provider.
	BaseURL string
	// AzureAPIVersion switches the compatible provider to Azure OpenAI.
	AzureAPIVersion string
	Timeout         time.Duration
}

// New constructs the provider named by cfg.Provider. The key is taken from
// cfg; it is never read from process state here.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "":
		return newAnthropicProvider(cfg)
	case "openai":
		return newOpenAIProvider(cfg)
	case "google":
		return newGoogleProvider(cfg)
	case "compatible", "azure":
		return newCompatibleProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// ValidationError records a single validation failure on a model reply.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match any reply validation failure, decode or
// shape, with errors.Is(err, ErrInvalidModelOutput).
func (e ValidationError) Unwrap() error {
	return ErrInvalidModelOutput
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line. Used to strip orphaned
// opening fences from truncated replies.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that
// models sometimes wrap around JSON output.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu). Models copy Windows
// paths and regex fragments (C:\Sites, \d+) from reports verbatim.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// fixInvalidJSONEscapes replaces invalid JSON escape sequences in s with
// their correctly double-escaped equivalents.
func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// extractJSONObject trims any prose before the first '{' or '[' and after
// the matching last '}' or ']'.
func extractJSONObject(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// DecodeJSON parses a model reply into v. Markdown fences and surrounding
// prose are stripped first; if parsing fails the invalid escape sanitizer
// is applied once before giving up. The returned error is a ValidationError
// with Field "json_parse".
func DecodeJSON(raw string, v any) error {
	s := extractJSONObject(stripMarkdownFences(raw))
	if s == "" {
		return ValidationError{Field: "json_parse", Message: "empty reply"}
	}
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}
	if err2 := json.Unmarshal([]byte(fixInvalidJSONEscapes(s)), v); err2 == nil {
		return nil
	}
	return ValidationError{Field: "json_parse", Message: err.Error()}
}

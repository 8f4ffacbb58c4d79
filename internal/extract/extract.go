// Package extract implements the four prompted sub-extractors. Each one cuts
// a bounded excerpt of the document text, makes exactly one inference call
// with a JSON output contract and loosely validates the reply.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/profile"
)

// ErrHeaderUnparsable is returned when the header reply cannot be decoded at
// all. It is the only sub-extractor failure that aborts a report.
var ErrHeaderUnparsable = errors.New("extract: header reply unparsable")

// DefaultActionItemCharCap bounds the text sent to the action items extractor.
const DefaultActionItemCharCap = 150000

// Range is an inclusive span of question numbers.
type Range struct {
	Start int
	End   int
}

// Len is the number of questions in r.
func (r Range) Len() int { return r.End - r.Start + 1 }

// Contains reports whether question number n falls inside r.
func (r Range) Contains(n int) bool { return n >= r.Start && n <= r.End }

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// Batches are the fixed question ranges extracted concurrently.
var Batches = []Range{
	{1, 15},
	{16, 30},
	{31, 45},
	{46, 60},
	{61, 75},
	{76, 85},
}

// Usage is the token accounting and finish signal of one inference call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	FinishReason     string
	Model            string
}

// Truncated reports whether the call stopped before the model finished.
func (u Usage) Truncated() bool {
	return u.FinishReason != "" && u.FinishReason != llm.FinishStop
}

// Options tunes an Extractor.
type Options struct {
	// MaxTokens is the completion budget of every call.
	MaxTokens int
	// ActionItemCharCap bounds the action items input; zero uses the default.
	ActionItemCharCap int
}

// Extractor runs sub-extractions against an injected provider. It holds no
// mutable state and is safe for concurrent use.
type Extractor struct {
	provider llm.Provider
	prof     profile.Profile
	log      zerolog.Logger
	opts     Options
	system   string
}

// New constructs an Extractor.
func New(p llm.Provider, prof profile.Profile, log zerolog.Logger, opts Options) *Extractor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	if opts.ActionItemCharCap <= 0 {
		opts.ActionItemCharCap = DefaultActionItemCharCap
	}
	return &Extractor{
		provider: p,
		prof:     prof,
		log:      log,
		opts:     opts,
		system:   buildSystemPrompt(prof),
	}
}

// Profile returns the profile the extractor prompts with.
func (e *Extractor) Profile() profile.Profile { return e.prof }

// call issues one inference call and decodes the reply into a raw JSON value.
// A truncated reply is still decoded; if decoding then fails the error wraps
// both llm.ErrTruncated and the decode failure.
func (e *Extractor) call(ctx context.Context, task, user string) (json.RawMessage, Usage, error) {
	c, err := e.provider.Complete(ctx, llm.Request{
		System:      e.system,
		User:        user,
		Temperature: e.prof.Temperature,
		MaxTokens:   e.opts.MaxTokens,
		Format:      llm.FormatJSON,
	})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("extract: %s: %w", task, err)
	}
	u := Usage{
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		FinishReason:     c.FinishReason,
		Model:            c.Model,
	}
	if u.Truncated() {
		e.log.Warn().Str("task", task).Str("finish_reason", c.FinishReason).
			Int64("completion_tokens", c.CompletionTokens).
			Msg("completion did not finish cleanly; output may be incomplete")
	}
	var raw json.RawMessage
	if err := llm.DecodeJSON(c.Text, &raw); err != nil {
		if u.Truncated() {
			return nil, u, fmt.Errorf("extract: %s: %w: %w", task, llm.ErrTruncated, err)
		}
		return nil, u, fmt.Errorf("extract: %s: %w", task, err)
	}
	return raw, u, nil
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleoption "google.golang.org/api/option"
)

// googleProvider implements Provider using the Google Generative AI SDK.
// A new genai.Client is created per Complete call so that the caller's
// context governs the connection and the client is always closed after use.
type googleProvider struct {
	apiKey string
	model  string
}

func newGoogleProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: google: api key not configured")
	}
	return &googleProvider{apiKey: cfg.APIKey, model: cfg.Model}, nil
}

func (p *googleProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(p.apiKey))
	if err != nil {
		return Completion{}, fmt.Errorf("google: genai client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(p.model)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.System)},
	}
	maxOut := int32(req.MaxTokens)
	m.MaxOutputTokens = &maxOut
	temp32 := float32(req.Temperature)
	m.Temperature = &temp32
	if req.Format == FormatJSON {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return Completion{}, fmt.Errorf("google: generate content: %w", err)
	}

	var (
		parts  []string
		finish string
	)
	for _, cand := range resp.Candidates {
		if finish == "" {
			finish = googleFinish(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				parts = append(parts, string(t))
			}
		}
	}
	if len(parts) == 0 {
		return Completion{}, fmt.Errorf("google: response contained no text content")
	}
	c := Completion{
		Text:         strings.Join(parts, ""),
		FinishReason: finish,
		Model:        p.model,
	}
	if u := resp.UsageMetadata; u != nil {
		c.PromptTokens = int64(u.PromptTokenCount)
		c.CompletionTokens = int64(u.CandidatesTokenCount)
	}
	return c, nil
}

func googleFinish(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	}
	return strings.ToLower(r.String())
}

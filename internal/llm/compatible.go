package llm

import (
	"context"
	"fmt"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// compatibleProvider talks to any OpenAI-compatible endpoint (self-hosted
// gateways, Azure OpenAI, DeepSeek and the like) through an eino chat model.
type compatibleProvider struct {
	cm    model.ChatModel
	model string
}

func newCompatibleProvider(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: compatible: base_url not configured")
	}
	cm, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		ByAzure:    cfg.AzureAPIVersion != "",
		APIVersion: cfg.AzureAPIVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: compatible: new chat model: %w", err)
	}
	return &compatibleProvider{cm: cm, model: cfg.Model}, nil
}

func (p *compatibleProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	system := req.System
	if req.Format == FormatJSON {
		system += jsonOnlyInstruction
	}
	messages := []*schema.Message{
		{Role: schema.System, Content: system},
		{Role: schema.User, Content: req.User},
	}
	resp, err := p.cm.Generate(ctx, messages,
		model.WithTemperature(float32(req.Temperature)),
		model.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("compatible: generate: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return Completion{}, fmt.Errorf("compatible: response contained no content")
	}
	c := Completion{Text: resp.Content, Model: p.model}
	if meta := resp.ResponseMeta; meta != nil {
		c.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			c.PromptTokens = int64(meta.Usage.PromptTokens)
			c.CompletionTokens = int64(meta.Usage.CompletionTokens)
		}
	}
	return c, nil
}

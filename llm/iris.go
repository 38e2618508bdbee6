package llm

import (
	"context"
	"encoding/json"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"
	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"

	"github.com/petal-labs/vineflow/core"
)

// NewIrisClient builds a completion client for the named provider via the
// iris provider registry.
func NewIrisClient(provider, apiKey string) (core.CompletionClient, error) {
	p, err := providers.Create(provider, apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", provider, err)
	}
	return &irisClient{provider: p}, nil
}

type irisClient struct {
	provider iriscore.Provider
}

func (c *irisClient) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	system := req.System
	if len(req.Schema) > 0 {
		schemaJSON, err := json.Marshal(req.Schema)
		if err != nil {
			return core.CompletionResponse{}, fmt.Errorf("marshaling schema: %w", err)
		}
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single JSON object matching this schema, with no surrounding prose:\n" + string(schemaJSON)
	}

	var messages []iriscore.Message
	if system != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleSystem,
			Content: system,
		})
	}
	messages = append(messages, iriscore.Message{
		Role:    iriscore.RoleUser,
		Content: req.Prompt,
	})

	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		chatReq.Temperature = &temp
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := c.provider.Chat(ctx, chatReq)
	if err != nil {
		return core.CompletionResponse{}, fmt.Errorf("provider chat: %w", err)
	}

	out := core.CompletionResponse{
		Text: resp.Output,
		Usage: core.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(req.Schema) > 0 && resp.Output != "" {
		// Best effort; the engine parses strictly for structured nodes.
		if obj, err := ParseStructured(resp.Output, req.Schema); err == nil {
			out.JSON = obj
		}
	}
	return out, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/comind/pkg/logging"
)

// Config selects the completion backend. BaseURL may point at any
// OpenAI-compatible server (vLLM, llama.cpp, a hosted API).
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient implements Client against an OpenAI-compatible chat
// completions API using structured outputs.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *logging.Logger
}

func NewOpenAIClient(cfg Config, logger *logging.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger.Info("initializing completion client", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Complete runs one schema-constrained chat completion and returns the
// raw JSON object the model produced.
func (o *OpenAIClient) Complete(ctx context.Context, messages []Message, schemaName string, schema map[string]any, params GenerationParams) (json.RawMessage, error) {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding generation schema: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: json.RawMessage(schemaBytes),
				Strict: true,
			},
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}

	o.logger.Debug("requesting structured completion", "model", o.model, "schema", schemaName)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}
	o.logger.Debug("completion received", "finish_reason", resp.Choices[0].FinishReason)
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

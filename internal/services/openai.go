package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

const (
	DefaultOpenAITemperature = 0.8
	DefaultOpenAIMaxTokens   = 2048
)

// OpenAIGenerator implements ScenarioGenerator for any OpenAI-compatible chat API
type OpenAIGenerator struct {
	client    *openai.Client
	modelName string
	logger    *slog.Logger
}

// NewOpenAIGenerator builds a generator. An empty baseURL uses OpenAI itself.
func NewOpenAIGenerator(apiKey, baseURL, modelName string, logger *slog.Logger) *OpenAIGenerator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(config),
		modelName: modelName,
		logger:    logger,
	}
}

func (o *OpenAIGenerator) Name() string { return "openai" }

func (o *OpenAIGenerator) GenerateScenario(ctx context.Context, req *scenario.GenerationRequest, gc *GenerationContext) (*scenario.ScenarioResponse, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: ScenarioSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildScenarioPrompt(req, gc)},
		},
		Temperature: DefaultOpenAITemperature,
		MaxTokens:   DefaultOpenAIMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, errors.New("empty response: no choices returned"))
	}

	o.logger.Debug("OpenAI response received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return ParseScenarioPayload(resp.Choices[0].Message.Content, req)
}

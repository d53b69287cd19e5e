package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the LLM_API_KEY, LLM_API_BASE and
// LLM_MODEL environment variables. LLM_API_BASE defaults to the public
// OpenAI endpoint, LLM_MODEL to gpt-4o-mini.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		slog.Error("LLM_API_KEY environment variable not set")
		return nil, fmt.Errorf("LLM_API_KEY environment variable not set")
	}

	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("LLM_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("LLM_API_BASE"); base != "" {
		cfg.BaseURL = base
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Generate implements the LLMClient interface.
//
// API failures are mapped onto the package error taxonomy so callers can
// match with errors.Is: 401 -> ErrAuthentication, 429 -> ErrRateLimited,
// context deadline -> ErrTimeout, anything else -> *UpstreamError.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	model := params.Model
	if model == "" {
		model = o.model
	}
	slog.Debug("Generating text via OpenAI", "model", model)

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", &UpstreamError{Detail: "no choices returned"}
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %s", ErrAuthentication, apiErr.Message)
		case 429:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		default:
			return &UpstreamError{Detail: apiErr.Message}
		}
	}

	slog.Error("OpenAI API call failed", "error", err)
	return &UpstreamError{Detail: err.Error()}
}

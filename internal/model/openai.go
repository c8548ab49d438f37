package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI calls an OpenAI-compatible chat completion endpoint. Ollama exposes
// one under /v1 as well, so this backend also serves hosted models.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI returns a Generator for model. Empty baseURL uses the public API.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	const op = "openai chat completion"

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(o.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &Error{Op: op, Kind: ErrUnavailable, Err: fmt.Errorf("status %d: %w", apiErr.StatusCode, err)}
		}
		return "", classify(op, err)
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Op: op, Kind: ErrUnavailable, Err: errors.New("no choices in response")}
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

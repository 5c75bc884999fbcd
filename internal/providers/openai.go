package providers

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
)

// openaiClient implements llm.Client for OpenAI chat and reasoning models
type openaiClient struct {
	client openai.Client
	logger logutil.LoggerInterface
}

// NewOpenAIClient creates an OpenAI client
func NewOpenAIClient(apiKey, baseURL string, logger logutil.LoggerInterface) (llm.Client, error) {
	// The SDK's own retries are disabled; retry policy belongs to the dispatcher.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClient{
		client: openai.NewClient(opts...),
		logger: logger,
	}, nil
}

// Provider implements llm.Client
func (c *openaiClient) Provider() string { return models.ProviderOpenAI }

// Complete implements llm.Client. Parameters the model does not support
// (temperature on reasoning models) are dropped silently.
func (c *openaiClient) Complete(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    wireModelID(req.Model),
	}
	if supportsTemperature(req) {
		if t, ok := floatParam(req.Params, "temperature"); ok {
			params.Temperature = openai.Float(t)
		}
	}
	if n, ok := intParam(req.Params, "max_tokens"); ok {
		params.MaxTokens = openai.Int(n)
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		category := llm.DetectErrorCategory(err, 0)
		return nil, llm.Wrap(err, models.ProviderOpenAI, "chat completion failed", category)
	}
	if len(completion.Choices) == 0 {
		return nil, llm.New(models.ProviderOpenAI, llm.CategoryInvalidResponse,
			"response contained no choices")
	}

	return &llm.RawResponse{
		Text:      completion.Choices[0].Message.Content,
		LatencyMS: latency,
	}, nil
}

// supportsTemperature consults the model catalog; unknown models are
// assumed to accept temperature.
func supportsTemperature(req llm.Request) bool {
	info, err := models.GetModel(req.Model)
	if err != nil {
		return true
	}
	return info.SupportsTemperature
}

func floatParam(params map[string]interface{}, name string) (float64, bool) {
	v, ok := params[name]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	}
	return 0, false
}

func intParam(params map[string]interface{}, name string) (int64, bool) {
	v, ok := params[name]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}

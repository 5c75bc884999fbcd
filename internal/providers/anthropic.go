package providers

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
)

// defaultAnthropicMaxTokens applies when the caller sets no max_tokens;
// the Messages API requires the field.
const defaultAnthropicMaxTokens = 2048

// anthropicClient implements llm.Client for Claude models
type anthropicClient struct {
	client anthropic.Client
	logger logutil.LoggerInterface
}

// NewAnthropicClient creates an Anthropic client
func NewAnthropicClient(apiKey, baseURL string, logger logutil.LoggerInterface) (llm.Client, error) {
	// The SDK's own retries are disabled; retry policy belongs to the dispatcher.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		logger: logger,
	}, nil
}

// Provider implements llm.Client
func (c *anthropicClient) Provider() string { return models.ProviderAnthropic }

// Complete implements llm.Client
func (c *anthropicClient) Complete(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if n, ok := intParam(req.Params, "max_tokens"); ok {
		maxTokens = n
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(wireModelID(req.Model)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if supportsTemperature(req) {
		if t, ok := floatParam(req.Params, "temperature"); ok {
			params.Temperature = anthropic.Float(t)
		}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		category := llm.DetectErrorCategory(err, 0)
		return nil, llm.Wrap(err, models.ProviderAnthropic, "message creation failed", category)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, llm.New(models.ProviderAnthropic, llm.CategoryInvalidResponse,
			"response contained no text blocks")
	}

	return &llm.RawResponse{Text: sb.String(), LatencyMS: latency}, nil
}

package providers

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
)

// geminiClient implements llm.Client for Gemini models. The genai SDK binds
// generation config to a model handle, so a fresh handle is configured per
// request; handles are cheap, the underlying connection is shared.
type geminiClient struct {
	client *genai.Client
	logger logutil.LoggerInterface
}

// NewGeminiClient creates a Gemini client
func NewGeminiClient(apiKey, baseURL string, logger logutil.LoggerInterface) (llm.Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if baseURL != "" && baseURL != "https://generativelanguage.googleapis.com" {
		opts = append(opts, option.WithEndpoint(baseURL))
	}
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, llm.Wrap(err, models.ProviderGemini, "failed to create client", llm.CategoryUnknown)
	}
	return &geminiClient{client: client, logger: logger}, nil
}

// Provider implements llm.Client
func (c *geminiClient) Provider() string { return models.ProviderGemini }

// Complete implements llm.Client
func (c *geminiClient) Complete(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := c.client.GenerativeModel(wireModelID(req.Model))
	if supportsTemperature(req) {
		if t, ok := floatParam(req.Params, "temperature"); ok {
			model.SetTemperature(float32(t))
		}
	}
	if n, ok := intParam(req.Params, "max_output_tokens"); ok {
		model.SetMaxOutputTokens(int32(n))
	} else if n, ok := intParam(req.Params, "max_tokens"); ok {
		model.SetMaxOutputTokens(int32(n))
	}
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		category := llm.DetectErrorCategory(err, 0)
		return nil, llm.Wrap(err, models.ProviderGemini, "content generation failed", category)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, llm.New(models.ProviderGemini, llm.CategoryInvalidResponse,
			"response contained no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return nil, llm.New(models.ProviderGemini, llm.CategoryInvalidResponse,
			"response contained no text parts")
	}

	return &llm.RawResponse{Text: sb.String(), LatencyMS: latency}, nil
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
)

// deepseekClient implements llm.Client for DeepSeek over its
// chat-completions HTTP API. There is no published Go SDK, so the wire
// format is spelled out here.
type deepseekClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logutil.LoggerInterface
}

// DeepSeekOption configures the client
type DeepSeekOption func(*deepseekClient)

// WithDeepSeekHTTPClient sets a custom HTTP client, used by tests
func WithDeepSeekHTTPClient(hc *http.Client) DeepSeekOption {
	return func(c *deepseekClient) { c.httpClient = hc }
}

// NewDeepSeekClient creates a DeepSeek client
func NewDeepSeekClient(apiKey, baseURL string, logger logutil.LoggerInterface) (llm.Client, error) {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	return &deepseekClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}, nil
}

// NewDeepSeekClientWithOptions creates a DeepSeek client with options applied
func NewDeepSeekClientWithOptions(apiKey, baseURL string, logger logutil.LoggerInterface, opts ...DeepSeekOption) (llm.Client, error) {
	client, err := NewDeepSeekClient(apiKey, baseURL, logger)
	if err != nil {
		return nil, err
	}
	dc := client.(*deepseekClient)
	for _, opt := range opts {
		opt(dc)
	}
	return dc, nil
}

// Provider implements llm.Client
func (c *deepseekClient) Provider() string { return models.ProviderDeepSeek }

// chatMessage is a message in the chat-completions request format
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for POST /chat/completions
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int64        `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// chatResponse is the subset of the response body this client reads
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements llm.Client
func (c *deepseekClient) Complete(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := chatRequest{Model: wireModelID(req.Model)}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if supportsTemperature(req) {
		if t, ok := floatParam(req.Params, "temperature"); ok {
			body.Temperature = &t
		}
	}
	if n, ok := intParam(req.Params, "max_tokens"); ok {
		body.MaxTokens = &n
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.Wrap(err, models.ProviderDeepSeek, "failed to encode request", llm.CategoryUnknown)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.Wrap(err, models.ProviderDeepSeek, "failed to build request", llm.CategoryUnknown)
	}
	info, _ := models.GetProvider(models.ProviderDeepSeek)
	httpReq.Header.Set(info.APIKeyHeader, FormatAuthHeader(info.APIKeyFormat, c.apiKey))
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, c.transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.Wrap(err, models.ProviderDeepSeek, "failed to read response body", llm.CategoryNetwork)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &llm.LLMError{
			Provider:      models.ProviderDeepSeek,
			Message:       "response is not valid JSON",
			RawBody:       string(respBody),
			ErrorCategory: llm.CategoryInvalidResponse,
			Original:      err,
		}
	}
	if parsed.Error != nil {
		return nil, llm.New(models.ProviderDeepSeek, llm.CategoryServer, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, &llm.LLMError{
			Provider:      models.ProviderDeepSeek,
			Message:       "response contained no choices",
			RawBody:       string(respBody),
			ErrorCategory: llm.CategoryInvalidResponse,
		}
	}

	return &llm.RawResponse{
		Text:      parsed.Choices[0].Message.Content,
		LatencyMS: latency,
	}, nil
}

func (c *deepseekClient) transportError(err error) *llm.LLMError {
	category := llm.CategoryNetwork
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		category = llm.CategoryTimeout
	} else if ctxErr := llm.DetectErrorCategory(err, 0); ctxErr == llm.CategoryTimeout || ctxErr == llm.CategoryCancelled {
		category = ctxErr
	}
	return llm.Wrap(err, models.ProviderDeepSeek, "request failed", category)
}

func (c *deepseekClient) statusError(status int, body []byte) *llm.LLMError {
	category := llm.CategoryFromStatusCode(status)
	if category == llm.CategoryUnknown {
		category = llm.CategoryServer
	}
	return &llm.LLMError{
		Provider:      models.ProviderDeepSeek,
		Message:       fmt.Sprintf("API returned status %d", status),
		StatusCode:    status,
		RawBody:       string(body),
		ErrorCategory: category,
	}
}

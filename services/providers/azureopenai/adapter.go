package azureopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/upb/grounded-chat/services/providers"
)

const providerName = "azure-openai"

// maxErrorBody caps how much of an upstream error body is kept for logging.
const maxErrorBody = 4096

// AzureOpenAIAdapter implements the Provider interface for Azure OpenAI deployments.
// Requests are sent exactly once; completions are billable and not idempotent.
type AzureOpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAzureOpenAIAdapter creates a new Azure OpenAI adapter
func NewAzureOpenAIAdapter(config providers.ProviderConfig) *AzureOpenAIAdapter {
	defaults := providers.DefaultProviderConfig()
	if config.APIVersion == "" {
		config.APIVersion = defaults.APIVersion
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	return &AzureOpenAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *AzureOpenAIAdapter) Name() string {
	return providerName
}

// ChatCompletion performs a chat completion request
func (a *AzureOpenAIAdapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	reqBody, err := json.Marshal(a.buildAzureRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.completionsURL(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var azureResp AzureChatResponse
	if err := json.Unmarshal(respBody, &azureResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}

	if len(azureResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "MALFORMED_RESPONSE", "Response contained no choices", httpResp.StatusCode, nil)
	}

	return a.convertToUnifiedResponse(&azureResp, time.Since(startTime)), nil
}

// completionsURL builds the deployment-scoped chat completions endpoint
func (a *AzureOpenAIAdapter) completionsURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.config.BaseURL,
		url.PathEscape(a.config.Deployment),
		url.QueryEscape(a.config.APIVersion))
}

// buildAzureRequest converts unified request to Azure OpenAI format
func (a *AzureOpenAIAdapter) buildAzureRequest(req *providers.ChatRequest) *AzureChatRequest {
	azureReq := &AzureChatRequest{
		Messages:    make([]AzureMessage, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for i, msg := range req.Messages {
		azureReq.Messages[i] = AzureMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return azureReq
}

// convertToUnifiedResponse converts Azure OpenAI response to unified format
func (a *AzureOpenAIAdapter) convertToUnifiedResponse(azureResp *AzureChatResponse, latency time.Duration) *providers.ChatResponse {
	resp := &providers.ChatResponse{
		ID:       azureResp.ID,
		Model:    azureResp.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(azureResp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     azureResp.Usage.PromptTokens,
			CompletionTokens: azureResp.Usage.CompletionTokens,
			TotalTokens:      azureResp.Usage.TotalTokens,
		},
		Latency: latency,
	}

	for i, choice := range azureResp.Choices {
		resp.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		}
	}

	return resp
}

// handleErrorResponse handles Azure OpenAI error responses.
// The status code is always preserved so callers can tell throttling apart.
func (a *AzureOpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	var errResp AzureErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.Name(), strconv.Itoa(statusCode), string(body), statusCode, nil)
	}

	code := errResp.Error.Code
	if code == "" {
		code = errResp.Error.Type
	}

	return providers.NewProviderError(
		a.Name(),
		code,
		errResp.Error.Message,
		statusCode,
		errors.New(errResp.Error.Message),
	)
}

// Azure OpenAI request/response types

type AzureChatRequest struct {
	Messages    []AzureMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
}

type AzureMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AzureChatResponse struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []AzureChoice `json:"choices"`
	Usage   AzureUsage    `json:"usage"`
}

type AzureChoice struct {
	Index        int          `json:"index"`
	Message      AzureMessage `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type AzureUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type AzureErrorResponse struct {
	Error AzureError `json:"error"`
}

type AzureError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

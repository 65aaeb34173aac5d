// Package embedding turns query text into vectors for hybrid document search.
package embedding

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
)

// Embedder produces a vector for a piece of text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingError is returned for every embedding failure: transport, status or
// response shape. Callers treat it as non-fatal and fall back to text search.
type EmbeddingError struct {
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *EmbeddingError) Error() string {
	msg := "embedding failed: " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *EmbeddingError) Unwrap() error {
	return e.Cause
}

// Client calls an Azure OpenAI embeddings deployment
type Client struct {
	http       *resty.Client
	deployment string
	apiVersion string
	logger     *zap.Logger
}

// NewClient creates a new embeddings client
func NewClient(cfg config.EmbeddingConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("api-key", cfg.APIKey)

	return &Client{
		http:       httpClient,
		deployment: cfg.Deployment,
		apiVersion: cfg.APIVersion,
		logger:     logger,
	}
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding of text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embeddingResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetBody(map[string]any{"input": text}).
		SetResult(&result).
		Post(fmt.Sprintf("/openai/deployments/%s/embeddings", url.PathEscape(c.deployment)))
	if err != nil {
		return nil, &EmbeddingError{Message: "request failed", Cause: err}
	}

	if resp.IsError() {
		c.logger.Debug("embedding service returned error",
			zap.Int("status", resp.StatusCode()),
			zap.ByteString("body", truncate(resp.Body(), 512)))
		return nil, &EmbeddingError{StatusCode: resp.StatusCode(), Message: "unexpected status"}
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, &EmbeddingError{StatusCode: resp.StatusCode(), Message: "response contained no embedding"}
	}

	return result.Data[0].Embedding, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

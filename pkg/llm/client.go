package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/askdb-ai/askdb-engine/pkg/retry"
)

// OpenAIClient provides access to OpenAI-compatible LLM endpoints.
// Stateless per call; safe for concurrent use.
type OpenAIClient struct {
	client         *openai.Client
	endpoint       string
	model          string
	embeddingModel string
	timeout        time.Duration
	retryCfg       *retry.Config
	logger         *zap.Logger
}

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint       string        // Base URL, e.g. "https://api.openai.com/v1"
	Model          string        // Chat model name
	EmbeddingModel string        // Embedding model name
	APIKey         string        // Optional for local endpoints
	Timeout        time.Duration // Per-call timeout; 0 means 60s
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientConfig),
		endpoint:       cfg.Endpoint,
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		timeout:        timeout,
		retryCfg: &retry.Config{
			MaxRetries:   1,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger: logger.Named("llm"),
	}, nil
}

// GenerateResponse generates a chat completion response. Transient failures
// (timeouts, 429, 5xx) are retried with backoff before surfacing the error.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	content, err := retry.DoWithResult(ctx, c.retryCfg, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		start := time.Now()

		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: float32(temperature),
		})
		if err != nil {
			c.logger.Warn("LLM request failed",
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return "", classifyAPIError(err, ctx)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}

		c.logger.Info("LLM request completed",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Duration("elapsed", time.Since(start)))

		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return content, nil
}

// CreateEmbedding generates an embedding vector for the input text.
// Transient failures are retried the same way as chat completions.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vec, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.embeddingModel),
			Input: []string{input},
		})
		if err != nil {
			return nil, classifyAPIError(err, ctx)
		}

		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("no embedding in response")
		}

		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	return vec, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.model
}

// apiCallError carries an explicit retryability verdict so the retry layer
// does not have to pattern-match API error strings.
type apiCallError struct {
	err       error
	retryable bool
}

func (e *apiCallError) Error() string     { return e.err.Error() }
func (e *apiCallError) Unwrap() error     { return e.err }
func (e *apiCallError) IsRetryable() bool { return e.retryable }

// classifyAPIError decides whether an API failure is worth another attempt.
// A caller-cancelled context is never retryable, only a per-call timeout.
func classifyAPIError(err error, parent context.Context) *apiCallError {
	if parent.Err() != nil {
		return &apiCallError{err: err, retryable: false}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apiCallError{
			err:       err,
			retryable: apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &apiCallError{err: err, retryable: netErr.Timeout()}
	}

	return &apiCallError{err: err, retryable: errors.Is(err, context.DeadlineExceeded)}
}

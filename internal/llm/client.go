package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/pkg/circuitbreaker"
	"github.com/docquery/backend/pkg/logger"
	"github.com/docquery/backend/pkg/retry"
)

const (
	StatusAvailable     = "available"
	StatusQuotaExceeded = "quota_exceeded"
	StatusError         = "error"
	StatusUnconfigured  = "unconfigured"
)

// Client wraps the OpenAI API for embeddings and document analysis. All
// calls go through a circuit breaker and bounded retries; quota errors are
// classified so callers can surface them instead of a fabricated answer.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	lastStatus     atomic.Value
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	var api *openai.Client
	if apiKey != "" {
		api = openai.NewClient(apiKey)
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		// Quota errors fail fast; only transient upstream errors retry.
		RetryableErrors: []error{errs.ErrUpstreamUnavailable},
		Logger:          logger.GetLogger(),
	}

	c := &Client{
		api:            api,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        time.Duration(timeoutSec) * time.Second,
		cb:             cb,
		retryConfig:    retryConfig,
	}

	if api == nil {
		logger.Warn("LLM API key not set; analysis will use degraded text heuristics")
		c.lastStatus.Store(StatusUnconfigured)
	} else {
		logger.Info("LLM client initialized",
			zap.String("model", model),
			zap.String("embedding_model", embeddingModel),
		)
		c.lastStatus.Store(StatusAvailable)
	}

	return c
}

// Configured reports whether an API key was provided.
func (c *Client) Configured() bool {
	return c.api != nil
}

// Status reports the reasoning-service availability as observed by the most
// recent call: available, quota_exceeded, error, or unconfigured.
func (c *Client) Status() string {
	if s, ok := c.lastStatus.Load().(string); ok {
		return s
	}
	return StatusUnconfigured
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", errs.ErrUpstreamUnavailable)
	}
	return embeddings[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.api == nil {
		return nil, fmt.Errorf("%w: llm client not configured", errs.ErrUpstreamUnavailable)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
				defer cancel()

				resp, err := c.api.CreateEmbeddings(
					reqCtx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)
				if err != nil {
					return c.classify(err)
				}

				for _, data := range resp.Data {
					embeddings = append(embeddings, data.Embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, c.record(err)
		}
	}

	c.lastStatus.Store(StatusAvailable)
	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// AnalyzeDocument asks the model for a structured decision for the query
// given document excerpts, and returns the raw JSON content. The excerpt
// context is formatted by the answer package.
func (c *Client) AnalyzeDocument(ctx context.Context, query, excerptContext string) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("%w: llm client not configured", errs.ErrUpstreamUnavailable)
	}

	systemPrompt := `You are an expert document analyst. Analyze the provided document excerpts and answer the user's query with a structured JSON response.

IMPORTANT RULES:
1. Base your answer ONLY on the provided document excerpts
2. Never hallucinate or make assumptions not supported by the text
3. Decision must be exactly "Yes", "No", or "Partially"
4. If "No", the conditions array must be empty
5. Keep the explanation under 80 words
6. Include specific clause references when identifiable

Return JSON in this exact format:
{
    "answer": {
        "decision": "Yes|No|Partially",
        "conditions": ["list of conditions if Yes/Partially, empty if No"]
    },
    "source_references": [
        {"page": page_number, "clause": "specific clause reference if identifiable"}
    ],
    "explanation": "Clear explanation under 80 words based on the document text"
}`

	userPrompt := fmt.Sprintf("Query: %s\n\nDocument excerpts:\n%s\n\nAnalyze the excerpts and answer the query.", query, excerptContext)

	result, err := retry.DoWithResult(ctx, c.retryConfig, func() (string, error) {
		var content string
		err := c.cb.Execute(ctx, func() error {
			reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			resp, err := c.api.CreateChatCompletion(
				reqCtx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: userPrompt},
					},
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
					ResponseFormat: &openai.ChatCompletionResponseFormat{
						Type: openai.ChatCompletionResponseFormatTypeJSONObject,
					},
				},
			)
			if err != nil {
				return c.classify(err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("%w: empty completion response", errs.ErrUpstreamUnavailable)
			}

			logger.Debug("Analysis completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
		return content, err
	})
	if err != nil {
		return "", c.record(err)
	}

	c.lastStatus.Store(StatusAvailable)
	return result, nil
}

// classify maps an OpenAI API error onto the local taxonomy. Quota errors
// (HTTP 429 / insufficient_quota) get their own sentinel so callers can
// surface a distinct status.
func (c *Client) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || code == "insufficient_quota" {
			return fmt.Errorf("%w: %v", errs.ErrQuotaExceeded, err)
		}
	}
	if strings.Contains(err.Error(), "insufficient_quota") || strings.Contains(err.Error(), "429") {
		return fmt.Errorf("%w: %v", errs.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
}

// record notes the failure status for /stats and passes the error through.
func (c *Client) record(err error) error {
	switch {
	case errors.Is(err, errs.ErrQuotaExceeded):
		c.lastStatus.Store(StatusQuotaExceeded)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		c.lastStatus.Store(StatusError)
		return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
	default:
		c.lastStatus.Store(StatusError)
	}
	return err
}

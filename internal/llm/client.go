// Package llm wraps the OpenAI API behind the generation and embedding
// capabilities the rest of the service depends on. Every outbound call runs
// inside a circuit breaker and bounded retry, with a per-call timeout.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/metrics"
	"github.com/enterprise-kb/backend/pkg/circuitbreaker"
	"github.com/enterprise-kb/backend/pkg/logger"
	"github.com/enterprise-kb/backend/pkg/retry"
	"github.com/enterprise-kb/backend/pkg/utils"
)

// EmbeddingCache is an optional lookaside cache keyed by md5 of the text.
// A nil cache is valid and means every embedding goes to the API.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cache          EmbeddingCache
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type Option func(*Client)

func WithEmbeddingCache(cache EmbeddingCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

func WithTemperature(temperature float32) Option {
	return func(c *Client) {
		c.temperature = temperature
	}
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int, opts ...Option) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
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
		Logger:         logger.GetLogger(),
	}

	c := &Client{
		client:         openai.NewClient(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}

	for _, opt := range opts {
		opt(c)
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return c
}

// Generate issues a single chat completion with the given instruction and
// user prompt and returns the full answer text.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: userPrompt},
					},
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return errors.New("completion returned no choices")
			}

			logger.Debug("Completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		return "", err
	}

	return content, nil
}

// GenerateStream issues a streaming chat completion and invokes emit for
// each text fragment as it arrives. Streamed calls are not retried; a
// partially delivered answer must not be replayed from the top.
func (c *Client) GenerateStream(ctx context.Context, systemPrompt, userPrompt string, emit func(fragment string) error) error {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		stream, err := c.client.CreateChatCompletionStream(
			ctx,
			openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
				Stream:      true,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to open completion stream: %w", err)
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to receive stream fragment: %w", err)
			}

			if len(resp.Choices) == 0 {
				continue
			}

			fragment := resp.Choices[0].Delta.Content
			if fragment == "" {
				continue
			}

			if err := emit(fragment); err != nil {
				return err
			}
		}
	})
}

// GenerateEmbedding embeds one text. Vectors are L2-normalized so inner
// product scores in the index equal cosine similarity.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateBatchEmbeddings embeds texts in order, consulting the cache per
// text and calling the API in sub-batches of at most 100 inputs.
func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))
	hashes := make([]string, len(texts))

	var missing []int
	for i, text := range texts {
		hashes[i] = utils.HashString(text)

		if c.cache != nil {
			cached, ok, err := c.cache.GetEmbedding(ctx, hashes[i])
			if err != nil {
				logger.Warn("Embedding cache lookup failed", zap.Error(err))
			} else if ok {
				metrics.EmbeddingCacheHits.Inc()
				embeddings[i] = cached
				continue
			}
			metrics.EmbeddingCacheMisses.Inc()
		}

		missing = append(missing, i)
	}

	const apiBatchSize = 100
	for start := 0; start < len(missing); start += apiBatchSize {
		end := start + apiBatchSize
		if end > len(missing) {
			end = len(missing)
		}

		batchIdx := missing[start:end]
		batch := make([]string, len(batchIdx))
		for j, i := range batchIdx {
			batch[j] = texts[i]
		}

		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := c.cb.Execute(callCtx, func() error {
			return retry.Do(callCtx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					callCtx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}

				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch))
				}

				for j, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings[batchIdx[j]] = normalize(embedding)
				}

				return nil
			})
		})
		cancel()

		if err != nil {
			return nil, err
		}
	}

	if c.cache != nil {
		for _, i := range missing {
			if err := c.cache.SetEmbedding(ctx, hashes[i], embeddings[i]); err != nil {
				logger.Warn("Failed to cache embedding", zap.Error(err))
			}
		}
	}

	logger.Debug("Embeddings generated",
		zap.Int("total", len(texts)),
		zap.Int("from_api", len(missing)),
	)

	return embeddings, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

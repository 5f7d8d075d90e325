package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docquery/backend/pkg/logger"
)

// Client caches answered queries (scoped per document) and query embeddings.
// The cache is an optimization only; every caller tolerates a nil client.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetQuery(ctx context.Context, docID, queryHash string, response interface{}, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	err = c.client.Set(ctx, queryKey(docID, queryHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set query cache: %w", err)
	}

	logger.Debug("Query cached", zap.String("doc_id", docID), zap.String("query_hash", queryHash))
	return nil
}

func (c *Client) GetQuery(ctx context.Context, docID, queryHash string, response interface{}) (bool, error) {
	data, err := c.client.Get(ctx, queryKey(docID, queryHash)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get query cache: %w", err)
	}

	err = json.Unmarshal(data, response)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	logger.Debug("Query cache hit", zap.String("doc_id", docID), zap.String("query_hash", queryHash))
	return true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, "embedding:"+textHash, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, "embedding:"+textHash).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	return embedding, true, nil
}

// InvalidateDocument drops every cached query response for a document.
// Called when the document is deleted.
func (c *Client) InvalidateDocument(ctx context.Context, docID string) error {
	iter := c.client.Scan(ctx, 0, queryKey(docID, "*"), 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Query cache invalidated", zap.String("doc_id", docID))
	return nil
}

func queryKey(docID, queryHash string) string {
	return fmt.Sprintf("query:%s:%s", docID, queryHash)
}

package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/pkg/logger"
)

// Client implements vector.Index against a Milvus collection. Used when the
// config selects the remote similarity backend instead of the local index.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "doc_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "page_number",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(entries))
	docIDs := make([]string, len(entries))
	pageNumbers := make([]int64, len(entries))
	embeddings := make([][]float32, len(entries))

	for i, e := range entries {
		chunkIDs[i] = e.ChunkID
		docIDs[i] = e.DocID
		pageNumbers[i] = int64(e.PageNumber)
		embeddings[i] = e.Embedding
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnInt64("page_number", pageNumbers),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
	)

	if err != nil {
		return fmt.Errorf("failed to insert vectors: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Vectors inserted into milvus", zap.Int("count", len(entries)))

	return nil
}

func (m *Client) Search(ctx context.Context, embedding []float32, docID string, topK int) ([]vector.Result, error) {
	expr := fmt.Sprintf(`doc_id == "%s"`, docID)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.Result, 0)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, err := chunkIDCol.Get(i)
			if err != nil {
				continue
			}
			results = append(results, vector.Result{
				ChunkID: chunkID.(string),
				Score:   sr.Scores[i],
			})
		}
	}

	logger.Debug("Milvus search completed",
		zap.String("doc_id", docID),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func (m *Client) RemoveDocument(ctx context.Context, docID string) error {
	expr := fmt.Sprintf(`doc_id == "%s"`, docID)

	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	logger.Info("Vectors removed from milvus", zap.String("doc_id", docID))
	return nil
}

func (m *Client) Count(ctx context.Context) (int, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}

	var count int
	fmt.Sscanf(stats["row_count"], "%d", &count)
	return count, nil
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/internal/extract"
	"github.com/docquery/backend/internal/metrics"
	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/internal/storage/sqlite"
	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/pkg/logger"
	"github.com/docquery/backend/pkg/utils"
)

// Embedder computes chunk embeddings for indexing. The llm client satisfies
// this.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Configured() bool
}

// Result is the outcome of an ingestion. Duplicate reports whether the
// content hash matched an already-stored document, in which case Document is
// the existing one and no new chunks were created.
type Result struct {
	Document  *models.Document
	Duplicate bool
}

// Processor runs the ingestion pipeline: hash, dedup, extract, chunk,
// persist, embed, index. Indexing failures degrade search to the lexical
// fallback instead of failing the ingestion.
type Processor struct {
	db              *sqlite.Client
	index           vector.Index
	embedder        Embedder
	chunker         *Chunker
	selectExtractor extract.SelectorFunc
	httpClient      *http.Client
	maxFetchBytes   int64
}

func NewProcessor(db *sqlite.Client, index vector.Index, embedder Embedder, chunker *Chunker, fetchTimeout time.Duration, maxFetchBytes int) *Processor {
	return &Processor{
		db:              db,
		index:           index,
		embedder:        embedder,
		chunker:         chunker,
		selectExtractor: extract.ForContentType,
		httpClient:      &http.Client{Timeout: fetchTimeout},
		maxFetchBytes:   int64(maxFetchBytes),
	}
}

// WithExtractorSelector overrides how an extractor is chosen for a content
// type.
func (p *Processor) WithExtractorSelector(sel extract.SelectorFunc) *Processor {
	p.selectExtractor = sel
	return p
}

// IngestUpload processes an uploaded PDF file.
func (p *Processor) IngestUpload(ctx context.Context, data []byte, filename string) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", errs.ErrInvalidInput)
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, fmt.Errorf("%w: only PDF files are supported", errs.ErrInvalidInput)
	}

	ext, err := p.selectExtractor("application/pdf", filename)
	if err != nil {
		return nil, err
	}

	return p.ingest(ctx, data, filename, "", ext)
}

// IngestURL downloads a document and processes it. The response content
// type picks the extractor, so both PDF links and HTML pages work.
func (p *Processor) IngestURL(ctx context.Context, rawURL string) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: document URL is required", errs.ErrInvalidInput)
	}

	logger.Info("Downloading document", zap.String("url", rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid document URL: %v", errs.ErrInvalidInput, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download document: %v", errs.ErrInvalidInput, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: document URL returned status %d", errs.ErrInvalidInput, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document body: %w", err)
	}
	if int64(len(data)) > p.maxFetchBytes {
		return nil, fmt.Errorf("%w: document exceeds size limit", errs.ErrInvalidInput)
	}

	filename := filenameFromURL(rawURL)
	ext, err := p.selectExtractor(resp.Header.Get("Content-Type"), filename)
	if err != nil {
		return nil, err
	}

	return p.ingest(ctx, data, filename, rawURL, ext)
}

func (p *Processor) ingest(ctx context.Context, data []byte, filename, sourceURL string, ext extract.Extractor) (*Result, error) {
	contentHash := utils.HashBytes(data)

	existing, err := p.db.GetDocumentByHash(contentHash)
	if err == nil {
		logger.Info("Document already exists",
			zap.String("doc_id", existing.ID),
			zap.String("filename", filename),
		)
		return &Result{Document: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	text, pages, err := ext.Extract(data)
	if err != nil {
		return nil, err
	}

	docID := uuid.New().String()
	now := time.Now()

	chunks := p.chunker.Split(text, pages)
	logger.Info("Document chunked",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
	)

	doc := &models.Document{
		ID:          docID,
		Filename:    filename,
		SourceURL:   sourceURL,
		Content:     text,
		ContentHash: contentHash,
		ChunksCount: len(chunks),
		CreatedAt:   now,
	}

	dbChunks := make([]models.DocumentChunk, 0, len(chunks))
	for _, ch := range chunks {
		dbChunks = append(dbChunks, models.DocumentChunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, ch.Index),
			DocID:      docID,
			ChunkIndex: ch.Index,
			Content:    ch.Content,
			PageNumber: ch.PageNumber,
			StartChar:  ch.StartChar,
			EndChar:    ch.EndChar,
			CreatedAt:  now,
		})
	}

	if err := p.db.InsertDocumentWithChunks(doc, dbChunks); err != nil {
		return nil, err
	}

	if err := p.indexChunks(ctx, dbChunks); err != nil {
		logger.Warn("Failed to index chunk embeddings; search limited to lexical fallback",
			zap.String("doc_id", docID),
			zap.Error(err),
		)
	}

	metrics.DocumentsIngested.Inc()

	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.String("filename", filename),
		zap.Int("chunks", len(dbChunks)),
	)

	return &Result{Document: doc}, nil
}

func (p *Processor) indexChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 || p.index == nil || p.embedder == nil || !p.embedder.Configured() {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	entries := make([]vector.Entry, 0, len(chunks))
	for i, ch := range chunks {
		entries = append(entries, vector.Entry{
			ChunkID:    ch.ID,
			DocID:      ch.DocID,
			PageNumber: ch.PageNumber,
			Embedding:  embeddings[i],
		})
	}

	if err := p.index.Add(ctx, entries); err != nil {
		return err
	}

	metrics.ChunksIndexed.Add(float64(len(chunks)))
	return nil
}

// ReindexAll re-embeds every stored chunk into the vector index. Called at
// startup when the on-disk index is missing but the relational store has
// content.
func (p *Processor) ReindexAll(ctx context.Context) error {
	if p.embedder == nil || !p.embedder.Configured() {
		logger.Warn("Skipping index rebuild: embedder not configured")
		return nil
	}

	docs, err := p.db.ListDocuments()
	if err != nil {
		return err
	}

	total := 0
	for _, doc := range docs {
		chunks, err := p.db.GetChunks(doc.ID)
		if err != nil {
			return err
		}
		if err := p.indexChunks(ctx, chunks); err != nil {
			return fmt.Errorf("failed to reindex document %s: %w", doc.ID, err)
		}
		total += len(chunks)
	}

	logger.Info("Vector index rebuilt from store",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", total),
	)
	return nil
}

func filenameFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
		name := trimmed[i+1:]
		if j := strings.IndexAny(name, "?#"); j >= 0 {
			name = name[:j]
		}
		if name != "" {
			return name
		}
	}
	return "document.pdf"
}

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		source_url TEXT,
		content TEXT NOT NULL,
		content_hash TEXT UNIQUE NOT NULL,
		chunks_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		page_number INTEGER NOT NULL DEFAULT 1,
		start_char INTEGER NOT NULL DEFAULT 0,
		end_char INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id, chunk_index);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		response_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_query_doc ON query_history(doc_id, created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, filename, source_url, content, content_hash, chunks_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.Filename,
		doc.SourceURL,
		doc.Content,
		doc.ContentHash,
		doc.ChunksCount,
		doc.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("filename", doc.Filename))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, filename, source_url, content, content_hash, chunks_count, created_at FROM documents WHERE id = ?`
	return c.scanDocument(c.db.QueryRow(query, id))
}

// GetDocumentByHash looks a document up by content hash. Ingestion uses this
// to return the already-stored document for duplicate uploads.
func (c *Client) GetDocumentByHash(hash string) (*models.Document, error) {
	query := `SELECT id, filename, source_url, content, content_hash, chunks_count, created_at FROM documents WHERE content_hash = ?`
	return c.scanDocument(c.db.QueryRow(query, hash))
}

func (c *Client) scanDocument(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var sourceURL sql.NullString
	var createdAt int64

	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&sourceURL,
		&doc.Content,
		&doc.ContentHash,
		&doc.ChunksCount,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.SourceURL = sourceURL.String
	doc.CreatedAt = time.Unix(createdAt, 0)

	return &doc, nil
}

func (c *Client) ListDocuments() ([]models.Document, error) {
	query := `SELECT id, filename, source_url, chunks_count, created_at FROM documents ORDER BY created_at DESC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var sourceURL sql.NullString
		var createdAt int64

		err := rows.Scan(&doc.ID, &doc.Filename, &sourceURL, &doc.ChunksCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc.SourceURL = sourceURL.String
		doc.CreatedAt = time.Unix(createdAt, 0)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// InsertDocumentWithChunks writes a document and its chunk set in a single
// transaction. A failed chunk insert rolls the document back too, so a
// chunkless document row can never be left behind for the content-hash dedup
// check to find.
func (c *Client) InsertDocumentWithChunks(doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO documents (id, filename, source_url, content, content_hash, chunks_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.Filename,
		doc.SourceURL,
		doc.Content,
		doc.ContentHash,
		doc.ChunksCount,
		doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO document_chunks (id, doc_id, chunk_index, content, page_number, start_char, end_char, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		_, err := stmt.Exec(
			chunk.ID,
			chunk.DocID,
			chunk.ChunkIndex,
			chunk.Content,
			chunk.PageNumber,
			chunk.StartChar,
			chunk.EndChar,
			chunk.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document inserted",
		zap.String("doc_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// DeleteDocument removes a document; chunks and query history go with it
// through the foreign-key cascade.
func (c *Client) DeleteDocument(id string) error {
	res, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if affected == 0 {
		return errs.ErrNotFound
	}

	logger.Info("Document deleted", zap.String("doc_id", id))
	return nil
}

// InsertChunks writes a document's chunk set in one transaction.
func (c *Client) InsertChunks(chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO document_chunks (id, doc_id, chunk_index, content, page_number, start_char, end_char, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		_, err := stmt.Exec(
			chunk.ID,
			chunk.DocID,
			chunk.ChunkIndex,
			chunk.Content,
			chunk.PageNumber,
			chunk.StartChar,
			chunk.EndChar,
			chunk.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	return nil
}

// GetChunks returns a document's chunks ordered by chunk index.
func (c *Client) GetChunks(docID string) ([]models.DocumentChunk, error) {
	query := `
		SELECT id, doc_id, chunk_index, content, page_number, start_char, end_char, created_at
		FROM document_chunks
		WHERE doc_id = ?
		ORDER BY chunk_index ASC
	`

	rows, err := c.db.Query(query, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		var createdAt int64

		err := rows.Scan(&ch.ID, &ch.DocID, &ch.ChunkIndex, &ch.Content, &ch.PageNumber, &ch.StartChar, &ch.EndChar, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `INSERT INTO query_history (id, doc_id, query_text, response_json, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.DocID,
		record.QueryText,
		record.ResponseJSON,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("doc_id", record.DocID),
	)

	return nil
}

func (c *Client) GetQueryHistory(docID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, doc_id, query_text, response_json, created_at
		FROM query_history
		WHERE doc_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.DocID, &r.QueryText, &r.ResponseJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) CountDocuments() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (c *Client) CountChunks() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

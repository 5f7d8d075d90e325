package models

import "time"

// Document is an ingested PDF (or HTML page fetched by URL). Immutable after
// creation; ContentHash is unique and drives deduplication.
type Document struct {
	ID          string
	Filename    string
	SourceURL   string
	Content     string
	ContentHash string
	ChunksCount int
	CreatedAt   time.Time
}

// DocumentChunk is a bounded span of a document's text, the unit of
// retrieval. Chunks are written in a batch right after ingestion and deleted
// with their document.
type DocumentChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Content    string
	PageNumber int
	StartChar  int
	EndChar    int
	CreatedAt  time.Time
}

// QueryRecord is one answered query, kept for history only.
type QueryRecord struct {
	ID           string
	DocID        string
	QueryText    string
	ResponseJSON string
	CreatedAt    time.Time
}

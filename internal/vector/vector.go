package vector

import "context"

// Entry is one embedded chunk stored in a similarity index.
type Entry struct {
	ChunkID    string
	DocID      string
	PageNumber int
	Embedding  []float32
}

// Result is a scored hit from a similarity search. Higher scores mean more
// similar.
type Result struct {
	ChunkID string
	Score   float32
}

// Index is the similarity backend. Two implementations exist: a local
// on-disk flat index and a Milvus collection; the config picks one at
// startup.
type Index interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, embedding []float32, docID string, topK int) ([]Result, error)
	RemoveDocument(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

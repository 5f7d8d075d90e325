package local

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/pkg/logger"
)

// Index is a flat cosine-similarity index held in memory and persisted to an
// index file, with a companion metadata file listing the indexed chunk ids.
// Both files are disposable: when missing or unreadable the index starts
// empty and is rebuilt from the relational store.
type Index struct {
	mu           sync.RWMutex
	entries      []vector.Entry
	indexPath    string
	metadataPath string
}

type metadata struct {
	ChunkIDs []string `json:"chunk_ids"`
}

func Open(indexPath, metadataPath string) (*Index, error) {
	idx := &Index{
		indexPath:    indexPath,
		metadataPath: metadataPath,
	}

	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	if err := idx.load(); err != nil {
		logger.Warn("Vector index file unreadable, starting empty", zap.Error(err))
		idx.entries = nil
	}

	logger.Info("Local vector index opened",
		zap.String("path", indexPath),
		zap.Int("vectors", len(idx.entries)),
	)

	return idx, nil
}

func (x *Index) load() error {
	f, err := os.Open(x.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var entries []vector.Entry
	if err := gob.NewDecoder(f).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode index file: %w", err)
	}

	x.entries = entries
	return nil
}

// save writes the index and metadata files. Callers hold the write lock.
func (x *Index) save() error {
	f, err := os.Create(x.indexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(x.entries); err != nil {
		return fmt.Errorf("failed to encode index file: %w", err)
	}

	meta := metadata{ChunkIDs: make([]string, 0, len(x.entries))}
	for _, e := range x.entries {
		meta.ChunkIDs = append(meta.ChunkIDs, e.ChunkID)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(x.metadataPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

func (x *Index) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.entries = append(x.entries, entries...)

	if err := x.save(); err != nil {
		return err
	}

	logger.Debug("Vectors added to local index", zap.Int("count", len(entries)))
	return nil
}

func (x *Index) Search(ctx context.Context, embedding []float32, docID string, topK int) ([]vector.Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	results := make([]vector.Result, 0, topK)
	for _, e := range x.entries {
		if e.DocID != docID {
			continue
		}
		results = append(results, vector.Result{
			ChunkID: e.ChunkID,
			Score:   cosine(embedding, e.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (x *Index) RemoveDocument(ctx context.Context, docID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	kept := x.entries[:0]
	removed := 0
	for _, e := range x.entries {
		if e.DocID == docID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	x.entries = kept

	if removed == 0 {
		return nil
	}

	if err := x.save(); err != nil {
		return err
	}

	logger.Info("Vectors removed from local index",
		zap.String("doc_id", docID),
		zap.Int("count", removed),
	)
	return nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries), nil
}

func (x *Index) Close() error {
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

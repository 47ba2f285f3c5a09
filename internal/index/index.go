// Package index maintains the retrieval index over audio file metadata.
//
// Each file is one document in an embedded chromem-go collection. The
// document content is a fixed phrase naming the file; the interesting
// part is the metadata map, which mirrors the FileRecord fields and is
// what the self-query filter narrows on. Because the content never
// changes, metadata updates reuse the stored embedding and never call
// the embedder again.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dkoren/tagsmith/internal/tagstore"
)

const collectionName = "library"

// Embedder turns text into vectors. Satisfied by embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the retrieval index over the scanned library.
type Index struct {
	mu       sync.RWMutex
	db       *chromem.DB
	col      *chromem.Collection
	records  map[string]*tagstore.FileRecord
	vectors  map[string][]float32
	embedder Embedder
	log      *slog.Logger
}

// New creates an index. If persistPath is non-empty the underlying
// vector store is persisted there (gzip gob, chromem's native format);
// otherwise it lives in memory only.
func New(embedder Embedder, persistPath string, log *slog.Logger) (*Index, error) {
	var db *chromem.DB
	var err error

	if persistPath != "" {
		if err := os.MkdirAll(persistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Embeddings are computed by our own client; chromem must never
	// call out on its own.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors are pre-computed")
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Index{
		db:       db,
		col:      col,
		records:  make(map[string]*tagstore.FileRecord),
		vectors:  make(map[string][]float32),
		embedder: embedder,
		log:      log,
	}, nil
}

// documentContent is the embedded text for one file. It matches what
// the record scan produces and deliberately excludes mutable fields so
// that tag updates do not invalidate the vector.
func documentContent(path string) string {
	return "Audio file metadata for: " + path
}

// metadataFor flattens a record into the chromem metadata map.
func metadataFor(rec *tagstore.FileRecord) map[string]string {
	md := map[string]string{"filepath": rec.Filepath}
	for _, f := range tagstore.Fields() {
		md[string(f)] = rec.Get(f)
	}
	return md
}

// Build replaces the index contents with the given records, embedding
// each document. Call once at startup after a library scan.
func (ix *Index) Build(ctx context.Context, records []tagstore.FileRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Drop any previous contents (persisted index from an earlier run,
	// or a rebuild after rescanning the library).
	if ix.col.Count() > 0 {
		if err := ix.db.DeleteCollection(collectionName); err != nil {
			return fmt.Errorf("reset collection: %w", err)
		}
		col, err := ix.db.GetOrCreateCollection(collectionName, nil, func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("vectors are pre-computed")
		})
		if err != nil {
			return fmt.Errorf("recreate collection: %w", err)
		}
		ix.col = col
		ix.records = make(map[string]*tagstore.FileRecord)
		ix.vectors = make(map[string][]float32)
	}

	if len(records) == 0 {
		ix.log.Warn("index built empty, no audio files found")
		return nil
	}

	texts := make([]string, len(records))
	for i := range records {
		texts[i] = documentContent(records[i].Filepath)
	}
	vecs, err := ix.embedder.GenerateBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(records) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(records))
	}

	docs := make([]chromem.Document, 0, len(records))
	for i := range records {
		rec := records[i]
		ix.records[rec.Filepath] = &rec
		ix.vectors[rec.Filepath] = vecs[i]
		docs = append(docs, chromem.Document{
			ID:        rec.Filepath,
			Content:   documentContent(rec.Filepath),
			Metadata:  metadataFor(&rec),
			Embedding: vecs[i],
		})
	}

	if err := ix.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	ix.log.Info("index built", "documents", len(docs))
	return nil
}

// UpdateField rewrites one file's index entry after a successful tag
// write. The stored embedding is reused; only metadata changes.
func (ix *Index) UpdateField(ctx context.Context, path string, field tagstore.Field, value string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rec, ok := ix.records[path]
	if !ok {
		return fmt.Errorf("path not indexed: %s", path)
	}
	vec, ok := ix.vectors[path]
	if !ok {
		return fmt.Errorf("no stored vector for: %s", path)
	}

	rec.Set(field, value)

	if err := ix.col.Delete(ctx, nil, nil, path); err != nil {
		return fmt.Errorf("delete stale entry: %w", err)
	}
	doc := chromem.Document{
		ID:        path,
		Content:   documentContent(path),
		Metadata:  metadataFor(rec),
		Embedding: vec,
	}
	if err := ix.col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("reinsert entry: %w", err)
	}
	return nil
}

// Record returns a copy of the indexed record for a path, if present.
func (ix *Index) Record(path string) (tagstore.FileRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[path]
	if !ok {
		return tagstore.FileRecord{}, false
	}
	return *rec, true
}

// Count returns the number of indexed files.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.col.Count()
}

// Match is one search hit.
type Match struct {
	Filepath string
	Score    float32
}

// Search runs similarity search narrowed by an optional conjunctive
// metadata filter. limit <= 0 means "all matches". The result order is
// deterministic: descending score, ties broken by ascending filepath.
// An empty index or an empty filtered set yields an empty, non-nil-error
// result.
func (ix *Index) Search(ctx context.Context, query string, filter map[string]string, limit int) ([]Match, error) {
	if ix.Count() == 0 {
		return nil, nil
	}

	// Embed before taking the lock: the embedder is a network round
	// trip and must not stall concurrent index writes.
	vec, err := ix.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	total := ix.col.Count()
	if total == 0 {
		return nil, nil
	}

	// chromem rejects nResults above the collection size; fetch the
	// whole collection and apply the caller's limit after the
	// deterministic re-sort.
	results, err := ix.col.QueryEmbedding(ctx, vec, total, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{Filepath: r.ID, Score: r.Similarity})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Filepath < matches[j].Filepath
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Package chromemdb adapts chromem-go as the chunk vector index. The
// payload of every indexed vector carries the full chunk metadata so
// retrieval candidates come back self-describing.
package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"

	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// ErrChunkNotFound is returned when a requested (document, ordinal)
// pair is not in the index, typically because the document was deleted
// or reindexed. Callers must treat this as distinct from a
// low-confidence result.
var ErrChunkNotFound = errors.New("chunk not found in vector index")

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(cfg config.VectorConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}

	return &VectorDBManager{db: db, collection: collection}, nil
}

// Upsert stores one document's chunks with their embeddings. The index
// key is document id plus ordinal, so re-ingesting a document
// overwrites its chunks in place.
func (m *VectorDBManager) Upsert(ctx context.Context, chunks []models.Chunk, uploadedAt time.Time, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		meta, err := encodeMeta(&c, uploadedAt)
		if err != nil {
			return err
		}
		docs = append(docs, chromem.Document{
			ID:        indexKey(c.DocumentID, c.Ordinal),
			Content:   c.Text,
			Metadata:  meta,
			Embedding: embeddings[i],
		})
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// Query returns the k nearest chunks to the embedding, with raw
// similarity scores and decoded metadata.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, k int) ([]models.Candidate, error) {
	if count := m.collection.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	candidates := make([]models.Candidate, 0, len(results))
	for _, r := range results {
		cand, err := decodeResult(r.Metadata, r.Content, float64(r.Similarity))
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, *cand)
	}
	return candidates, nil
}

// GetByOrdinal fetches one chunk by its stable position within a
// document. The similarity of the returned candidate is computed
// against queryEmbedding when given, and zero otherwise.
func (m *VectorDBManager) GetByOrdinal(ctx context.Context, docID string, ordinal int, queryEmbedding []float32) (*models.Candidate, error) {
	doc, err := m.collection.GetByID(ctx, indexKey(docID, ordinal))
	if err != nil {
		return nil, fmt.Errorf("%w: document %s ordinal %d", ErrChunkNotFound, docID, ordinal)
	}
	sim := 0.0
	if queryEmbedding != nil && len(doc.Embedding) == len(queryEmbedding) {
		sim = dot(doc.Embedding, queryEmbedding)
	}
	return decodeResult(doc.Metadata, doc.Content, sim)
}

// DeleteDocument removes every chunk of the document from the index.
func (m *VectorDBManager) DeleteDocument(ctx context.Context, docID string) error {
	err := m.collection.Delete(ctx, map[string]string{"document_id": docID}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %v", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

func indexKey(docID string, ordinal int) string {
	return fmt.Sprintf("%s-%d", docID, ordinal)
}

// chromem metadata values are strings; structured fields are JSON
// encoded in place.
func encodeMeta(c *models.Chunk, uploadedAt time.Time) (map[string]string, error) {
	pages, err := json.Marshal(c.PageNumbers)
	if err != nil {
		return nil, err
	}
	section, err := json.Marshal(c.SectionHierarchy)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{
		"chunk_id":            c.ID,
		"document_id":         c.DocumentID,
		"document_name":       c.DocumentName,
		"ordinal":             strconv.Itoa(c.Ordinal),
		"pages":               string(pages),
		"section_hierarchy":   string(section),
		"char_start":          strconv.Itoa(c.CharSpan.Start),
		"char_end":            strconv.Itoa(c.CharSpan.End),
		"is_atomic":           strconv.FormatBool(c.IsAtomic),
		"structural_type":     string(c.StructuralType),
		"has_cross_reference": strconv.FormatBool(c.HasCrossReference),
		"degraded_split":      strconv.FormatBool(c.DegradedSplit),
	}
	if !uploadedAt.IsZero() {
		meta["uploaded_at"] = uploadedAt.UTC().Format(time.RFC3339)
	}
	return meta, nil
}

func decodeResult(meta map[string]string, content string, similarity float64) (*models.Candidate, error) {
	cand := models.Candidate{Similarity: similarity}
	c := &cand.Chunk
	c.ID = meta["chunk_id"]
	c.DocumentID = meta["document_id"]
	c.DocumentName = meta["document_name"]
	c.Text = content

	var err error
	if c.Ordinal, err = strconv.Atoi(meta["ordinal"]); err != nil {
		return nil, fmt.Errorf("corrupt index payload: ordinal %q", meta["ordinal"])
	}
	if v := meta["pages"]; v != "" {
		if err := json.Unmarshal([]byte(v), &c.PageNumbers); err != nil {
			return nil, fmt.Errorf("corrupt index payload: pages %q", v)
		}
	}
	if v := meta["section_hierarchy"]; v != "" {
		if err := json.Unmarshal([]byte(v), &c.SectionHierarchy); err != nil {
			return nil, fmt.Errorf("corrupt index payload: section %q", v)
		}
	}
	c.CharSpan.Start, _ = strconv.Atoi(meta["char_start"])
	c.CharSpan.End, _ = strconv.Atoi(meta["char_end"])
	c.IsAtomic, _ = strconv.ParseBool(meta["is_atomic"])
	c.StructuralType = models.StructuralType(meta["structural_type"])
	c.HasCrossReference, _ = strconv.ParseBool(meta["has_cross_reference"])
	c.DegradedSplit, _ = strconv.ParseBool(meta["degraded_split"])
	if v := meta["uploaded_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			cand.UploadedAt = t
		}
	}
	return &cand, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

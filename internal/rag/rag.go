// Package rag wires the ingestion and query pipelines: parse, chunk,
// embed, index on the way in; retrieve, rerank, budget-select, generate
// and cite on the way out.
package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"grounded-rag/internal/budget"
	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/chunker"
	"grounded-rag/internal/citation"
	"grounded-rag/internal/config"
	"grounded-rag/internal/db"
	"grounded-rag/internal/embedding"
	"grounded-rag/internal/helper"
	"grounded-rag/internal/llmservice"
	"grounded-rag/internal/models"
	"grounded-rag/internal/parser"
	"grounded-rag/internal/reranker"
)

// generator is the slice of llmservice.Client the query path needs.
type generator interface {
	GenerateContent(ctx context.Context, system, user string) (string, error)
}

type RAG struct {
	cfg      *config.Config
	registry *bun.DB // nil when running without the document registry
	vectors  *chromemdb.VectorDBManager
	embedder *embeddings.EmbedderImpl
	llm      generator // nil when running without an inference model

	chunker   chunker.Strategy
	reranker  *reranker.Reranker
	selector  *budget.Selector
	extractor *citation.Extractor
	verifier  *citation.Verifier
}

// New assembles the pipeline from its externally constructed handles.
// registry and llm may be nil; ingestion then skips the document table
// and Query fails, while Verify keeps working.
func New(cfg *config.Config, registry *bun.DB, vectors *chromemdb.VectorDBManager, embedder *embeddings.EmbedderImpl, llm *llmservice.Client) (*RAG, error) {
	strat, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	rr, err := reranker.New(cfg.Reranker, vectors)
	if err != nil {
		return nil, err
	}
	var namer citation.DocumentNamer
	if registry != nil {
		namer = registryNamer{db: registry}
	}
	r := &RAG{
		cfg:       cfg,
		registry:  registry,
		vectors:   vectors,
		embedder:  embedder,
		chunker:   strat,
		reranker:  rr,
		selector:  budget.NewSelector(cfg.Budget, nil),
		extractor: citation.NewExtractor(cfg.Citation),
		verifier:  citation.NewVerifier(cfg.Citation, vectors, namer),
	}
	// A typed nil in the interface would defeat the llm == nil checks.
	if llm != nil {
		r.llm = llm
	}
	return r, nil
}

// IngestResult summarizes one ingested file.
type IngestResult struct {
	DocumentID string
	Title      string
	Chunks     int
	Pages      int
}

// Ingest parses, chunks, embeds and indexes one file. Chunk ordinals
// are assigned once here; re-ingesting a file produces a new document
// id rather than touching the old one.
func (r *RAG) Ingest(ctx context.Context, path string) (*IngestResult, error) {
	docID := helper.MustUUID()
	title := filepath.Base(path)

	if err := r.registerProcessing(ctx, docID, title, path); err != nil {
		return nil, err
	}

	res, err := r.ingest(ctx, docID, title, path)
	if err != nil {
		r.setStatus(ctx, docID, db.StatusFailed)
		return nil, err
	}
	return res, nil
}

func (r *RAG) ingest(ctx context.Context, docID, title, path string) (*IngestResult, error) {
	units, err := parser.ParseDocument(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	chunks, err := r.chunker.Chunk(docID, title, units)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no content extracted from %s", path)
	}

	vectors, err := embedding.EmbedChunks(ctx, r.embedder, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", path, err)
	}

	uploadedAt := time.Now().UTC()
	if err := r.vectors.Upsert(ctx, chunks, uploadedAt, vectors); err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", path, err)
	}

	pages := pageCount(chunks)
	if r.registry != nil {
		doc := &db.Document{
			ID:         docID,
			Title:      title,
			MimeType:   parser.MimeType(path),
			PageCount:  pages,
			ChunkCount: len(chunks),
			Status:     db.StatusReady,
			UploadedAt: uploadedAt,
		}
		if fi, err := os.Stat(path); err == nil {
			doc.FileSize = fi.Size()
		}
		if err := db.SaveDocument(ctx, r.registry, doc); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", path, err)
		}
	}

	log.Info().
		Str("document", docID).
		Str("title", title).
		Int("chunks", len(chunks)).
		Int("pages", pages).
		Msg("document ingested")
	return &IngestResult{DocumentID: docID, Title: title, Chunks: len(chunks), Pages: pages}, nil
}

// QueryResponse carries the answer and everything needed to audit it.
type QueryResponse struct {
	Answer    string
	Citations []models.Citation
	Selected  []models.Selected
	Sources   []string
}

// Query answers a question from the indexed documents. Answer
// generation and citation extraction run concurrently over the same
// context set; low-confidence citations are returned, not hidden.
func (r *RAG) Query(ctx context.Context, query string) (*QueryResponse, error) {
	if r.llm == nil {
		return nil, fmt.Errorf("no inference model configured")
	}

	queryEmbedding, err := embedding.EmbedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := r.vectors.Query(ctx, queryEmbedding, r.cfg.Reranker.CandidateK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	if len(candidates) == 0 {
		return &QueryResponse{Answer: "No indexed documents matched the question."}, nil
	}

	scored, err := r.reranker.Rerank(ctx, candidates, queryEmbedding)
	if err != nil {
		return nil, err
	}
	selected := r.selector.Select(scored)
	contextBlock := llmservice.FormatContext(selected)

	var (
		answer    string
		citations []models.Citation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		answer, err = r.llm.GenerateContent(gctx, llmservice.BuildAnswerPrompt(contextBlock), query)
		if err != nil {
			return fmt.Errorf("failed to generate answer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		citations = r.extractCitations(gctx, query, contextBlock, selected)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Model-assisted extraction is best-effort; fall back to grounding
	// the answer's own sentences when it fails or yields nothing
	// usable.
	if len(citations) == 0 {
		citations = r.extractor.Extract(answer, selected)
	}

	return &QueryResponse{
		Answer:    answer,
		Citations: citations,
		Selected:  selected,
		Sources:   sourceNames(selected),
	}, nil
}

// extractCitations asks the model which context spans support the
// answer, then re-scores every proposal locally. Returns nil on any
// model or parse failure so the caller can fall back.
func (r *RAG) extractCitations(ctx context.Context, query, contextBlock string, selected []models.Selected) []models.Citation {
	system, user := llmservice.BuildCitationPrompt(query, contextBlock)
	resp, err := r.llm.GenerateContent(ctx, system, user)
	if err != nil {
		log.Warn().Err(err).Msg("citation extraction call failed, falling back to local grounding")
		return nil
	}
	raw, err := llmservice.ParseCitations(resp)
	if err != nil {
		log.Warn().Err(err).Msg("citation response unparseable, falling back to local grounding")
		return nil
	}

	citations := make([]models.Citation, 0, len(raw))
	for _, rc := range raw {
		if rc.ChunkIndex < 0 || rc.ChunkIndex >= len(selected) {
			log.Warn().Int("chunk", rc.ChunkIndex).Msg("citation references unknown context chunk, dropped")
			continue
		}
		if rc.ClaimText == "" {
			continue
		}
		citations = append(citations, r.extractor.Grade(rc.ClaimText, rc.TextSpan, selected[rc.ChunkIndex]))
	}
	return citations
}

// Verify checks a previously returned citation against the live index.
func (r *RAG) Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResponse, error) {
	return r.verifier.Verify(ctx, req)
}

// DeleteDocument removes a document from the index and, when a registry
// is configured, from the document table.
func (r *RAG) DeleteDocument(ctx context.Context, docID string) error {
	if err := r.vectors.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if r.registry != nil {
		return db.DeleteDocument(ctx, r.registry, docID)
	}
	return nil
}

func (r *RAG) registerProcessing(ctx context.Context, docID, title, path string) error {
	if r.registry == nil {
		return nil
	}
	doc := &db.Document{
		ID:         docID,
		Title:      title,
		MimeType:   parser.MimeType(path),
		Status:     db.StatusProcessing,
		UploadedAt: time.Now().UTC(),
	}
	if err := db.SaveDocument(ctx, r.registry, doc); err != nil {
		return fmt.Errorf("failed to register %s: %w", path, err)
	}
	return nil
}

func (r *RAG) setStatus(ctx context.Context, docID, status string) {
	if r.registry == nil {
		return
	}
	if err := db.SetStatus(ctx, r.registry, docID, status); err != nil {
		log.Warn().Err(err).Str("document", docID).Msg("failed to update document status")
	}
}

func pageCount(chunks []models.Chunk) int {
	max := 0
	for _, c := range chunks {
		for _, p := range c.PageNumbers {
			if p > max {
				max = p
			}
		}
	}
	return max
}

func sourceNames(selected []models.Selected) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range selected {
		if !seen[s.Chunk.DocumentName] {
			seen[s.Chunk.DocumentName] = true
			names = append(names, s.Chunk.DocumentName)
		}
	}
	return names
}

// registryNamer resolves document titles from the registry for the
// citation verifier.
type registryNamer struct {
	db *bun.DB
}

func (n registryNamer) DocumentName(ctx context.Context, id string) (string, error) {
	doc, err := db.GetDocument(ctx, n.db, id)
	if err != nil {
		return "", err
	}
	return doc.Title, nil
}

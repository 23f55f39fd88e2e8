// Package reranker reorders vector-search candidates with a weighted
// combination of similarity, recency, section hierarchy and adjacency
// signals, and augments the top results with their immediate
// neighbors.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/config"
	"grounded-rag/internal/models"
)

// NeighborFetcher retrieves a chunk by its stable position within a
// document, for augmenting results with adjacent context.
type NeighborFetcher interface {
	GetByOrdinal(ctx context.Context, docID string, ordinal int, queryEmbedding []float32) (*models.Candidate, error)
}

// Scored is a candidate with its component and final rerank scores.
type Scored struct {
	models.Candidate

	Recency   float64
	Hierarchy float64
	Adjacency float64
	Final     float64

	// SimRank is the candidate's position in the original
	// similarity-ordered result list; augmented neighbors rank after
	// all originals.
	SimRank   int
	Augmented bool
}

// neutralRecency is the documented fixed default for candidates whose
// parent document has no usable timestamp, and for candidate sets with
// fewer than two distinct timestamps where normalization is undefined.
const neutralRecency = 0.5

const hierarchyBaseline = 0.5

type Reranker struct {
	weights         config.Weights
	topK            int
	includeAdjacent bool
	rules           []config.HierarchyRule
	fetcher         NeighborFetcher
}

// New validates the weight configuration and returns a reranker. A
// weight set not summing to 1.0 is a configuration error for the
// caller, never silently renormalized. An empty hierarchy rule set
// falls back to the defaults.
func New(cfg config.RerankerConfig, fetcher NeighborFetcher) (*Reranker, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	rules := cfg.HierarchyRules
	if len(rules) == 0 {
		rules = config.Default().Reranker.HierarchyRules
	}
	return &Reranker{
		weights:         cfg.Weights,
		topK:            cfg.TopK,
		includeAdjacent: cfg.IncludeAdjacent,
		rules:           rules,
		fetcher:         fetcher,
	}, nil
}

// Rerank scores and reorders the candidates. When adjacency inclusion
// is enabled it fetches ordinal±1 neighbors of the top results from
// the index, runs them through the same scoring and deduplicates by
// chunk identity.
func (r *Reranker) Rerank(ctx context.Context, candidates []models.Candidate, queryEmbedding []float32) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	pool := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		pool[poolKey(c.DocumentID, c.Ordinal)] = true
	}
	minTS, maxTS, distinct := timestampRange(candidates)

	scored := make([]Scored, 0, len(candidates))
	for i, c := range candidates {
		s := r.score(c, pool, minTS, maxTS, distinct)
		s.SimRank = i
		scored = append(scored, s)
	}
	sortScored(scored)

	if !r.includeAdjacent || r.fetcher == nil {
		return scored, nil
	}

	top := r.topK
	if top > len(scored) {
		top = len(scored)
	}
	seenID := make(map[string]bool, len(scored))
	for _, s := range scored {
		seenID[s.Chunk.ID] = true
	}

	next := len(candidates)
	augmented := scored
	for _, s := range scored[:top] {
		for _, ord := range []int{s.Chunk.Ordinal - 1, s.Chunk.Ordinal + 1} {
			if ord < 0 || pool[poolKey(s.Chunk.DocumentID, ord)] {
				continue
			}
			neighbor, err := r.fetcher.GetByOrdinal(ctx, s.Chunk.DocumentID, ord, queryEmbedding)
			if err != nil {
				if errors.Is(err, chromemdb.ErrChunkNotFound) {
					continue
				}
				return nil, fmt.Errorf("fetching neighbor %d of document %s: %w", ord, s.Chunk.DocumentID, err)
			}
			if seenID[neighbor.ID] {
				continue
			}
			pool[poolKey(neighbor.DocumentID, neighbor.Ordinal)] = true
			seenID[neighbor.ID] = true

			ns := r.score(*neighbor, pool, minTS, maxTS, distinct)
			ns.SimRank = next
			ns.Augmented = true
			next++
			augmented = append(augmented, ns)
			log.Debug().
				Str("document", neighbor.DocumentID).
				Int("ordinal", neighbor.Ordinal).
				Float64("final", ns.Final).
				Msg("augmented result set with adjacent chunk")
		}
	}
	sortScored(augmented)
	return augmented, nil
}

func (r *Reranker) score(c models.Candidate, pool map[string]bool, minTS, maxTS time.Time, distinct int) Scored {
	s := Scored{Candidate: c}
	s.Recency = recencyScore(c.UploadedAt, minTS, maxTS, distinct)
	s.Hierarchy = r.hierarchyScore(&c.Chunk)
	s.Adjacency = adjacencyScore(&c.Chunk, pool)
	s.Final = r.weights.Similarity*c.Similarity +
		r.weights.Recency*s.Recency +
		r.weights.Hierarchy*s.Hierarchy +
		r.weights.Adjacency*s.Adjacency
	return s
}

// recencyScore normalizes the upload time into [0,1] across the
// observed candidate range, newest scoring highest.
func recencyScore(t, minTS, maxTS time.Time, distinct int) float64 {
	if t.IsZero() || distinct < 2 || !maxTS.After(minTS) {
		return neutralRecency
	}
	score := float64(t.Sub(minTS)) / float64(maxTS.Sub(minTS))
	return clamp01(score)
}

// hierarchyScore looks the deepest matching heading up against the
// keyword rules, then applies clamped structural bonuses.
func (r *Reranker) hierarchyScore(c *models.Chunk) float64 {
	section := strings.ToLower(strings.Join(c.SectionHierarchy, " "))
	score := hierarchyBaseline
	for _, rule := range r.rules {
		if containsAny(section, rule.Keywords) {
			score = rule.Score
			break
		}
	}
	if c.StructuralType == models.TypeTable {
		score += 0.15
	}
	if c.StructuralType == models.TypeNumberedList {
		score += 0.10
	}
	if c.HasCrossReference {
		score += 0.10
	}
	if c.StructuralType == models.TypeHeaderBlock {
		score += 0.05
	}
	return clamp01(score)
}

// adjacencyScore maps the number of in-set neighbors (ordinal±1 within
// the same document) to a score: isolated 0.3, one neighbor 0.65, both
// 1.0.
func adjacencyScore(c *models.Chunk, pool map[string]bool) float64 {
	count := 0
	if c.Ordinal > 0 && pool[poolKey(c.DocumentID, c.Ordinal-1)] {
		count++
	}
	if pool[poolKey(c.DocumentID, c.Ordinal+1)] {
		count++
	}
	switch count {
	case 0:
		return 0.3
	case 1:
		return 0.65
	default:
		return 1.0
	}
}

// sortScored orders by final score descending; ties break by original
// similarity rank, then ordinal, keeping the ordering deterministic.
func sortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Final != scored[j].Final {
			return scored[i].Final > scored[j].Final
		}
		if scored[i].SimRank != scored[j].SimRank {
			return scored[i].SimRank < scored[j].SimRank
		}
		return scored[i].Chunk.Ordinal < scored[j].Chunk.Ordinal
	})
}

func timestampRange(candidates []models.Candidate) (minTS, maxTS time.Time, distinct int) {
	seen := map[int64]bool{}
	for _, c := range candidates {
		if c.UploadedAt.IsZero() {
			continue
		}
		if !seen[c.UploadedAt.UnixNano()] {
			seen[c.UploadedAt.UnixNano()] = true
			distinct++
		}
		if minTS.IsZero() || c.UploadedAt.Before(minTS) {
			minTS = c.UploadedAt
		}
		if maxTS.IsZero() || c.UploadedAt.After(maxTS) {
			maxTS = c.UploadedAt
		}
	}
	return minTS, maxTS, distinct
}

func poolKey(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", docID, ordinal)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrWeightSum is returned when the four reranker weights do not sum
	// to 1.0. The weights are never silently renormalized.
	ErrWeightSum = errors.New("reranker weights must sum to 1.0")

	// ErrUnknownStrategy is returned for a chunking strategy name that is
	// neither sliding_window nor semantic.
	ErrUnknownStrategy = errors.New("unknown chunking strategy")
)

const (
	StrategySlidingWindow = "sliding_window"
	StrategySemantic      = "semantic"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Vector   VectorConfig   `yaml:"vector"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	InferLLM LLMConfig      `yaml:"infer_llm"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Reranker RerankerConfig `yaml:"reranker"`
	Budget   BudgetConfig   `yaml:"budget"`
	Citation CitationConfig `yaml:"citation"`
}

type DatabaseConfig struct {
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	Debug       bool   `yaml:"debug"`
}

type VectorConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // openai or ollama
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type ChunkerConfig struct {
	Strategy        string  `yaml:"strategy"`
	MaxChars        int     `yaml:"max_chars"`
	MinChars        int     `yaml:"min_chars"`
	OverlapChars    int     `yaml:"overlap_chars"`
	AtomicTolerance float64 `yaml:"atomic_tolerance"`
}

type RerankerConfig struct {
	Weights         Weights         `yaml:"weights"`
	TopK            int             `yaml:"top_k"`
	CandidateK      int             `yaml:"candidate_k"`
	IncludeAdjacent bool            `yaml:"include_adjacent"`
	HierarchyRules  []HierarchyRule `yaml:"hierarchy_rules"`
}

// HierarchyRule assigns a base hierarchy score to chunks whose section
// headings mention any of the keywords. Rules are checked in order and
// the first match wins; unmatched chunks score the neutral baseline.
type HierarchyRule struct {
	Keywords []string `yaml:"keywords"`
	Score    float64  `yaml:"score"`
}

// Weights combine the four rerank signal scores. They must sum to 1.0.
type Weights struct {
	Similarity float64 `yaml:"similarity"`
	Recency    float64 `yaml:"recency"`
	Hierarchy  float64 `yaml:"hierarchy"`
	Adjacency  float64 `yaml:"adjacency"`
}

// Validate rejects weight sets that do not sum to 1.0 within 0.01.
func (w Weights) Validate() error {
	total := w.Similarity + w.Recency + w.Hierarchy + w.Adjacency
	if math.Abs(total-1.0) > 0.01 {
		return fmt.Errorf("%w, got %.3f", ErrWeightSum, total)
	}
	return nil
}

type BudgetConfig struct {
	MaxTokens              int     `yaml:"max_tokens"`
	CharsPerToken          int     `yaml:"chars_per_token"`
	Encoding               string  `yaml:"encoding"`
	DiversityThreshold     float64 `yaml:"diversity_threshold"`
	MinTruncationRemainder int     `yaml:"min_truncation_remainder"`
	HighValueScore         float64 `yaml:"high_value_score"`
}

type CitationConfig struct {
	ParaphraseThreshold float64 `yaml:"paraphrase_threshold"`
	RelevanceThreshold  float64 `yaml:"relevance_threshold"`
	SpanMinChars        int     `yaml:"span_min_chars"`
	SpanMaxChars        int     `yaml:"span_max_chars"`
}

// Default returns a fully populated configuration with the module's
// documented defaults.
func Default() *Config {
	return &Config{
		Vector: VectorConfig{
			Path:       "./chromemdb",
			Collection: "documents",
		},
		Chunker: ChunkerConfig{
			Strategy:        StrategySemantic,
			MaxChars:        1000,
			MinChars:        100,
			OverlapChars:    100,
			AtomicTolerance: 1.3,
		},
		Reranker: RerankerConfig{
			Weights: Weights{
				Similarity: 0.5,
				Recency:    0.2,
				Hierarchy:  0.2,
				Adjacency:  0.1,
			},
			TopK:            10,
			CandidateK:      20,
			IncludeAdjacent: true,
			HierarchyRules: []HierarchyRule{
				{Keywords: []string{"definition", "terminology"}, Score: 1.0},
				{Keywords: []string{"overview", "introduction"}, Score: 0.9},
				{Keywords: []string{"policy", "rules", "requirements"}, Score: 0.85},
				{Keywords: []string{"conclusion", "summary"}, Score: 0.8},
			},
		},
		Budget: BudgetConfig{
			MaxTokens:              2000,
			CharsPerToken:          4,
			Encoding:               "cl100k_base",
			DiversityThreshold:     0.92,
			MinTruncationRemainder: 50,
			HighValueScore:         0.7,
		},
		Citation: CitationConfig{
			ParaphraseThreshold: 0.7,
			RelevanceThreshold:  0.3,
			SpanMinChars:        50,
			SpanMaxChars:        200,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate surfaces configuration errors at setup time. Nothing here is
// silently defaulted after the file has been read.
func (c *Config) Validate() error {
	switch c.Chunker.Strategy {
	case StrategySlidingWindow, StrategySemantic:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Chunker.Strategy)
	}
	if c.Chunker.MaxChars <= 0 {
		return fmt.Errorf("chunker max_chars must be positive, got %d", c.Chunker.MaxChars)
	}
	if c.Chunker.OverlapChars < 0 || c.Chunker.OverlapChars >= c.Chunker.MaxChars {
		return fmt.Errorf("chunker overlap_chars must be in [0, max_chars), got %d", c.Chunker.OverlapChars)
	}
	if c.Chunker.MinChars < 0 || c.Chunker.MinChars > c.Chunker.MaxChars {
		return fmt.Errorf("chunker min_chars must be in [0, max_chars], got %d", c.Chunker.MinChars)
	}
	if c.Chunker.AtomicTolerance < 1.0 {
		return fmt.Errorf("chunker atomic_tolerance must be >= 1.0, got %.2f", c.Chunker.AtomicTolerance)
	}
	if err := c.Reranker.Weights.Validate(); err != nil {
		return err
	}
	if c.Reranker.TopK <= 0 || c.Reranker.CandidateK <= 0 {
		return fmt.Errorf("reranker top_k and candidate_k must be positive")
	}
	if c.Budget.CharsPerToken <= 0 {
		return fmt.Errorf("budget chars_per_token must be positive, got %d", c.Budget.CharsPerToken)
	}
	if c.Citation.SpanMinChars <= 0 || c.Citation.SpanMaxChars < c.Citation.SpanMinChars {
		return fmt.Errorf("citation span bounds invalid: [%d, %d]", c.Citation.SpanMinChars, c.Citation.SpanMaxChars)
	}
	return nil
}

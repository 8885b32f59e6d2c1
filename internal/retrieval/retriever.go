// Package retrieval finds historical material related to a query by
// semantic similarity, independent of recency. A pluggable SemanticIndex
// supplies embeddings; without one the retriever degrades to keyword
// matching over summaries and messages: a documented fallback, not a
// failure mode.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/token"
)

// SemanticIndex is the contract a semantic similarity provider must satisfy.
// The engine never defines the index itself; any ANN backend or embedding
// API can be plugged in here.
type SemanticIndex interface {
	// Embed converts text into a vector. Vectors from one index must share
	// a dimension; comparing vectors from different indexes is undefined.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieved item: either a message or a summary.
type Result struct {
	// MessageID or SummaryID identifies the source; exactly one is set.
	MessageID string
	SummaryID string

	SessionID  string
	Content    string
	Similarity float64
	TokenCount int
	CreatedAt  time.Time
}

// Config tunes the retriever.
type Config struct {
	// CandidateLimit caps how many keyword-matched candidates are pulled
	// from the store before ranking.
	CandidateLimit int `yaml:"candidate_limit"`
}

func (cfg Config) withDefaults() Config {
	if cfg.CandidateLimit == 0 {
		cfg.CandidateLimit = 50
	}
	return cfg
}

// Retriever ranks historical material by similarity to a query.
type Retriever struct {
	store   memory.Store
	index   SemanticIndex // nil = keyword fallback
	counter token.Counter
	cfg     Config
	logger  *slog.Logger
}

// New creates a Retriever. index may be nil, enabling the keyword fallback.
func New(store memory.Store, index SemanticIndex, counter token.Counter, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:   store,
		index:   index,
		counter: counter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// FindRelevant returns historical items ranked by similarity descending,
// ties broken by recency descending. Results are greedily included in rank
// order until the next item would exceed tokenBudget; an item is never
// truncated mid-content. excludeSessionID, when non-empty, filters out
// material from that session.
func (r *Retriever) FindRelevant(ctx context.Context, userID, query, excludeSessionID string, limit, tokenBudget int) ([]Result, error) {
	if limit <= 0 || tokenBudget <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	candidates, err := r.gather(ctx, userID, query)
	if err != nil {
		return nil, err
	}

	var scored []Result
	if r.index != nil {
		scored, err = r.rankSemantic(ctx, query, candidates)
		if err != nil {
			// Semantic ranking failed mid-flight: fall back rather than
			// lose the turn's retrieval entirely.
			r.logger.Warn("retrieval: semantic ranking failed, using keyword scores", "error", err)
			scored = rankKeyword(query, candidates)
		}
	} else {
		scored = rankKeyword(query, candidates)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})

	var out []Result
	used := 0
	for _, res := range scored {
		if excludeSessionID != "" && res.SessionID == excludeSessionID {
			continue
		}
		if len(out) >= limit {
			break
		}
		if used+res.TokenCount > tokenBudget {
			// Greedy in rank order: once the next item does not fit,
			// stop rather than skip ahead to smaller, worse matches.
			break
		}
		out = append(out, res)
		used += res.TokenCount
	}
	return out, nil
}

// candidate pairs a potential result with its stored embedding.
type candidate struct {
	res       Result
	embedding []float32
	backfill  func(ctx context.Context, vec []float32) error
}

// gather pulls keyword-matched summaries and messages from the store.
// Summaries are preferred carriers of old context, so they are fetched first.
func (r *Retriever) gather(ctx context.Context, userID, query string) ([]candidate, error) {
	terms := strings.Join(Keywords(query), " ")
	if terms == "" {
		terms = query
	}

	sums, err := r.store.SearchSummaries(ctx, userID, terms, r.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search summaries: %w", err)
	}
	msgs, err := r.store.SearchMessages(ctx, userID, terms, r.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search messages: %w", err)
	}

	out := make([]candidate, 0, len(sums)+len(msgs))
	for _, s := range sums {
		s := s
		tokens := s.TokenCount
		if tokens == 0 {
			tokens = r.counter.Count(s.Content)
		}
		out = append(out, candidate{
			res: Result{
				SummaryID:  s.ID,
				SessionID:  s.SessionID,
				Content:    s.Content,
				TokenCount: tokens,
				CreatedAt:  s.CreatedAt,
			},
			embedding: s.Embedding,
			backfill: func(ctx context.Context, vec []float32) error {
				return r.store.SetSummaryEmbedding(ctx, s.ID, vec)
			},
		})
	}
	for _, m := range msgs {
		m := m
		tokens := m.TokenCount
		if tokens == 0 {
			tokens = r.counter.Count(m.Content)
		}
		out = append(out, candidate{
			res: Result{
				MessageID:  m.ID,
				SessionID:  m.SessionID,
				Content:    m.Content,
				TokenCount: tokens,
				CreatedAt:  m.CreatedAt,
			},
			embedding: m.Embedding,
			backfill: func(ctx context.Context, vec []float32) error {
				return r.store.SetMessageEmbedding(ctx, m.ID, vec)
			},
		})
	}
	return out, nil
}

// rankSemantic scores candidates by cosine similarity to the query vector,
// back-filling missing embeddings through the index as it goes.
func (r *Retriever) rankSemantic(ctx context.Context, query string, candidates []candidate) ([]Result, error) {
	queryVec, err := r.index.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		vec := c.embedding
		if vec == nil {
			vec, err = r.index.Embed(ctx, c.res.Content)
			if err != nil {
				return nil, fmt.Errorf("retrieval: embed candidate: %w", err)
			}
			if err := c.backfill(ctx, vec); err != nil {
				// Back-fill is an optimization; a write failure must not
				// cost the turn its retrieval.
				r.logger.Warn("retrieval: embedding back-fill failed", "error", err)
			}
		}

		sim, err := Cosine(queryVec, vec)
		if err != nil {
			r.logger.Debug("retrieval: skipping candidate", "error", err)
			continue
		}
		res := c.res
		// Map [-1,1] to [0,1] so similarity composes with relevance scores.
		res.Similarity = (sim + 1) / 2
		out = append(out, res)
	}
	return out, nil
}

// rankKeyword scores candidates by the fraction of query keywords present.
func rankKeyword(query string, candidates []candidate) []Result {
	keywords := Keywords(query)
	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		res := c.res
		res.Similarity = keywordOverlap(keywords, c.res.Content)
		if res.Similarity > 0 {
			out = append(out, res)
		}
	}
	return out
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_\-]{2,}`)

// Keywords extracts up to 8 distinct lowercase keywords from text.
func Keywords(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var keywords []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == 8 {
			break
		}
	}
	return keywords
}

func keywordOverlap(keywords []string, content string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

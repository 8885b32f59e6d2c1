// Package analytics aggregates read-only usage statistics over the memory
// store: usage trends, compression ratios, and tuning recommendations. It
// never mutates state, and its recommendations only change engine behaviour
// when an operator adopts them through configuration.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/engramdev/engram/internal/memory"
)

// Insights is a snapshot of one user's memory footprint.
type Insights struct {
	Sessions           int     `json:"sessions"`
	Messages           int     `json:"messages"`
	SummarizedMessages int     `json:"summarized_messages"`
	TotalTokens        int     `json:"total_tokens"`
	Summaries          int     `json:"summaries"`
	TokensSaved        int     `json:"tokens_saved"`
	AvgCompression     float64 `json:"avg_compression_ratio"`

	// RetrievalHitRate is the share of retrieved items later confirmed
	// relevant (explicit feedback >= 0.5) among all rated retrievals.
	RetrievalHitRate float64 `json:"retrieval_hit_rate"`

	TopTopics []string `json:"top_topics"`
}

// Optimization is a set of tuning recommendations. They are advisory:
// the assembler and compressor keep their configured values until an
// operator adopts a recommendation.
type Optimization struct {
	SuggestedTokenBudget  int           `json:"suggested_token_budget"`
	SuggestedCompressAge  time.Duration `json:"suggested_compress_age"`
	SuggestedMinBatch     int           `json:"suggested_min_batch"`
	Rationale             []string      `json:"rationale"`
	ObservedAvgCompress   float64       `json:"observed_avg_compression_ratio"`
	ObservedSessionTokens int           `json:"observed_avg_session_tokens"`
}

// Trends is a per-day usage series for the trailing window.
type Trends struct {
	Days      int               `json:"days"`
	Points    []memory.DayCount `json:"points"`
	Total     int               `json:"total_messages"`
	AvgPerDay float64           `json:"avg_messages_per_day"`
}

// Engine computes analytics over a Store. Read-only: safe to call at any
// frequency.
type Engine struct {
	store memory.Store
}

// New creates an analytics Engine.
func New(store memory.Store) *Engine {
	return &Engine{store: store}
}

// GetInsights returns a usage snapshot for one user.
func (e *Engine) GetInsights(ctx context.Context, userID string) (Insights, error) {
	stats, err := e.store.UserMessageStats(ctx, userID)
	if err != nil {
		return Insights{}, fmt.Errorf("analytics: message stats: %w", err)
	}

	sums, err := e.store.SummariesForUser(ctx, userID)
	if err != nil {
		return Insights{}, fmt.Errorf("analytics: summaries: %w", err)
	}

	ins := Insights{
		Sessions:           stats.Sessions,
		Messages:           stats.Messages,
		SummarizedMessages: stats.SummarizedMsgs,
		TotalTokens:        stats.TotalTokens,
		Summaries:          len(sums),
	}

	ratioSum := 0.0
	rated := 0
	topicCounts := make(map[string]int)
	for _, s := range sums {
		if r := s.CompressionRatio(); r > 0 {
			ratioSum += r
			rated++
		}
		ins.TokensSaved += s.OriginalTokens - s.TokenCount
		for _, t := range s.Topics {
			topicCounts[t]++
		}
	}
	if rated > 0 {
		ins.AvgCompression = ratioSum / float64(rated)
	}
	ins.TopTopics = topTopics(topicCounts, 10)

	hit, err := e.retrievalHitRate(ctx, userID)
	if err != nil {
		return Insights{}, err
	}
	ins.RetrievalHitRate = hit

	return ins, nil
}

// GetOptimization derives tuning recommendations from the user's history.
func (e *Engine) GetOptimization(ctx context.Context, userID string) (Optimization, error) {
	stats, err := e.store.UserMessageStats(ctx, userID)
	if err != nil {
		return Optimization{}, fmt.Errorf("analytics: message stats: %w", err)
	}
	sums, err := e.store.SummariesForUser(ctx, userID)
	if err != nil {
		return Optimization{}, fmt.Errorf("analytics: summaries: %w", err)
	}

	opt := Optimization{
		SuggestedTokenBudget: 4096,
		SuggestedCompressAge: 7 * 24 * time.Hour,
		SuggestedMinBatch:    10,
	}

	if stats.Sessions > 0 {
		avg := stats.TotalTokens / stats.Sessions
		opt.ObservedSessionTokens = avg
		// Budget sized so a typical session fits the 60% verbatim share,
		// clamped to sane model-window bounds.
		suggested := clamp(avg*5/3, 1024, 32768)
		opt.SuggestedTokenBudget = suggested
		opt.Rationale = append(opt.Rationale,
			fmt.Sprintf("average session uses %d tokens; budget %d keeps the full window verbatim", avg, suggested))
	}

	ratioSum, rated := 0.0, 0
	for _, s := range sums {
		if r := s.CompressionRatio(); r > 0 {
			ratioSum += r
			rated++
		}
	}
	if rated > 0 {
		avgRatio := ratioSum / float64(rated)
		opt.ObservedAvgCompress = avgRatio
		switch {
		case avgRatio < 0.2:
			// Compression is paying off well; compact sooner.
			opt.SuggestedCompressAge = 3 * 24 * time.Hour
			opt.Rationale = append(opt.Rationale,
				fmt.Sprintf("compression ratio %.2f is strong; compacting after 3 days saves more tokens", avgRatio))
		case avgRatio > 0.6:
			// Summaries barely shrink the material; wait for bigger batches.
			opt.SuggestedCompressAge = 14 * 24 * time.Hour
			opt.SuggestedMinBatch = 20
			opt.Rationale = append(opt.Rationale,
				fmt.Sprintf("compression ratio %.2f is weak; larger, older batches compress better", avgRatio))
		}
	}

	return opt, nil
}

// GetTrends returns per-day message counts for the trailing days window.
func (e *Engine) GetTrends(ctx context.Context, userID string, days int) (Trends, error) {
	if days <= 0 {
		days = 30
	}
	points, err := e.store.MessageCountsByDay(ctx, userID, days)
	if err != nil {
		return Trends{}, fmt.Errorf("analytics: day counts: %w", err)
	}

	tr := Trends{Days: days, Points: points}
	for _, p := range points {
		tr.Total += p.Messages
	}
	tr.AvgPerDay = float64(tr.Total) / float64(days)
	return tr, nil
}

// retrievalHitRate consults the access log (analytics is never on the hot
// path, so this read is fine here).
func (e *Engine) retrievalHitRate(ctx context.Context, userID string) (float64, error) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	recs, err := e.store.AccessRecordsSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("analytics: access records: %w", err)
	}

	rated, hits := 0, 0
	for _, rec := range recs {
		if rec.AccessType != memory.AccessRetrieved || !rec.Explicit {
			continue
		}
		rated++
		if rec.Relevance >= 0.5 {
			hits++
		}
	}
	if rated == 0 {
		return 0, nil
	}
	return float64(hits) / float64(rated), nil
}

func topTopics(counts map[string]int, limit int) []string {
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package compress converts aging raw messages into compact summary
// records, preserving key points, topics, and an aggregate importance,
// while marking the originals as summarized in the same atomic step.
package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engramdev/engram/internal/lane"
	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/scoring"
	"github.com/engramdev/engram/internal/token"
)

// Draft is a summarizer's output before persistence.
type Draft struct {
	Content   string
	KeyPoints []string
	Topics    []string
}

// Summarizer produces a condensed summary of a message batch. The default
// is the extractive summarizer in this package; an LLM-backed one can be
// plugged in instead.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []memory.Message) (Draft, error)
}

// Config holds the compression trigger policy.
type Config struct {
	// AgeThreshold: only messages older than this are eligible.
	AgeThreshold time.Duration `yaml:"age_threshold"`

	// MinBatch: sessions with fewer eligible messages are skipped;
	// summarizing tiny batches wastes the summarization cost for little
	// token savings.
	MinBatch int `yaml:"min_batch"`

	// MaxBatch caps one compression pass; the remainder waits for the
	// next sweep.
	MaxBatch int `yaml:"max_batch"`
}

func (cfg Config) withDefaults() Config {
	if cfg.AgeThreshold == 0 {
		cfg.AgeThreshold = 7 * 24 * time.Hour
	}
	if cfg.MinBatch == 0 {
		cfg.MinBatch = 10
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 200
	}
	return cfg
}

// Validate checks the trigger policy.
func (cfg Config) Validate() error {
	c := cfg.withDefaults()
	if c.AgeThreshold < 0 {
		return fmt.Errorf("compress: age_threshold must be positive, got %v", c.AgeThreshold)
	}
	if c.MinBatch < 1 {
		return fmt.Errorf("compress: min_batch must be >= 1, got %d", c.MinBatch)
	}
	if c.MaxBatch < c.MinBatch {
		return fmt.Errorf("compress: max_batch %d below min_batch %d", c.MaxBatch, c.MinBatch)
	}
	return nil
}

// Compressor compacts aging session history into summaries. Concurrent
// compressions of one session serialize on a per-session lane; since the
// mark-and-create step is atomic in the store, readers never need that lane
// and are free to run during a compression.
type Compressor struct {
	store      memory.Store
	summarizer Summarizer
	scorer     *scoring.Scorer
	counter    token.Counter
	cfg        Config
	logger     *slog.Logger
	lanes      *lane.Lock
	now        func() time.Time
}

// New creates a Compressor. A nil summarizer selects the extractive default.
func New(store memory.Store, summarizer Summarizer, scorer *scoring.Scorer, counter token.Counter, cfg Config, logger *slog.Logger) *Compressor {
	if summarizer == nil {
		summarizer = NewExtractive(8, 5)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		store:      store,
		summarizer: summarizer,
		scorer:     scorer,
		counter:    counter,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		lanes:      lane.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the compressor's clock. Test hook.
func (c *Compressor) SetClock(now func() time.Time) { c.now = now }

// CompressSession compacts one session's eligible messages into a summary.
// Returns (nil, nil) when the session has no newly eligible batch; a
// no-op, not an error. Re-running with no new messages is idempotent, and
// the loser of a concurrent compression race lands on the same no-op path.
func (c *Compressor) CompressSession(ctx context.Context, sessionID string) (*memory.Summary, error) {
	c.lanes.Acquire(sessionID)
	defer c.lanes.Release(sessionID)

	sess, err := c.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("compress: load session: %w", err)
	}

	cutoff := c.now().Add(-c.cfg.AgeThreshold)
	msgs, err := c.store.MessagesOlderThan(ctx, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("compress: eligible messages: %w", err)
	}
	if len(msgs) < c.cfg.MinBatch {
		return nil, nil
	}
	if len(msgs) > c.cfg.MaxBatch {
		msgs = msgs[:c.cfg.MaxBatch]
	}

	draft, err := c.summarizer.Summarize(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("compress: summarize: %w", err)
	}

	importance, err := c.aggregateImportance(ctx, msgs)
	if err != nil {
		return nil, err
	}

	originalTokens := 0
	ids := make([]string, len(msgs))
	for i := range msgs {
		originalTokens += msgs[i].TokenCount
		ids[i] = msgs[i].ID
	}

	summary := memory.Summary{
		UserID:         sess.UserID,
		SessionID:      sessionID,
		Kind:           memory.SummaryConversation,
		Content:        draft.Content,
		KeyPoints:      draft.KeyPoints,
		Topics:         draft.Topics,
		Importance:     importance,
		OriginalTokens: originalTokens,
		TokenCount:     c.counter.Count(draft.Content),
	}

	created, err := c.store.CreateSummary(ctx, summary, ids)
	if err != nil {
		if errors.Is(err, memory.ErrAlreadySummarized) {
			// Lost a compression race; the winner already holds these
			// messages. No-op.
			c.logger.Debug("compress: batch already summarized", "session", sessionID)
			return nil, nil
		}
		return nil, fmt.Errorf("compress: create summary: %w", err)
	}

	c.logger.Info("compress: session compacted",
		"session", sessionID,
		"messages", len(ids),
		"original_tokens", originalTokens,
		"summary_tokens", created.TokenCount,
		"ratio", created.CompressionRatio(),
	)
	return &created, nil
}

// CompressUser compacts every eligible session of one user. Per-session
// failures abort the sweep; no-op sessions are skipped silently.
func (c *Compressor) CompressUser(ctx context.Context, userID string) ([]memory.Summary, error) {
	sessions, err := c.store.SessionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("compress: list sessions: %w", err)
	}

	var out []memory.Summary
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := c.CompressSession(ctx, sess.ID)
		if err != nil {
			return out, err
		}
		if sum != nil {
			out = append(out, *sum)
		}
	}
	return out, nil
}

// aggregateImportance averages the batch's importance, scoring unscored
// messages on the fly, then floors the result at the highest user-flagged
// importance so compaction never silently discards a message the user
// explicitly marked as important.
func (c *Compressor) aggregateImportance(ctx context.Context, msgs []memory.Message) (float64, error) {
	sum := 0.0
	flagged := 0.0
	now := c.now()
	for i := range msgs {
		fb, ok, err := c.store.LatestFeedback(ctx, msgs[i].ID)
		if err != nil {
			return 0, fmt.Errorf("compress: feedback lookup: %w", err)
		}
		var sig scoring.Signals
		sig.Now = now
		if ok {
			sig.Feedback = &fb
			if fb > flagged {
				flagged = fb
			}
		}
		imp := msgs[i].ImportanceOr(-1)
		if imp < 0 || ok {
			imp = c.scorer.Score(msgs[i], sig)
		}
		sum += imp
	}

	agg := sum / float64(len(msgs))
	if flagged > agg {
		agg = flagged
	}
	return agg, nil
}

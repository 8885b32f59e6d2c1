// Package engine is the facade over the memory subsystem. It validates
// requests, serializes work per session, applies the transient-failure retry
// policy, and records access-log entries for surfaced memories.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/engramdev/engram/internal/analytics"
	"github.com/engramdev/engram/internal/compress"
	ctxengine "github.com/engramdev/engram/internal/context"
	"github.com/engramdev/engram/internal/lane"
	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/retrieval"
	"github.com/engramdev/engram/internal/retry"
	"github.com/engramdev/engram/internal/scoring"
	"github.com/engramdev/engram/internal/token"
)

const tracerName = "github.com/engramdev/engram/internal/engine"

// Config aggregates the tuning knobs of the engine's components.
type Config struct {
	// Tokenizer selects the token estimator: "chars" (default) or "words".
	Tokenizer string `yaml:"tokenizer"`

	// CharsPerToken feeds the character-based token estimator. Ignored by
	// the word tokenizer.
	CharsPerToken float64 `yaml:"chars_per_token"`

	Scoring   scoring.Config   `yaml:"scoring"`
	Context   ctxengine.Config `yaml:"context"`
	Retrieval retrieval.Config `yaml:"retrieval"`
	Compress  compress.Config  `yaml:"compress"`
}

// Validate checks every component config.
func (cfg Config) Validate() error {
	switch cfg.Tokenizer {
	case "", "chars", "words":
	default:
		return fmt.Errorf("engine: unknown tokenizer %q", cfg.Tokenizer)
	}
	if cfg.CharsPerToken < 0 {
		return errors.New("engine: chars_per_token must not be negative")
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return err
	}
	if err := cfg.Context.Validate(); err != nil {
		return err
	}
	return cfg.Compress.Validate()
}

// Feedback is an explicit user signal about a surfaced memory. Exactly one
// of MessageID or SummaryID must be set.
type Feedback struct {
	UserID    string
	SessionID string
	MessageID string
	SummaryID string

	// Relevance in [0,1]; values >= 0.5 count as confirmation.
	Relevance float64
}

// Engine wires the store, scorer, assembler, compressor, and analytics
// behind one API. All methods are safe for concurrent use. Turn-path work
// (RecordTurn, BuildContext, RestoreSummary) on the same session is
// serialized; compression holds its own per-session lock inside the
// compressor so a slow summarization never stalls turns.
type Engine struct {
	store      memory.Store
	counter    token.Counter
	scorer     *scoring.Scorer
	assembler  *ctxengine.Assembler
	compressor *compress.Compressor
	analytics  *analytics.Engine
	lanes      *lane.Lock
	retryCfg   retry.Config
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New builds an Engine and its components from cfg. index may be nil
// (keyword-only retrieval); summarizer may be nil (extractive fallback).
func New(store memory.Store, index retrieval.SemanticIndex, summarizer compress.Summarizer, cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var counter token.Counter
	if cfg.Tokenizer == "words" {
		counter = token.WordCounter{}
	} else {
		counter = token.NewCharCounter(cfg.CharsPerToken)
	}
	scorer := scoring.New(cfg.Scoring)
	retriever := retrieval.New(store, index, counter, cfg.Retrieval, logger)

	retryCfg := retry.DefaultConfig
	retryCfg.ShouldRetry = isTransient

	return &Engine{
		store:      store,
		counter:    counter,
		scorer:     scorer,
		assembler:  ctxengine.New(store, retriever, scorer, counter, cfg.Context, logger),
		compressor: compress.New(store, summarizer, scorer, counter, cfg.Compress, logger),
		analytics:  analytics.New(store),
		lanes:      lane.New(),
		retryCfg:   retryCfg,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}, nil
}

// RecordTurn appends one conversation turn, creating the session on first
// use. The stored message carries its token count; importance is scored
// lazily on first context assembly.
func (e *Engine) RecordTurn(ctx context.Context, userID, sessionID string, role memory.Role, content string) (memory.Message, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RecordTurn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if userID == "" || sessionID == "" {
		return memory.Message{}, fmt.Errorf("%w: user and session IDs are required", ErrValidation)
	}
	if !role.Valid() {
		return memory.Message{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if content == "" {
		return memory.Message{}, fmt.Errorf("%w: empty content", ErrValidation)
	}

	e.lanes.Acquire(sessionID)
	defer e.lanes.Release(sessionID)

	var stored memory.Message
	err := e.retryStore(ctx, func() error {
		if _, err := e.store.EnsureSession(ctx, userID, sessionID); err != nil {
			return err
		}
		var err error
		stored, err = e.store.AppendMessage(ctx, memory.Message{
			SessionID:  sessionID,
			Role:       role,
			Content:    content,
			TokenCount: e.counter.Count(content),
		})
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, "append failed")
		span.RecordError(err)
		return memory.Message{}, err
	}
	return stored, nil
}

// BuildContext assembles the context window for the next turn. Store
// failures are retried once, then fail the turn; retrieval failures degrade
// to verbatim-only context. Surfaced items are logged to the access log
// best-effort.
func (e *Engine) BuildContext(ctx context.Context, req ctxengine.Request) (ctxengine.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.BuildContext",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Int("budget.tokens", req.TokenBudget)))
	defer span.End()

	if req.UserID == "" || req.SessionID == "" {
		return ctxengine.Result{}, fmt.Errorf("%w: user and session IDs are required", ErrValidation)
	}
	if req.TokenBudget <= 0 {
		return ctxengine.Result{}, fmt.Errorf("%w: token budget must be positive, got %d", ErrValidation, req.TokenBudget)
	}

	e.lanes.Acquire(req.SessionID)
	defer e.lanes.Release(req.SessionID)

	var res ctxengine.Result
	err := e.retryStore(ctx, func() error {
		var err error
		res, err = e.assembler.BuildContext(ctx, req)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, "assembly failed")
		span.RecordError(err)
		return ctxengine.Result{}, err
	}

	span.SetAttributes(
		attribute.Int("context.used_tokens", res.UsedTokens),
		attribute.Int("context.verbatim", len(res.Verbatim)),
		attribute.Int("context.retrieved", len(res.Retrieved)),
		attribute.Bool("context.degraded", res.Degraded),
	)

	e.recordAccesses(ctx, req.UserID, res)
	return res, nil
}

// recordAccesses appends access-log entries for everything the context
// surfaced. Diagnostic data: failures are logged and swallowed.
func (e *Engine) recordAccesses(ctx context.Context, userID string, res ctxengine.Result) {
	for _, m := range res.Verbatim {
		rec := memory.AccessRecord{
			UserID:     userID,
			SessionID:  m.SessionID,
			MessageID:  m.ID,
			AccessType: memory.AccessRecent,
		}
		if err := e.store.RecordAccess(ctx, rec); err != nil {
			e.logger.Debug("engine: access record dropped", "error", err)
			return
		}
	}
	for _, r := range res.Retrieved {
		rec := memory.AccessRecord{
			UserID:     userID,
			SessionID:  r.SessionID,
			MessageID:  r.MessageID,
			SummaryID:  r.SummaryID,
			AccessType: memory.AccessRetrieved,
			Relevance:  r.Similarity,
		}
		if err := e.store.RecordAccess(ctx, rec); err != nil {
			e.logger.Debug("engine: access record dropped", "error", err)
			return
		}
	}
}

// CompressSession compacts one session's aged history into a summary.
// Returns (nil, nil) when nothing is eligible. Compression runs outside the
// session's turn lane: the store's atomic mark-and-create means concurrent
// turns see pre- or post-compression state, never a partial one, and the
// compressor serializes concurrent compressions of the same session itself.
func (e *Engine) CompressSession(ctx context.Context, sessionID string) (*memory.Summary, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CompressSession",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", ErrValidation)
	}

	sum, err := e.compressor.CompressSession(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "compression failed")
		span.RecordError(err)
		return nil, err
	}
	return sum, nil
}

// CompressUserMemories sweeps every session of a user.
func (e *Engine) CompressUserMemories(ctx context.Context, userID string) ([]memory.Summary, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CompressUserMemories",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrValidation)
	}
	return e.compressor.CompressUser(ctx, userID)
}

// RestoreSummary reverses a compression: the source messages become live
// verbatim history again and the summary is retired. Idempotent on an
// already-restored summary.
func (e *Engine) RestoreSummary(ctx context.Context, summaryID string) (memory.Summary, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RestoreSummary",
		trace.WithAttributes(attribute.String("summary.id", summaryID)))
	defer span.End()

	if summaryID == "" {
		return memory.Summary{}, fmt.Errorf("%w: summary ID is required", ErrValidation)
	}

	sum, err := e.store.Summary(ctx, summaryID)
	if err != nil {
		return memory.Summary{}, err
	}

	e.lanes.Acquire(sum.SessionID)
	defer e.lanes.Release(sum.SessionID)

	if err := e.retryStore(ctx, func() error {
		return e.store.RestoreSummary(ctx, summaryID)
	}); err != nil {
		span.SetStatus(codes.Error, "restore failed")
		span.RecordError(err)
		return memory.Summary{}, err
	}

	rec := memory.AccessRecord{
		UserID:     sum.UserID,
		SessionID:  sum.SessionID,
		SummaryID:  summaryID,
		AccessType: memory.AccessRestored,
	}
	if err := e.store.RecordAccess(ctx, rec); err != nil {
		e.logger.Debug("engine: access record dropped", "error", err)
	}

	restored, err := e.store.Summary(ctx, summaryID)
	if err != nil {
		return memory.Summary{}, err
	}
	return restored, nil
}

// RecordFeedback stores an explicit relevance signal. When the target is a
// message its cached importance is re-scored with the feedback signal right
// away, so the next context assembly already favors it; the access record
// keeps the raw rating for analytics and later re-scoring passes.
func (e *Engine) RecordFeedback(ctx context.Context, fb Feedback) error {
	if fb.UserID == "" {
		return fmt.Errorf("%w: user ID is required", ErrValidation)
	}
	if (fb.MessageID == "") == (fb.SummaryID == "") {
		return fmt.Errorf("%w: exactly one of message or summary ID must be set", ErrValidation)
	}
	if fb.Relevance < 0 || fb.Relevance > 1 {
		return fmt.Errorf("%w: relevance %v outside [0,1]", ErrValidation, fb.Relevance)
	}

	return e.retryStore(ctx, func() error {
		if err := e.store.RecordAccess(ctx, memory.AccessRecord{
			UserID:     fb.UserID,
			SessionID:  fb.SessionID,
			MessageID:  fb.MessageID,
			SummaryID:  fb.SummaryID,
			AccessType: memory.AccessRetrieved,
			Relevance:  fb.Relevance,
			Explicit:   true,
		}); err != nil {
			return err
		}
		if fb.MessageID == "" {
			return nil
		}
		msg, err := e.store.Message(ctx, fb.MessageID)
		if err != nil {
			return err
		}
		score := e.scorer.Score(msg, scoring.Signals{Feedback: &fb.Relevance})
		return e.store.SetImportance(ctx, fb.MessageID, score)
	})
}

// GetInsights reports a user's memory usage snapshot.
func (e *Engine) GetInsights(ctx context.Context, userID string) (analytics.Insights, error) {
	if userID == "" {
		return analytics.Insights{}, fmt.Errorf("%w: user ID is required", ErrValidation)
	}
	return e.analytics.GetInsights(ctx, userID)
}

// GetOptimization reports advisory tuning recommendations.
func (e *Engine) GetOptimization(ctx context.Context, userID string) (analytics.Optimization, error) {
	if userID == "" {
		return analytics.Optimization{}, fmt.Errorf("%w: user ID is required", ErrValidation)
	}
	return e.analytics.GetOptimization(ctx, userID)
}

// GetTrends reports per-day usage for the trailing window.
func (e *Engine) GetTrends(ctx context.Context, userID string, days int) (analytics.Trends, error) {
	if userID == "" {
		return analytics.Trends{}, fmt.Errorf("%w: user ID is required", ErrValidation)
	}
	return e.analytics.GetTrends(ctx, userID, days)
}

// retryStore runs fn under the transient-failure retry policy. Domain
// errors (not found, ownership, already summarized) pass through untouched;
// anything else that survives the retries is reported as store
// unavailability.
func (e *Engine) retryStore(ctx context.Context, fn func() error) error {
	err := retry.Do(ctx, e.retryCfg, fn)
	if err == nil {
		return nil
	}
	if isDomainErr(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func isDomainErr(err error) bool {
	return errors.Is(err, memory.ErrSessionNotFound) ||
		errors.Is(err, memory.ErrMessageNotFound) ||
		errors.Is(err, memory.ErrSummaryNotFound) ||
		errors.Is(err, memory.ErrSessionOwner) ||
		errors.Is(err, memory.ErrAlreadySummarized)
}

func isTransient(err error) bool {
	return !isDomainErr(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

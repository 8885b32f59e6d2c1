package ctxengine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/retrieval"
	"github.com/engramdev/engram/internal/scoring"
	"github.com/engramdev/engram/internal/token"
)

// Retriever is the assembler's view of the relevance retriever.
type Retriever interface {
	FindRelevant(ctx context.Context, userID, query, excludeSessionID string, limit, tokenBudget int) ([]retrieval.Result, error)
}

// Request is one buildContext call.
type Request struct {
	UserID      string
	SessionID   string
	TurnText    string
	TokenBudget int
}

// Result is the assembled context for a turn. Verbatim messages are in
// strictly increasing sequence order; retrieved items are ordered by
// similarity, not time. The two sets are disjoint by message ID.
type Result struct {
	Verbatim   []memory.Message
	Retrieved  []retrieval.Result
	UsedTokens int

	// Degraded is true when retrieval failed or timed out and the turn
	// fell back to verbatim-only context.
	Degraded bool
}

// Assembler combines recent messages and retrieved history under a fixed
// budget split: 60% recent verbatim, 20% retrieval, 20% held back for the
// system prompt and current turn (the assembler subtracts the reserve up
// front and never spends it).
type Assembler struct {
	store     memory.Store
	retriever Retriever
	scorer    *scoring.Scorer
	counter   token.Counter
	cfg       Config
	logger    *slog.Logger
}

// New creates an Assembler. retriever may be nil, which behaves like a
// permanently degraded retriever (verbatim-only context).
func New(store memory.Store, retriever Retriever, scorer *scoring.Scorer, counter token.Counter, cfg Config, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:     store,
		retriever: retriever,
		scorer:    scorer,
		counter:   counter,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// BuildContext assembles the context for a turn. The recent fetch and the
// retrieval call have no data dependency and run concurrently. A store
// failure fails the turn; a retrieval failure degrades to verbatim-only.
func (a *Assembler) BuildContext(ctx context.Context, req Request) (Result, error) {
	recentBudget := int(math.Floor(a.cfg.RecentShare * float64(req.TokenBudget)))
	retrievalBudget := int(math.Floor(a.cfg.RetrievalShare * float64(req.TokenBudget)))

	type recentOut struct {
		msgs []memory.Message
		err  error
	}
	type retrievedOut struct {
		items []retrieval.Result
		err   error
	}

	recentCh := make(chan recentOut, 1)
	retrievedCh := make(chan retrievedOut, 1)

	go func() {
		msgs, err := a.selectRecent(ctx, req.SessionID, recentBudget)
		recentCh <- recentOut{msgs: msgs, err: err}
	}()

	go func() {
		if a.retriever == nil {
			retrievedCh <- retrievedOut{err: fmt.Errorf("ctxengine: no retriever configured")}
			return
		}
		rctx, cancel := context.WithTimeout(ctx, a.cfg.RetrievalTimeout)
		defer cancel()
		// History from the same session is allowed and often the most
		// relevant, so the session is not excluded here.
		items, err := a.retriever.FindRelevant(rctx, req.UserID, req.TurnText, "", a.cfg.RetrievalLimit, retrievalBudget)
		retrievedCh <- retrievedOut{items: items, err: err}
	}()

	recent := <-recentCh
	retrieved := <-retrievedCh

	if recent.err != nil {
		return Result{}, fmt.Errorf("ctxengine: recent messages: %w", recent.err)
	}

	res := Result{Verbatim: recent.msgs}
	if retrieved.err != nil {
		a.logger.Warn("ctxengine: retrieval unavailable, degrading to verbatim-only",
			"session", req.SessionID, "error", retrieved.err)
		res.Degraded = true
	} else {
		res.Retrieved = dedupe(retrieved.items, recent.msgs)
	}

	for i := range res.Verbatim {
		res.UsedTokens += res.Verbatim[i].TokenCount
	}
	for i := range res.Retrieved {
		res.UsedTokens += res.Retrieved[i].TokenCount
	}
	return res, nil
}

// selectRecent pulls the most recent non-summarized messages and fits them
// under the recent budget. When the full window exceeds the budget, the
// lowest-importance messages are dropped first rather than strictly the
// oldest. Unspent budget is left unspent; it is not reallocated to
// retrieval. A message is never truncated; one that cannot fit whole is
// omitted.
func (a *Assembler) selectRecent(ctx context.Context, sessionID string, budget int) ([]memory.Message, error) {
	if budget <= 0 {
		return nil, nil
	}

	msgs, err := a.store.RecentMessages(ctx, sessionID, a.cfg.RecentFetchLimit)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	importance := make([]float64, len(msgs))
	include := make([]bool, len(msgs))
	total := 0
	for i := range msgs {
		imp := msgs[i].ImportanceOr(-1)
		if imp < 0 {
			imp = a.scorer.Score(msgs[i], scoring.Signals{})
			a.persistImportance(ctx, msgs[i].ID, imp)
		}
		importance[i] = imp
		if imp < a.cfg.ImportanceFloor {
			continue
		}
		include[i] = true
		total += msgs[i].TokenCount
	}

	// Drop lowest importance first until the window fits; among equals the
	// older message goes first.
	order := make([]int, len(msgs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return importance[order[i]] < importance[order[j]]
	})
	for _, i := range order {
		if total <= budget {
			break
		}
		if include[i] {
			include[i] = false
			total -= msgs[i].TokenCount
		}
	}
	kept := make([]memory.Message, 0, len(msgs))
	for i := range msgs {
		if include[i] {
			kept = append(kept, msgs[i])
		}
	}
	return kept, nil
}

// persistImportance writes back a lazily computed score. Best-effort: the
// score is recomputable, so a write failure must not cost the turn.
func (a *Assembler) persistImportance(ctx context.Context, messageID string, score float64) {
	if err := a.store.SetImportance(ctx, messageID, score); err != nil {
		a.logger.Debug("ctxengine: importance write-back failed", "message", messageID, "error", err)
	}
}

// dedupe removes retrieved items whose message already appears verbatim.
func dedupe(items []retrieval.Result, verbatim []memory.Message) []retrieval.Result {
	if len(items) == 0 {
		return items
	}
	ids := make(map[string]struct{}, len(verbatim))
	for i := range verbatim {
		ids[verbatim[i].ID] = struct{}{}
	}
	out := items[:0]
	for _, it := range items {
		if it.MessageID != "" {
			if _, dup := ids[it.MessageID]; dup {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}
